package crawler

import "errors"

var (
	// ErrNoPages is returned when none of a site's start URLs could be fetched.
	ErrNoPages = errors.New("no listing page could be fetched")

	// ErrUnexpectedStatus is returned for non-2xx listing responses.
	ErrUnexpectedStatus = errors.New("unexpected HTTP status")
)
