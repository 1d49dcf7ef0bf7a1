package database

import "errors"

var (
	// ErrDatabaseNotFound is returned by Open when the database file is
	// missing and CreateIfNotExists is false.
	ErrDatabaseNotFound = errors.New("database not found")

	// ErrEmptyDedupID is returned when a record without a key is written.
	ErrEmptyDedupID = errors.New("record has no dedup_id")
)
