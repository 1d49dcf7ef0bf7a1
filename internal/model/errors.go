package model

import "errors"

// Item validation errors.
// Validate wraps these with the offending field name, so callers should use
// errors.Is to classify a failure.
var (
	// ErrMissingField is returned when a required Item attribute is empty.
	ErrMissingField = errors.New("missing required field")

	// ErrPrepopulatedField is returned when an extractor filled an attribute
	// that only the pipeline may set.
	ErrPrepopulatedField = errors.New("pipeline-owned field set by extractor")

	// ErrInvalidRiskLevel is returned when a risk tier name is not recognized.
	ErrInvalidRiskLevel = errors.New("invalid risk level")
)
