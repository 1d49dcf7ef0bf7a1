package keyword

import "errors"

var (
	// ErrNoRulesFile is returned when no keywords file is configured.
	ErrNoRulesFile = errors.New("no keywords file configured")

	// ErrInvalidRules is returned when the keywords file is not valid YAML
	// for the expected layout.
	ErrInvalidRules = errors.New("invalid keywords file")
)
