package model

import (
	"fmt"
	"strings"
)

// RiskLevel is the notification-worthiness tier of an Item.
// Tiers are ordered: RiskNone < RiskLow < RiskMedium < RiskHigh < RiskCritical,
// so comparisons such as level >= RiskMedium work as expected.
//
// The zero value RiskUnassigned means the keyword stage has not scored the
// item yet. Once a stage assigns a tier it stays final for the run.
type RiskLevel int

const (
	// RiskUnassigned marks an item that has not been scored.
	RiskUnassigned RiskLevel = iota

	// RiskNone means no relevant match, or a required target was missing.
	// Such items are stored and archived but never notified.
	RiskNone

	// RiskLow means exactly one conditional keyword matched.
	RiskLow

	// RiskMedium means exactly two conditional keywords matched.
	RiskMedium

	// RiskHigh means three or more conditional keywords matched.
	RiskHigh

	// RiskCritical means a target matched, or a matched conditional keyword
	// is also a critical keyword.
	RiskCritical
)

// RiskLevels lists the assignable tiers from lowest to highest.
var RiskLevels = []RiskLevel{RiskNone, RiskLow, RiskMedium, RiskHigh, RiskCritical}

// String returns the upper-case tier name used in storage and payloads.
func (r RiskLevel) String() string {
	switch r {
	case RiskUnassigned:
		return ""
	case RiskNone:
		return "NONE"
	case RiskLow:
		return "LOW"
	case RiskMedium:
		return "MEDIUM"
	case RiskHigh:
		return "HIGH"
	case RiskCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// IsAssigned reports whether a stage has scored the item.
func (r RiskLevel) IsAssigned() bool {
	return r != RiskUnassigned
}

// ParseRiskLevel converts a tier name (case-insensitive) into a RiskLevel.
// An empty string yields RiskUnassigned.
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "":
		return RiskUnassigned, nil
	case "NONE":
		return RiskNone, nil
	case "LOW":
		return RiskLow, nil
	case "MEDIUM":
		return RiskMedium, nil
	case "HIGH":
		return RiskHigh, nil
	case "CRITICAL":
		return RiskCritical, nil
	default:
		return RiskUnassigned, fmt.Errorf("%w: %q", ErrInvalidRiskLevel, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r RiskLevel) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *RiskLevel) UnmarshalText(text []byte) error {
	level, err := ParseRiskLevel(string(text))
	if err != nil {
		return err
	}
	*r = level
	return nil
}
