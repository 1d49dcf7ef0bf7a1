package keyword

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rules is the parsed keywords.yaml.
//
// Example:
//
//	targets: ["Acme Corp"]
//	critical_keywords: ["ransomware"]
//	patterns:
//	  conditional: ["leak", "database"]
//	  contacts:
//	    telegram: ['@[a-z0-9_]{5,32}']
//	rules:
//	  require_target: true
type Rules struct {
	Targets          []string `yaml:"targets"`
	CriticalKeywords []string `yaml:"critical_keywords"`
	Patterns         Patterns `yaml:"patterns"`
	Settings         Settings `yaml:"rules"`
}

// Patterns holds the conditional keywords and the contact regexes.
type Patterns struct {
	Conditional []string            `yaml:"conditional"`
	Contacts    map[string][]string `yaml:"contacts"`
}

// Settings holds the scoring switches.
type Settings struct {
	// RequireTarget makes every item without a target match NONE.
	// Nil means absent, which counts as true.
	RequireTarget *bool `yaml:"require_target"`
}

// RequireTarget reports the effective require_target value.
func (r *Rules) RequireTarget() bool {
	if r == nil || r.Settings.RequireTarget == nil {
		return true
	}
	return *r.Settings.RequireTarget
}

// LoadRules reads and parses a keywords file.
func LoadRules(path string) (*Rules, error) {
	if path == "" {
		return nil, ErrNoRulesFile
	}

	data, err := os.ReadFile(path) //nolint:gosec // path comes from user configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read keywords file: %w", err)
	}

	return ParseRules(data)
}

// ParseRules parses keywords YAML.
func ParseRules(data []byte) (*Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRules, err)
	}
	return &r, nil
}

// normalizeKeywords lowercases, collapses whitespace, drops empties and
// removes repeats while keeping the first occurrence order.
func normalizeKeywords(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, kw := range in {
		key := normalizeText(strings.TrimSpace(kw))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}
