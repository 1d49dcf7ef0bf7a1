package keyword

import (
	"log/slog"
	"regexp"
	"slices"
)

// ContactExtractor finds contact handles (email, telegram, ...) in text.
type ContactExtractor struct {
	types    []string
	patterns map[string][]*regexp.Regexp
}

// NewContactExtractor compiles the contact patterns case-insensitively.
// Invalid patterns are logged and skipped.
func NewContactExtractor(patterns map[string][]string, logger *slog.Logger) *ContactExtractor {
	if logger == nil {
		logger = slog.Default()
	}

	e := &ContactExtractor{patterns: make(map[string][]*regexp.Regexp)}
	for typ, list := range patterns {
		for _, p := range list {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				logger.Warn("invalid contact pattern", "type", typ, "pattern", p, "error", err)
				continue
			}
			e.patterns[typ] = append(e.patterns[typ], re)
		}
		if len(e.patterns[typ]) > 0 {
			e.types = append(e.types, typ)
		}
	}
	slices.Sort(e.types)
	return e
}

// Extract returns contact type -> distinct matches in discovery order.
// A pattern with a capture group contributes its first group instead of the
// whole match. Types with no match are omitted; empty text gives an empty
// map.
func (e *ContactExtractor) Extract(text string) map[string][]string {
	out := make(map[string][]string)
	if e == nil || text == "" {
		return out
	}

	for _, typ := range e.types {
		var found []string
		seen := make(map[string]struct{})
		for _, re := range e.patterns[typ] {
			for _, m := range re.FindAllStringSubmatch(text, -1) {
				v := m[0]
				if len(m) > 1 {
					v = m[1]
				}
				if v == "" {
					continue
				}
				if _, ok := seen[v]; ok {
					continue
				}
				seen[v] = struct{}{}
				found = append(found, v)
			}
		}
		if len(found) > 0 {
			out[typ] = found
		}
	}
	return out
}
