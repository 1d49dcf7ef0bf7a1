package keyword

import (
	"strings"

	"github.com/nao1215/tricrawl/internal/model"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Match is the outcome of scoring one text.
type Match struct {
	Keywords []string
	Targets  []string
	Risk     model.RiskLevel
}

// Matcher scores text against the configured keyword sets.
// The zero value is inert: every text scores NONE.
type Matcher struct {
	targets       []string
	conditional   []string
	critical      map[string]struct{}
	requireTarget bool
}

// NewMatcher builds a Matcher from rules. A nil rules value gives an inert
// matcher.
func NewMatcher(r *Rules) *Matcher {
	if r == nil {
		return &Matcher{requireTarget: true}
	}

	critical := make(map[string]struct{})
	for _, kw := range normalizeKeywords(r.CriticalKeywords) {
		critical[kw] = struct{}{}
	}

	return &Matcher{
		targets:       normalizeKeywords(r.Targets),
		conditional:   normalizeKeywords(r.Patterns.Conditional),
		critical:      critical,
		requireTarget: r.RequireTarget(),
	}
}

// Inert reports whether the matcher has nothing to match.
func (m *Matcher) Inert() bool {
	return len(m.targets) == 0 && len(m.conditional) == 0
}

// Match scores title and content together.
func (m *Matcher) Match(title, content string) Match {
	text := normalizeText(title + " " + content)

	var res Match
	for _, kw := range m.conditional {
		if containsWord(text, kw) {
			res.Keywords = append(res.Keywords, kw)
		}
	}
	for _, kw := range m.targets {
		if containsWord(text, kw) {
			res.Targets = append(res.Targets, kw)
		}
	}
	res.Risk = m.classify(res.Keywords, res.Targets)
	return res
}

// classify applies the risk rules in order; the first rule that applies
// decides.
func (m *Matcher) classify(keywords, targets []string) model.RiskLevel {
	if m.requireTarget && len(targets) == 0 {
		return model.RiskNone
	}
	if len(targets) > 0 {
		return model.RiskCritical
	}
	for _, kw := range keywords {
		if _, ok := m.critical[kw]; ok {
			return model.RiskCritical
		}
	}

	switch n := len(keywords); {
	case n >= 3:
		return model.RiskHigh
	case n == 2:
		return model.RiskMedium
	case n == 1:
		return model.RiskLow
	default:
		return model.RiskNone
	}
}

// normalizeText collapses whitespace runs to one space, then lowercases.
// A Caser is stateful, so each call gets its own.
func normalizeText(s string) string {
	return cases.Lower(language.Und).String(strings.Join(strings.Fields(s), " "))
}

// containsWord reports whether kw occurs in text with no ASCII letter or
// digit directly before or after it.
func containsWord(text, kw string) bool {
	if kw == "" {
		return false
	}
	for offset := 0; offset <= len(text)-len(kw); {
		i := strings.Index(text[offset:], kw)
		if i < 0 {
			return false
		}
		start := offset + i
		end := start + len(kw)
		if (start == 0 || !isASCIIAlnum(text[start-1])) &&
			(end == len(text) || !isASCIIAlnum(text[end])) {
			return true
		}
		offset = start + 1
	}
	return false
}

func isASCIIAlnum(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}
