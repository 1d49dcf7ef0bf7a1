package keyword

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/nao1215/tricrawl/internal/model"
	"github.com/nao1215/tricrawl/internal/pipeline"
)

// Load reads the keywords file at path. A missing or malformed file is
// logged and gives nil, which NewMatcher and NewContactExtractor treat as
// inert.
func Load(path string, logger *slog.Logger) *Rules {
	if logger == nil {
		logger = slog.Default()
	}
	r, err := LoadRules(path)
	if err != nil {
		logger.Warn("keyword filter inactive", "path", path, "error", err)
		return nil
	}
	return r
}

// Stage tags items with matched keywords and targets and assigns their risk
// level. It never drops an item.
type Stage struct {
	matcher *Matcher
	logger  *slog.Logger

	mu     sync.Mutex
	counts map[model.RiskLevel]int64
}

// Option configures a Stage.
type Option func(*Stage)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Stage) {
		s.logger = logger
	}
}

// NewStage creates a keyword stage for rules. Nil rules give an inert stage.
func NewStage(rules *Rules, opts ...Option) *Stage {
	s := &Stage{
		matcher: NewMatcher(rules),
		counts:  make(map[model.RiskLevel]int64),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Name implements pipeline.Stage.
func (s *Stage) Name() string {
	return "keyword"
}

// Process implements pipeline.Stage.
// An item whose risk was already assigned is passed unchanged.
func (s *Stage) Process(_ context.Context, item *model.Item) pipeline.Result {
	if item.RiskLevel.IsAssigned() {
		return pipeline.Keep()
	}

	m := s.matcher.Match(item.Title, item.Content)
	item.MatchedKeywords = m.Keywords
	item.MatchedTargets = m.Targets
	item.RiskLevel = m.Risk

	s.mu.Lock()
	s.counts[m.Risk]++
	s.mu.Unlock()

	if m.Risk != model.RiskNone {
		s.logger.Info("keyword match",
			"title", truncate(item.Title, 30),
			"risk", m.Risk.String(),
			"targets", m.Targets,
		)
	} else {
		s.logger.Debug("no keyword match", "title", truncate(item.Title, 30))
	}

	return pipeline.Keep()
}

// Stats implements pipeline.StatsReporter. Keys are lowercase risk names.
func (s *Stage) Stats() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]int64, len(model.RiskLevels))
	for _, level := range model.RiskLevels {
		out[strings.ToLower(level.String())] = s.counts[level]
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
