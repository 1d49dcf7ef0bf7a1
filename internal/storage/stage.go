package storage

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nao1215/tricrawl/internal/model"
	"github.com/nao1215/tricrawl/internal/pipeline"
)

// ContactExtractor pulls contact handles out of text.
type ContactExtractor interface {
	Extract(text string) map[string][]string
}

// Stage writes every item that reaches it to the Store.
// Write failures are logged and counted; the item continues downstream so
// that a storage outage never suppresses notifications.
type Stage struct {
	store    Store
	contacts ContactExtractor
	logger   *slog.Logger
	now      func() time.Time

	stored atomic.Int64
	errs   atomic.Int64
}

// Option configures a Stage.
type Option func(*Stage)

// WithContactExtractor sets the extractor for author contacts.
func WithContactExtractor(e ContactExtractor) Option {
	return func(s *Stage) {
		s.contacts = e
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Stage) {
		s.logger = logger
	}
}

// WithClock overrides the crawled_at time source.
func WithClock(now func() time.Time) Option {
	return func(s *Stage) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStage creates a storage stage writing to store.
func NewStage(store Store, opts ...Option) *Stage {
	s := &Stage{
		store: store,
		now:   time.Now,
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
	return "storage"
}

// Process implements pipeline.Stage.
func (s *Stage) Process(ctx context.Context, item *model.Item) pipeline.Result {
	if s.contacts != nil {
		item.AuthorContacts = s.contacts.Extract(item.Content)
	}
	if item.AuthorContacts == nil {
		item.AuthorContacts = map[string][]string{}
	}

	rec := model.NewRecord(item, s.now())
	if err := s.store.Upsert(ctx, rec); err != nil {
		s.errs.Add(1)
		s.logger.Error("store failed",
			"dedup_id", item.DedupID,
			"title", truncate(item.Title, 20),
			"error", err,
		)
		return pipeline.Keep()
	}

	s.stored.Add(1)
	if len(item.AuthorContacts) > 0 {
		s.logger.Debug("stored with contacts", "dedup_id", item.DedupID, "contacts", len(item.AuthorContacts))
	} else {
		s.logger.Debug("stored", "dedup_id", item.DedupID)
	}
	return pipeline.Keep()
}

// Stats implements pipeline.StatsReporter.
func (s *Stage) Stats() map[string]int64 {
	return map[string]int64{
		"stored": s.stored.Load(),
		"errors": s.errs.Load(),
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
