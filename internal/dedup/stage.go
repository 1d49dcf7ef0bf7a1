package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nao1215/tricrawl/internal/model"
	"github.com/nao1215/tricrawl/internal/pipeline"
)

const (
	// DefaultMaxEntries bounds the identities loaded from storage at start.
	DefaultMaxEntries = 20000

	// noticeTimeout bounds the "no new data" notice.
	noticeTimeout = 5 * time.Second
)

// IdentitySource provides the most recently stored identities, newest first.
type IdentitySource interface {
	LoadRecentIdentities(ctx context.Context, limit int) ([]string, error)
}

// NoticeSender posts a plain-text notice to the notification channel.
type NoticeSender interface {
	SendNotice(ctx context.Context, content string) error
}

// Stage drops items whose identity was already seen, in storage or earlier
// in the same run.
//
// Open seeds the set from the IdentitySource, newest identities first, and
// keeps at most maxEntries of them. Anything older than that window is
// treated as new again; the storage upsert makes the repeat harmless, it
// only costs one more notification. A failed load never fails the run: the
// stage logs a warning and dedups within the run only.
//
// Process is safe for concurrent use, and so is Seen, which an extractor
// may call while Process is running to skip posts it would only fetch to
// have them dropped here. Every Open starts from an empty set and zeroed
// counters, so a Stage can be reused across runs of the same source.
//
// Close sends the "no new data" notice when a run received items and all
// of them were duplicates. A run that received nothing stays silent.
type Stage struct {
	source            string
	identities        IdentitySource
	notifier          NoticeSender
	maxEntries        int
	notifyOnNoNewData bool
	logger            *slog.Logger

	seen *IdentitySet

	total     atomic.Int64
	fresh     atomic.Int64
	duplicate atomic.Int64
	loaded    atomic.Int64
}

// Option configures a Stage.
type Option func(*Stage)

// WithIdentitySource sets where the seed identities come from.
// Without one the stage runs memory-only.
func WithIdentitySource(src IdentitySource) Option {
	return func(s *Stage) {
		s.identities = src
	}
}

// WithNoticeSender sets the sender for the "no new data" notice.
func WithNoticeSender(n NoticeSender) Option {
	return func(s *Stage) {
		s.notifier = n
	}
}

// WithMaxEntries bounds the seeded identity set. Non-positive values keep
// the default.
func WithMaxEntries(n int) Option {
	return func(s *Stage) {
		if n > 0 {
			s.maxEntries = n
		}
	}
}

// WithNotifyOnNoNewData toggles the "no new data" notice.
func WithNotifyOnNoNewData(enabled bool) Option {
	return func(s *Stage) {
		s.notifyOnNoNewData = enabled
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Stage) {
		s.logger = logger
	}
}

// New creates a dedup stage for one run over source.
func New(source string, opts ...Option) *Stage {
	s := &Stage{
		source:            source,
		maxEntries:        DefaultMaxEntries,
		notifyOnNoNewData: true,
		seen:              NewIdentitySet(),
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
	return "dedup"
}

// Open seeds the identity set from storage.
// A failed load is not an error: the stage continues memory-only.
func (s *Stage) Open(ctx context.Context) error {
	s.total.Store(0)
	s.fresh.Store(0)
	s.duplicate.Store(0)
	s.loaded.Store(0)
	s.seen = NewIdentitySet()

	if s.identities == nil {
		s.logger.Warn("no identity source, running memory-only", "source", s.source)
		return nil
	}

	ids, err := s.identities.LoadRecentIdentities(ctx, s.maxEntries)
	if err != nil {
		s.logger.Warn("identity load failed, running memory-only",
			"source", s.source,
			"error", err,
		)
		return nil
	}
	if len(ids) > s.maxEntries {
		ids = ids[:s.maxEntries]
	}

	s.seen = NewIdentitySet(ids...)
	s.loaded.Store(int64(s.seen.Len()))
	s.logger.Info("identities loaded",
		"source", s.source,
		"count", s.seen.Len(),
	)
	return nil
}

// Process implements pipeline.Stage.
func (s *Stage) Process(_ context.Context, item *model.Item) pipeline.Result {
	id := ComputeIdentity(item)
	s.total.Add(1)

	if !s.seen.Add(id) {
		s.duplicate.Add(1)
		s.logger.Debug("duplicate", "dedup_id", id, "title", truncate(item.Title, 30))
		return pipeline.Drop("duplicate")
	}

	s.fresh.Add(1)
	return pipeline.Keep()
}

// Seen reports whether id is already known. Extractors call it to skip
// detail requests for known posts.
func (s *Stage) Seen(id string) bool {
	return s.seen.Contains(id)
}

// Close logs the run summary and sends the "no new data" notice when every
// item of a non-empty run was a duplicate.
func (s *Stage) Close(ctx context.Context) error {
	total := s.total.Load()
	fresh := s.fresh.Load()
	dup := s.duplicate.Load()

	s.logger.Info("dedup summary",
		"source", s.source,
		"total", total,
		"new", fresh,
		"duplicates", dup,
	)

	if !s.notifyOnNoNewData || total == 0 || fresh > 0 || s.notifier == nil {
		return nil
	}

	noticeCtx, cancel := context.WithTimeout(ctx, noticeTimeout)
	defer cancel()

	content := fmt.Sprintf("🕷️ **%s**: No new data found (%d duplicates).", s.source, dup)
	if err := s.notifier.SendNotice(noticeCtx, content); err != nil {
		s.logger.Warn("no-new-data notice failed", "source", s.source, "error", err)
	}
	return nil
}

// Stats implements pipeline.StatsReporter.
func (s *Stage) Stats() map[string]int64 {
	return map[string]int64{
		"total":      s.total.Load(),
		"new":        s.fresh.Load(),
		"duplicate":  s.duplicate.Load(),
		"loaded_ids": s.loaded.Load(),
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
