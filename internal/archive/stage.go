// Package archive appends every item that reaches it to a per-source JSONL
// file, independent of the database.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nao1215/tricrawl/internal/model"
	"github.com/nao1215/tricrawl/internal/pipeline"
)

// Entry is one archived line.
type Entry struct {
	Source          string              `json:"source"`
	Category        string              `json:"category"`
	Title           string              `json:"title"`
	Timestamp       string              `json:"timestamp"`
	Author          string              `json:"author"`
	AuthorContacts  map[string][]string `json:"author_contacts"`
	URL             string              `json:"url"`
	MatchedKeywords []string            `json:"matched_keywords"`
	RiskLevel       model.RiskLevel     `json:"risk_level"`
	CrawledAt       time.Time           `json:"crawled_at"`
	DedupID         string              `json:"dedup_id"`
}

// NewEntry converts an item into an archive line.
func NewEntry(item *model.Item, crawledAt time.Time) Entry {
	contacts := item.AuthorContacts
	if contacts == nil {
		contacts = map[string][]string{}
	}
	keywords := make([]string, 0, len(item.MatchedKeywords)+len(item.MatchedTargets))
	keywords = append(keywords, item.MatchedKeywords...)
	keywords = append(keywords, item.MatchedTargets...)

	return Entry{
		Source:          item.Source,
		Category:        orUnknown(item.Category),
		Title:           item.Title,
		Timestamp:       item.Timestamp,
		Author:          orUnknown(item.Author),
		AuthorContacts:  contacts,
		URL:             item.URL,
		MatchedKeywords: keywords,
		RiskLevel:       item.RiskLevel,
		CrawledAt:       crawledAt.UTC(),
		DedupID:         item.DedupID,
	}
}

// Path returns the archive file for source inside dir.
func Path(dir, source string) string {
	return filepath.Join(dir, "archive_"+sanitize(source)+".jsonl")
}

// Stage writes items to the archive file of one source.
type Stage struct {
	dir    string
	source string
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder

	written atomic.Int64
	errs    atomic.Int64
}

// Option configures a Stage.
type Option func(*Stage)

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

// NewStage creates an archive stage writing below dir.
func NewStage(dir, source string, opts ...Option) *Stage {
	s := &Stage{
		dir:    dir,
		source: source,
		now:    time.Now,
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
	return "archive"
}

// Open opens the archive file for appending. An unwritable directory is
// logged; the stage then passes items without writing.
func (s *Stage) Open(_ context.Context) error {
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		s.logger.Error("failed to create archive directory", "dir", s.dir, "error", err)
		return nil
	}

	path := Path(s.dir, s.source)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) //nolint:gosec // path built from configured dir
	if err != nil {
		s.logger.Error("failed to open archive file", "path", path, "error", err)
		return nil
	}

	s.mu.Lock()
	s.file = f
	s.enc = json.NewEncoder(f)
	s.enc.SetEscapeHTML(false)
	s.mu.Unlock()

	s.logger.Info("archive opened", "path", path)
	return nil
}

// Process implements pipeline.Stage.
func (s *Stage) Process(_ context.Context, item *model.Item) pipeline.Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.enc == nil {
		s.errs.Add(1)
		return pipeline.Keep()
	}
	if err := s.enc.Encode(NewEntry(item, s.now())); err != nil {
		s.errs.Add(1)
		s.logger.Error("archive write failed", "dedup_id", item.DedupID, "error", err)
		return pipeline.Keep()
	}
	s.written.Add(1)
	return pipeline.Keep()
}

// Close closes the archive file.
func (s *Stage) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	s.enc = nil
	if err != nil {
		return fmt.Errorf("failed to close archive: %w", err)
	}
	s.logger.Info("archive closed", "source", s.source, "written", s.written.Load())
	return nil
}

// Stats implements pipeline.StatsReporter.
func (s *Stage) Stats() map[string]int64 {
	return map[string]int64{
		"written": s.written.Load(),
		"errors":  s.errs.Load(),
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

// sanitize keeps a source name usable as a file name.
func sanitize(name string) string {
	out := []rune(name)
	for i, r := range out {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			out[i] = '_'
		}
	}
	if len(out) == 0 {
		return "unknown"
	}
	return string(out)
}
