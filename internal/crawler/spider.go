package crawler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/nao1215/tricrawl/internal/config"
	"github.com/nao1215/tricrawl/internal/dedup"
	"github.com/nao1215/tricrawl/internal/model"
)

// Spider crawls the listing pages of one site and emits an item per row.
// It implements pipeline.Source and pipeline.StatsReporter.
//
// Rows older than the age limit are not emitted, and a page on which every
// dated row is old and at least one of them is not pinned ends the
// pagination of its start URL: boards list the newest posts first, so the
// following pages hold nothing newer. Rows without a readable date are
// always kept.
//
// When the site sets detail selectors, the post page of each new row is
// fetched for the full body. Known rows are filtered before that request,
// which is why the identity filter lives here and not only in the dedup
// stage.
type Spider struct {
	site        config.SiteConfig
	client      *http.Client
	parser      *Parser
	seen        func(string) bool
	maxPages    int
	days        int
	delay       time.Duration
	userAgent   string
	maxBodySize int64
	logger      *slog.Logger
	now         func() time.Time

	pages        atomic.Int64
	emitted      atomic.Int64
	skipped      atomic.Int64
	old          atomic.Int64
	details      atomic.Int64
	detailErrors atomic.Int64
}

// SpiderOption configures a Spider.
type SpiderOption func(*Spider)

// WithSeen sets the identity filter. Rows whose title and author hash to
// an identity for which seen returns true are not emitted.
func WithSeen(seen func(string) bool) SpiderOption {
	return func(s *Spider) {
		s.seen = seen
	}
}

// WithMaxPages sets the listing pages followed per start URL when the site
// does not set max_pages.
func WithMaxPages(maxPages int) SpiderOption {
	return func(s *Spider) {
		s.maxPages = maxPages
	}
}

// WithDaysToCrawl sets the post age limit in days when the site does not
// set days_to_crawl. Zero disables the limit.
func WithDaysToCrawl(days int) SpiderOption {
	return func(s *Spider) {
		s.days = days
	}
}

// WithDelay sets the delay between requests when the site does not set one.
func WithDelay(d time.Duration) SpiderOption {
	return func(s *Spider) {
		s.delay = d
	}
}

// WithUserAgent sets the User-Agent header when the site does not set one.
func WithUserAgent(ua string) SpiderOption {
	return func(s *Spider) {
		s.userAgent = ua
	}
}

// WithMaxBodySize limits how much of each response is read.
func WithMaxBodySize(size int64) SpiderOption {
	return func(s *Spider) {
		s.maxBodySize = size
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) SpiderOption {
	return func(s *Spider) {
		s.logger = logger
	}
}

// WithClock sets the time source for fallback timestamps.
func WithClock(now func() time.Time) SpiderOption {
	return func(s *Spider) {
		s.now = now
	}
}

// NewSpider creates a Spider for site. The client should route through Tor
// and carry the site's cookie and headers (see tor.Client.SiteClient).
func NewSpider(site config.SiteConfig, client *http.Client, opts ...SpiderOption) *Spider {
	s := &Spider{
		site:        site,
		client:      client,
		maxPages:    config.DefaultMaxPages,
		delay:       config.DefaultCrawlDelay,
		userAgent:   config.DefaultUserAgent,
		maxBodySize: config.DefaultMaxBodySize,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	// Site settings win over the global ones.
	if site.MaxPages > 0 {
		s.maxPages = site.MaxPages
	}
	if site.Delay > 0 {
		s.delay = site.Delay
	}
	if site.UserAgent != "" {
		s.userAgent = site.UserAgent
	}
	if site.DaysToCrawl > 0 {
		s.days = site.DaysToCrawl
	}
	if s.maxPages < 1 {
		s.maxPages = 1
	}

	s.parser = NewParser(site, s.now)
	return s
}

// SetSeen replaces the identity filter. It must be called before Extract;
// the run's dedup stage is usually built after the spider.
func (s *Spider) SetSeen(seen func(string) bool) {
	s.seen = seen
}

// Name implements pipeline.Source.
func (s *Spider) Name() string {
	return s.site.Name
}

// Extract implements pipeline.Source. Each start URL is followed through
// its next_page links up to the page limit or the age limit. A failed page
// ends that start URL only; ErrNoPages is returned when every start URL
// failed.
func (s *Spider) Extract(ctx context.Context, emit func(*model.Item) error) error {
	fetched := 0
	first := true
	cutoff := s.cutoff()

	for _, start := range s.site.StartURLs {
		visited := make(map[string]bool)
		pageURL := start

		for page := 0; page < s.maxPages && pageURL != "" && !visited[pageURL]; page++ {
			if !first {
				if err := s.wait(ctx); err != nil {
					return err
				}
			}
			first = false
			visited[pageURL] = true

			rows, next, err := s.fetchListing(ctx, pageURL)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.logger.Warn("failed to fetch listing page",
					"source", s.site.Name,
					"url", pageURL,
					"error", err,
				)
				break
			}
			fetched++
			s.pages.Add(1)

			s.logger.Debug("listing page parsed",
				"source", s.site.Name,
				"url", pageURL,
				"page", page+1,
				"items", len(rows),
			)

			recent, oldUnpinned := false, false
			for _, row := range rows {
				if isOld(row, cutoff) {
					s.old.Add(1)
					oldUnpinned = oldUnpinned || !row.Sticky
					continue
				}
				recent = true

				if err := s.emitRow(ctx, row.Item, emit); err != nil {
					return err
				}
			}

			if !recent && oldUnpinned {
				s.logger.Debug("age limit reached, pagination stopped",
					"source", s.site.Name,
					"url", pageURL,
					"days", s.days,
				)
				break
			}
			pageURL = next
		}
	}

	if fetched == 0 && len(s.site.StartURLs) > 0 {
		return fmt.Errorf("%w: %s", ErrNoPages, s.site.Name)
	}
	return nil
}

// emitRow filters a known row, completes a new one from its post page when
// the site has detail selectors, and emits it.
func (s *Spider) emitRow(ctx context.Context, item *model.Item, emit func(*model.Item) error) error {
	if s.isSeen(item) {
		s.skipped.Add(1)
		return nil
	}

	if s.site.Detail.Enabled() {
		if err := s.fetchDetail(ctx, item); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// The listing values still make a valid item.
			s.detailErrors.Add(1)
			s.logger.Warn("failed to fetch post page",
				"source", s.site.Name,
				"url", item.URL,
				"error", err,
			)
		} else if s.isSeen(item) {
			// The post page named a different title or author.
			s.skipped.Add(1)
			return nil
		}
	}

	if err := emit(item); err != nil {
		return err
	}
	s.emitted.Add(1)
	return nil
}

// cutoff returns the oldest accepted post time, or the zero time when the
// age limit is off.
func (s *Spider) cutoff() time.Time {
	if s.days <= 0 {
		return time.Time{}
	}
	return s.now().Add(-time.Duration(s.days) * 24 * time.Hour)
}

// isOld reports whether a dated row was posted before cutoff.
func isOld(row Row, cutoff time.Time) bool {
	if cutoff.IsZero() || !row.Dated {
		return false
	}
	t, err := time.Parse(time.RFC3339, row.Item.Timestamp)
	if err != nil {
		return false
	}
	return t.Before(cutoff)
}

// isSeen hashes a copy so that the emitted item still goes through the
// dedup stage with no pre-set identity.
func (s *Spider) isSeen(item *model.Item) bool {
	if s.seen == nil {
		return false
	}
	return s.seen(dedup.ComputeIdentity(&model.Item{Title: item.Title, Author: item.Author}))
}

func (s *Spider) wait(ctx context.Context) error {
	if s.delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(s.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Spider) fetchListing(ctx context.Context, pageURL string) ([]Row, string, error) {
	doc, u, err := s.get(ctx, pageURL)
	if err != nil {
		return nil, "", err
	}
	rows, next := s.parser.ParseRows(doc, u)
	return rows, next, nil
}

// fetchDetail completes item from its post page.
func (s *Spider) fetchDetail(ctx context.Context, item *model.Item) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	doc, _, err := s.get(ctx, item.URL)
	if err != nil {
		return err
	}
	s.details.Add(1)
	s.parser.ParseDetail(doc, item)
	return nil
}

// get fetches an HTML page and returns it with its final URL.
func (s *Spider) get(ctx context.Context, pageURL string) (*goquery.Document, *url.URL, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid page URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		return nil, nil, fmt.Errorf("unexpected content type %q", ct)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, s.maxBodySize))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	// Redirects may have moved the page.
	if resp.Request != nil && resp.Request.URL != nil {
		u = resp.Request.URL
	}
	return doc, u, nil
}

// Stats implements pipeline.StatsReporter. skipped counts known rows
// filtered before the pipeline, old the rows past the age limit.
func (s *Spider) Stats() map[string]int64 {
	return map[string]int64{
		"pages":         s.pages.Load(),
		"emitted":       s.emitted.Load(),
		"skipped":       s.skipped.Load(),
		"old":           s.old.Load(),
		"details":       s.details.Load(),
		"detail_errors": s.detailErrors.Load(),
	}
}
