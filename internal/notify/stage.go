package notify

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nao1215/tricrawl/internal/model"
	"github.com/nao1215/tricrawl/internal/pipeline"
	"golang.org/x/time/rate"
)

const (
	// DefaultInterval is the minimum gap between two deliveries.
	DefaultInterval = time.Second

	// DefaultMaxAttempts is the number of tries for 5xx and transport
	// errors. 429 answers do not count.
	DefaultMaxAttempts = 3

	// DefaultBackoff is the first retry delay; it doubles on every retry.
	DefaultBackoff = time.Second

	// DefaultQueueSize is the capacity of the delivery queue.
	DefaultQueueSize = 1024

	// defaultRetryAfter is used for a 429 without a usable wait.
	defaultRetryAfter = time.Second
)

// Observer receives delivery outcomes.
type Observer interface {
	NotificationSent(source string)
	NotificationFailed(source string)
	NotificationDropped(source, reason string)
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stage delivers relevant items to the webhook from a single background
// worker. Process only enqueues; pacing, retries and backoff happen on the
// worker.
//
// Lifecycle: Open starts the worker, Close drains the queue, and Abandon (or
// a Close whose context ends first) makes the worker skip what is left.
//
// A single worker reading a FIFO channel is what keeps deliveries in the
// order items were processed, and what makes one rate limiter enough to
// respect the webhook's limit. A 429 holds the whole queue until its
// Retry-After has passed, so a later item never overtakes a throttled one.
//
// Every item handed to Process that is not scored NONE ends in exactly one
// of the counters reported by Stats: sent, failed, overflow (queue full),
// rejected (worker not running) or abandoned (skipped after Abandon). The
// pipeline never waits on the webhook, so a slow or dead webhook costs
// notifications and not crawl throughput.
type Stage struct {
	client      *Client
	enabled     bool
	interval    time.Duration
	maxAttempts int
	backoff     time.Duration
	queueSize   int
	sleep       Sleeper
	observer    Observer
	logger      *slog.Logger
	now         func() time.Time

	mu      sync.Mutex
	queue   chan *model.Item
	closed  bool
	started bool

	limiter *rate.Limiter
	// workCtx is cancelled by Abandon.
	workCtx context.Context
	abandon context.CancelFunc
	done    chan struct{}

	sent      atomic.Int64
	failed    atomic.Int64
	overflow  atomic.Int64
	rejected  atomic.Int64
	abandoned atomic.Int64
}

// Option configures a Stage.
type Option func(*Stage)

// WithInterval sets the minimum gap between deliveries.
func WithInterval(d time.Duration) Option {
	return func(s *Stage) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithMaxAttempts sets the attempt budget for 5xx and transport errors.
func WithMaxAttempts(n int) Option {
	return func(s *Stage) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithBackoff sets the first retry delay.
func WithBackoff(d time.Duration) Option {
	return func(s *Stage) {
		if d > 0 {
			s.backoff = d
		}
	}
}

// WithQueueSize sets the queue capacity.
func WithQueueSize(n int) Option {
	return func(s *Stage) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// WithSleeper replaces the sleep used for backoff and Retry-After waits.
func WithSleeper(sleep Sleeper) Option {
	return func(s *Stage) {
		if sleep != nil {
			s.sleep = sleep
		}
	}
}

// WithObserver registers a delivery Observer.
func WithObserver(o Observer) Option {
	return func(s *Stage) {
		s.observer = o
	}
}

// WithWebhookHTTPClient sets the HTTP client used for webhook requests.
func WithWebhookHTTPClient(c *http.Client) Option {
	return func(s *Stage) {
		WithHTTPClient(c)(s.client)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Stage) {
		s.logger = logger
	}
}

// WithClock overrides the embed timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Stage) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStage creates a notification stage. An empty webhookURL disables it:
// every item then passes without being queued.
func NewStage(webhookURL string, opts ...Option) *Stage {
	s := &Stage{
		client:      NewClient(webhookURL),
		enabled:     webhookURL != "",
		interval:    DefaultInterval,
		maxAttempts: DefaultMaxAttempts,
		backoff:     DefaultBackoff,
		queueSize:   DefaultQueueSize,
		sleep:       sleepContext,
		now:         time.Now,
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
	return "notify"
}

// Enabled reports whether a webhook is configured.
func (s *Stage) Enabled() bool {
	return s.enabled
}

// Open starts the delivery worker.
func (s *Stage) Open(_ context.Context) error {
	if !s.enabled {
		s.logger.Warn("webhook URL missing, notifications disabled")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	s.queue = make(chan *model.Item, s.queueSize)
	s.limiter = rate.NewLimiter(rate.Every(s.interval), 1)
	s.workCtx, s.abandon = context.WithCancel(context.Background())
	s.done = make(chan struct{})
	s.started = true

	go s.run()

	s.logger.Info("notification worker started", "interval", s.interval, "queue_size", s.queueSize)
	return nil
}

// Process implements pipeline.Stage. Items scored NONE are not queued.
// Queueing never blocks: when the queue is full the item is counted as
// overflow and passed on. Items arriving before Open or after Close are
// counted as rejected.
func (s *Stage) Process(_ context.Context, item *model.Item) pipeline.Result {
	if !s.enabled || item.RiskLevel == model.RiskNone {
		return pipeline.Keep()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.closed {
		s.dropped(item, "rejected")
		s.logger.Warn("notification worker not running, item not queued", "dedup_id", item.DedupID)
		return pipeline.Keep()
	}

	select {
	case s.queue <- item.Clone():
	default:
		s.dropped(item, "overflow")
		s.logger.Warn("notification queue full, item not queued",
			"dedup_id", item.DedupID,
			"queue_size", s.queueSize,
		)
	}
	return pipeline.Keep()
}

func (s *Stage) dropped(item *model.Item, reason string) {
	switch reason {
	case "overflow":
		s.overflow.Add(1)
	case "rejected":
		s.rejected.Add(1)
	case "abandoned":
		s.abandoned.Add(1)
	}
	if s.observer != nil {
		s.observer.NotificationDropped(item.Source, reason)
	}
}

// Close stops accepting items and waits for the worker to drain the queue.
// If ctx ends first the remaining items are abandoned; the delivery in
// flight still completes.
func (s *Stage) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.started || s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	pending := len(s.queue)
	close(s.queue)
	s.mu.Unlock()

	if pending > 0 {
		s.logger.Info("flushing items",
			"count", pending,
			"estimate", time.Duration(pending)*s.interval,
		)
	}

	select {
	case <-s.done:
	case <-ctx.Done():
		s.logger.Warn("notification drain interrupted, abandoning queue", "error", ctx.Err())
		s.Abandon()
		<-s.done
	}

	s.abandon()
	s.logger.Info("notification worker stopped",
		"sent", s.sent.Load(),
		"failed", s.failed.Load(),
		"overflow", s.overflow.Load(),
		"rejected", s.rejected.Load(),
		"abandoned", s.abandoned.Load(),
	)
	return nil
}

// Abandon makes the worker skip every item it has not started delivering.
func (s *Stage) Abandon() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.abandon != nil {
		s.abandon()
	}
}

// Stats implements pipeline.StatsReporter.
func (s *Stage) Stats() map[string]int64 {
	return map[string]int64{
		"sent":      s.sent.Load(),
		"failed":    s.failed.Load(),
		"overflow":  s.overflow.Load(),
		"rejected":  s.rejected.Load(),
		"abandoned": s.abandoned.Load(),
	}
}

// run is the worker loop. It ends when the queue is closed and empty.
func (s *Stage) run() {
	defer close(s.done)

	for item := range s.queue {
		if s.workCtx.Err() != nil {
			s.dropped(item, "abandoned")
			continue
		}
		if err := s.limiter.Wait(s.workCtx); err != nil {
			s.dropped(item, "abandoned")
			continue
		}
		s.deliver(item)
	}
}

// deliver sends one item, retrying 5xx and transport errors with
// exponential backoff and waiting out 429s.
func (s *Stage) deliver(item *model.Item) {
	payload := BuildPayload(item, s.now())
	backoff := s.backoff
	// An attempt started before Abandon runs to completion.
	reqCtx := context.WithoutCancel(s.workCtx)

	for attempt := 1; attempt <= s.maxAttempts; {
		resp, err := s.client.Post(reqCtx, payload)

		var wait time.Duration
		switch {
		case err != nil:
			s.logger.Warn("notification attempt failed",
				"attempt", attempt,
				"dedup_id", item.DedupID,
				"error", err,
			)
			attempt++
			wait = backoff
			backoff *= 2

		case resp.Success():
			s.sent.Add(1)
			if s.observer != nil {
				s.observer.NotificationSent(item.Source)
			}
			s.logger.Info("notification sent", "title", truncate(item.Title, 20), "dedup_id", item.DedupID)
			return

		case resp.StatusCode == http.StatusTooManyRequests:
			wait = resp.RetryAfter
			if wait <= 0 {
				wait = defaultRetryAfter
			}
			s.logger.Warn("rate limited by webhook", "retry_after", wait, "dedup_id", item.DedupID)

		case resp.StatusCode >= http.StatusInternalServerError:
			s.logger.Warn("webhook server error",
				"status", resp.StatusCode,
				"attempt", attempt,
				"dedup_id", item.DedupID,
			)
			attempt++
			wait = backoff
			backoff *= 2

		default:
			s.fail(item, "webhook rejected notification", "status", resp.StatusCode)
			return
		}

		if attempt > s.maxAttempts {
			break
		}
		if err := s.sleep(s.workCtx, wait); err != nil {
			s.dropped(item, "abandoned")
			return
		}
	}

	s.fail(item, "notification failed, attempts exhausted", "attempts", s.maxAttempts)
}

func (s *Stage) fail(item *model.Item, msg string, args ...any) {
	s.failed.Add(1)
	if s.observer != nil {
		s.observer.NotificationFailed(item.Source)
	}
	s.logger.Error(msg, append(args, "dedup_id", item.DedupID, "title", truncate(item.Title, 20))...)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
