package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nao1215/tricrawl/internal/model"
)

// Pipeline runs items through an ordered list of stages.
// A Pipeline instance serves exactly one run: its stages own run-scoped
// state (identity set, notification queue), so a new Pipeline must be built
// for every source.
//
// Run opens the stages in order, lets the source emit, and closes them in
// the same order, so dedup has logged its summary before notify starts
// draining. An Opener that fails closes the stages opened before it,
// and the run ends without extracting anything. Items are processed one at
// a time on the source's goroutine, so a stage sees items in the order the
// source emitted them and the notify stage delivers in that order too.
//
// Close always runs, also after an extraction error or a cancelled
// context. Stages close on a context detached from the run; once the run
// context is done that context is bounded by WithCloseTimeout, which is
// what gives the notify stage its drain budget on SIGINT.
//
// The Summary returned by Run carries the outcome counts and every counter
// reported through StatsReporter: stage counters as "<stage>/<key>", and
// the source's counters as "crawl/<key>". Nothing else is shared between
// runs, which is what lets BatchProcessor run pipelines concurrently.
type Pipeline struct {
	// stages contains the ordered list of stages to execute.
	stages []Stage

	// logger is used for structured logging during execution.
	logger *slog.Logger

	// observer receives item outcomes. May be nil.
	observer Observer

	// closeTimeout bounds how long stage shutdown may take once the run
	// context is done. Zero means no limit.
	closeTimeout time.Duration

	// now returns the current time.
	now func() time.Time

	summary *Summary
	source  string

	// src is the source of the current Run. Its counters, when it reports
	// any, are merged under SourceCounterPrefix.
	src Source
}

// SourceCounterPrefix prefixes the counters a Source reports, e.g.
// "crawl/pages" or "crawl/skipped" for a spider.
const SourceCounterPrefix = "crawl"

// Option is a function that configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets a custom logger for the pipeline.
// If not set, slog.Default() is used.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithObserver registers an Observer that is notified about every item.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) {
		p.observer = o
	}
}

// WithCloseTimeout bounds the time stage shutdown may take after the run
// context is done, e.g. the notification queue drain after an interrupt.
// A run that ends normally drains without limit.
func WithCloseTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d >= 0 {
			p.closeTimeout = d
		}
	}
}

// WithClock overrides the time source used for summary timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// New creates a new Pipeline with the given options.
// Stages should be added using AddStage after creation.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		stages: make([]Stage, 0),
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.logger == nil {
		p.logger = slog.Default()
	}

	return p
}

// AddStage appends a stage to the pipeline.
// Stages are executed in the order they are added.
func (p *Pipeline) AddStage(stage Stage) {
	p.stages = append(p.stages, stage)
}

// AddStages appends multiple stages to the pipeline.
func (p *Pipeline) AddStages(stages ...Stage) {
	p.stages = append(p.stages, stages...)
}

// StageCount returns the number of stages in the pipeline.
func (p *Pipeline) StageCount() int {
	return len(p.stages)
}

// StageNames returns the names of all stages in execution order.
func (p *Pipeline) StageNames() []string {
	names := make([]string, len(p.stages))
	for i, stage := range p.stages {
		names[i] = stage.Name()
	}
	return names
}

// Open prepares every stage for a run over the named source.
// If a stage fails to open, the stages opened before it are closed and the
// error is returned.
func (p *Pipeline) Open(ctx context.Context, source string) error {
	p.source = source
	p.summary = newSummary(uuid.NewString(), source, p.now())

	for i, stage := range p.stages {
		opener, ok := stage.(Opener)
		if !ok {
			continue
		}
		if err := opener.Open(ctx); err != nil {
			p.logger.Error("stage failed to open",
				"stage", stage.Name(),
				"source", source,
				"error", err,
			)
			_ = p.closeStages(ctx, p.stages[:i]) //nolint:errcheck // open error takes precedence
			return fmt.Errorf("open %s: %w", stage.Name(), err)
		}
	}

	p.logger.Debug("pipeline opened",
		"source", source,
		"run_id", p.summary.RunID,
		"stages", p.StageNames(),
	)
	return nil
}

// Process runs one item through the stages.
// Invalid items are rejected before the first stage. A Drop from any stage
// stops the item; the remaining stages never see it.
func (p *Pipeline) Process(ctx context.Context, item *model.Item) Result {
	if p.summary == nil {
		p.summary = newSummary(uuid.NewString(), p.source, p.now())
	}
	p.summary.Received++
	if p.observer != nil {
		p.observer.ItemReceived(p.source)
	}

	if err := item.Validate(); err != nil {
		p.summary.Invalid++
		if p.observer != nil {
			p.observer.ItemInvalid(p.source)
		}
		p.logger.Warn("invalid item",
			"source", p.source,
			"url", item.URL,
			"error", err,
		)
		return Drop("invalid")
	}

	for _, stage := range p.stages {
		res := stage.Process(ctx, item)
		if !res.Dropped() {
			continue
		}

		key := stage.Name() + "/" + res.Reason()
		p.summary.Dropped[key]++
		if p.observer != nil {
			p.observer.ItemDropped(p.source, stage.Name(), res.Reason())
		}
		p.logger.Debug("item dropped",
			"stage", stage.Name(),
			"reason", res.Reason(),
			"dedup_id", item.DedupID,
		)
		return res
	}

	p.summary.Passed++
	if p.observer != nil {
		p.observer.ItemPassed(p.source)
	}
	return Keep()
}

// Close shuts down every stage in order and finalizes the summary.
// It runs even when ctx is already cancelled: shutdown uses a context
// detached from ctx. Once ctx is done, whether before or during Close, the
// stages get the close timeout to finish before their context is cancelled.
func (p *Pipeline) Close(ctx context.Context) (*Summary, error) {
	closeCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	if p.closeTimeout > 0 {
		finished := make(chan struct{})
		defer close(finished)
		go p.enforceCloseBudget(ctx, finished, cancel)
	}

	err := p.closeStages(closeCtx, p.stages)

	if p.summary == nil {
		p.summary = newSummary(uuid.NewString(), p.source, p.now())
	}
	for _, stage := range p.stages {
		p.mergeCounters(stage.Name(), stage)
	}
	if p.src != nil {
		p.mergeCounters(SourceCounterPrefix, p.src)
	}
	p.summary.FinishedAt = p.now()

	return p.summary, err
}

// mergeCounters copies the counters of v, if it reports any, into the
// summary as "<prefix>/<key>".
func (p *Pipeline) mergeCounters(prefix string, v any) {
	reporter, ok := v.(StatsReporter)
	if !ok {
		return
	}
	for k, n := range reporter.Stats() {
		p.summary.Counters[prefix+"/"+k] = n
	}
}

// enforceCloseBudget cancels the close context closeTimeout after ctx is
// done, unless Close finishes first.
func (p *Pipeline) enforceCloseBudget(ctx context.Context, finished <-chan struct{}, cancel context.CancelFunc) {
	select {
	case <-ctx.Done():
	case <-finished:
		return
	}

	p.logger.Info("shutdown budget started", "source", p.source, "budget", p.closeTimeout)
	t := time.NewTimer(p.closeTimeout)
	defer t.Stop()
	select {
	case <-t.C:
		cancel()
	case <-finished:
	}
}

func (p *Pipeline) closeStages(ctx context.Context, stages []Stage) error {
	var errs []error
	for _, stage := range stages {
		closer, ok := stage.(Closer)
		if !ok {
			continue
		}
		if err := closer.Close(ctx); err != nil {
			p.logger.Error("stage failed to close",
				"stage", stage.Name(),
				"source", p.source,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("close %s: %w", stage.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Run executes a complete run: open, extract and process every item, close.
// Cancelling ctx stops extraction between items; stages are still closed so
// pending notifications drain within the close timeout.
//
// The returned Summary is non-nil whenever the stages opened successfully,
// even if extraction failed.
func (p *Pipeline) Run(ctx context.Context, src Source) (*Summary, error) {
	p.src = src
	if err := p.Open(ctx, src.Name()); err != nil {
		return nil, err
	}

	p.logger.Info("run started", "source", src.Name(), "run_id", p.summary.RunID)

	extractErr := src.Extract(ctx, func(item *model.Item) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		p.Process(ctx, item)
		return nil
	})
	if extractErr != nil {
		p.logger.Warn("extraction stopped",
			"source", src.Name(),
			"error", extractErr,
		)
	}

	summary, closeErr := p.Close(ctx)
	err := errors.Join(extractErr, closeErr)
	if err != nil {
		summary.Error = err.Error()
	}

	p.logger.Info("run finished",
		"source", summary.Source,
		"run_id", summary.RunID,
		"received", summary.Received,
		"passed", summary.Passed,
		"dropped", summary.DroppedTotal(),
		"invalid", summary.Invalid,
		"elapsed", summary.Elapsed(),
	)

	return summary, err
}
