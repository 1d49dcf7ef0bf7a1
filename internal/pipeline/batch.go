package pipeline

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// defaultConcurrency is the number of sources crawled at the same time.
// Each source holds its own Tor circuits, so the value stays small.
const defaultConcurrency = 4

// BatchProcessor runs several sources concurrently, one Pipeline per source.
// Runs share nothing but the factory's collaborators (store, HTTP client);
// every run gets its own stages and therefore its own identity set.
type BatchProcessor struct {
	// pipelineFactory creates a fresh pipeline for each source.
	pipelineFactory func(src Source) *Pipeline

	// concurrency is the maximum number of concurrent runs.
	concurrency int

	// logger is used for batch-level logging.
	logger *slog.Logger
}

// BatchOption configures a BatchProcessor.
type BatchOption func(*BatchProcessor)

// WithBatchLogger sets a custom logger for batch processing.
func WithBatchLogger(logger *slog.Logger) BatchOption {
	return func(b *BatchProcessor) {
		b.logger = logger
	}
}

// WithConcurrency sets the maximum number of concurrent runs.
// Non-positive values keep the default.
func WithConcurrency(n int) BatchOption {
	return func(b *BatchProcessor) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// NewBatchProcessor creates a new BatchProcessor.
func NewBatchProcessor(pipelineFactory func(src Source) *Pipeline, opts ...BatchOption) *BatchProcessor {
	bp := &BatchProcessor{
		pipelineFactory: pipelineFactory,
		concurrency:     defaultConcurrency,
	}

	for _, opt := range opts {
		opt(bp)
	}

	if bp.logger == nil {
		bp.logger = slog.Default()
	}

	return bp
}

// ProcessBatch runs every source and returns the summaries in source order.
// A failing run is logged and leaves its summary (possibly nil when the
// stages could not open) in place; it never stops the other runs. The
// returned error is only the context error when the batch was cancelled.
func (bp *BatchProcessor) ProcessBatch(ctx context.Context, sources []Source) ([]*Summary, error) {
	results := make([]*Summary, len(sources))
	err := bp.ProcessBatchWithCallback(ctx, sources, func(summary *Summary, index int) {
		results[index] = summary
	})
	return results, err
}

// ProcessBatchWithCallback runs every source and calls callback with each
// finished summary and the source's index. The callback is called from the
// goroutine that completed the run, so it must be safe for concurrent use.
func (bp *BatchProcessor) ProcessBatchWithCallback(
	ctx context.Context,
	sources []Source,
	callback func(summary *Summary, index int),
) error {
	bp.logger.Info("starting batch",
		"sources", len(sources),
		"concurrency", bp.concurrency,
	)
	startTime := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bp.concurrency)

	for i, src := range sources {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}

			p := bp.pipelineFactory(src)
			summary, err := p.Run(gctx, src)
			if err != nil {
				bp.logger.Warn("run failed",
					"source", src.Name(),
					"error", err,
				)
			}

			callback(summary, i)
			return nil
		})
	}

	err := g.Wait()

	bp.logger.Info("batch complete",
		"sources", len(sources),
		"elapsed", time.Since(startTime),
	)

	return err
}
