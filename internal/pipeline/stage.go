package pipeline

import (
	"context"

	"github.com/nao1215/tricrawl/internal/model"
)

// Stage is one step of the item chain.
// Stages are invoked synchronously, one item at a time, in the order they
// were added. A stage may mutate the item it receives.
type Stage interface {
	// Process handles a single item and reports whether it continues
	// downstream. Stages never return errors: failures they can recover
	// from are logged and counted, and a deliberate rejection is a Drop.
	Process(ctx context.Context, item *model.Item) Result

	// Name returns the stage's name for logging and counters.
	Name() string
}

// Opener is implemented by stages that need setup before the first item,
// such as seeding an identity set or starting a worker.
type Opener interface {
	Open(ctx context.Context) error
}

// Closer is implemented by stages that must flush or report at run end.
// The context bounds how long Close may block.
type Closer interface {
	Close(ctx context.Context) error
}

// StatsReporter is implemented by stages and sources that expose per-run
// counters. Stage keys are merged into the run Summary as "<stage>/<key>",
// source keys as "crawl/<key>".
type StatsReporter interface {
	Stats() map[string]int64
}

// Result is the outcome of Stage.Process: either keep the item or drop it
// with a reason. The zero value keeps the item.
type Result struct {
	dropped bool
	reason  string
}

// Keep passes the item to the next stage.
func Keep() Result {
	return Result{}
}

// Drop stops the item here. The reason becomes part of the drop counters,
// so it should be a short stable token such as "duplicate".
func Drop(reason string) Result {
	return Result{dropped: true, reason: reason}
}

// Dropped reports whether the item was dropped.
func (r Result) Dropped() bool {
	return r.dropped
}

// Reason returns the drop reason, or "" for a kept item.
func (r Result) Reason() string {
	return r.reason
}

// Source produces items for one run. The pipeline calls Extract once and
// processes every emitted item before Extract continues; when emit returns
// an error the source must stop and return it.
type Source interface {
	Name() string
	Extract(ctx context.Context, emit func(*model.Item) error) error
}

// Observer receives item outcomes as they happen.
// The metrics package provides the Prometheus implementation.
type Observer interface {
	ItemReceived(source string)
	ItemInvalid(source string)
	ItemDropped(source, stage, reason string)
	ItemPassed(source string)
}

// SliceSource is a Source over a fixed list of items.
type SliceSource struct {
	name  string
	items []*model.Item
}

// NewSliceSource creates a Source that emits items in order.
func NewSliceSource(name string, items []*model.Item) *SliceSource {
	return &SliceSource{name: name, items: items}
}

// Name implements Source.
func (s *SliceSource) Name() string {
	return s.name
}

// Extract implements Source.
func (s *SliceSource) Extract(_ context.Context, emit func(*model.Item) error) error {
	for _, item := range s.items {
		if err := emit(item); err != nil {
			return err
		}
	}
	return nil
}
