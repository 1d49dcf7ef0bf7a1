package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nao1215/tricrawl/internal/model"
)

// mockStage is a test helper that implements the Stage interface and the
// optional lifecycle interfaces.
type mockStage struct {
	name        string
	processFunc func(ctx context.Context, item *model.Item) Result
	openErr     error
	closeErr    error
	stats       map[string]int64

	mu         sync.Mutex
	callCount  int
	opened     bool
	closed     bool
	closeCtxOK bool
}

// Process implements Stage.Process.
func (m *mockStage) Process(ctx context.Context, item *model.Item) Result {
	m.mu.Lock()
	m.callCount++
	m.mu.Unlock()
	if m.processFunc != nil {
		return m.processFunc(ctx, item)
	}
	return Keep()
}

// Name implements Stage.Name.
func (m *mockStage) Name() string {
	return m.name
}

// Open implements Opener.
func (m *mockStage) Open(_ context.Context) error {
	m.opened = m.openErr == nil
	return m.openErr
}

// Close implements Closer.
func (m *mockStage) Close(ctx context.Context) error {
	m.closed = true
	m.closeCtxOK = ctx.Err() == nil
	return m.closeErr
}

// Stats implements StatsReporter.
func (m *mockStage) Stats() map[string]int64 {
	return m.stats
}

func (m *mockStage) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

func testItem(title string) *model.Item {
	return &model.Item{
		Source:    "ForumX",
		URL:       "http://x/" + title,
		Title:     title,
		Author:    "ghost99",
		Timestamp: "2024-01-01T00:00:00Z",
	}
}

// recordingObserver counts observer callbacks.
type recordingObserver struct {
	mu       sync.Mutex
	received int
	invalid  int
	passed   int
	dropped  map[string]int
}

func (o *recordingObserver) ItemReceived(string) { o.mu.Lock(); o.received++; o.mu.Unlock() }
func (o *recordingObserver) ItemInvalid(string)  { o.mu.Lock(); o.invalid++; o.mu.Unlock() }
func (o *recordingObserver) ItemPassed(string)   { o.mu.Lock(); o.passed++; o.mu.Unlock() }
func (o *recordingObserver) ItemDropped(_, stage, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.dropped == nil {
		o.dropped = make(map[string]int)
	}
	o.dropped[stage+"/"+reason]++
}

// countingSource is a SliceSource that also reports counters, the way a
// spider does.
type countingSource struct {
	*SliceSource
	stats map[string]int64
}

func (c *countingSource) Stats() map[string]int64 { return c.stats }

// TestPipelineNew tests the Pipeline constructor.
func TestPipelineNew(t *testing.T) {
	t.Parallel()

	t.Run("creates pipeline with default settings", func(t *testing.T) {
		t.Parallel()

		p := New()

		if p == nil {
			t.Fatal("expected non-nil pipeline")
		}
		if p.StageCount() != 0 {
			t.Errorf("expected 0 stages, got %d", p.StageCount())
		}
		if p.logger == nil {
			t.Error("expected default logger")
		}
	})

	t.Run("applies WithCloseTimeout option", func(t *testing.T) {
		t.Parallel()

		p := New(WithCloseTimeout(3 * time.Second))

		if p.closeTimeout != 3*time.Second {
			t.Errorf("expected close timeout 3s, got %v", p.closeTimeout)
		}
	})
}

// TestPipelineAddStage tests adding stages to the pipeline.
func TestPipelineAddStage(t *testing.T) {
	t.Parallel()

	p := New()
	p.AddStage(&mockStage{name: "dedup"})
	p.AddStages(&mockStage{name: "keyword"}, &mockStage{name: "storage"})

	names := p.StageNames()
	expected := []string{"dedup", "keyword", "storage"}
	if len(names) != len(expected) {
		t.Fatalf("got %v, expected %v", names, expected)
	}
	for i, name := range names {
		if name != expected[i] {
			t.Errorf("stage %d: got %q, expected %q", i, name, expected[i])
		}
	}
}

// TestPipelineProcess tests single-item processing.
func TestPipelineProcess(t *testing.T) {
	t.Parallel()

	t.Run("runs stages in order and passes the mutated item", func(t *testing.T) {
		t.Parallel()

		var order []string
		p := New()
		p.AddStage(&mockStage{
			name: "first",
			processFunc: func(_ context.Context, item *model.Item) Result {
				order = append(order, "first")
				item.DedupID = "injected"
				return Keep()
			},
		})
		p.AddStage(&mockStage{
			name: "second",
			processFunc: func(_ context.Context, item *model.Item) Result {
				order = append(order, "second")
				if item.DedupID != "injected" {
					t.Errorf("expected injected dedup id, got %q", item.DedupID)
				}
				return Keep()
			},
		})

		res := p.Process(context.Background(), testItem("a"))

		if res.Dropped() {
			t.Error("expected item to be kept")
		}
		if len(order) != 2 || order[0] != "first" || order[1] != "second" {
			t.Errorf("wrong execution order: %v", order)
		}
	})

	t.Run("drop stops the item", func(t *testing.T) {
		t.Parallel()

		after := &mockStage{name: "after"}
		p := New()
		p.AddStage(&mockStage{
			name: "dedup",
			processFunc: func(_ context.Context, _ *model.Item) Result {
				return Drop("duplicate")
			},
		})
		p.AddStage(after)

		res := p.Process(context.Background(), testItem("a"))

		if !res.Dropped() || res.Reason() != "duplicate" {
			t.Errorf("expected duplicate drop, got %+v", res)
		}
		if after.calls() != 0 {
			t.Error("stage after the drop should not run")
		}
	})

	t.Run("invalid items never reach a stage", func(t *testing.T) {
		t.Parallel()

		stage := &mockStage{name: "dedup"}
		obs := &recordingObserver{}
		p := New(WithObserver(obs))
		p.AddStage(stage)

		item := testItem("a")
		item.Author = ""
		res := p.Process(context.Background(), item)

		if !res.Dropped() || res.Reason() != "invalid" {
			t.Errorf("expected invalid drop, got %+v", res)
		}
		if stage.calls() != 0 {
			t.Error("stage should not see invalid item")
		}
		if obs.invalid != 1 || obs.received != 1 {
			t.Errorf("observer got received=%d invalid=%d", obs.received, obs.invalid)
		}
	})
}

// TestPipelineRun tests complete runs.
func TestPipelineRun(t *testing.T) {
	t.Parallel()

	t.Run("counts outcomes and merges stage stats", func(t *testing.T) {
		t.Parallel()

		seen := map[string]bool{}
		dedup := &mockStage{
			name: "dedup",
			processFunc: func(_ context.Context, item *model.Item) Result {
				if seen[item.Title] {
					return Drop("duplicate")
				}
				seen[item.Title] = true
				return Keep()
			},
			stats: map[string]int64{"new": 2, "duplicate": 1},
		}
		obs := &recordingObserver{}
		p := New(WithObserver(obs))
		p.AddStage(dedup)

		invalid := testItem("c")
		invalid.URL = ""
		src := NewSliceSource("ForumX", []*model.Item{
			testItem("a"), testItem("b"), testItem("a"), invalid,
		})

		summary, err := p.Run(context.Background(), src)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if summary.Source != "ForumX" {
			t.Errorf("got source %q", summary.Source)
		}
		if summary.RunID == "" {
			t.Error("expected run id")
		}
		if summary.Received != 4 || summary.Passed != 2 || summary.Invalid != 1 {
			t.Errorf("got received=%d passed=%d invalid=%d",
				summary.Received, summary.Passed, summary.Invalid)
		}
		if summary.Dropped["dedup/duplicate"] != 1 {
			t.Errorf("expected one duplicate drop, got %v", summary.Dropped)
		}
		if summary.Counter("dedup/new") != 2 {
			t.Errorf("expected dedup/new=2, got %v", summary.Counters)
		}
		if !dedup.opened || !dedup.closed {
			t.Error("expected stage to be opened and closed")
		}
		if obs.passed != 2 || obs.dropped["dedup/duplicate"] != 1 {
			t.Errorf("observer got passed=%d dropped=%v", obs.passed, obs.dropped)
		}
	})

	t.Run("merges source counters under the crawl prefix", func(t *testing.T) {
		t.Parallel()

		src := &countingSource{
			SliceSource: NewSliceSource("ForumX", []*model.Item{testItem("a")}),
			stats:       map[string]int64{"pages": 2, "emitted": 1, "skipped": 4},
		}
		p := New()
		p.AddStage(&mockStage{name: "dedup", stats: map[string]int64{"new": 1}})

		summary, err := p.Run(context.Background(), src)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		want := map[string]int64{
			"crawl/pages":   2,
			"crawl/emitted": 1,
			"crawl/skipped": 4,
			"dedup/new":     1,
		}
		for key, n := range want {
			if got := summary.Counter(key); got != n {
				t.Errorf("%s = %d, want %d (counters %v)", key, got, n, summary.Counters)
			}
		}
	})

	t.Run("source without counters adds nothing", func(t *testing.T) {
		t.Parallel()

		p := New()
		summary, err := p.Run(context.Background(), NewSliceSource("ForumX", []*model.Item{testItem("a")}))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for key := range summary.Counters {
			if strings.HasPrefix(key, SourceCounterPrefix+"/") {
				t.Errorf("unexpected source counter %q", key)
			}
		}
	})

	t.Run("open failure closes earlier stages", func(t *testing.T) {
		t.Parallel()

		openErr := errors.New("boom")
		first := &mockStage{name: "first"}
		second := &mockStage{name: "second", openErr: openErr}

		p := New()
		p.AddStages(first, second)

		summary, err := p.Run(context.Background(), NewSliceSource("s", nil))

		if !errors.Is(err, openErr) {
			t.Errorf("expected open error, got %v", err)
		}
		if summary != nil {
			t.Error("expected nil summary")
		}
		if !first.closed {
			t.Error("first stage should have been closed")
		}
		if second.closed {
			t.Error("failed stage should not be closed")
		}
	})

	t.Run("cancellation stops extraction but still closes with a live context", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		stage := &mockStage{
			name: "cancel-after-first",
			processFunc: func(_ context.Context, _ *model.Item) Result {
				cancel()
				return Keep()
			},
		}
		p := New(WithCloseTimeout(time.Second))
		p.AddStage(stage)

		src := NewSliceSource("s", []*model.Item{testItem("a"), testItem("b"), testItem("c")})
		summary, err := p.Run(ctx, src)

		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		if summary == nil || summary.Received != 1 {
			t.Fatalf("expected one received item, got %+v", summary)
		}
		if summary.Error == "" {
			t.Error("expected error recorded in summary")
		}
		if !stage.closeCtxOK {
			t.Error("close context should not inherit the cancellation")
		}
	})

	t.Run("close errors are joined", func(t *testing.T) {
		t.Parallel()

		errA := errors.New("a")
		errB := errors.New("b")
		p := New()
		p.AddStages(&mockStage{name: "a", closeErr: errA}, &mockStage{name: "b", closeErr: errB})

		_, err := p.Run(context.Background(), NewSliceSource("s", nil))

		if !errors.Is(err, errA) || !errors.Is(err, errB) {
			t.Errorf("expected both close errors, got %v", err)
		}
	})
}

// drainingStage blocks in Close until its context ends or wait elapses.
type drainingStage struct {
	wait time.Duration

	closeErr error
}

func (d *drainingStage) Name() string { return "drain" }

func (d *drainingStage) Process(_ context.Context, _ *model.Item) Result { return Keep() }

func (d *drainingStage) Close(ctx context.Context) error {
	select {
	case <-ctx.Done():
		d.closeErr = ctx.Err()
	case <-time.After(d.wait):
	}
	return nil
}

// TestPipelineCloseBudget tests that the close timeout only applies after
// the run context is done.
func TestPipelineCloseBudget(t *testing.T) {
	t.Parallel()

	t.Run("normal run drains without limit", func(t *testing.T) {
		t.Parallel()

		stage := &drainingStage{wait: 100 * time.Millisecond}
		p := New(WithCloseTimeout(10 * time.Millisecond))
		p.AddStage(stage)

		if _, err := p.Run(context.Background(), NewSliceSource("s", nil)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if stage.closeErr != nil {
			t.Errorf("close context cancelled on a normal run: %v", stage.closeErr)
		}
	})

	t.Run("cancelled run gets the budget", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		stage := &drainingStage{wait: 10 * time.Second}
		p := New(WithCloseTimeout(20 * time.Millisecond))
		p.AddStage(stage)

		start := time.Now()
		_, _ = p.Run(ctx, NewSliceSource("s", nil)) //nolint:errcheck // cancellation is expected
		if elapsed := time.Since(start); elapsed > 5*time.Second {
			t.Fatalf("close not bounded, took %v", elapsed)
		}
		if !errors.Is(stage.closeErr, context.Canceled) {
			t.Errorf("expected cancelled close context, got %v", stage.closeErr)
		}
	})
}

// TestResult tests the Result helpers.
func TestResult(t *testing.T) {
	t.Parallel()

	var zero Result
	if zero.Dropped() {
		t.Error("zero Result should keep the item")
	}
	if Keep().Dropped() || Keep().Reason() != "" {
		t.Error("Keep should not drop")
	}
	if d := Drop("duplicate"); !d.Dropped() || d.Reason() != "duplicate" {
		t.Errorf("unexpected drop result %+v", d)
	}
}
