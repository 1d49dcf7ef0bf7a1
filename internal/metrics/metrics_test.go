package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nao1215/tricrawl/internal/pipeline"
)

func TestObserverCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ItemReceived("ForumX")
	m.ItemReceived("ForumX")
	m.ItemInvalid("ForumX")
	m.ItemDropped("ForumX", "dedup", "duplicate")
	m.ItemPassed("LockBit")
	m.NotificationSent("ForumX")
	m.NotificationFailed("ForumX")
	m.NotificationDropped("ForumX", "overflow")

	tests := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"received", m.ItemsReceived.WithLabelValues("ForumX"), 2},
		{"invalid", m.ItemsInvalid.WithLabelValues("ForumX"), 1},
		{"dropped", m.ItemsDropped.WithLabelValues("ForumX", "dedup", "duplicate"), 1},
		{"passed", m.ItemsPassed.WithLabelValues("LockBit"), 1},
		{"sent", m.NotificationsSent.WithLabelValues("ForumX"), 1},
		{"failed", m.NotificationsFailed.WithLabelValues("ForumX"), 1},
		{"notification dropped", m.NotificationsDropped.WithLabelValues("ForumX", "overflow"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := testutil.ToFloat64(tt.c); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestObserveRun(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := New(reg)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m.ObserveRun(&pipeline.Summary{
		Source:     "ForumX",
		StartedAt:  start,
		FinishedAt: start.Add(3 * time.Second),
		Counters: map[string]int64{
			"storage/errors": 2,
			"storage/stored": 5,
			"crawl/pages":    3,
			"crawl/skipped":  7,
		},
	})
	m.ObserveRun(nil)

	if got := testutil.ToFloat64(m.StorageErrors.WithLabelValues("ForumX")); got != 2 {
		t.Errorf("storage errors: got %v", got)
	}
	if got := testutil.ToFloat64(m.PagesFetched.WithLabelValues("ForumX")); got != 3 {
		t.Errorf("pages fetched: got %v", got)
	}
	if got := testutil.ToFloat64(m.ItemsKnown.WithLabelValues("ForumX")); got != 7 {
		t.Errorf("known items: got %v", got)
	}

	expected := `
# HELP tricrawl_storage_errors_total Records that could not be written.
# TYPE tricrawl_storage_errors_total counter
tricrawl_storage_errors_total{source="ForumX"} 2
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "tricrawl_storage_errors_total"); err != nil {
		t.Error(err)
	}
	if n := testutil.CollectAndCount(m.RunDuration); n != 1 {
		t.Errorf("expected one histogram series, got %d", n)
	}
}
