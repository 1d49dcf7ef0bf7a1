package pipeline

import (
	"maps"
	"slices"
	"time"
)

// Summary holds the per-run counts reported when a run ends.
type Summary struct {
	// RunID uniquely identifies the run in logs and reports.
	RunID string `json:"run_id"`

	// Source is the name of the Source the run consumed.
	Source string `json:"source"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Received counts every item emitted by the source.
	Received int `json:"received"`

	// Invalid counts items rejected at the entry boundary.
	Invalid int `json:"invalid"`

	// Passed counts items that went through every stage.
	Passed int `json:"passed"`

	// Dropped counts dropped items by "<stage>/<reason>".
	Dropped map[string]int `json:"dropped"`

	// Counters holds stage counters by "<stage>/<key>",
	// e.g. "dedup/new" or "notify/sent", and source counters by
	// "crawl/<key>".
	Counters map[string]int64 `json:"counters"`

	// Error is the extraction or shutdown error, if any.
	Error string `json:"error,omitempty"`
}

func newSummary(runID, source string, startedAt time.Time) *Summary {
	return &Summary{
		RunID:     runID,
		Source:    source,
		StartedAt: startedAt,
		Dropped:   make(map[string]int),
		Counters:  make(map[string]int64),
	}
}

// Elapsed returns the run duration.
func (s *Summary) Elapsed() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// DroppedTotal returns the number of dropped items across all reasons.
func (s *Summary) DroppedTotal() int {
	total := 0
	for _, n := range s.Dropped {
		total += n
	}
	return total
}

// Counter returns a stage counter, or 0 when it was never reported.
func (s *Summary) Counter(key string) int64 {
	return s.Counters[key]
}

// CounterKeys returns the counter keys in sorted order.
func (s *Summary) CounterKeys() []string {
	return slices.Sorted(maps.Keys(s.Counters))
}
