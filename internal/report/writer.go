package report

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/nao1215/tricrawl/internal/model"
	"github.com/nao1215/tricrawl/internal/pipeline"
)

// ErrUnknownFormat is returned for an unsupported report or export format.
var ErrUnknownFormat = errors.New("unknown format")

// Report formats.
const (
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
	FormatText     = "text"
)

// Report collects the summaries of one invocation, one per crawled site.
type Report struct {
	GeneratedAt time.Time           `json:"generated_at"`
	Runs        []*pipeline.Summary `json:"runs"`
}

// NewReport creates a report over runs. Nil summaries are skipped.
func NewReport(generatedAt time.Time, runs ...*pipeline.Summary) *Report {
	r := &Report{GeneratedAt: generatedAt.UTC(), Runs: make([]*pipeline.Summary, 0, len(runs))}
	for _, run := range runs {
		if run != nil {
			r.Runs = append(r.Runs, run)
		}
	}
	return r
}

// Totals sums the item counts across runs. Known counts the posts a spider
// recognized and never handed to the pipeline.
type Totals struct {
	Known    int `json:"known"`
	Received int `json:"received"`
	Invalid  int `json:"invalid"`
	Passed   int `json:"passed"`
	Dropped  int `json:"dropped"`
	New      int `json:"new"`
	Notified int `json:"notified"`
}

// Totals returns the item counts across all runs.
func (r *Report) Totals() Totals {
	var t Totals
	for _, run := range r.Runs {
		t.Received += run.Received
		t.Invalid += run.Invalid
		t.Passed += run.Passed
		t.Dropped += run.DroppedTotal()
		t.New += int(run.Counter("dedup/new"))
		t.Notified += int(run.Counter("notify/sent"))
		t.Known += int(run.Counter(knownCounterKey))
	}
	return t
}

// RiskCounts returns the number of scored items per tier across all runs,
// read from the keyword stage counters.
func (r *Report) RiskCounts() map[model.RiskLevel]int {
	counts := make(map[model.RiskLevel]int, len(model.RiskLevels))
	for _, run := range r.Runs {
		for _, level := range model.RiskLevels {
			counts[level] += int(run.Counter(riskCounterKey(level)))
		}
	}
	return counts
}

// Failed reports whether any run ended with an error.
func (r *Report) Failed() bool {
	for _, run := range r.Runs {
		if run.Error != "" {
			return true
		}
	}
	return false
}

// knownCounterKey is the spider's count of rows filtered as already seen.
const knownCounterKey = pipeline.SourceCounterPrefix + "/skipped"

func riskCounterKey(level model.RiskLevel) string {
	return "keyword/" + strings.ToLower(level.String())
}

// Writer outputs a report.
type Writer interface {
	// Write outputs the report and returns the number of bytes written.
	Write(report *Report) (int, error)
}

// NewWriter returns the writer for format.
func NewWriter(format string, output io.Writer) (Writer, error) {
	switch strings.ToLower(format) {
	case FormatJSON:
		return NewJSONWriter(output, WithPrettyPrint()), nil
	case FormatMarkdown, "md":
		return NewMarkdownWriter(output), nil
	case FormatText, "simple", "":
		return NewSimpleWriter(output), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// baseWriter provides common functionality for report writers.
type baseWriter struct {
	output io.Writer
}

// newBaseWriter creates a baseWriter with the given output destination.
func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}
