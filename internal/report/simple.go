package report

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/nao1215/tricrawl/internal/model"
)

// SimpleWriter outputs a plain-text summary for terminals and log files.
type SimpleWriter struct {
	baseWriter

	// verbose adds per-run counters and drop reasons.
	verbose bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithVerbose enables verbose output with additional details.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs the report in human-readable format.
func (w *SimpleWriter) Write(report *Report) (int, error) {
	var sb strings.Builder

	w.writeHeader(&sb, report)
	w.writeRisk(&sb, report)
	w.writeRuns(&sb, report)
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")

	return io.WriteString(w.output, sb.String())
}

func (w *SimpleWriter) writeHeader(sb *strings.Builder, report *Report) {
	t := report.Totals()

	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString("                        TRICRAWL RUN REPORT\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n\n")

	fmt.Fprintf(sb, "Generated: %s\n", report.GeneratedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(sb, "Sites:     %d\n", len(report.Runs))
	fmt.Fprintf(sb, "Items:     %d received, %d invalid, %d new, %d passed, %d dropped\n",
		t.Received, t.Invalid, t.New, t.Passed, t.Dropped)
	fmt.Fprintf(sb, "Known:     %d already seen, not fetched again\n", t.Known)
	fmt.Fprintf(sb, "Notified:  %d\n\n", t.Notified)
}

func (w *SimpleWriter) writeRisk(sb *strings.Builder, report *Report) {
	counts := report.RiskCounts()

	section(sb, "RISK")
	for _, level := range slices.Backward(model.RiskLevels) {
		fmt.Fprintf(sb, "  %-9s %d\n", level.String()+":", counts[level])
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeRuns(sb *strings.Builder, report *Report) {
	section(sb, "SITES")
	if len(report.Runs) == 0 {
		sb.WriteString("  No site was crawled\n\n")
		return
	}

	for _, run := range report.Runs {
		status := "ok"
		if run.Error != "" {
			status = "ERROR - " + run.Error
		}
		fmt.Fprintf(sb, "  [%s] %s  received=%d passed=%d dropped=%d  (%s)\n",
			shortID(run.RunID), run.Source, run.Received, run.Passed, run.DroppedTotal(),
			run.Elapsed().Round(time.Millisecond))
		fmt.Fprintf(sb, "      status: %s\n", status)

		if !w.verbose {
			continue
		}
		for _, reason := range sortedDrops(run) {
			fmt.Fprintf(sb, "      drop %-28s %d\n", reason, run.Dropped[reason])
		}
		for _, key := range run.CounterKeys() {
			fmt.Fprintf(sb, "      %-33s %d\n", key, run.Counters[key])
		}
	}
	sb.WriteString("\n")
}

func section(sb *strings.Builder, title string) {
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	sb.WriteString(title)
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
}
