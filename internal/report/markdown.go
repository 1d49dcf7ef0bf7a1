package report

import (
	"io"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/nao1215/tricrawl/internal/model"
	"github.com/nao1215/tricrawl/internal/pipeline"
)

// MarkdownWriter outputs reports as GitHub-flavored Markdown.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{baseWriter: newBaseWriter(output)}
}

// Write outputs the report in Markdown format.
func (w *MarkdownWriter) Write(report *Report) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, report)
	w.writeTotals(md, report)
	w.writeRisk(md, report)
	w.writeRuns(md, report)
	w.writeDrops(md, report)
	w.writeFooter(md)

	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, report *Report) {
	md.H1("TriCrawl Run Report")
	md.PlainText("")

	status := "✅ Complete"
	if report.Failed() {
		status = "⚠️ Completed with errors"
	}

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Generated", report.GeneratedAt.Format("2006-01-02 15:04:05 MST")},
			{"Sites", strconv.Itoa(len(report.Runs))},
			{"Status", status},
		},
	})
	md.PlainText("")
}

func (w *MarkdownWriter) writeTotals(md *markdown.Markdown, report *Report) {
	t := report.Totals()

	md.H2("Items")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Known", "Received", "Invalid", "New", "Passed", "Dropped", "Notified"},
		Rows: [][]string{{
			strconv.Itoa(t.Known),
			strconv.Itoa(t.Received),
			strconv.Itoa(t.Invalid),
			strconv.Itoa(t.New),
			strconv.Itoa(t.Passed),
			strconv.Itoa(t.Dropped),
			strconv.Itoa(t.Notified),
		}},
	})
	md.PlainText("")
}

var riskLabels = map[model.RiskLevel]string{
	model.RiskCritical: "🔴 Critical",
	model.RiskHigh:     "🟠 High",
	model.RiskMedium:   "🟡 Medium",
	model.RiskLow:      "🔵 Low",
	model.RiskNone:     "⚪ None",
}

func (w *MarkdownWriter) writeRisk(md *markdown.Markdown, report *Report) {
	counts := report.RiskCounts()

	md.H2("Risk Distribution")
	md.PlainText("")

	rows := make([][]string, 0, len(model.RiskLevels))
	total := 0
	for _, level := range slices.Backward(model.RiskLevels) {
		rows = append(rows, []string{riskLabels[level], strconv.Itoa(counts[level])})
		total += counts[level]
	}
	rows = append(rows, []string{"**Total**", "**" + strconv.Itoa(total) + "**"})
	md.Table(markdown.TableSet{Header: []string{"Risk", "Items"}, Rows: rows})
	md.PlainText("")

	if total > 0 {
		chart := piechart.NewPieChart(
			io.Discard,
			piechart.WithTitle("Risk Distribution"),
			piechart.WithShowData(true),
		)
		for _, level := range slices.Backward(model.RiskLevels) {
			if counts[level] > 0 {
				chart.LabelAndIntValue(level.String(), uint64(counts[level]))
			}
		}
		md.PlainText("")
		md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
		md.PlainText("")
	}

	switch {
	case counts[model.RiskCritical] > 0:
		md.Cautionf("%d CRITICAL item(s) matched a monitored target.", counts[model.RiskCritical])
	case counts[model.RiskHigh] > 0:
		md.Warningf("%d HIGH item(s) matched three or more keywords.", counts[model.RiskHigh])
	case counts[model.RiskMedium] > 0:
		md.Importantf("%d MEDIUM item(s) found.", counts[model.RiskMedium])
	case total > 0:
		md.Note("Only low risk items were found.")
	default:
		md.Tip("No new items were scored.")
	}
	md.PlainText("")
}

func (w *MarkdownWriter) writeRuns(md *markdown.Markdown, report *Report) {
	md.H2("Sites")
	md.PlainText("")

	if len(report.Runs) == 0 {
		md.PlainText("No site was crawled.")
		md.PlainText("")
		return
	}

	rows := make([][]string, 0, len(report.Runs))
	for _, run := range report.Runs {
		status := "ok"
		if run.Error != "" {
			status = truncateString(run.Error, 60)
		}
		rows = append(rows, []string{
			run.Source,
			"`" + shortID(run.RunID) + "`",
			strconv.Itoa(run.Received),
			strconv.FormatInt(run.Counter("dedup/new"), 10),
			strconv.Itoa(run.Passed),
			strconv.FormatInt(run.Counter("notify/sent"), 10),
			run.Elapsed().Round(time.Millisecond).String(),
			status,
		})
	}
	md.Table(markdown.TableSet{
		Header: []string{"Source", "Run", "Received", "New", "Passed", "Notified", "Elapsed", "Status"},
		Rows:   rows,
	})
	md.PlainText("")
}

func (w *MarkdownWriter) writeDrops(md *markdown.Markdown, report *Report) {
	rows := make([][]string, 0)
	for _, run := range report.Runs {
		for _, reason := range sortedDrops(run) {
			rows = append(rows, []string{run.Source, reason, strconv.Itoa(run.Dropped[reason])})
		}
	}
	if len(rows) == 0 {
		return
	}

	md.H2("Drops")
	md.PlainText("")
	md.Table(markdown.TableSet{Header: []string{"Source", "Stage/Reason", "Items"}, Rows: rows})
	md.PlainText("")
}

func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainText("*Report generated by TriCrawl*")
}

func sortedDrops(run *pipeline.Summary) []string {
	return slices.Sorted(maps.Keys(run.Dropped))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// truncateString truncates a string to maxLen characters with ellipsis.
func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
