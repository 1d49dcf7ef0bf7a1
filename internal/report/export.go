package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/tricrawl/internal/model"
)

// Export formats.
const (
	ExportJSONL = "jsonl"
	ExportCSV   = "csv"
)

// Exporter writes stored records one at a time.
type Exporter interface {
	WriteRecord(rec *model.Record) error
	// Flush writes any buffered data.
	Flush() error
}

// NewExporter returns the exporter for format.
func NewExporter(format string, output io.Writer) (Exporter, error) {
	switch strings.ToLower(format) {
	case ExportJSONL, "ndjson", "":
		return NewJSONLExporter(output), nil
	case ExportCSV:
		return NewCSVExporter(output), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// JSONLExporter writes one JSON object per line.
type JSONLExporter struct {
	enc *json.Encoder
}

// NewJSONLExporter creates a JSONLExporter.
func NewJSONLExporter(output io.Writer) *JSONLExporter {
	enc := json.NewEncoder(output)
	enc.SetEscapeHTML(false)
	return &JSONLExporter{enc: enc}
}

// WriteRecord implements Exporter.
func (e *JSONLExporter) WriteRecord(rec *model.Record) error {
	return e.enc.Encode(rec)
}

// Flush implements Exporter. Lines are written unbuffered.
func (e *JSONLExporter) Flush() error {
	return nil
}

// csvHeader is the column order of CSV exports.
var csvHeader = []string{
	"dedup_id", "source", "risk_level", "title", "author", "url", "posted_at",
	"crawled_at", "category", "site_type", "views", "matched_keywords",
	"author_contacts", "content",
}

// CSVExporter writes records as CSV with a header row.
// Keywords are joined with ";" and contacts are a JSON object.
type CSVExporter struct {
	w           *csv.Writer
	wroteHeader bool
}

// NewCSVExporter creates a CSVExporter.
func NewCSVExporter(output io.Writer) *CSVExporter {
	return &CSVExporter{w: csv.NewWriter(output)}
}

// WriteRecord implements Exporter.
func (e *CSVExporter) WriteRecord(rec *model.Record) error {
	if !e.wroteHeader {
		if err := e.w.Write(csvHeader); err != nil {
			return err
		}
		e.wroteHeader = true
	}

	views := ""
	if rec.Views != nil {
		views = strconv.Itoa(*rec.Views)
	}
	contacts := rec.AuthorContacts
	if contacts == nil {
		contacts = map[string][]string{}
	}
	contactsJSON, err := json.Marshal(contacts)
	if err != nil {
		return fmt.Errorf("failed to serialize contacts: %w", err)
	}

	return e.w.Write([]string{
		rec.DedupID,
		rec.Source,
		rec.RiskLevel.String(),
		rec.Title,
		rec.Author,
		rec.URL,
		rec.PostedAt,
		rec.CrawledAt.UTC().Format(time.RFC3339),
		rec.Category,
		rec.SiteType,
		views,
		strings.Join(rec.MatchedKeywords, ";"),
		string(contactsJSON),
		rec.Content,
	})
}

// Flush implements Exporter. A header is written even when no record was.
func (e *CSVExporter) Flush() error {
	if !e.wroteHeader {
		if err := e.w.Write(csvHeader); err != nil {
			return err
		}
		e.wroteHeader = true
	}
	e.w.Flush()
	return e.w.Error()
}
