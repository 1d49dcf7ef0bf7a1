package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/tricrawl/internal/config"
	"github.com/nao1215/tricrawl/internal/database"
	"github.com/nao1215/tricrawl/internal/model"
	"github.com/nao1215/tricrawl/internal/report"
)

// storeBindings maps the storage flags of export and serve.
var storeBindings = map[string]string{
	"db-dir": config.EnvDBDir,
}

// NewExportCmd creates the export command.
func NewExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export stored leaks as JSON lines or CSV",
		Long: `Export writes the stored records, newest first, as JSON lines or CSV.

The store is the same one crawl writes to: PostgreSQL when DATABASE_URL is
set, otherwise the SQLite database in the data directory.

Examples:
  # Everything as JSON lines
  tricrawl export > leaks.jsonl

  # HIGH and CRITICAL leaks of the last week as CSV
  tricrawl export --format csv --min-risk high --since 168h -o leaks.csv

  # One source since a date
  tricrawl export --source ExampleForum --since 2024-06-01`,
		Args: cobra.NoArgs,
		RunE: runExportCmd,
	}

	cmd.Flags().StringP("format", "f", report.ExportJSONL,
		"Output format: jsonl or csv")
	cmd.Flags().String("source", "",
		"Only export records of this source")
	cmd.Flags().String("min-risk", "",
		"Only export records at or above this risk level (none, low, medium, high, critical)")
	cmd.Flags().String("since", "",
		"Only export records crawled since a time (RFC 3339 or YYYY-MM-DD) or a duration ago (e.g. 24h)")
	cmd.Flags().IntP("limit", "n", 0,
		"Maximum number of records (0 = all)")
	cmd.Flags().StringP("output", "o", "",
		"Write to this file instead of stdout")
	cmd.Flags().String("db-dir", "",
		"SQLite database directory (default: XDG data directory)")

	return cmd
}

// runExportCmd executes the export command.
func runExportCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, storeBindings)
	if err != nil {
		return err
	}

	f, err := exportFilter(cmd, time.Now())
	if err != nil {
		return err
	}

	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return err
	}
	output, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}

	logger := newLogger(cmd.ErrOrStderr(), cfg)

	repo, err := openRepository(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer repo.Close()

	out := cmd.OutOrStdout()
	if output != "" {
		file, err := createOutput(output)
		if err != nil {
			return err
		}
		defer file.Close()
		out = file
	}

	n, err := runExport(cmd.Context(), repo, f, format, out)
	if err != nil {
		return err
	}
	logger.Info("export finished", "records", n, "format", format)
	return nil
}

// exportFilter builds the record filter from the export flags.
func exportFilter(cmd *cobra.Command, now time.Time) (database.Filter, error) {
	var f database.Filter
	var err error

	if f.Source, err = cmd.Flags().GetString("source"); err != nil {
		return f, err
	}
	if f.Limit, err = cmd.Flags().GetInt("limit"); err != nil {
		return f, err
	}
	if f.Limit < 0 {
		return f, fmt.Errorf("invalid --limit %d: must not be negative", f.Limit)
	}

	minRisk, err := cmd.Flags().GetString("min-risk")
	if err != nil {
		return f, err
	}
	if minRisk != "" {
		if f.MinRisk, err = model.ParseRiskLevel(minRisk); err != nil {
			return f, fmt.Errorf("invalid --min-risk: %w", err)
		}
	}

	since, err := cmd.Flags().GetString("since")
	if err != nil {
		return f, err
	}
	if f.Since, err = parseSince(since, now); err != nil {
		return f, err
	}
	return f, nil
}

// sinceLayouts are the absolute time formats accepted by --since.
var sinceLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

// parseSince accepts a duration before now or an absolute time. Empty
// gives the zero time, which disables the filter.
func parseSince(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d < 0 {
			return time.Time{}, fmt.Errorf("invalid --since %q: duration must not be negative", s)
		}
		return now.Add(-d), nil
	}
	for _, layout := range sinceLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid --since %q: want a duration, RFC 3339 time or YYYY-MM-DD", s)
}

// runExport writes every record matching f to w and returns the count.
func runExport(ctx context.Context, repo database.Repository, f database.Filter, format string, w io.Writer) (int, error) {
	exp, err := report.NewExporter(format, w)
	if err != nil {
		return 0, err
	}

	n := 0
	err = repo.ForEach(ctx, f, func(rec *model.Record) error {
		n++
		return exp.WriteRecord(rec)
	})
	if err != nil {
		return n, fmt.Errorf("failed to export records: %w", err)
	}
	if err := exp.Flush(); err != nil {
		return n, fmt.Errorf("failed to flush export: %w", err)
	}
	return n, nil
}
