package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nao1215/tricrawl/internal/model"
	"github.com/nao1215/tricrawl/internal/pipeline"
)

// maxLineSize bounds one JSONL item. Post bodies can be long.
const maxLineSize = 16 * 1024 * 1024

// NewIngestCmd creates the ingest command.
func NewIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest [file]",
		Short: "Run items produced by an external extractor through the pipeline",
		Long: `Ingest reads items as JSON lines from a file, or from stdin when no file
or "-" is given, and runs them through the same pipeline as crawl.

Each line is one item with at least source, url, title, author and
timestamp. Items are grouped by source and every source gets its own run,
so dedup, the "no new data" notice and the report work per source.
Lines that are not valid JSON are logged and skipped.

Examples:
  # Ingest the output of an external scraper
  my-scraper | tricrawl ingest

  # Ingest a file and write a JSON report
  tricrawl ingest items.jsonl --report json -o report.json`,
		Args: cobra.MaximumNArgs(1),
		RunE: runIngestCmd,
	}

	addPipelineFlags(cmd)

	return cmd
}

// runIngestCmd executes the ingest command.
func runIngestCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, pipelineBindings)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	opts, err := getRunOptions(cmd)
	if err != nil {
		return err
	}

	logger := newLogger(cmd.ErrOrStderr(), cfg)
	slog.SetDefault(logger)

	in := cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		in = f
	}

	sources, err := readItemSources(in, logger)
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		logger.Warn("no items to ingest")
	}

	ctx, cancel := withSignals(cmd.Context(), logger, cfg.DrainTimeout)
	defer cancel()

	return runSources(ctx, cfg, opts, sources, cmd.OutOrStdout(), logger)
}

// readItemSources reads JSON lines of items and groups them by source, in
// order of first appearance. Blank lines are ignored; malformed lines are
// logged and skipped. Items without a source are kept under the empty name
// so that the pipeline counts them as invalid.
func readItemSources(r io.Reader, logger *slog.Logger) ([]pipeline.Source, error) {
	var (
		order   []string
		grouped = make(map[string][]*model.Item)
		skipped int
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var item model.Item
		if err := json.Unmarshal(line, &item); err != nil {
			skipped++
			logger.Warn("skipping malformed line", "line", lineNo, "error", err)
			continue
		}

		if _, ok := grouped[item.Source]; !ok {
			order = append(order, item.Source)
		}
		grouped[item.Source] = append(grouped[item.Source], &item)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read items: %w", err)
	}

	sources := make([]pipeline.Source, 0, len(order))
	for _, name := range order {
		sources = append(sources, pipeline.NewSliceSource(name, grouped[name]))
	}

	logger.Info("items read",
		"sources", len(sources),
		"skipped", skipped,
	)
	return sources, nil
}
