package main

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/nao1215/tricrawl/internal/server"
)

// defaultServeAddr only listens locally; the API exposes collected leaks.
const defaultServeAddr = "127.0.0.1:8080"

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the stored leaks, health and metrics over HTTP",
		Long: `Serve starts an HTTP server on the leak store:

  GET /healthz                 store health
  GET /metrics                 Prometheus metrics
  GET /api/v1/leaks            records, newest first
                               (source, min_risk, since, limit, offset)
  GET /api/v1/leaks/{dedupID}  one record

The server stops gracefully on SIGINT or SIGTERM.

Examples:
  tricrawl serve
  tricrawl serve --addr 0.0.0.0:8080`,
		Args: cobra.NoArgs,
		RunE: runServeCmd,
	}

	cmd.Flags().StringP("addr", "a", defaultServeAddr,
		"Listen address")
	cmd.Flags().String("db-dir", "",
		"SQLite database directory (default: XDG data directory)")

	return cmd
}

// runServeCmd executes the serve command.
func runServeCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, storeBindings)
	if err != nil {
		return err
	}

	addr, err := cmd.Flags().GetString("addr")
	if err != nil {
		return err
	}

	logger := newLogger(cmd.ErrOrStderr(), cfg)
	slog.SetDefault(logger)

	ctx, cancel := withSignals(cmd.Context(), logger, 0)
	defer cancel()

	repo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer repo.Close()

	if err := server.New(repo, newServeRegistry(), logger).ListenAndServe(ctx, addr); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// newServeRegistry returns a registry with the Go runtime and process
// collectors.
func newServeRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}
