package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/nao1215/tricrawl/internal/archive"
	"github.com/nao1215/tricrawl/internal/cache"
	"github.com/nao1215/tricrawl/internal/config"
	"github.com/nao1215/tricrawl/internal/crawler"
	"github.com/nao1215/tricrawl/internal/database"
	"github.com/nao1215/tricrawl/internal/dedup"
	"github.com/nao1215/tricrawl/internal/keyword"
	tlog "github.com/nao1215/tricrawl/internal/log"
	"github.com/nao1215/tricrawl/internal/metrics"
	"github.com/nao1215/tricrawl/internal/model"
	"github.com/nao1215/tricrawl/internal/notify"
	"github.com/nao1215/tricrawl/internal/pipeline"
	"github.com/nao1215/tricrawl/internal/server"
	"github.com/nao1215/tricrawl/internal/storage"
)

// globalBindings maps the persistent flags to their environment keys.
var globalBindings = map[string]string{
	"verbose":  config.EnvVerbose,
	"log-json": config.EnvLogJSON,
}

// pipelineBindings maps the flags shared by crawl and ingest.
var pipelineBindings = map[string]string{
	"concurrency":   config.EnvConcurrency,
	"dry-run":       config.EnvDryRun,
	"drain-timeout": config.EnvDrainTimeout,
	"keywords":      config.EnvKeywordsFile,
	"db-dir":        config.EnvDBDir,
	"archive-dir":   config.EnvArchiveDir,
}

// addPipelineFlags adds the flags of the commands that run the pipeline.
func addPipelineFlags(cmd *cobra.Command) {
	cmd.Flags().IntP("concurrency", "c", config.DefaultConcurrency,
		"Number of sources processed at once")
	cmd.Flags().Bool("dry-run", false,
		"Keep records in memory and send no notifications")
	cmd.Flags().Duration("drain-timeout", config.DefaultDrainTimeout,
		"Time pending notifications may take to drain after an interrupt")
	cmd.Flags().StringP("keywords", "k", "",
		"Keyword rules file (default: keywords.yaml in current or config directory)")
	cmd.Flags().String("db-dir", "",
		"SQLite database directory (default: XDG data directory; ignored when DATABASE_URL is set)")
	cmd.Flags().String("archive-dir", "",
		"JSONL archive directory (default: XDG data directory)")
	cmd.Flags().String("metrics-addr", "",
		"Serve /metrics and the leak API on this address during the run (e.g. 127.0.0.1:9090)")

	cmd.Flags().StringP("report", "r", "text",
		"Run report format: text, json or markdown")
	cmd.Flags().StringP("output", "o", "",
		"Write the run report to this file instead of stdout")
}

// loadConfig builds the configuration from defaults, .env, the environment
// and the flags of cmd listed in bindings. A flag only wins when it was set
// on the command line.
func loadConfig(cmd *cobra.Command, bindings ...map[string]string) (*config.Config, error) {
	v := viper.New()
	for _, b := range append([]map[string]string{globalBindings}, bindings...) {
		for name, key := range b {
			flag := lookupFlag(cmd, name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return nil, fmt.Errorf("failed to bind --%s: %w", name, err)
			}
		}
	}

	cfg := config.NewConfig()
	if err := config.LoadEnv(v, cfg, config.DefaultEnvFile); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

// lookupFlag finds a local or inherited flag.
func lookupFlag(cmd *cobra.Command, name string) *pflag.Flag {
	if f := cmd.Flags().Lookup(name); f != nil {
		return f
	}
	return cmd.InheritedFlags().Lookup(name)
}

// newLogger creates the redacting logger selected by the configuration.
func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	if cfg.LogJSON {
		return tlog.NewSecureJSONLogger(w, cfg.Verbose)
	}
	return tlog.NewSecureLogger(w, cfg.Verbose)
}

// withSignals returns a context cancelled by SIGINT or SIGTERM.
// Runs in progress then get drainTimeout to flush their notifications.
func withSignals(parent context.Context, logger *slog.Logger, drainTimeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			logger.Warn("received shutdown signal, stopping",
				"drain_timeout", drainTimeout,
			)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// backend is the storage selected by the configuration.
type backend struct {
	// store receives the pipeline writes. It may be the Redis-cached
	// decorator of repo.
	store storage.Store

	// repo is the database behind store. Nil for dry runs.
	repo database.Repository

	closers []func() error
}

// openBackend opens the memory store for dry runs, otherwise PostgreSQL
// when DATABASE_URL is set and SQLite in DBDir if not. With REDIS_ADDR the
// identity loads go through the Redis cache; an unreachable Redis only
// disables the cache.
func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backend, error) {
	if cfg.DryRun {
		logger.Info("dry run: records are kept in memory, notifications are off")
		return &backend{store: storage.NewMemoryStore()}, nil
	}

	repo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	b := &backend{store: repo, repo: repo, closers: []func() error{repo.Close}}

	if cfg.RedisAddr != "" {
		client, err := cache.Dial(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Warn("redis unavailable, identity cache disabled",
				"addr", cfg.RedisAddr,
				"error", err,
			)
			return b, nil
		}
		b.closers = append(b.closers, client.Close)
		ids := cache.NewIdentityCache(client, cache.WithMaxEntries(cfg.DedupMaxEntries))
		b.store = cache.NewCachedStore(repo, ids, logger)
		logger.Info("redis identity cache enabled", "addr", cfg.RedisAddr)
	}
	return b, nil
}

// Close closes the cache and the database, most recently opened first.
func (b *backend) Close() error {
	var errs []error
	for _, c := range slices.Backward(b.closers) {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// reader returns what the HTTP API serves. Dry runs serve an empty API.
func (b *backend) reader() server.Reader {
	if b.repo == nil {
		return noRecords{}
	}
	return b.repo
}

// openRepository opens PostgreSQL when DATABASE_URL is set, otherwise the
// SQLite database in DBDir.
func openRepository(ctx context.Context, cfg *config.Config, logger *slog.Logger) (database.Repository, error) {
	if cfg.DatabaseURL != "" {
		db, err := database.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		logger.Info("postgres store opened")
		return db, nil
	}

	db, err := database.Open(cfg.DBDir, database.DefaultOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	logger.Info("sqlite store opened", "path", db.Path())
	return db, nil
}

// noRecords is the API reader of a dry run.
type noRecords struct{}

func (noRecords) List(context.Context, database.Filter) ([]*model.Record, error) {
	return []*model.Record{}, nil
}

func (noRecords) Get(context.Context, string) (*model.Record, error) {
	return nil, nil
}

// loadRules finds and reads the keyword rules. Without a rules file every
// item scores NONE.
func loadRules(cfg *config.Config, logger *slog.Logger) *keyword.Rules {
	path := config.FindConfigFile(cfg.KeywordsFile, config.DefaultKeywordsFile)
	if path == "" {
		logger.Warn("no keywords file found, every item will score NONE",
			"file", orDefault(cfg.KeywordsFile, config.DefaultKeywordsFile),
		)
		return nil
	}
	logger.Info("keyword rules loaded", "path", path)
	return keyword.Load(path, logger)
}

// runner builds one pipeline per source:
// dedup -> keyword -> storage -> archive -> notify.
type runner struct {
	cfg      *config.Config
	store    storage.Store
	rules    *keyword.Rules
	contacts *keyword.ContactExtractor
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// newRunner creates a runner writing to store.
func newRunner(cfg *config.Config, store storage.Store, rules *keyword.Rules, m *metrics.Metrics, logger *slog.Logger) *runner {
	var patterns map[string][]string
	if rules != nil {
		patterns = rules.Patterns.Contacts
	}
	return &runner{
		cfg:      cfg,
		store:    store,
		rules:    rules,
		contacts: keyword.NewContactExtractor(patterns, logger),
		metrics:  m,
		logger:   logger,
	}
}

// webhookURL is empty for dry runs, which disables every notification.
func (r *runner) webhookURL() string {
	if r.cfg.DryRun {
		return ""
	}
	return r.cfg.WebhookURL
}

// newPipeline builds the stages for one run over src. A spider source is
// given the run's identity set so that known posts are not emitted.
func (r *runner) newPipeline(src pipeline.Source) *pipeline.Pipeline {
	name := src.Name()
	webhook := r.webhookURL()

	var notice dedup.NoticeSender
	if webhook != "" {
		notice = notify.NewClient(webhook)
	}
	dedupStage := dedup.New(name,
		dedup.WithIdentitySource(r.store),
		dedup.WithNoticeSender(notice),
		dedup.WithMaxEntries(r.cfg.DedupMaxEntries),
		dedup.WithNotifyOnNoNewData(r.cfg.NotifyOnNoNewData),
		dedup.WithLogger(r.logger),
	)
	if spider, ok := src.(*crawler.Spider); ok {
		spider.SetSeen(dedupStage.Seen)
	}

	p := pipeline.New(
		pipeline.WithLogger(r.logger),
		pipeline.WithObserver(r.metrics),
		pipeline.WithCloseTimeout(r.cfg.DrainTimeout),
	)
	p.AddStages(
		dedupStage,
		keyword.NewStage(r.rules, keyword.WithLogger(r.logger)),
		storage.NewStage(r.store,
			storage.WithContactExtractor(r.contacts),
			storage.WithLogger(r.logger),
		),
	)
	if r.cfg.ArchiveDir != "" && !r.cfg.DryRun {
		p.AddStage(archive.NewStage(r.cfg.ArchiveDir, name, archive.WithLogger(r.logger)))
	}
	p.AddStage(notify.NewStage(webhook,
		notify.WithInterval(r.cfg.NotifyInterval),
		notify.WithMaxAttempts(r.cfg.NotifyMaxAttempts),
		notify.WithQueueSize(r.cfg.NotifyQueueSize),
		notify.WithObserver(r.metrics),
		notify.WithLogger(r.logger),
	))
	return p
}

// run processes every source and returns the summaries in source order.
// Sources whose stages could not open have no summary.
func (r *runner) run(ctx context.Context, sources []pipeline.Source) ([]*pipeline.Summary, error) {
	bp := pipeline.NewBatchProcessor(r.newPipeline,
		pipeline.WithConcurrency(r.cfg.Concurrency),
		pipeline.WithBatchLogger(r.logger),
	)

	summaries, err := bp.ProcessBatch(ctx, sources)
	for _, s := range summaries {
		r.metrics.ObserveRun(s)
	}
	return slices.DeleteFunc(summaries, func(s *pipeline.Summary) bool { return s == nil }), err
}

// createOutput opens path for writing, creating parent directories.
// Reports and exports may contain sensitive information, so the file is
// only readable by the owner (0600).
func createOutput(path string) (*os.File, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600) //nolint:gosec // user-provided output path
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
