package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/nao1215/tricrawl/internal/config"
	"github.com/nao1215/tricrawl/internal/crawler"
	"github.com/nao1215/tricrawl/internal/metrics"
	"github.com/nao1215/tricrawl/internal/pipeline"
	"github.com/nao1215/tricrawl/internal/report"
	"github.com/nao1215/tricrawl/internal/server"
	"github.com/nao1215/tricrawl/internal/tor"
)

// crawlBindings maps the crawl flags to their environment keys.
var crawlBindings = map[string]string{
	"sites":     config.EnvSitesFile,
	"timeout":   config.EnvTimeout,
	"delay":     config.EnvCrawlDelay,
	"days":      config.EnvDaysToCrawl,
	"max-pages": config.EnvMaxPages,
}

// NewCrawlCmd creates the crawl command.
func NewCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl [site...]",
		Short: "Crawl the configured sites through Tor and process new posts",
		Long: `Crawl fetches the listing pages of the sites in tricrawl.yaml through Tor and
runs every post through the pipeline: posts already seen are dropped, the
rest are scored against keywords.yaml, stored, archived and, when scored
above NONE, posted to the Discord webhook.

Without arguments every configured site is crawled. Name sites to crawl
only those.

On SIGINT or SIGTERM the crawl stops and pending notifications get
--drain-timeout to be delivered before they are abandoned.

Examples:
  # Crawl every site in tricrawl.yaml
  tricrawl crawl

  # Crawl two sites with an external Tor proxy
  tricrawl crawl --external-tor 127.0.0.1:9150 exampleforum exampleleaks

  # Try a new site configuration without storing or notifying
  tricrawl crawl --dry-run -v exampleforum

  # Catch up on a week of posts, ignoring the days_to_crawl of each site
  tricrawl crawl --days 7 --max-pages 20

  # Write a Markdown run report
  tricrawl crawl --report markdown -o reports/latest.md`,
		Args: cobra.ArbitraryArgs,
		RunE: runCrawlCmd,
	}

	// Tor connection flags
	cmd.Flags().StringP("external-tor", "e", "",
		"Use external Tor proxy at specified address (e.g., 127.0.0.1:9150)")
	cmd.Flags().DurationP("tor-timeout", "T", config.DefaultTorStartupTimeout,
		"Timeout for embedded Tor startup")

	// Crawl behavior flags
	cmd.Flags().DurationP("timeout", "t", config.DefaultTimeout,
		"Timeout for each request")
	cmd.Flags().Duration("delay", config.DefaultCrawlDelay,
		"Delay between requests to the same site")
	cmd.Flags().IntP("days", "d", config.DefaultDaysToCrawl,
		"Only keep posts from the last N days, overriding days_to_crawl of every site (0 keeps all)")
	cmd.Flags().Int("max-pages", config.DefaultMaxPages,
		"Listing pages to follow per start URL when a site does not set max_pages")
	cmd.Flags().StringP("sites", "s", "",
		"Site configuration file (default: tricrawl.yaml in current or config directory)")

	addPipelineFlags(cmd)

	return cmd
}

// runOptions are the per-invocation settings that are not part of Config.
type runOptions struct {
	reportFormat string
	reportFile   string
	metricsAddr  string
}

// getRunOptions reads the report and metrics flags.
func getRunOptions(cmd *cobra.Command) (runOptions, error) {
	var (
		opts runOptions
		err  error
	)
	if opts.reportFormat, err = cmd.Flags().GetString("report"); err != nil {
		return opts, err
	}
	if opts.reportFile, err = cmd.Flags().GetString("output"); err != nil {
		return opts, err
	}
	if opts.metricsAddr, err = cmd.Flags().GetString("metrics-addr"); err != nil {
		return opts, err
	}
	// Fail before crawling rather than after.
	if _, err := report.NewWriter(opts.reportFormat, io.Discard); err != nil {
		return opts, fmt.Errorf("invalid --report: %w", err)
	}
	return opts, nil
}

// runCrawlCmd executes the crawl command.
func runCrawlCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, pipelineBindings, crawlBindings)
	if err != nil {
		return err
	}

	externalTor, err := cmd.Flags().GetString("external-tor")
	if err != nil {
		return err
	}
	if externalTor != "" {
		cfg.UseExternalTor = true
		cfg.TorProxyAddress = externalTor
	}
	if cfg.TorStartupTimeout, err = cmd.Flags().GetDuration("tor-timeout"); err != nil {
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

	sites, err := loadSites(cfg, args)
	if err != nil {
		return err
	}
	overrideDays(cmd, cfg.DaysToCrawl, sites)

	ctx, cancel := withSignals(cmd.Context(), logger, cfg.DrainTimeout)
	defer cancel()

	client, stopTor, err := connectTor(ctx, cfg, cmd.ErrOrStderr(), logger)
	if err != nil {
		return err
	}
	defer stopTor()

	clientFor := func(site config.SiteConfig) *http.Client {
		return client.SiteClient(tor.Session{Cookie: site.Cookie, Headers: site.Headers})
	}
	return runCrawl(ctx, cfg, opts, sites, clientFor, cmd.OutOrStdout(), logger)
}

// loadSites reads the site file and returns the named sites, or every site
// when names is empty. A name given twice is crawled once. Every returned
// site has passed validation.
func loadSites(cfg *config.Config, names []string) ([]config.SiteConfig, error) {
	path := config.FindConfigFile(cfg.SitesFile, config.DefaultSitesFile)
	if path == "" {
		return nil, fmt.Errorf("%w: %s (run 'tricrawl init' to create one)",
			config.ErrConfigNotFound, orDefault(cfg.SitesFile, config.DefaultSitesFile))
	}

	file, err := config.LoadSitesFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load site file %s: %w", path, err)
	}

	if len(names) == 0 {
		names = file.SiteNames()
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no sites configured in %s", path)
	}

	sites := make([]config.SiteConfig, 0, len(names))
	added := make(map[string]bool, len(names))
	for _, name := range names {
		if added[name] {
			continue
		}
		added[name] = true
		site, err := file.GetSiteConfig(name)
		if err != nil {
			return nil, err
		}
		if err := site.Validate(); err != nil {
			return nil, err
		}
		sites = append(sites, site)
	}
	return sites, nil
}

// overrideDays sets the age limit of every site to days when --days was
// given. TRICRAWL_DAYS_TO_CRAWL alone does not override days_to_crawl.
func overrideDays(cmd *cobra.Command, days int, sites []config.SiteConfig) {
	if !cmd.Flags().Changed("days") {
		return
	}
	for i := range sites {
		sites[i].DaysToCrawl = days
	}
}

// connectTor returns a verified Tor client, either for the external proxy
// or for a freshly started embedded daemon. stop shuts the daemon down.
func connectTor(ctx context.Context, cfg *config.Config, out io.Writer, logger *slog.Logger) (*tor.Client, func(), error) {
	if !cfg.UseExternalTor {
		client, embedded, err := startEmbeddedTor(ctx, cfg, out, logger)
		if err != nil {
			return nil, nil, err
		}
		stop := func() {
			logger.Info("stopping embedded Tor daemon...")
			if err := embedded.Stop(); err != nil {
				logger.Error("failed to stop embedded Tor", "error", err)
			}
		}
		return client, stop, nil
	}

	client, err := tor.NewClient(cfg.TorProxyAddress, cfg.Timeout)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Tor client: %w", err)
	}

	status := client.Probe(ctx)
	if status != tor.ProxyStatusOK {
		return nil, nil, fmt.Errorf("tor proxy check failed: %w (make sure Tor is running at %s)",
			status.Error(), cfg.TorProxyAddress)
	}

	logger.Info("Tor proxy connection verified", "address", cfg.TorProxyAddress)
	return client, func() {}, nil
}

// startEmbeddedTor starts an embedded Tor daemon using tornago.
// Returns the Tor client and embedded Tor manager on success.
func startEmbeddedTor(ctx context.Context, cfg *config.Config, out io.Writer, logger *slog.Logger) (*tor.Client, *tor.EmbeddedTor, error) {
	fmt.Fprintln(out, "Starting embedded Tor daemon...")
	fmt.Fprintf(out, "This may take 1-3 minutes while Tor bootstraps and connects to the network.\n\n")

	embeddedTor := tor.NewEmbeddedTor(
		tor.WithStartupTimeout(cfg.TorStartupTimeout),
	)

	if err := embeddedTor.Start(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to start embedded Tor: %w", err)
	}

	logger.Info("embedded Tor daemon started",
		"socksAddr", embeddedTor.SocksAddr(),
		"controlAddr", embeddedTor.ControlAddr(),
	)

	client, err := embeddedTor.NewClient(cfg.Timeout)
	if err != nil {
		_ = embeddedTor.Stop() //nolint:errcheck // Best effort cleanup
		return nil, nil, fmt.Errorf("failed to create Tor client: %w", err)
	}

	status := client.Probe(ctx)
	if status != tor.ProxyStatusOK {
		_ = embeddedTor.Stop() //nolint:errcheck // Best effort cleanup
		return nil, nil, fmt.Errorf("embedded Tor proxy check failed: %w", status.Error())
	}

	fmt.Fprintf(out, "Embedded Tor daemon started, SOCKS proxy: %s\n\n", embeddedTor.SocksAddr())
	return client, embeddedTor, nil
}

// runCrawl crawls sites with the HTTP clients from clientFor and runs the
// posts through the pipeline.
func runCrawl(
	ctx context.Context,
	cfg *config.Config,
	opts runOptions,
	sites []config.SiteConfig,
	clientFor func(config.SiteConfig) *http.Client,
	out io.Writer,
	logger *slog.Logger,
) error {
	sources := make([]pipeline.Source, 0, len(sites))
	for _, site := range sites {
		sources = append(sources, crawler.NewSpider(site, clientFor(site),
			crawler.WithDelay(cfg.CrawlDelay),
			crawler.WithMaxPages(cfg.MaxPages),
			crawler.WithDaysToCrawl(cfg.DaysToCrawl),
			crawler.WithUserAgent(cfg.UserAgent),
			crawler.WithMaxBodySize(cfg.MaxBodySize),
			crawler.WithLogger(logger),
		))
	}

	logger.Info("starting crawl",
		"sites", len(sources),
		"concurrency", cfg.Concurrency,
		"dry_run", cfg.DryRun,
	)
	return runSources(ctx, cfg, opts, sources, out, logger)
}

// runSources opens the storage, runs every source through its own pipeline
// and writes the run report. It is shared by crawl and ingest.
func runSources(
	ctx context.Context,
	cfg *config.Config,
	opts runOptions,
	sources []pipeline.Source,
	out io.Writer,
	logger *slog.Logger,
) error {
	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			logger.Error("failed to close storage", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	if opts.metricsAddr != "" {
		srvCtx, stopServer := context.WithCancel(context.WithoutCancel(ctx))
		defer stopServer()
		srv := server.New(b.reader(), reg, logger)
		go func() {
			if err := srv.ListenAndServe(srvCtx, opts.metricsAddr); err != nil {
				logger.Error("metrics server failed", "addr", opts.metricsAddr, "error", err)
			}
		}()
	}

	r := newRunner(cfg, b.store, loadRules(cfg, logger), m, logger)
	startTime := time.Now()
	summaries, runErr := r.run(ctx, sources)

	rep := report.NewReport(time.Now(), summaries...)
	logger.Info("all runs finished",
		"runs", len(summaries),
		"elapsed", time.Since(startTime).Round(time.Millisecond),
		"new", rep.Totals().New,
		"known", rep.Totals().Known,
		"notified", rep.Totals().Notified,
	)

	if err := outputReport(opts, rep, out); err != nil {
		return err
	}

	if errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("interrupted: %w", runErr)
	}
	return runErr
}

// outputReport writes the run report in the requested format to the report
// file, or to out when none is set.
func outputReport(opts runOptions, rep *report.Report, out io.Writer) error {
	if opts.reportFile != "" {
		f, err := createOutput(opts.reportFile)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	w, err := report.NewWriter(opts.reportFormat, out)
	if err != nil {
		return err
	}
	if _, err := w.Write(rep); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
