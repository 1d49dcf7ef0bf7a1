package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

// Default configuration values.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "tricrawl"

	// DefaultTorProxyAddress is the standard Tor SOCKS5 proxy address.
	// We use 127.0.0.1 instead of localhost to avoid DNS resolution overhead
	// and potential issues with IPv6 resolution on some systems.
	DefaultTorProxyAddress = "127.0.0.1:9050"

	// DefaultTimeout is generous because hidden services answer slowly
	// through three relay hops.
	DefaultTimeout = 120 * time.Second

	// DefaultTorStartupTimeout is the maximum time to wait for the embedded
	// Tor daemon to bootstrap.
	DefaultTorStartupTimeout = 3 * time.Minute

	// DefaultCrawlDelay is the politeness delay between page requests.
	DefaultCrawlDelay = 1 * time.Second

	// DefaultMaxPages is the listing pages followed per start URL.
	DefaultMaxPages = 5

	// DefaultDaysToCrawl is the age limit of crawled posts. Boards list
	// the newest posts first, so older rows end the pagination.
	DefaultDaysToCrawl = 3

	// DefaultUserAgent matches Tor Browser so that forums do not serve a
	// bot challenge.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; rv:109.0) Gecko/20100101 Firefox/115.0"

	// DefaultMaxBodySize limits the response body read per page.
	DefaultMaxBodySize = 5 * 1024 * 1024 // 5MB

	// DefaultConcurrency is the number of sites crawled at once.
	DefaultConcurrency = 4

	// DefaultDedupMaxEntries bounds the identities loaded at start.
	DefaultDedupMaxEntries = 20000

	// DefaultNotifyInterval is the minimum spacing between webhook posts.
	DefaultNotifyInterval = 1 * time.Second

	// DefaultNotifyMaxAttempts is the attempts per notification on
	// transport errors and 5xx responses.
	DefaultNotifyMaxAttempts = 3

	// DefaultNotifyQueueSize bounds the pending notifications per run.
	DefaultNotifyQueueSize = 1024

	// DefaultDrainTimeout bounds the notification drain at shutdown.
	DefaultDrainTimeout = 2 * time.Minute

	// DefaultSitesFile is the site configuration file name.
	DefaultSitesFile = "tricrawl.yaml"

	// DefaultKeywordsFile is the keyword rules file name.
	DefaultKeywordsFile = "keywords.yaml"

	// DefaultEnvFile is the dotenv file read from the working directory.
	DefaultEnvFile = ".env"
)

// Config holds all configuration options for TriCrawl.
// It is populated from defaults, the .env file, the environment and CLI
// flags, and passed through the application rather than kept as global
// state.
type Config struct {
	// TorProxyAddress is the Tor SOCKS5 proxy in "host:port" format.
	TorProxyAddress string

	// UseExternalTor disables the embedded Tor daemon and uses the proxy at
	// TorProxyAddress.
	UseExternalTor bool

	// TorStartupTimeout is the maximum time to wait for the embedded Tor
	// daemon. Only used when UseExternalTor is false.
	TorStartupTimeout time.Duration

	// Timeout is the per-request timeout.
	Timeout time.Duration

	// CrawlDelay is the delay between page requests to one site.
	CrawlDelay time.Duration

	// UserAgent is sent when a site does not set its own.
	UserAgent string

	// MaxPages is the listing pages followed per start URL when a site
	// does not set max_pages.
	MaxPages int

	// DaysToCrawl skips posts older than this many days when a site does
	// not set days_to_crawl. Zero disables the limit.
	DaysToCrawl int

	// MaxBodySize is the maximum response body size in bytes to read.
	MaxBodySize int64

	// Concurrency is the number of sites processed at once.
	Concurrency int

	// Verbose enables debug logging.
	Verbose bool

	// LogJSON switches the log output to JSON.
	LogJSON bool

	// WebhookURL is the Discord webhook. Empty disables notifications.
	WebhookURL string

	// NotifyInterval is the minimum spacing between webhook posts.
	NotifyInterval time.Duration

	// NotifyMaxAttempts is the attempts per notification.
	NotifyMaxAttempts int

	// NotifyQueueSize bounds the pending notifications per run.
	NotifyQueueSize int

	// NotifyOnNoNewData sends a notice when a run found only duplicates.
	NotifyOnNoNewData bool

	// DrainTimeout bounds the notification drain after a shutdown signal.
	DrainTimeout time.Duration

	// DedupMaxEntries bounds the identities loaded from storage.
	DedupMaxEntries int

	// DBDir holds the SQLite database. Unused when DatabaseURL is set.
	DBDir string

	// DatabaseURL selects the PostgreSQL store.
	DatabaseURL string

	// RedisAddr enables the Redis identity cache.
	RedisAddr string

	// ArchiveDir holds the per-source JSONL archives. Empty disables them.
	ArchiveDir string

	// SitesFile is the site configuration path. Empty searches the
	// default locations.
	SitesFile string

	// KeywordsFile is the keyword rules path. Empty searches the default
	// locations.
	KeywordsFile string

	// DryRun keeps records in memory and sends no notifications.
	DryRun bool
}

// NewConfig creates a new Config with default values.
func NewConfig() *Config {
	return &Config{
		TorProxyAddress:   DefaultTorProxyAddress,
		TorStartupTimeout: DefaultTorStartupTimeout,
		Timeout:           DefaultTimeout,
		CrawlDelay:        DefaultCrawlDelay,
		UserAgent:         DefaultUserAgent,
		MaxPages:          DefaultMaxPages,
		DaysToCrawl:       DefaultDaysToCrawl,
		MaxBodySize:       DefaultMaxBodySize,
		Concurrency:       DefaultConcurrency,
		NotifyInterval:    DefaultNotifyInterval,
		NotifyMaxAttempts: DefaultNotifyMaxAttempts,
		NotifyQueueSize:   DefaultNotifyQueueSize,
		NotifyOnNoNewData: true,
		DrainTimeout:      DefaultDrainTimeout,
		DedupMaxEntries:   DefaultDedupMaxEntries,
		DBDir:             XDGDataDir(),
		ArchiveDir:        XDGArchiveDir(),
	}
}

// XDGDataDir returns the XDG data directory for TriCrawl.
// On Linux: ~/.local/share/tricrawl
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGArchiveDir returns the default archive directory.
func XDGArchiveDir() string {
	return filepath.Join(XDGDataDir(), "archive")
}

// XDGConfigDir returns the XDG config directory for TriCrawl.
// On Linux: ~/.config/tricrawl
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// Validate checks if the configuration is valid.
// It returns the first problem found as a sentinel error.
func (c *Config) Validate() error {
	switch {
	case c.Timeout <= 0:
		return ErrInvalidTimeout
	case c.Concurrency <= 0:
		return ErrInvalidConcurrency
	case c.CrawlDelay < 0:
		return ErrInvalidCrawlDelay
	case c.MaxBodySize < 0:
		return ErrInvalidMaxBodySize
	case c.MaxPages <= 0:
		return ErrInvalidMaxPages
	case c.DaysToCrawl < 0:
		return ErrInvalidDaysToCrawl
	case c.NotifyInterval < 0:
		return ErrInvalidNotifyInterval
	case c.NotifyMaxAttempts <= 0:
		return ErrInvalidNotifyAttempts
	case c.NotifyQueueSize <= 0:
		return ErrInvalidQueueSize
	case c.DedupMaxEntries <= 0:
		return ErrInvalidDedupMaxEntries
	case c.DrainTimeout < 0:
		return ErrInvalidDrainTimeout
	case c.DatabaseURL == "" && c.DBDir == "" && !c.DryRun:
		return ErrNoStorage
	}
	return nil
}
