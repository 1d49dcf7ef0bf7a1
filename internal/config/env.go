package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// Environment keys. The same names are used in the .env file, and the CLI
// binds its flags to them so that a flag overrides the environment.
const (
	EnvWebhookURL        = "DISCORD_WEBHOOK_URL"
	EnvDedupMaxEntries   = "DEDUP_MAX_ENTRIES"
	EnvNotifyOnNoNewData = "NOTIFY_ON_NO_NEW_DATA"
	EnvTorProxyHost      = "TOR_PROXY_HOST"
	EnvTorProxyPort      = "TOR_PROXY_PORT"
	EnvDatabaseURL       = "DATABASE_URL"
	EnvRedisAddr         = "REDIS_ADDR"

	EnvTorProxy          = "TRICRAWL_TOR_PROXY"
	EnvExternalTor       = "TRICRAWL_EXTERNAL_TOR"
	EnvTimeout           = "TRICRAWL_TIMEOUT"
	EnvCrawlDelay        = "TRICRAWL_CRAWL_DELAY"
	EnvUserAgent         = "TRICRAWL_USER_AGENT"
	EnvMaxPages          = "TRICRAWL_MAX_PAGES"
	EnvDaysToCrawl       = "TRICRAWL_DAYS_TO_CRAWL"
	EnvConcurrency       = "TRICRAWL_CONCURRENCY"
	EnvNotifyInterval    = "TRICRAWL_NOTIFY_INTERVAL"
	EnvNotifyMaxAttempts = "TRICRAWL_NOTIFY_MAX_ATTEMPTS"
	EnvNotifyQueueSize   = "TRICRAWL_NOTIFY_QUEUE_SIZE"
	EnvDrainTimeout      = "TRICRAWL_DRAIN_TIMEOUT"
	EnvDBDir             = "TRICRAWL_DB_DIR"
	EnvArchiveDir        = "TRICRAWL_ARCHIVE_DIR"
	EnvSitesFile         = "TRICRAWL_SITES_FILE"
	EnvKeywordsFile      = "TRICRAWL_KEYWORDS_FILE"
	EnvVerbose           = "TRICRAWL_VERBOSE"
	EnvLogJSON           = "TRICRAWL_LOG_JSON"
	EnvDryRun            = "TRICRAWL_DRY_RUN"
)

// LoadEnv overlays the dotenv file, the environment and any flags bound to
// v onto cfg. Precedence from highest: flags, environment, envFile, the
// values already in cfg. A missing envFile is not an error.
func LoadEnv(v *viper.Viper, cfg *Config, envFile string) error {
	v.AutomaticEnv()

	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			v.SetConfigFile(envFile)
			v.SetConfigType("env")
			if err := v.ReadInConfig(); err != nil {
				return fmt.Errorf("failed to read %s: %w", envFile, err)
			}
		}
	}

	l := loader{v: v}

	l.str(EnvWebhookURL, &cfg.WebhookURL)
	l.str(EnvDatabaseURL, &cfg.DatabaseURL)
	l.str(EnvRedisAddr, &cfg.RedisAddr)
	l.str(EnvUserAgent, &cfg.UserAgent)
	l.str(EnvDBDir, &cfg.DBDir)
	l.str(EnvArchiveDir, &cfg.ArchiveDir)
	l.str(EnvSitesFile, &cfg.SitesFile)
	l.str(EnvKeywordsFile, &cfg.KeywordsFile)

	l.integer(EnvDedupMaxEntries, &cfg.DedupMaxEntries)
	l.integer(EnvConcurrency, &cfg.Concurrency)
	l.integer(EnvMaxPages, &cfg.MaxPages)
	l.integer(EnvDaysToCrawl, &cfg.DaysToCrawl)
	l.integer(EnvNotifyMaxAttempts, &cfg.NotifyMaxAttempts)
	l.integer(EnvNotifyQueueSize, &cfg.NotifyQueueSize)

	l.boolean(EnvNotifyOnNoNewData, &cfg.NotifyOnNoNewData)
	l.boolean(EnvExternalTor, &cfg.UseExternalTor)
	l.boolean(EnvVerbose, &cfg.Verbose)
	l.boolean(EnvLogJSON, &cfg.LogJSON)
	l.boolean(EnvDryRun, &cfg.DryRun)

	l.duration(EnvTimeout, &cfg.Timeout)
	l.duration(EnvCrawlDelay, &cfg.CrawlDelay)
	l.duration(EnvNotifyInterval, &cfg.NotifyInterval)
	l.duration(EnvDrainTimeout, &cfg.DrainTimeout)

	l.str(EnvTorProxy, &cfg.TorProxyAddress)
	if v.IsSet(EnvTorProxyHost) || v.IsSet(EnvTorProxyPort) {
		host, port, err := net.SplitHostPort(cfg.TorProxyAddress)
		if err != nil {
			host, port, _ = net.SplitHostPort(DefaultTorProxyAddress)
		}
		l.str(EnvTorProxyHost, &host)
		l.str(EnvTorProxyPort, &port)
		cfg.TorProxyAddress = net.JoinHostPort(host, port)
	}

	return l.err
}

// loader applies viper values and keeps the first conversion error.
type loader struct {
	v   *viper.Viper
	err error
}

func (l *loader) fail(key string, err error) {
	if l.err == nil {
		l.err = fmt.Errorf("invalid %s: %w", key, err)
	}
}

func (l *loader) str(key string, dst *string) {
	if l.v.IsSet(key) {
		*dst = l.v.GetString(key)
	}
}

func (l *loader) integer(key string, dst *int) {
	if !l.v.IsSet(key) {
		return
	}
	n, err := cast.ToIntE(l.v.Get(key))
	if err != nil {
		l.fail(key, err)
		return
	}
	*dst = n
}

func (l *loader) boolean(key string, dst *bool) {
	if !l.v.IsSet(key) {
		return
	}
	b, err := cast.ToBoolE(l.v.Get(key))
	if err != nil {
		l.fail(key, err)
		return
	}
	*dst = b
}

func (l *loader) duration(key string, dst *time.Duration) {
	if !l.v.IsSet(key) {
		return
	}
	d, err := cast.ToDurationE(l.v.Get(key))
	if err != nil {
		l.fail(key, err)
		return
	}
	*dst = d
}
