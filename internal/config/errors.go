package config

import "errors"

// Configuration validation errors returned by Config.Validate.
var (
	// ErrInvalidTimeout is returned when the timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidConcurrency is returned when the concurrency is not positive.
	ErrInvalidConcurrency = errors.New("invalid concurrency: must be positive")

	// ErrInvalidCrawlDelay is returned when the crawl delay is negative.
	ErrInvalidCrawlDelay = errors.New("invalid crawl delay: must be non-negative")

	// ErrInvalidMaxBodySize is returned when the max body size is negative.
	ErrInvalidMaxBodySize = errors.New("invalid max body size: must be non-negative")

	// ErrInvalidMaxPages is returned when the page limit is not positive.
	ErrInvalidMaxPages = errors.New("invalid max pages: must be positive")

	// ErrInvalidDaysToCrawl is returned when the post age limit is negative.
	ErrInvalidDaysToCrawl = errors.New("invalid days to crawl: must be non-negative")

	// ErrInvalidNotifyInterval is returned when the notification interval is negative.
	ErrInvalidNotifyInterval = errors.New("invalid notify interval: must be non-negative")

	// ErrInvalidNotifyAttempts is returned when the attempt budget is not positive.
	ErrInvalidNotifyAttempts = errors.New("invalid notify attempts: must be positive")

	// ErrInvalidQueueSize is returned when the notification queue size is not positive.
	ErrInvalidQueueSize = errors.New("invalid notify queue size: must be positive")

	// ErrInvalidDedupMaxEntries is returned when DEDUP_MAX_ENTRIES is not positive.
	ErrInvalidDedupMaxEntries = errors.New("invalid dedup max entries: must be positive")

	// ErrInvalidDrainTimeout is returned when the drain timeout is negative.
	ErrInvalidDrainTimeout = errors.New("invalid drain timeout: must be non-negative")

	// ErrNoStorage is returned when neither a database directory nor a
	// database URL is configured outside a dry run.
	ErrNoStorage = errors.New("no storage configured: set a database directory or DATABASE_URL")
)

// Site file errors.
var (
	// ErrConfigNotFound is returned when the configuration file does not exist.
	ErrConfigNotFound = errors.New("configuration file not found")

	// ErrUnknownSite is returned when a requested site is not configured.
	ErrUnknownSite = errors.New("unknown site")

	// ErrInvalidSite is returned when a site entry fails validation.
	ErrInvalidSite = errors.New("invalid site configuration")
)
