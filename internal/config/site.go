package config

import (
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/nao1215/tricrawl/internal/tor"
)

// Selectors are the CSS selectors used to extract items from a listing page.
// Item and Title are required; the other selectors are evaluated inside
// each item element except NextPage, which is evaluated on the page.
type Selectors struct {
	Item      string `yaml:"item"`
	Title     string `yaml:"title"`
	Link      string `yaml:"link,omitempty"`
	Author    string `yaml:"author,omitempty"`
	Content   string `yaml:"content,omitempty"`
	Timestamp string `yaml:"timestamp,omitempty"`
	Category  string `yaml:"category,omitempty"`
	Views     string `yaml:"views,omitempty"`
	NextPage  string `yaml:"next_page,omitempty"`

	// Sticky matches pinned rows. A pinned row may be old without meaning
	// that the rest of the page is old too.
	Sticky string `yaml:"sticky,omitempty"`
}

// DetailSelectors extract the post page behind a listing row. They are
// evaluated on the whole post page. Content enables detail fetching; the
// other selectors replace listing values only when they match.
type DetailSelectors struct {
	Content  string `yaml:"content,omitempty"`
	Title    string `yaml:"title,omitempty"`
	Author   string `yaml:"author,omitempty"`
	Category string `yaml:"category,omitempty"`
}

// Enabled reports whether post pages are fetched.
func (d DetailSelectors) Enabled() bool {
	return d.Content != ""
}

// SiteConfig describes one crawled site.
type SiteConfig struct {
	// Name is the source name stamped on every item. Filled from the map
	// key when empty.
	Name string `yaml:"name,omitempty"`

	// SiteType classifies the site, e.g. "Forum" or "Ransomware".
	SiteType string `yaml:"site_type,omitempty"`

	// Category is used when the Category selector finds nothing.
	Category string `yaml:"category,omitempty"`

	// Author is used when the Author selector finds nothing. Leak sites
	// set it to the group name.
	Author string `yaml:"author,omitempty"`

	// StartURLs are the listing pages crawled first.
	StartURLs []string `yaml:"start_urls,omitempty"`

	// Cookie is an HTTP cookie to use when crawling this site.
	// Format: "name=value" or "name1=value1; name2=value2"
	Cookie string `yaml:"cookie,omitempty"`

	// Headers are custom HTTP headers to include in requests to this site.
	Headers map[string]string `yaml:"headers,omitempty"`

	// UserAgent overrides the global user agent.
	UserAgent string `yaml:"user_agent,omitempty"`

	// MaxPages is the listing pages followed per start URL.
	MaxPages int `yaml:"max_pages,omitempty"`

	// Delay overrides the global crawl delay.
	Delay time.Duration `yaml:"delay,omitempty"`

	// DaysToCrawl overrides the global post age limit. Zero inherits it.
	DaysToCrawl int `yaml:"days_to_crawl,omitempty"`

	// Selectors extract the items.
	Selectors Selectors `yaml:"selectors,omitempty"`

	// Detail extracts the full post from each row's page. Unset, items
	// carry what the listing row shows.
	Detail DetailSelectors `yaml:"detail,omitempty"`
}

// Validate checks that the site can be crawled.
// Start URLs must be absolute http(s) URLs, and .onion hosts must be valid
// v3 addresses.
func (s SiteConfig) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidSite)
	}
	if len(s.StartURLs) == 0 {
		return fmt.Errorf("%w: %s: no start_urls", ErrInvalidSite, s.Name)
	}
	for _, raw := range s.StartURLs {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: %s: start url %q is not an absolute http(s) URL", ErrInvalidSite, s.Name, raw)
		}
		host := u.Hostname()
		if strings.HasSuffix(host, ".onion") && !tor.IsValidV3Address(host) {
			return fmt.Errorf("%w: %s: %q is not a valid v3 onion address", ErrInvalidSite, s.Name, host)
		}
	}
	if s.Selectors.Item == "" || s.Selectors.Title == "" {
		return fmt.Errorf("%w: %s: selectors.item and selectors.title are required", ErrInvalidSite, s.Name)
	}
	if s.MaxPages < 0 || s.Delay < 0 || s.DaysToCrawl < 0 {
		return fmt.Errorf("%w: %s: max_pages, delay and days_to_crawl must be non-negative", ErrInvalidSite, s.Name)
	}
	return nil
}

// File represents the structure of the tricrawl.yaml site file.
type File struct {
	// Sites maps site keys to their configurations.
	Sites map[string]SiteConfig `yaml:"sites,omitempty"`

	// Defaults contains default site configuration applied to all sites
	// unless overridden in the site-specific configuration.
	Defaults SiteConfig `yaml:"defaults,omitempty"`
}

// SiteNames returns the configured site keys in sorted order.
func (cf *File) SiteNames() []string {
	return slices.Sorted(maps.Keys(cf.Sites))
}

// GetSiteConfig returns the configuration for key merged with the defaults.
// It returns ErrUnknownSite when key is not configured.
func (cf *File) GetSiteConfig(key string) (SiteConfig, error) {
	site, ok := cf.Sites[key]
	if !ok {
		return SiteConfig{}, fmt.Errorf("%w: %s", ErrUnknownSite, key)
	}

	// Start with defaults
	result := cf.Defaults
	result.Headers = maps.Clone(cf.Defaults.Headers)
	result.Name = key

	if site.Name != "" {
		result.Name = site.Name
	}
	if site.SiteType != "" {
		result.SiteType = site.SiteType
	}
	if site.Category != "" {
		result.Category = site.Category
	}
	if site.Author != "" {
		result.Author = site.Author
	}
	if len(site.StartURLs) > 0 {
		result.StartURLs = site.StartURLs
	}
	if site.Cookie != "" {
		result.Cookie = site.Cookie
	}
	if len(site.Headers) > 0 {
		if result.Headers == nil {
			result.Headers = make(map[string]string)
		}
		maps.Copy(result.Headers, site.Headers)
	}
	if site.UserAgent != "" {
		result.UserAgent = site.UserAgent
	}
	if site.MaxPages != 0 {
		result.MaxPages = site.MaxPages
	}
	if site.Delay != 0 {
		result.Delay = site.Delay
	}
	if site.DaysToCrawl != 0 {
		result.DaysToCrawl = site.DaysToCrawl
	}
	result.Selectors = mergeSelectors(cf.Defaults.Selectors, site.Selectors)
	result.Detail = DetailSelectors{
		Content:  pick(cf.Defaults.Detail.Content, site.Detail.Content),
		Title:    pick(cf.Defaults.Detail.Title, site.Detail.Title),
		Author:   pick(cf.Defaults.Detail.Author, site.Detail.Author),
		Category: pick(cf.Defaults.Detail.Category, site.Detail.Category),
	}

	return result, nil
}

// pick returns the site value when set and the default otherwise.
func pick(base, site string) string {
	if site != "" {
		return site
	}
	return base
}

// mergeSelectors overrides base with every selector set in site.
func mergeSelectors(base, site Selectors) Selectors {
	return Selectors{
		Item:      pick(base.Item, site.Item),
		Title:     pick(base.Title, site.Title),
		Link:      pick(base.Link, site.Link),
		Author:    pick(base.Author, site.Author),
		Content:   pick(base.Content, site.Content),
		Timestamp: pick(base.Timestamp, site.Timestamp),
		Category:  pick(base.Category, site.Category),
		Views:     pick(base.Views, site.Views),
		NextPage:  pick(base.NextPage, site.NextPage),
		Sticky:    pick(base.Sticky, site.Sticky),
	}
}
