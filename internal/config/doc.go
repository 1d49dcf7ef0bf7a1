// Package config provides configuration structures and loaders for TriCrawl:
// runtime settings from defaults, the environment and flags, and the site
// file describing what to crawl.
package config
