// Package main provides the entry point for the TriCrawl CLI.
//
// TriCrawl crawls dark-web forums and leak sites through Tor, drops posts it
// has already seen, scores the rest against a keyword list, stores them and
// posts relevant ones to a Discord webhook.
//
// Usage:
//
//	tricrawl crawl [site...]
//	tricrawl ingest items.jsonl
//	tricrawl export --format csv
//	tricrawl serve
//
// See --help for all available options.
package main

// main is the entry point for TriCrawl.
func main() {
	Execute()
}
