package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for TriCrawl.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tricrawl",
		Short: "Dark-web leak monitor for Tor forums and leak sites",
		Long: `TriCrawl crawls dark-web forums and ransomware leak sites through Tor.

Every crawled post goes through the same pipeline:
  dedup    drops posts already seen in this run or in storage
  keyword  scores the post against keywords.yaml (NONE to CRITICAL)
  storage  upserts the post into SQLite or PostgreSQL
  archive  appends the post to a per-site JSONL file
  notify   posts scored items to the Discord webhook, rate limited

By default, TriCrawl starts an embedded Tor daemon automatically.
Use --external-tor to use an existing Tor proxy instead.

Settings are read from .env and the environment (DISCORD_WEBHOOK_URL,
DATABASE_URL, REDIS_ADDR, TRICRAWL_*); flags override both.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags that apply to all commands
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().Bool("log-json", false, "Write logs as JSON")

	cmd.AddCommand(NewCrawlCmd())
	cmd.AddCommand(NewIngestCmd())
	cmd.AddCommand(NewExportCmd())
	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
