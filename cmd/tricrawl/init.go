package main

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nao1215/tricrawl/internal/config"
)

//go:embed templates/tricrawl.yaml templates/keywords.yaml
var configTemplates embed.FS

// templateFiles lists the files written by init, in order.
var templateFiles = []string{config.DefaultSitesFile, config.DefaultKeywordsFile}

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create tricrawl.yaml and keywords.yaml templates",
		Long: `Init writes the site configuration (tricrawl.yaml) and the keyword rules
(keywords.yaml) into a directory, the current one by default.

The generated files include:
- Default crawl settings and shared forum selectors
- A commented forum and leak site example
- Example targets, keywords and contact patterns

Examples:
  # Create both files in the current directory
  tricrawl init

  # Create them in the XDG config directory
  tricrawl init -o ~/.config/tricrawl

  # Force overwrite existing files
  tricrawl init -f`,
		Args: cobra.NoArgs,
		RunE: runInitCmd,
	}

	cmd.Flags().StringP("output", "o", ".",
		"Directory to write the configuration files to")
	cmd.Flags().BoolP("force", "f", false,
		"Overwrite existing configuration files")

	return cmd
}

// runInitCmd executes the init command.
func runInitCmd(cmd *cobra.Command, _ []string) error {
	dir, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}

	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return err
	}

	// Refuse before writing anything so that init never leaves one file
	// of the pair behind.
	if !force {
		for _, name := range templateFiles {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("configuration file already exists: %s (use -f to overwrite)", path)
			}
		}
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	out := cmd.OutOrStdout()
	for _, name := range templateFiles {
		content, err := configTemplates.ReadFile("templates/" + name)
		if err != nil {
			return fmt.Errorf("failed to read %s template: %w", name, err)
		}

		// keywords.yaml names the monitored organisations, so both files
		// are owner-only.
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, content, 0600); err != nil {
			return fmt.Errorf("failed to write configuration file: %w", err)
		}
		fmt.Fprintf(out, "Created configuration file: %s\n", path)
	}

	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  - Add your sites, start URLs and selectors to tricrawl.yaml")
	fmt.Fprintln(out, "  - List your targets and keywords in keywords.yaml")
	fmt.Fprintln(out, "  - Put DISCORD_WEBHOOK_URL (and DATABASE_URL, REDIS_ADDR) in .env")

	return nil
}
