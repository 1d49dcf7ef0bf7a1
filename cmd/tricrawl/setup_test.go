package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/nao1215/tricrawl/internal/config"
	"github.com/nao1215/tricrawl/internal/database"
	"github.com/nao1215/tricrawl/internal/storage"
)

// TestLoadConfig sets environment variables, so it does not run in
// parallel.
func TestLoadConfig(t *testing.T) {
	t.Setenv(config.EnvConcurrency, "3")
	t.Setenv(config.EnvDedupMaxEntries, "50")

	t.Run("environment applies when no flag is set", func(t *testing.T) {
		cmd := NewIngestCmd()
		if err := cmd.ParseFlags(nil); err != nil {
			t.Fatal(err)
		}
		cfg, err := loadConfig(cmd, pipelineBindings)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Concurrency != 3 {
			t.Errorf("expected concurrency 3 from the environment, got %d", cfg.Concurrency)
		}
		if cfg.DedupMaxEntries != 50 {
			t.Errorf("expected dedup max entries 50, got %d", cfg.DedupMaxEntries)
		}
	})

	t.Run("flag overrides environment", func(t *testing.T) {
		cmd := NewIngestCmd()
		if err := cmd.ParseFlags([]string{"-c", "7", "--dry-run"}); err != nil {
			t.Fatal(err)
		}
		cfg, err := loadConfig(cmd, pipelineBindings)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Concurrency != 7 {
			t.Errorf("expected concurrency 7 from the flag, got %d", cfg.Concurrency)
		}
		if !cfg.DryRun {
			t.Error("expected dry run from the flag")
		}
	})

	t.Run("inherited flags are bound", func(t *testing.T) {
		root := NewRootCmd()
		ingest, _, err := root.Find([]string{"ingest"})
		if err != nil {
			t.Fatal(err)
		}
		if err := root.PersistentFlags().Set("verbose", "true"); err != nil {
			t.Fatal(err)
		}
		cfg, err := loadConfig(ingest, pipelineBindings)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !cfg.Verbose {
			t.Error("expected verbose from the root flag")
		}
	})

	t.Run("invalid environment value", func(t *testing.T) {
		t.Setenv(config.EnvDrainTimeout, "soon")

		cmd := NewIngestCmd()
		if err := cmd.ParseFlags(nil); err != nil {
			t.Fatal(err)
		}
		if _, err := loadConfig(cmd, pipelineBindings); err == nil {
			t.Error("expected error for an invalid duration")
		}
	})
}

func TestOpenBackend(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("dry run keeps records in memory", func(t *testing.T) {
		t.Parallel()

		cfg := config.NewConfig()
		cfg.DryRun = true
		cfg.DBDir = t.TempDir()

		b, err := openBackend(ctx, cfg, discardLogger())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, ok := b.store.(*storage.MemoryStore); !ok {
			t.Errorf("expected a memory store, got %T", b.store)
		}
		if b.repo != nil {
			t.Error("expected no database for a dry run")
		}
		records, err := b.reader().List(ctx, database.Filter{})
		if err != nil || len(records) != 0 {
			t.Errorf("expected an empty API, got %d records, error %v", len(records), err)
		}
		if err := b.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})

	t.Run("sqlite in the data directory", func(t *testing.T) {
		t.Parallel()

		cfg := config.NewConfig()
		cfg.DBDir = t.TempDir()

		b, err := openBackend(ctx, cfg, discardLogger())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if b.repo == nil || b.store != b.repo {
			t.Errorf("expected the database as store, got %T", b.store)
		}
		if err := b.repo.Ping(ctx); err != nil {
			t.Errorf("Ping() error = %v", err)
		}
		if err := b.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})

	t.Run("unreachable redis disables the cache", func(t *testing.T) {
		t.Parallel()

		cfg := config.NewConfig()
		cfg.DBDir = t.TempDir()
		cfg.RedisAddr = "127.0.0.1:1"

		b, err := openBackend(ctx, cfg, discardLogger())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer b.Close()
		if b.store != b.repo {
			t.Errorf("expected the uncached database, got %T", b.store)
		}
	})
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	t.Run("json", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		cfg := config.NewConfig()
		cfg.LogJSON = true
		newLogger(&buf, cfg).Info("hello")
		if !strings.HasPrefix(buf.String(), "{") {
			t.Errorf("expected a JSON line, got %q", buf.String())
		}
	})

	t.Run("debug only when verbose", func(t *testing.T) {
		t.Parallel()

		var quiet, verbose bytes.Buffer
		cfg := config.NewConfig()
		newLogger(&quiet, cfg).Debug("detail")
		cfg.Verbose = true
		newLogger(&verbose, cfg).Debug("detail")
		if quiet.Len() != 0 {
			t.Errorf("expected no debug output, got %q", quiet.String())
		}
		if !strings.Contains(verbose.String(), "detail") {
			t.Errorf("expected debug output, got %q", verbose.String())
		}
	})
}

func TestCreateOutput(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "a", "b", "report.txt")
	f, err := createOutput(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.WriteString("data"); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	if runtime.GOOS == "windows" {
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("expected permissions 0600, got %o", perm)
	}
}
