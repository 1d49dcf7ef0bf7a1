package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nao1215/tricrawl/internal/database"
	"github.com/nao1215/tricrawl/internal/dedup"
	"github.com/nao1215/tricrawl/internal/model"
	"github.com/nao1215/tricrawl/internal/report"
)

const ingestItems = `{"source":"ForumX","url":"http://forumx.onion/t/1","title":"Acme Corp database leak","author":"ghost","timestamp":"2026-01-17T08:00:00Z","content":"contact @acme_dumps"}

{"source":"LeakSite","url":"http://leaks.onion/p/1","title":"Other co files","author":"LeakSite","timestamp":"2026-01-17"}
not json
{"source":"ForumX","url":"http://forumx.onion/t/2","title":"Fresh logs","author":"seller","timestamp":"2026-01-17T09:00:00Z"}
`

func TestReadItemSources(t *testing.T) {
	t.Parallel()

	t.Run("groups items by source in order of appearance", func(t *testing.T) {
		t.Parallel()

		sources, err := readItemSources(strings.NewReader(ingestItems), discardLogger())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(sources) != 2 {
			t.Fatalf("expected 2 sources, got %d", len(sources))
		}

		want := []struct {
			name   string
			titles []string
		}{
			{"ForumX", []string{"Acme Corp database leak", "Fresh logs"}},
			{"LeakSite", []string{"Other co files"}},
		}
		for i, w := range want {
			if sources[i].Name() != w.name {
				t.Errorf("source %d: expected %q, got %q", i, w.name, sources[i].Name())
			}
			var titles []string
			err := sources[i].Extract(context.Background(), func(item *model.Item) error {
				titles = append(titles, item.Title)
				return nil
			})
			if err != nil {
				t.Fatal(err)
			}
			if strings.Join(titles, "|") != strings.Join(w.titles, "|") {
				t.Errorf("source %q: expected titles %q, got %q", w.name, w.titles, titles)
			}
		}
	})

	t.Run("empty input", func(t *testing.T) {
		t.Parallel()

		sources, err := readItemSources(strings.NewReader("\n\n"), discardLogger())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(sources) != 0 {
			t.Errorf("expected no sources, got %d", len(sources))
		}
	})

	t.Run("line over the size limit", func(t *testing.T) {
		t.Parallel()

		long := `{"title":"` + strings.Repeat("a", maxLineSize) + `"}`
		if _, err := readItemSources(strings.NewReader(long), discardLogger()); err == nil {
			t.Error("expected error for an oversized line")
		}
	})
}

func TestRunIngest(t *testing.T) {
	t.Parallel()

	webhook, rec := newWebhook(t)
	cfg := testConfig(t, webhook.URL)

	input := filepath.Join(t.TempDir(), "items.jsonl")
	if err := os.WriteFile(input, []byte(ingestItems), 0600); err != nil {
		t.Fatal(err)
	}
	reportFile := filepath.Join(t.TempDir(), "reports", "run.json")

	ingest := func(t *testing.T) runReport {
		t.Helper()

		f, err := os.Open(input)
		if err != nil {
			t.Fatal(err)
		}
		defer f.Close()

		sources, err := readItemSources(f, discardLogger())
		if err != nil {
			t.Fatal(err)
		}
		opts := runOptions{reportFormat: report.FormatJSON, reportFile: reportFile}
		var out bytes.Buffer
		if err := runSources(context.Background(), cfg, opts, sources, &out, discardLogger()); err != nil {
			t.Fatalf("ingest failed: %v", err)
		}
		if out.Len() != 0 {
			t.Errorf("expected the report in the file only, got %q on out", out.String())
		}

		data, err := os.ReadFile(reportFile)
		if err != nil {
			t.Fatal(err)
		}
		return decodeReport(t, data)
	}

	rep := ingest(t)
	if rep.Totals.Received != 3 || rep.Totals.New != 3 {
		t.Errorf("expected 3 received and new items, got %+v", rep.Totals)
	}
	if rep.Totals.Notified != 1 {
		t.Errorf("expected 1 notification, got %d", rep.Totals.Notified)
	}
	msgs := rec.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0], "Acme Corp database leak") {
		t.Fatalf("expected one alert for the Acme post, got %q", msgs)
	}

	db, err := database.Open(cfg.DBDir, database.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	acme, err := db.Get(context.Background(), dedup.ComputeIdentity(&model.Item{Title: "Acme Corp database leak", Author: "ghost"}))
	if err != nil {
		t.Fatal(err)
	}
	if acme == nil {
		t.Fatal("expected the Acme post to be stored")
	}
	if acme.RiskLevel != model.RiskCritical {
		t.Errorf("expected CRITICAL, got %s", acme.RiskLevel)
	}
	if got := acme.AuthorContacts["telegram"]; len(got) != 1 || got[0] != "@acme_dumps" {
		t.Errorf("expected the telegram contact, got %v", acme.AuthorContacts)
	}
	other, err := db.Get(context.Background(), dedup.ComputeIdentity(&model.Item{Title: "Other co files", Author: "LeakSite"}))
	if err != nil {
		t.Fatal(err)
	}
	if other == nil || other.RiskLevel != model.RiskNone {
		t.Errorf("expected the unmatched post stored as NONE, got %+v", other)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	// The same items again are all duplicates: nothing is alerted and every
	// source gets a "no new data" notice.
	rep = ingest(t)
	if rep.Totals.New != 0 || rep.Totals.Notified != 0 {
		t.Errorf("expected only duplicates, got %+v", rep.Totals)
	}
	msgs = rec.messages()
	if len(msgs) != 3 {
		t.Fatalf("expected 2 notices after the alert, got %q", msgs)
	}
	for _, m := range msgs[1:] {
		if !strings.Contains(m, "No new data") {
			t.Errorf("expected a no-new-data notice, got %q", m)
		}
	}
}
