package archive

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nao1215/tricrawl/internal/model"
)

func TestStage(t *testing.T) {
	t.Parallel()

	t.Run("appends one line per item", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
		ctx := context.Background()

		for range 2 {
			s := NewStage(dir, "Dark Net/Army", WithClock(func() time.Time { return now }))
			if err := s.Open(ctx); err != nil {
				t.Fatal(err)
			}
			item := &model.Item{
				Source:          "Dark Net/Army",
				URL:             "http://x",
				Title:           "Acme",
				Timestamp:       "2024-01-01T00:00:00Z",
				MatchedKeywords: []string{"leak"},
				MatchedTargets:  []string{"acme"},
				RiskLevel:       model.RiskCritical,
				DedupID:         "abc",
			}
			if res := s.Process(ctx, item); res.Dropped() {
				t.Fatal("archive must keep items")
			}
			if err := s.Close(ctx); err != nil {
				t.Fatal(err)
			}
			if s.Stats()["written"] != 1 {
				t.Errorf("unexpected stats %v", s.Stats())
			}
		}

		path := filepath.Join(dir, "archive_Dark_Net_Army.jsonl")
		f, err := os.Open(path) //nolint:gosec
		if err != nil {
			t.Fatal(err)
		}
		defer f.Close() //nolint:errcheck

		var lines []map[string]any
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			var m map[string]any
			if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
				t.Fatalf("invalid json line: %v", err)
			}
			lines = append(lines, m)
		}
		if len(lines) != 2 {
			t.Fatalf("expected 2 lines, got %d", len(lines))
		}
		first := lines[0]
		if first["author"] != "Unknown" || first["category"] != "Unknown" {
			t.Errorf("defaults not applied: %v", first)
		}
		if first["risk_level"] != "CRITICAL" {
			t.Errorf("risk_level: %v", first["risk_level"])
		}
		if kw, ok := first["matched_keywords"].([]any); !ok || len(kw) != 2 {
			t.Errorf("matched_keywords: %v", first["matched_keywords"])
		}
	})

	t.Run("unwritable directory keeps items", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		blocker := filepath.Join(dir, "file")
		if err := os.WriteFile(blocker, nil, 0o600); err != nil {
			t.Fatal(err)
		}

		s := NewStage(filepath.Join(blocker, "sub"), "src")
		if err := s.Open(context.Background()); err != nil {
			t.Fatalf("open should not fail: %v", err)
		}
		if res := s.Process(context.Background(), &model.Item{Title: "x"}); res.Dropped() {
			t.Error("item should be kept")
		}
		if s.Stats()["errors"] != 1 {
			t.Errorf("unexpected stats %v", s.Stats())
		}
	})
}
