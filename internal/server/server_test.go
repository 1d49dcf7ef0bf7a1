package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nao1215/tricrawl/internal/database"
	"github.com/nao1215/tricrawl/internal/model"
)

type fakeReader struct {
	mu       sync.Mutex
	records  []*model.Record
	lastSeen database.Filter
	listErr  error
	pingErr  error
}

func (f *fakeReader) List(_ context.Context, filter database.Filter) ([]*model.Record, error) {
	f.mu.Lock()
	f.lastSeen = filter
	f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*model.Record
	for _, r := range f.records {
		if filter.Source != "" && r.Source != filter.Source {
			continue
		}
		if filter.MinRisk.IsAssigned() && r.RiskLevel < filter.MinRisk {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeReader) Get(_ context.Context, id string) (*model.Record, error) {
	for _, r := range f.records {
		if r.DedupID == id {
			return r, nil
		}
	}
	return nil, nil
}

func (f *fakeReader) Ping(context.Context) error { return f.pingErr }

func newTestServer(t *testing.T, reader Reader) *httptest.Server {
	t.Helper()

	reg := prometheus.NewRegistry()
	promauto.With(reg).NewCounter(prometheus.CounterOpts{Name: "tricrawl_test_total", Help: "test"}).Inc()

	srv := httptest.NewServer(New(reader, reg, slog.New(slog.NewTextHandler(io.Discard, nil))).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func sampleRecords() []*model.Record {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	return []*model.Record{
		{DedupID: "a", Source: "ForumX", Title: "Acme Corp leak", RiskLevel: model.RiskCritical, CrawledAt: now},
		{DedupID: "b", Source: "ForumX", Title: "misc", RiskLevel: model.RiskNone, CrawledAt: now},
		{DedupID: "c", Source: "LockBit", Title: "victim", RiskLevel: model.RiskHigh, CrawledAt: now},
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		pingErr error
		want    int
	}{
		{"store reachable", nil, http.StatusOK},
		{"store down", errors.New("connection refused"), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := newTestServer(t, &fakeReader{pingErr: tt.pingErr})
			resp, err := http.Get(srv.URL + "/healthz")
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("expected %d, got %d", tt.want, resp.StatusCode)
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeReader{})
	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), "tricrawl_test_total 1") {
		t.Errorf("metric missing from body:\n%s", body)
	}
}

func TestListLeaks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantIDs    []string
	}{
		{"all", "", http.StatusOK, []string{"a", "b", "c"}},
		{"by source", "?source=LockBit", http.StatusOK, []string{"c"}},
		{"min risk lower case", "?min_risk=high", http.StatusOK, []string{"a", "c"}},
		{"bad risk", "?min_risk=severe", http.StatusBadRequest, nil},
		{"bad since", "?since=yesterday", http.StatusBadRequest, nil},
		{"bad limit", "?limit=-1", http.StatusBadRequest, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := newTestServer(t, &fakeReader{records: sampleRecords()})
			resp, err := http.Get(srv.URL + "/api/v1/leaks" + tt.query)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, resp.StatusCode)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}

			var body leaksResponse
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			if body.Count != len(tt.wantIDs) {
				t.Fatalf("expected %d records, got %d", len(tt.wantIDs), body.Count)
			}
			for i, rec := range body.Records {
				if rec.DedupID != tt.wantIDs[i] {
					t.Errorf("position %d: want %s got %s", i, tt.wantIDs[i], rec.DedupID)
				}
			}
		})
	}
}

func TestListLeaksFilterParsing(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{}
	srv := newTestServer(t, reader)

	resp, err := http.Get(srv.URL + "/api/v1/leaks?limit=5000&offset=20&since=2024-05-01T00:00:00Z")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	reader.mu.Lock()
	defer reader.mu.Unlock()
	if reader.lastSeen.Limit != maxLimit {
		t.Errorf("limit should be capped at %d, got %d", maxLimit, reader.lastSeen.Limit)
	}
	if reader.lastSeen.Offset != 20 {
		t.Errorf("offset: %d", reader.lastSeen.Offset)
	}
	if !reader.lastSeen.Since.Equal(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("since: %v", reader.lastSeen.Since)
	}
}

func TestListLeaksStoreError(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeReader{listErr: errors.New("boom")})
	resp, err := http.Get(srv.URL + "/api/v1/leaks")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", resp.StatusCode)
	}
}

func TestGetLeak(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeReader{records: sampleRecords()})

	resp, err := http.Get(srv.URL + "/api/v1/leaks/a")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var rec model.Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		t.Fatal(err)
	}
	if rec.RiskLevel != model.RiskCritical {
		t.Errorf("risk: %v", rec.RiskLevel)
	}

	missing, err := http.Get(srv.URL + "/api/v1/leaks/zzz")
	if err != nil {
		t.Fatal(err)
	}
	defer missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", missing.StatusCode)
	}
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	s := New(&fakeReader{}, prometheus.NewRegistry(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
