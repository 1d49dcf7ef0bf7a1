package storage

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/nao1215/tricrawl/internal/model"
)

// Store persists records keyed by DedupID.
// Implementations: database.LeakDB (SQLite), database.PostgresDB,
// cache.CachedStore and MemoryStore.
type Store interface {
	// LoadRecentIdentities returns up to limit DedupIDs, newest crawled_at
	// first.
	LoadRecentIdentities(ctx context.Context, limit int) ([]string, error)

	// Upsert inserts the record or replaces the row with the same DedupID.
	Upsert(ctx context.Context, rec *model.Record) error
}

// MemoryStore is an in-process Store for dry runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*model.Record
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*model.Record)}
}

// LoadRecentIdentities implements Store.
func (m *MemoryStore) LoadRecentIdentities(_ context.Context, limit int) ([]string, error) {
	m.mu.RLock()
	recs := make([]*model.Record, 0, len(m.records))
	for _, r := range m.records {
		recs = append(recs, r)
	}
	m.mu.RUnlock()

	slices.SortFunc(recs, func(a, b *model.Record) int {
		return cmp.Or(b.CrawledAt.Compare(a.CrawledAt), cmp.Compare(a.DedupID, b.DedupID))
	})
	if limit >= 0 && len(recs) > limit {
		recs = recs[:limit]
	}

	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.DedupID
	}
	return ids, nil
}

// Upsert implements Store.
func (m *MemoryStore) Upsert(_ context.Context, rec *model.Record) error {
	c := *rec
	m.mu.Lock()
	m.records[rec.DedupID] = &c
	m.mu.Unlock()
	return nil
}

// Get returns the stored record or nil.
func (m *MemoryStore) Get(dedupID string) *model.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[dedupID]
	if !ok {
		return nil
	}
	c := *r
	return &c
}

// Len returns the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
