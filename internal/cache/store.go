package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/nao1215/tricrawl/internal/model"
	"github.com/nao1215/tricrawl/internal/storage"
)

// identities is the part of IdentityCache used by CachedStore.
type identities interface {
	Remember(ctx context.Context, id string, crawledAt time.Time) error
	Recent(ctx context.Context, limit int) ([]string, error)
	Seed(ctx context.Context, ids []string, complete bool) error
	Complete(ctx context.Context) (bool, error)
}

// CachedStore is a storage.Store that answers identity loads from Redis.
//
// The wrapped store stays the source of truth. A cache read is served when
// it returns limit identities, or fewer when the cache is marked complete,
// that is when it was seeded from a store load that returned everything
// the store holds. Any other read falls through to the store, whose answer
// then seeds the cache. A cache failure never fails a load or an Upsert.
//
// The complete marker assumes every writer of the store goes through a
// CachedStore on the same Redis key.
type CachedStore struct {
	store  storage.Store
	cache  identities
	logger *slog.Logger
}

var _ storage.Store = (*CachedStore)(nil)

// NewCachedStore wraps store with cache. A nil logger uses slog.Default().
func NewCachedStore(store storage.Store, cache *IdentityCache, logger *slog.Logger) *CachedStore {
	return newCachedStore(store, cache, logger)
}

func newCachedStore(store storage.Store, cache identities, logger *slog.Logger) *CachedStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedStore{store: store, cache: cache, logger: logger}
}

// LoadRecentIdentities implements storage.Store.
func (c *CachedStore) LoadRecentIdentities(ctx context.Context, limit int) ([]string, error) {
	ids, err := c.cache.Recent(ctx, limit)
	if err != nil {
		c.logger.Warn("identity cache read failed, using store", "error", err)
		return c.store.LoadRecentIdentities(ctx, limit)
	}
	if len(ids) >= limit {
		c.logger.Debug("identities served from cache", "count", len(ids))
		return ids, nil
	}

	complete, err := c.cache.Complete(ctx)
	if err != nil {
		c.logger.Warn("identity cache check failed, using store", "error", err)
	}
	if complete {
		c.logger.Debug("identities served from cache", "count", len(ids), "complete", true)
		return ids, nil
	}

	ids, err = c.store.LoadRecentIdentities(ctx, limit)
	if err != nil {
		return nil, err
	}
	// Fewer than limit means the store holds nothing else.
	if err := c.cache.Seed(ctx, ids, len(ids) < limit); err != nil {
		c.logger.Warn("identity cache seed failed", "count", len(ids), "error", err)
	}
	return ids, nil
}

// Upsert implements storage.Store.
func (c *CachedStore) Upsert(ctx context.Context, rec *model.Record) error {
	if err := c.store.Upsert(ctx, rec); err != nil {
		return err
	}
	if err := c.cache.Remember(ctx, rec.DedupID, rec.CrawledAt); err != nil {
		c.logger.Warn("identity cache write failed", "dedup_id", rec.DedupID, "error", err)
	}
	return nil
}
