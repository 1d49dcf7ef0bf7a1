// Package cache keeps the newest dedup identities in Redis so that runs on
// different hosts share one seen set without reading the whole leak table.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultKey is the sorted set holding the identities.
	DefaultKey = "tricrawl:identities"

	// DefaultMaxEntries bounds the sorted set.
	DefaultMaxEntries = 20000
)

// ErrNoAddr is returned by Dial when no address is configured.
var ErrNoAddr = errors.New("redis address is empty")

// Dial connects to the Redis server at addr and checks it with PING.
func Dial(ctx context.Context, addr string) (*redis.Client, error) {
	if addr == "" {
		return nil, ErrNoAddr
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return client, nil
}

// IdentityCache stores identities in a sorted set scored by crawl time.
type IdentityCache struct {
	client     redis.Cmdable
	key        string
	maxEntries int64
}

// IdentityCacheOption configures an IdentityCache.
type IdentityCacheOption func(*IdentityCache)

// WithKey sets the sorted set key.
func WithKey(key string) IdentityCacheOption {
	return func(c *IdentityCache) {
		if key != "" {
			c.key = key
		}
	}
}

// WithMaxEntries bounds the sorted set. Non-positive values keep the default.
func WithMaxEntries(n int) IdentityCacheOption {
	return func(c *IdentityCache) {
		if n > 0 {
			c.maxEntries = int64(n)
		}
	}
}

// NewIdentityCache creates an IdentityCache on client.
func NewIdentityCache(client redis.Cmdable, opts ...IdentityCacheOption) *IdentityCache {
	c := &IdentityCache{
		client:     client,
		key:        DefaultKey,
		maxEntries: DefaultMaxEntries,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Remember records id as crawled at the given time and trims the set to the
// newest maxEntries members.
func (c *IdentityCache) Remember(ctx context.Context, id string, crawledAt time.Time) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, c.key, redis.Z{Score: float64(crawledAt.UnixMilli()), Member: id})
		pipe.ZRemRangeByRank(ctx, c.key, 0, -c.maxEntries-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to remember identity: %w", err)
	}
	return nil
}

// Recent returns up to limit identities, newest first.
func (c *IdentityCache) Recent(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		return []string{}, nil
	}
	ids, err := c.client.ZRevRange(ctx, c.key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read identities: %w", err)
	}
	return ids, nil
}

// Seed adds ids, newest first, below every identity added by Remember.
// Members already present keep their crawl time. When complete is set the
// cache is marked as holding every stored identity.
func (c *IdentityCache) Seed(ctx context.Context, ids []string, complete bool) error {
	if len(ids) == 0 && !complete {
		return nil
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(ids) > 0 {
			members := make([]redis.Z, len(ids))
			for i, id := range ids {
				// Crawl times are positive, so seeded members rank last.
				members[i] = redis.Z{Score: float64(-i), Member: id}
			}
			pipe.ZAddNX(ctx, c.key, members...)
			pipe.ZRemRangeByRank(ctx, c.key, 0, -c.maxEntries-1)
		}
		if complete {
			pipe.Set(ctx, c.completeKey(), "1", 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to seed identities: %w", err)
	}
	return nil
}

// Complete reports whether the cache holds every stored identity. A set
// that reached maxEntries has been trimmed and is never complete.
func (c *IdentityCache) Complete(ctx context.Context) (bool, error) {
	var marked, card *redis.IntCmd
	_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		marked = pipe.Exists(ctx, c.completeKey())
		card = pipe.ZCard(ctx, c.key)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to check identity cache: %w", err)
	}
	return marked.Val() == 1 && card.Val() < c.maxEntries, nil
}

func (c *IdentityCache) completeKey() string {
	return c.key + ":complete"
}

// Len returns the number of cached identities.
func (c *IdentityCache) Len(ctx context.Context) (int64, error) {
	n, err := c.client.ZCard(ctx, c.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count identities: %w", err)
	}
	return n, nil
}
