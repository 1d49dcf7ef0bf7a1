package database

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/nao1215/tricrawl/internal/model"
	"github.com/nao1215/tricrawl/internal/storage"
)

const (
	// tableName is the leak table in both backends.
	tableName = "darkweb_leaks"

	// pageSize is the row count fetched per query when paging.
	pageSize = 1000
)

// columns lists the record columns in scan order.
var columns = []string{
	"dedup_id", "source", "title", "content", "author", "url", "risk_level",
	"matched_keywords", "crawled_at", "posted_at", "category", "site_type",
	"views", "author_contacts",
}

// upsertSuffix replaces every column of an existing row.
const upsertSuffix = `ON CONFLICT (dedup_id) DO UPDATE SET
	source = excluded.source,
	title = excluded.title,
	content = excluded.content,
	author = excluded.author,
	url = excluded.url,
	risk_level = excluded.risk_level,
	matched_keywords = excluded.matched_keywords,
	crawled_at = excluded.crawled_at,
	posted_at = excluded.posted_at,
	category = excluded.category,
	site_type = excluded.site_type,
	views = excluded.views,
	author_contacts = excluded.author_contacts`

// Filter selects stored records. Zero fields do not filter.
type Filter struct {
	// Source keeps records of one source.
	Source string

	// MinRisk keeps records at or above this level.
	MinRisk model.RiskLevel

	// Since keeps records crawled at or after this time.
	Since time.Time

	// Limit caps the number of records; zero means no cap.
	Limit int

	// Offset skips the first records.
	Offset int
}

// Repository is a Store that can also be read back.
// LeakDB and PostgresDB implement it.
type Repository interface {
	storage.Store

	// Get returns the record with dedupID, or nil if there is none.
	Get(ctx context.Context, dedupID string) (*model.Record, error)

	// List returns matching records, newest crawled_at first.
	List(ctx context.Context, f Filter) ([]*model.Record, error)

	// ForEach calls fn for every matching record, newest first, fetching
	// pageSize rows at a time. An error from fn stops the iteration.
	ForEach(ctx context.Context, f Filter, fn func(*model.Record) error) error

	// Count returns the number of matching records, ignoring Limit and Offset.
	Count(ctx context.Context, f Filter) (int, error)

	// Ping checks the connection.
	Ping(ctx context.Context) error

	// Close releases the connection.
	Close() error
}

// where adds the filter conditions. since converts Since into the
// backend's column representation.
func (f Filter) where(b sq.SelectBuilder, since func(time.Time) any) sq.SelectBuilder {
	if f.Source != "" {
		b = b.Where(sq.Eq{"source": f.Source})
	}
	if f.MinRisk.IsAssigned() {
		var names []string
		for _, level := range model.RiskLevels {
			if level >= f.MinRisk {
				names = append(names, level.String())
			}
		}
		b = b.Where(sq.Eq{"risk_level": names})
	}
	if !f.Since.IsZero() {
		b = b.Where(sq.GtOrEq{"crawled_at": since(f.Since)})
	}
	return b
}

// page adds ordering, limit and offset.
func (f Filter) page(b sq.SelectBuilder) sq.SelectBuilder {
	b = b.OrderBy("crawled_at DESC", "dedup_id")
	if f.Limit > 0 {
		b = b.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		b = b.Offset(uint64(f.Offset))
	}
	return b
}

// forEachPage pages through f with list, calling fn for every record.
func forEachPage(ctx context.Context, f Filter, list func(context.Context, Filter) ([]*model.Record, error), fn func(*model.Record) error) error {
	remaining := f.Limit
	page := f
	for {
		page.Limit = pageSize
		if remaining > 0 && remaining < pageSize {
			page.Limit = remaining
		}

		recs, err := list(ctx, page)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			if err := fn(rec); err != nil {
				return err
			}
		}

		if len(recs) < page.Limit {
			return nil
		}
		if remaining > 0 {
			remaining -= len(recs)
			if remaining == 0 {
				return nil
			}
		}
		page.Offset += len(recs)
	}
}

// loadIdentities pages through the newest identities until limit is reached
// or the table is exhausted.
func loadIdentities(ctx context.Context, limit int, page func(ctx context.Context, offset, n int) ([]string, error)) ([]string, error) {
	if limit <= 0 {
		return []string{}, nil
	}
	ids := make([]string, 0, min(limit, pageSize))
	for offset := 0; len(ids) < limit; offset += pageSize {
		n := min(pageSize, limit-len(ids))
		batch, err := page(ctx, offset, n)
		if err != nil {
			return nil, err
		}
		for _, id := range batch {
			if id != "" {
				ids = append(ids, id)
			}
		}
		if len(batch) < n {
			break
		}
	}
	return ids, nil
}
