package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/nao1215/tricrawl/internal/model"
)

// PostgresDB is the PostgreSQL leak store.
// matched_keywords is a text[] and author_contacts a jsonb column.
type PostgresDB struct {
	pool *pgxpool.Pool
	sb   sq.StatementBuilderType
}

// OpenPostgres connects to the database at url and applies pending
// migrations.
func OpenPostgres(ctx context.Context, url string) (*PostgresDB, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	migErr := migratePostgres(db)
	_ = db.Close()
	if migErr != nil {
		pool.Close()
		return nil, migErr
	}

	return &PostgresDB{
		pool: pool,
		sb:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}, nil
}

// Close closes the connection pool.
func (p *PostgresDB) Close() error {
	p.pool.Close()
	return nil
}

// Ping checks the connection.
func (p *PostgresDB) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Upsert inserts rec or replaces the row with the same dedup_id.
func (p *PostgresDB) Upsert(ctx context.Context, rec *model.Record) error {
	if rec.DedupID == "" {
		return ErrEmptyDedupID
	}
	contacts := rec.AuthorContacts
	if contacts == nil {
		contacts = map[string][]string{}
	}

	query, args, err := p.sb.Insert(tableName).
		Columns(columns...).
		Values(
			rec.DedupID,
			rec.Source,
			rec.Title,
			rec.Content,
			rec.Author,
			rec.URL,
			riskOrLow(rec.RiskLevel).String(),
			nonNil(rec.MatchedKeywords),
			rec.CrawledAt.UTC(),
			rec.PostedAt,
			rec.Category,
			rec.SiteType,
			rec.Views,
			contacts,
		).
		Suffix(upsertSuffix).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build upsert: %w", err)
	}

	if _, err := p.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert record: %w", err)
	}
	return nil
}

// LoadRecentIdentities returns up to limit dedup_ids, newest crawled_at
// first.
func (p *PostgresDB) LoadRecentIdentities(ctx context.Context, limit int) ([]string, error) {
	return loadIdentities(ctx, limit, func(ctx context.Context, offset, n int) ([]string, error) {
		query, args, err := p.sb.Select("dedup_id").
			From(tableName).
			OrderBy("crawled_at DESC", "dedup_id").
			Limit(uint64(n)).
			Offset(uint64(offset)).
			ToSql()
		if err != nil {
			return nil, fmt.Errorf("failed to build identity query: %w", err)
		}

		rows, err := p.pool.Query(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to load identities: %w", err)
		}
		ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return nil, fmt.Errorf("failed to scan identities: %w", err)
		}
		return ids, nil
	})
}

// Get returns the record with dedupID, or nil if there is none.
func (p *PostgresDB) Get(ctx context.Context, dedupID string) (*model.Record, error) {
	query, args, err := p.sb.Select(columns...).
		From(tableName).
		Where(sq.Eq{"dedup_id": dedupID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rec, err := scanPostgresRecord(p.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return rec, nil
}

// List returns matching records, newest crawled_at first.
func (p *PostgresDB) List(ctx context.Context, f Filter) ([]*model.Record, error) {
	query, args, err := f.page(f.where(p.sb.Select(columns...).From(tableName), postgresTime)).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	recs := make([]*model.Record, 0)
	for rows.Next() {
		rec, err := scanPostgresRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// ForEach calls fn for every matching record, newest first.
func (p *PostgresDB) ForEach(ctx context.Context, f Filter, fn func(*model.Record) error) error {
	return forEachPage(ctx, f, p.List, fn)
}

// Count returns the number of matching records.
func (p *PostgresDB) Count(ctx context.Context, f Filter) (int, error) {
	query, args, err := f.where(p.sb.Select("COUNT(*)").From(tableName), postgresTime).ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build query: %w", err)
	}

	var n int64
	if err := p.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return int(n), nil
}

func scanPostgresRecord(row pgx.Row) (*model.Record, error) {
	var (
		rec  model.Record
		risk string
	)
	err := row.Scan(
		&rec.DedupID,
		&rec.Source,
		&rec.Title,
		&rec.Content,
		&rec.Author,
		&rec.URL,
		&risk,
		&rec.MatchedKeywords,
		&rec.CrawledAt,
		&rec.PostedAt,
		&rec.Category,
		&rec.SiteType,
		&rec.Views,
		&rec.AuthorContacts,
	)
	if err != nil {
		return nil, err
	}
	if rec.RiskLevel, err = model.ParseRiskLevel(risk); err != nil {
		return nil, err
	}
	rec.CrawledAt = rec.CrawledAt.UTC()
	rec.MatchedKeywords = nonNil(rec.MatchedKeywords)
	if rec.AuthorContacts == nil {
		rec.AuthorContacts = map[string][]string{}
	}
	return &rec, nil
}

func postgresTime(t time.Time) any {
	return t.UTC()
}
