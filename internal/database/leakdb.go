package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/tricrawl/internal/model"
)

// FileName is the SQLite database file inside the data directory.
const FileName = "tricrawl.db"

// timeLayout stores crawled_at with a fixed width so that text order is
// time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// LeakDB is the SQLite leak store.
// It holds one row per dedup_id in the darkweb_leaks table.
type LeakDB struct {
	// db is the underlying SQL database connection.
	db *sql.DB

	// dbPath is the path to the SQLite database file.
	dbPath string

	// sb builds queries with ? placeholders.
	sb sq.StatementBuilderType
}

// Options configures LeakDB behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates the leak database in dbDir and applies pending
// migrations.
// If CreateIfNotExists is false and the database doesn't exist,
// ErrDatabaseNotFound is returned.
func Open(dbDir string, opts Options) (*LeakDB, error) {
	dbPath := filepath.Join(dbDir, FileName)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("%w at %s (use CreateIfNotExists option to create)", ErrDatabaseNotFound, dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else {
		if err := os.MkdirAll(dbDir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// mode=rw refuses to create a missing file.
	dsn := dbPath + "?mode=rw"
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := migrateSQLite(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &LeakDB{
		db:     db,
		dbPath: dbPath,
		sb:     sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}, nil
}

// Path returns the database file path.
func (l *LeakDB) Path() string {
	return l.dbPath
}

// Close closes the database connection.
func (l *LeakDB) Close() error {
	return l.db.Close()
}

// Ping checks the connection.
func (l *LeakDB) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

// Upsert inserts rec or replaces the row with the same dedup_id.
func (l *LeakDB) Upsert(ctx context.Context, rec *model.Record) error {
	if rec.DedupID == "" {
		return ErrEmptyDedupID
	}

	keywords, err := json.Marshal(nonNil(rec.MatchedKeywords))
	if err != nil {
		return fmt.Errorf("failed to serialize keywords: %w", err)
	}
	contacts := rec.AuthorContacts
	if contacts == nil {
		contacts = map[string][]string{}
	}
	contactsJSON, err := json.Marshal(contacts)
	if err != nil {
		return fmt.Errorf("failed to serialize contacts: %w", err)
	}

	var views sql.NullInt64
	if rec.Views != nil {
		views = sql.NullInt64{Int64: int64(*rec.Views), Valid: true}
	}

	query, args, err := l.sb.Insert(tableName).
		Columns(columns...).
		Values(
			rec.DedupID,
			rec.Source,
			rec.Title,
			rec.Content,
			rec.Author,
			rec.URL,
			riskOrLow(rec.RiskLevel).String(),
			string(keywords),
			rec.CrawledAt.UTC().Format(timeLayout),
			rec.PostedAt,
			rec.Category,
			rec.SiteType,
			views,
			string(contactsJSON),
		).
		Suffix(upsertSuffix).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build upsert: %w", err)
	}

	if _, err := l.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert record: %w", err)
	}
	return nil
}

// LoadRecentIdentities returns up to limit dedup_ids, newest crawled_at
// first, reading pageSize rows per query.
func (l *LeakDB) LoadRecentIdentities(ctx context.Context, limit int) ([]string, error) {
	return loadIdentities(ctx, limit, func(ctx context.Context, offset, n int) ([]string, error) {
		query, args, err := l.sb.Select("dedup_id").
			From(tableName).
			OrderBy("crawled_at DESC", "dedup_id").
			Limit(uint64(n)).
			Offset(uint64(offset)).
			ToSql()
		if err != nil {
			return nil, fmt.Errorf("failed to build identity query: %w", err)
		}

		rows, err := l.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to load identities: %w", err)
		}
		defer rows.Close()

		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return nil, fmt.Errorf("failed to scan identity: %w", err)
			}
			ids = append(ids, id)
		}
		return ids, rows.Err()
	})
}

// Get returns the record with dedupID, or nil if there is none.
func (l *LeakDB) Get(ctx context.Context, dedupID string) (*model.Record, error) {
	query, args, err := l.sb.Select(columns...).
		From(tableName).
		Where(sq.Eq{"dedup_id": dedupID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rec, err := scanSQLiteRecord(l.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return rec, nil
}

// List returns matching records, newest crawled_at first.
func (l *LeakDB) List(ctx context.Context, f Filter) ([]*model.Record, error) {
	b := f.page(f.where(l.sb.Select(columns...).From(tableName), sqliteTime))
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	recs := make([]*model.Record, 0)
	for rows.Next() {
		rec, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// ForEach calls fn for every matching record, newest first.
func (l *LeakDB) ForEach(ctx context.Context, f Filter, fn func(*model.Record) error) error {
	return forEachPage(ctx, f, l.List, fn)
}

// Count returns the number of matching records.
func (l *LeakDB) Count(ctx context.Context, f Filter) (int, error) {
	query, args, err := f.where(l.sb.Select("COUNT(*)").From(tableName), sqliteTime).ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build query: %w", err)
	}

	var n int
	if err := l.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

// rowScanner is implemented by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRecord(row rowScanner) (*model.Record, error) {
	var (
		rec          model.Record
		risk         string
		keywordsJSON string
		crawledAt    string
		views        sql.NullInt64
		contactsJSON string
	)

	err := row.Scan(
		&rec.DedupID,
		&rec.Source,
		&rec.Title,
		&rec.Content,
		&rec.Author,
		&rec.URL,
		&risk,
		&keywordsJSON,
		&crawledAt,
		&rec.PostedAt,
		&rec.Category,
		&rec.SiteType,
		&views,
		&contactsJSON,
	)
	if err != nil {
		return nil, err
	}

	if rec.RiskLevel, err = model.ParseRiskLevel(risk); err != nil {
		return nil, err
	}
	rec.CrawledAt = parseTimestamp(crawledAt)
	if views.Valid {
		v := int(views.Int64)
		rec.Views = &v
	}
	if err := json.Unmarshal([]byte(keywordsJSON), &rec.MatchedKeywords); err != nil {
		return nil, fmt.Errorf("failed to parse keywords: %w", err)
	}
	if err := json.Unmarshal([]byte(contactsJSON), &rec.AuthorContacts); err != nil {
		return nil, fmt.Errorf("failed to parse contacts: %w", err)
	}
	rec.MatchedKeywords = nonNil(rec.MatchedKeywords)
	if rec.AuthorContacts == nil {
		rec.AuthorContacts = map[string][]string{}
	}
	return &rec, nil
}

func sqliteTime(t time.Time) any {
	return t.UTC().Format(timeLayout)
}

func riskOrLow(r model.RiskLevel) model.RiskLevel {
	if !r.IsAssigned() {
		return model.RiskLow
	}
	return r
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// timestampFormats contains the timestamp formats that may be stored.
// The order matters: more specific formats should come first.
var timestampFormats = []string{
	timeLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999",
}

// parseTimestamp attempts to parse a timestamp string using multiple formats.
// If parsing fails with all formats, returns zero time.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
