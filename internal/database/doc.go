// Package database provides the persistent leak stores for TriCrawl.
//
// Two backends implement Repository over the same darkweb_leaks table:
//   - LeakDB: a single SQLite file (modernc.org/sqlite), the default
//   - PostgresDB: a pgx connection pool, used when a database URL is configured
//
// Rows are keyed by dedup_id. Writing a record whose dedup_id already exists
// replaces every column, so re-crawling an item refreshes its counters and
// risk without creating a second row.
//
// Schemas are embedded and applied with golang-migrate when a store is
// opened. Queries are built with squirrel so that both backends share the
// filter logic and differ only in placeholder format and column encoding:
// SQLite stores keyword lists and contacts as JSON text and crawled_at as a
// fixed-width UTC string, PostgreSQL uses text[], jsonb and timestamptz.
package database
