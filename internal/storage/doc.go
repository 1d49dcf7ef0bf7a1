// Package storage defines the Store contract and the pipeline stage that
// upserts items into it.
//
// The stage extracts author contacts from the item content, converts the
// item to a model.Record and upserts it keyed by DedupID, so the last write
// wins. A failed write never drops the item.
package storage
