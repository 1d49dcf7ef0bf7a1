// Package dedup implements the first pipeline stage: cross-run
// deduplication.
//
// Each run seeds an IdentitySet with the most recent identities from
// storage, bounded by WithMaxEntries (DefaultMaxEntries otherwise), then
// drops every item whose identity is already in the set. New identities are
// added as items pass, so a repeat within the same run is dropped too.
//
// The identity of an item is its extractor-supplied DedupID or the MD5 of
// "title|author". See ComputeIdentity. Content, views and timestamps are not
// hashed: forums bump posts and edit bodies, and a bumped post is not a new
// leak.
//
// # Storage window
//
// Only the newest identities are loaded, so the memory cost of a run stays
// flat however large the store grows. The window is a trade: a post that
// falls out of it and reappears on a board passes dedup, is upserted over
// its old row and notified once more.
//
// # Extractor pre-filter
//
// Stage.Seen exposes the set to extractors. A spider that checks it before
// fetching a post page avoids a request over Tor for every known post, and
// reports those rows as skipped instead of emitting them.
package dedup
