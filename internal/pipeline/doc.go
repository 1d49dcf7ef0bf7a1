// Package pipeline drives crawled items through the TriCrawl stage chain.
//
// A run consumes one Source and pushes each emitted Item through the stages
// in a fixed order, normally:
//
//	dedup -> keyword -> storage -> archive -> notify
//
// Items are validated at the entry boundary. Each stage returns a Result:
// Keep passes the item on, Drop(reason) stops it. Drops are expected
// outcomes (a duplicate is not a failure), so stages never return errors
// for them. Stages that hold run-scoped state implement Opener and Closer;
// stages with counters implement StatsReporter, and their counters end up
// in the run Summary.
//
// A Source may report counters too. A spider does: pages fetched, rows it
// skipped as already known, rows past the age limit. They are merged into
// the Summary under SourceCounterPrefix, so a report can tell a quiet board
// from a board whose posts were all known before they were fetched.
//
// BatchProcessor runs several sources concurrently with errgroup, building
// a fresh Pipeline for each so that no stage state is shared between runs.
package pipeline
