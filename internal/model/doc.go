// Package model defines the data structures shared by every TriCrawl stage.
//
// This package contains the following main types:
//   - Item: one crawled record as produced by an extractor and enriched by the pipeline
//   - RiskLevel: the ordinal risk tier assigned by the keyword stage
//   - Record: the persisted form of an Item, keyed by its dedup identity
//
// Models live in their own package so that the pipeline, the stages, the
// stores and the report writers can share them without import cycles.
// All types serialize to JSON with snake_case keys, which is also the
// JSONL interchange format accepted by "tricrawl ingest".
package model
