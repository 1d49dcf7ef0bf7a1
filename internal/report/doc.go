// Package report renders run summaries and exports stored records.
//
// A Report gathers the pipeline.Summary of every site crawled in one
// invocation. It is written as JSON, as Markdown with a mermaid risk chart,
// or as plain text. Stored records are exported as JSONL or CSV.
package report
