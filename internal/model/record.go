package model

import "time"

// Record is the persisted form of an Item.
// Records are keyed by DedupID; writing a Record whose DedupID already exists
// replaces the stored row.
type Record struct {
	DedupID         string              `json:"dedup_id"`
	Source          string              `json:"source"`
	Title           string              `json:"title"`
	Content         string              `json:"content"`
	Author          string              `json:"author"`
	URL             string              `json:"url"`
	RiskLevel       RiskLevel           `json:"risk_level"`
	MatchedKeywords []string            `json:"matched_keywords"`
	CrawledAt       time.Time           `json:"crawled_at"`
	PostedAt        string              `json:"posted_at"`
	Category        string              `json:"category,omitempty"`
	SiteType        string              `json:"site_type,omitempty"`
	Views           *int                `json:"views"`
	AuthorContacts  map[string][]string `json:"author_contacts"`
}

// NewRecord builds a Record from a processed Item.
//
// MatchedKeywords is the union of conditional and target matches, without
// duplicates. An unscored item is stored as RiskLow. crawledAt is converted
// to UTC.
func NewRecord(item *Item, crawledAt time.Time) *Record {
	risk := item.RiskLevel
	if !risk.IsAssigned() {
		risk = RiskLow
	}

	contacts := item.AuthorContacts
	if contacts == nil {
		contacts = map[string][]string{}
	}

	return &Record{
		DedupID:         item.DedupID,
		Source:          item.Source,
		Title:           item.Title,
		Content:         item.Content,
		Author:          item.Author,
		URL:             item.URL,
		RiskLevel:       risk,
		MatchedKeywords: union(item.MatchedKeywords, item.MatchedTargets),
		CrawledAt:       crawledAt.UTC(),
		PostedAt:        item.Timestamp,
		Category:        item.Category,
		SiteType:        item.SiteType,
		Views:           item.Views,
		AuthorContacts:  contacts,
	}
}

// union concatenates lists while dropping repeated values.
func union(lists ...[]string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, list := range lists {
		for _, v := range list {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}
