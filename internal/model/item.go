package model

import "fmt"

// Item is one crawled record flowing through the pipeline.
//
// Extractors fill the required and optional attributes. The pipeline stages
// fill the injected attributes; an extractor may only pre-set DedupID, and
// only when the site offers a stable natural key.
type Item struct {
	// Source is the origin site or group name (e.g. "LockBit", "DarkNetArmy").
	Source string `json:"source"`

	// URL is the absolute URL of the post or listing.
	URL string `json:"url"`

	// Title is the post or victim title.
	Title string `json:"title"`

	// Author is the poster name. Leak sites use the group name.
	Author string `json:"author"`

	// Timestamp is the posting time as an ISO-8601 string, UTC recommended.
	Timestamp string `json:"timestamp"`

	// Content is the free-text body used for keyword matching. Empty if absent.
	Content string `json:"content,omitempty"`

	// Category is the board or listing category.
	Category string `json:"category,omitempty"`

	// SiteType classifies the site, e.g. "Forum" or "Ransomware".
	SiteType string `json:"site_type,omitempty"`

	// Views is the view counter when the site exposes one.
	Views *int `json:"views,omitempty"`

	// MatchedKeywords holds the conditional keywords found in the text.
	MatchedKeywords []string `json:"matched_keywords,omitempty"`

	// MatchedTargets holds the target names found in the text.
	MatchedTargets []string `json:"matched_targets,omitempty"`

	// AuthorContacts maps a contact type (email, telegram, ...) to the
	// distinct values extracted from Content.
	AuthorContacts map[string][]string `json:"author_contacts,omitempty"`

	// RiskLevel is assigned once by the keyword stage.
	RiskLevel RiskLevel `json:"risk_level,omitempty"`

	// DedupID is the stable identity of the item across runs.
	DedupID string `json:"dedup_id,omitempty"`
}

// Validate checks the extractor contract.
// It reports the first missing required field, then rejects items whose
// pipeline-owned attributes were already filled.
func (i *Item) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"source", i.Source},
		{"url", i.URL},
		{"title", i.Title},
		{"author", i.Author},
		{"timestamp", i.Timestamp},
	}
	for _, f := range required {
		if f.value == "" {
			return fmt.Errorf("%w: %s", ErrMissingField, f.name)
		}
	}

	switch {
	case len(i.MatchedKeywords) > 0:
		return fmt.Errorf("%w: matched_keywords", ErrPrepopulatedField)
	case len(i.MatchedTargets) > 0:
		return fmt.Errorf("%w: matched_targets", ErrPrepopulatedField)
	case len(i.AuthorContacts) > 0:
		return fmt.Errorf("%w: author_contacts", ErrPrepopulatedField)
	case i.RiskLevel.IsAssigned():
		return fmt.Errorf("%w: risk_level", ErrPrepopulatedField)
	}

	return nil
}

// Clone returns a deep copy of the item.
func (i *Item) Clone() *Item {
	c := *i
	if i.Views != nil {
		v := *i.Views
		c.Views = &v
	}
	c.MatchedKeywords = append([]string(nil), i.MatchedKeywords...)
	c.MatchedTargets = append([]string(nil), i.MatchedTargets...)
	if i.AuthorContacts != nil {
		c.AuthorContacts = make(map[string][]string, len(i.AuthorContacts))
		for k, v := range i.AuthorContacts {
			c.AuthorContacts[k] = append([]string(nil), v...)
		}
	}
	return &c
}
