package dedup

import (
	"crypto/md5" //nolint:gosec // identity key, not a security boundary
	"encoding/hex"
	"sync"

	"github.com/nao1215/tricrawl/internal/model"
)

// ComputeIdentity returns the item's stable identity.
//
// A DedupID set by the extractor wins. Otherwise the identity is the lowercase
// hex MD5 of "title|author", which is written back onto the item. MD5 keeps
// ids compatible with rows written by earlier deployments.
//
// Two posts with the same title and author share one identity even when their
// content differs.
func ComputeIdentity(item *model.Item) string {
	if item.DedupID != "" {
		return item.DedupID
	}
	item.DedupID = identityOf(item.Title, item.Author)
	return item.DedupID
}

func identityOf(title, author string) string {
	sum := md5.Sum([]byte(title + "|" + author)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// IdentitySet is a concurrency-safe set of identities.
// The crawler reads it through Seen while the pipeline adds to it.
type IdentitySet struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

// NewIdentitySet creates a set holding ids.
func NewIdentitySet(ids ...string) *IdentitySet {
	s := &IdentitySet{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		if id != "" {
			s.ids[id] = struct{}{}
		}
	}
	return s
}

// Contains reports whether id is in the set.
func (s *IdentitySet) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

// Add inserts id and reports whether it was new.
func (s *IdentitySet) Add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

// Len returns the number of identities.
func (s *IdentitySet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}
