// Package memory keeps entries and blobs in process memory for dry runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/penzu-sync/internal/journal"
)

// EntryStore implements journal.DocumentStore with field-level merge semantics.
type EntryStore struct {
	mu      sync.RWMutex
	docs    map[string]journal.Entry
	upserts int
}

// NewEntryStore creates an empty in-memory entry store.
func NewEntryStore() *EntryStore {
	return &EntryStore{docs: make(map[string]journal.Entry)}
}

// Upsert merges doc into the stored document for id, inserting it when absent.
func (s *EntryStore) Upsert(_ context.Context, id any, doc journal.Entry) error {
	if id == nil {
		return fmt.Errorf("upsert: %w", journal.ErrMissingID)
	}
	key := journal.FormatID(id)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	stored, ok := s.docs[key]
	if !ok {
		stored = make(journal.Entry, len(doc)+1)
		stored["id"] = id
		s.docs[key] = stored
	}
	for k, v := range doc {
		stored[k] = v
	}
	return nil
}

// Get returns a copy of the stored document.
func (s *EntryStore) Get(id any) (journal.Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[journal.FormatID(id)]
	if !ok {
		return nil, false
	}
	out := make(journal.Entry, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out, true
}

// IDs returns the stored ids in sorted order.
func (s *EntryStore) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.docs))
	for k := range s.docs {
		ids = append(ids, k)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of stored documents.
func (s *EntryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Upserts returns how many upserts were applied.
func (s *EntryStore) Upserts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.upserts
}

// Close is a no-op.
func (s *EntryStore) Close(context.Context) error { return nil }
