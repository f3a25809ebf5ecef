package store

import (
	"sort"
	"sync"

	"github.com/i474232898/weather-time-animator/internal/capabilities"
)

// MemoryStore is a concurrency-safe in-memory capabilities cache.
type MemoryStore struct {
	mu sync.RWMutex

	// key: canonical service url
	data map[string]capabilities.Entry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]capabilities.Entry)}
}

// Put stores or replaces the entry for e.URL.
func (s *MemoryStore) Put(e capabilities.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[e.URL] = e
	return nil
}

// Get returns the entry for url.
func (s *MemoryStore) Get(url string) (capabilities.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.data[url]
	if !ok {
		return capabilities.Entry{}, capabilities.ErrNotFound
	}
	return e, nil
}

// Purge drops every entry not stamped by the given pass.
func (s *MemoryStore) Purge(stamp int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k, e := range s.data {
		if e.UpdatedAt != stamp {
			delete(s.data, k)
			n++
		}
	}
	return n, nil
}

// List returns every entry ordered by URL.
func (s *MemoryStore) List() ([]capabilities.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]capabilities.Entry, 0, len(s.data))
	for _, e := range s.data {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out, nil
}
