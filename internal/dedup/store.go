package dedup

import (
	lru "github.com/hashicorp/golang-lru"
)

// Store is a bounded set of recently seen transaction hashes. When full, the
// oldest remembered hash is evicted first.
//
// The cache is only ever touched through Contains and ContainsOrAdd, neither
// of which refreshes recency, so LRU order stays insertion order.
type Store struct {
	capacity int
	cache    *lru.Cache
}

func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = 1
	}
	cache, err := lru.New(capacity)
	if err != nil {
		// only returned for a non-positive size
		panic(err)
	}
	return &Store{capacity: capacity, cache: cache}
}

func (s *Store) Seen(hash string) bool {
	return s.cache.Contains(hash)
}

// Remember is a no-op for hashes that are already present; it does not
// refresh their position.
func (s *Store) Remember(hash string) {
	s.cache.ContainsOrAdd(hash, struct{}{})
}

func (s *Store) Len() int {
	return s.cache.Len()
}

func (s *Store) Capacity() int {
	return s.capacity
}

// Snapshot returns the remembered hashes, oldest first.
func (s *Store) Snapshot() []string {
	keys := s.cache.Keys()
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.(string))
	}
	return out
}

// Restore replaces the content with hashes (oldest first). A list longer
// than the capacity keeps its newest entries.
func (s *Store) Restore(hashes []string) {
	s.cache.Purge()
	for _, h := range hashes {
		if h == "" {
			continue
		}
		s.Remember(h)
	}
}
