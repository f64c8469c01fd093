// Package storage layers a read-through cache over the record store.
// A cache entry lives until Invalidate drops it; the next read
// re-fetches from the backing store.
package storage

import (
	"context"
	"sync"
)

// Fetch loads the value for key from the backing store. found=false
// means the key has no record; that outcome is not cached.
type Fetch[K comparable, V any] func(ctx context.Context, key K) (V, bool, error)

// Cache is a read-through cache. Safe for concurrent use.
type Cache[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]V
	fetch   Fetch[K, V]
}

// NewCache creates a cache over the given fetch function.
func NewCache[K comparable, V any](fetch Fetch[K, V]) *Cache[K, V] {
	return &Cache[K, V]{
		entries: make(map[K]V),
		fetch:   fetch,
	}
}

// Get returns the cached value for key, fetching and caching it on a
// miss.
//
// Postcondition: A fetch error is returned as-is and nothing is cached.
func (c *Cache[K, V]) Get(ctx context.Context, key K) (V, bool, error) {
	c.mu.Lock()
	if v, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return v, true, nil
	}
	c.mu.Unlock()

	// Fetch outside the lock; a concurrent fetch for the same key is
	// harmless, last writer wins.
	v, found, err := c.fetch(ctx, key)
	if err != nil || !found {
		return v, found, err
	}

	c.mu.Lock()
	c.entries[key] = v
	c.mu.Unlock()
	return v, true, nil
}

// Invalidate drops the entry for key so the next Get re-fetches.
func (c *Cache[K, V]) Invalidate(key K) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len returns the number of cached entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
