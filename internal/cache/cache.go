// Package cache provides a small TTL cache used to avoid redundant record
// store reads. Entries expire a fixed duration after they were written;
// writes sweep out everything already expired so the map never accumulates
// stale entries while the cache is in active use.
//
// The cache itself is not safe for concurrent use. Callers that share one
// across goroutines guard it with their own mutex.
package cache

import "time"

type entry[V any] struct {
	value   V
	written time.Time
}

// Cache is a TTL cache with write-time expiry sweeping.
type Cache[K comparable, V any] struct {
	ttl     time.Duration
	entries map[K]entry[V]
	now     func() time.Time
}

// New creates a cache whose entries expire ttl after being set.
func New[K comparable, V any](ttl time.Duration) *Cache[K, V] {
	return &Cache[K, V]{
		ttl:     ttl,
		entries: make(map[K]entry[V]),
		now:     time.Now,
	}
}

// Get returns the cached value if present and not expired. An expired entry
// is evicted on access and reported as a miss.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	var zero V
	e, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if c.now().Sub(e.written) >= c.ttl {
		delete(c.entries, key)
		return zero, false
	}
	return e.value, true
}

// Set stores the value with the current time, then sweeps all expired
// entries.
func (c *Cache[K, V]) Set(key K, value V) {
	now := c.now()
	c.entries[key] = entry[V]{value: value, written: now}
	for k, e := range c.entries {
		if now.Sub(e.written) >= c.ttl {
			delete(c.entries, k)
		}
	}
}

// Delete removes a single entry.
func (c *Cache[K, V]) Delete(key K) {
	delete(c.entries, key)
}

// Len returns the number of stored entries, expired or not.
func (c *Cache[K, V]) Len() int {
	return len(c.entries)
}

// Clear drops every entry.
func (c *Cache[K, V]) Clear() {
	c.entries = make(map[K]entry[V])
}
