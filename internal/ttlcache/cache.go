// Package ttlcache implements a generic, thread-safe cache with per-entry
// time-to-live expiry and capacity-bounded eviction.
//
// Keys are strings so that related entries can share a namespace prefix
// ("config:", "analysis:") and be invalidated in bulk with DeletePrefix.
// An entry is treated as absent once its TTL has elapsed, even if the
// background janitor has not physically removed it yet. When an insert
// would exceed capacity, the entry with the oldest storedAt is evicted
// (strict oldest-wins, not LRU-by-access).
//
// The cache never returns errors: a miss is always a valid outcome and
// callers fall through to recomputation from the source of truth.
package ttlcache

import (
	"strings"
	"sync"
	"time"
)

// entry holds a cached value with its storage time and TTL.
type entry[V any] struct {
	value    V
	storedAt time.Time
	ttl      time.Duration
}

// expired reports whether the entry's TTL has elapsed at time now.
func (e entry[V]) expired(now time.Time) bool {
	return now.Sub(e.storedAt) > e.ttl
}

// Cache is a generic, thread-safe TTL cache keyed by string.
type Cache[V any] struct {
	mu       sync.RWMutex
	capacity int
	items    map[string]entry[V]
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// Option configures a Cache.
type Option[V any] func(*Cache[V])

// WithClock overrides the cache's time source. Used by tests.
func WithClock[V any](now func() time.Time) Option[V] {
	return func(c *Cache[V]) { c.now = now }
}

// New creates a TTL cache with the given capacity and starts a background
// janitor that removes expired entries every sweepInterval. Pass a
// non-positive sweepInterval to disable the janitor (reads still treat
// expired entries as absent). Panics if capacity < 1.
func New[V any](capacity int, sweepInterval time.Duration, opts ...Option[V]) *Cache[V] {
	if capacity < 1 {
		panic("ttlcache: capacity must be >= 1")
	}

	c := &Cache[V]{
		capacity: capacity,
		items:    make(map[string]entry[V], capacity),
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if sweepInterval > 0 {
		go c.janitor(sweepInterval)
	}
	return c
}

// Get retrieves a value by key. Returns the zero value and false if the key
// is missing or its TTL has elapsed.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()

	if !ok || e.expired(c.now()) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores a value under key with the given TTL, replacing any existing
// entry. If the cache is at capacity, the entry with the oldest storedAt is
// evicted first.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[key]; !exists && len(c.items) >= c.capacity {
		c.evictOldestLocked()
	}
	c.items[key] = entry[V]{value: value, storedAt: now, ttl: ttl}
}

// Delete removes a key. Returns true if the key was present (expired or not).
func (c *Cache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.items[key]
	delete(c.items, key)
	return ok
}

// DeletePrefix removes every entry whose key starts with prefix and returns
// the number removed. This is how namespaced caches ("config:", "analysis:")
// are invalidated in bulk without enumerating business keys.
func (c *Cache[V]) DeletePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k := range c.items {
		if strings.HasPrefix(k, prefix) {
			delete(c.items, k)
			removed++
		}
	}
	return removed
}

// Clear removes all entries.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]entry[V], c.capacity)
}

// Len returns the number of stored entries, including ones that have expired
// but not yet been swept.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Stop terminates the background janitor. Safe to call more than once.
func (c *Cache[V]) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// janitor periodically removes expired entries to bound memory. Reads never
// block on a full sweep: each removal holds the lock only briefly.
func (c *Cache[V]) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

// removeExpired collects expired keys under a read lock, then deletes them
// one at a time so concurrent reads are not held up for the whole sweep.
func (c *Cache[V]) removeExpired() {
	now := c.now()

	c.mu.RLock()
	var stale []string
	for k, e := range c.items {
		if e.expired(now) {
			stale = append(stale, k)
		}
	}
	c.mu.RUnlock()

	for _, k := range stale {
		c.mu.Lock()
		if e, ok := c.items[k]; ok && e.expired(now) {
			delete(c.items, k)
		}
		c.mu.Unlock()
	}
}

// evictOldestLocked removes the entry with the earliest storedAt.
// Caller must hold the write lock.
func (c *Cache[V]) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	first := true
	for k, e := range c.items {
		if first || e.storedAt.Before(oldestAt) {
			oldestKey = k
			oldestAt = e.storedAt
			first = false
		}
	}
	if !first {
		delete(c.items, oldestKey)
	}
}
