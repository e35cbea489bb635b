package events

import (
	"sync"
	"time"
)

// cacheEntry is one cached query result.
type cacheEntry struct {
	events    []Event
	expiresAt time.Time
	lastHit   time.Time
}

// queryCache is the bounded read-side cache for filtered event queries.
// When full it evicts the least-recently-hit entry, tie-broken by nearest
// expiry.
type queryCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	maxSize int
	ttl     time.Duration

	now func() time.Time
}

// newQueryCache creates a cache holding at most maxSize entries, each valid
// for ttl.
func newQueryCache(maxSize int, ttl time.Duration) *queryCache {
	if maxSize <= 0 {
		maxSize = 128
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &queryCache{
		entries: make(map[string]*cacheEntry),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// get returns the cached result for key if present and unexpired.
func (c *queryCache) get(key string) ([]Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}

	now := c.now()
	if now.After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}

	entry.lastHit = now
	return entry.events, true
}

// put stores a query result, evicting if the cache is full.
func (c *queryCache) put(key string, events []Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictLocked(now)
	}

	c.entries[key] = &cacheEntry{
		events:    events,
		expiresAt: now.Add(c.ttl),
		lastHit:   now,
	}
}

// invalidate drops every cached result. Called after a successful write so
// filtered reads never return stale data.
func (c *queryCache) invalidate() {
	c.mu.Lock()
	c.entries = make(map[string]*cacheEntry)
	c.mu.Unlock()
}

// len reports the current number of cached entries.
func (c *queryCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictLocked removes expired entries first; if none were expired it evicts
// the least-recently-hit entry, preferring the one closest to expiry on a
// tie. Must be called with the lock held.
func (c *queryCache) evictLocked(now time.Time) {
	evicted := false
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
			evicted = true
		}
	}
	if evicted {
		return
	}

	var victim string
	var victimEntry *cacheEntry
	for key, entry := range c.entries {
		if victimEntry == nil ||
			entry.lastHit.Before(victimEntry.lastHit) ||
			(entry.lastHit.Equal(victimEntry.lastHit) && entry.expiresAt.Before(victimEntry.expiresAt)) {
			victim = key
			victimEntry = entry
		}
	}
	if victimEntry != nil {
		delete(c.entries, victim)
	}
}
