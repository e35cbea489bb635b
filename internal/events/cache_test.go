package events

import (
	"testing"
	"time"
)

func newTestCache(size int, ttl time.Duration) (*queryCache, *time.Time) {
	current := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := newQueryCache(size, ttl)
	c.now = func() time.Time { return current }
	return c, &current
}

func TestCacheGetPutRoundTrip(t *testing.T) {
	c, _ := newTestCache(4, time.Minute)

	if _, ok := c.get("missing"); ok {
		t.Error("hit on empty cache")
	}

	c.put("k", []Event{{ID: "e1"}})
	got, ok := c.get("k")
	if !ok || len(got) != 1 || got[0].ID != "e1" {
		t.Errorf("cached value not returned: %v %v", got, ok)
	}
}

func TestCacheEntriesExpire(t *testing.T) {
	c, current := newTestCache(4, time.Minute)

	c.put("k", []Event{{ID: "e1"}})

	*current = current.Add(59 * time.Second)
	if _, ok := c.get("k"); !ok {
		t.Error("entry expired early")
	}

	*current = current.Add(2 * time.Second)
	if _, ok := c.get("k"); ok {
		t.Error("expired entry returned")
	}
	if c.len() != 0 {
		t.Errorf("expired entry not removed, len=%d", c.len())
	}
}

func TestCacheEvictsExpiredBeforeLive(t *testing.T) {
	c, current := newTestCache(2, time.Minute)

	c.put("old", []Event{{ID: "e1"}})
	*current = current.Add(2 * time.Minute)
	c.put("live", []Event{{ID: "e2"}})

	// Cache is full; inserting must evict the expired entry, not the live one.
	c.put("new", []Event{{ID: "e3"}})

	if _, ok := c.get("live"); !ok {
		t.Error("live entry evicted while an expired one existed")
	}
	if _, ok := c.get("new"); !ok {
		t.Error("new entry missing")
	}
}

func TestCacheEvictsLeastRecentlyHit(t *testing.T) {
	c, current := newTestCache(2, time.Hour)

	c.put("a", []Event{{ID: "ea"}})
	*current = current.Add(time.Second)
	c.put("b", []Event{{ID: "eb"}})

	// Touch "a" so "b" becomes the least recently hit.
	*current = current.Add(time.Second)
	c.get("a")

	*current = current.Add(time.Second)
	c.put("c", []Event{{ID: "ec"}})

	if _, ok := c.get("b"); ok {
		t.Error("least-recently-hit entry survived eviction")
	}
	if _, ok := c.get("a"); !ok {
		t.Error("recently hit entry evicted")
	}
}

func TestCacheInvalidateDropsEverything(t *testing.T) {
	c, _ := newTestCache(4, time.Minute)

	c.put("a", nil)
	c.put("b", nil)
	c.invalidate()

	if c.len() != 0 {
		t.Errorf("expected empty cache after invalidate, len=%d", c.len())
	}
}
