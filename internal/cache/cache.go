// Package cache implements a small in-memory TTL cache with
// single-flight population: concurrent misses on the same key trigger
// exactly one populate call.
package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/yairfalse/vahti/telemetry"
)

// entry is one cached value with its creation time and TTL.
type entry struct {
	value     any
	createdAt time.Time
	ttl       time.Duration
}

func (e entry) expired(now time.Time) bool {
	return now.Sub(e.createdAt) >= e.ttl
}

// Stats reports cache effectiveness counters.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Populates int64 `json:"populates"`
	Entries   int   `json:"entries"`
}

// Cache is a TTL cache keyed by string.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	group   singleflight.Group
	stats   Stats

	// now is swappable for tests.
	now func() time.Time
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// PopulateFunc produces a fresh value on cache miss.
type PopulateFunc func(ctx context.Context) (any, error)

// GetOrPopulate returns the cached value for key when it is within its
// TTL, otherwise runs populate once (single-flight across concurrent
// callers) and stores the result with the given TTL before returning.
func (c *Cache) GetOrPopulate(ctx context.Context, key string, ttl time.Duration, populate PopulateFunc) (any, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && !e.expired(c.now()) {
		c.stats.Hits++
		c.mu.Unlock()
		telemetry.RecordCacheLookup(ctx, key, true)
		return e.value, nil
	}
	c.stats.Misses++
	c.mu.Unlock()
	telemetry.RecordCacheLookup(ctx, key, false)

	value, err, _ := c.group.Do(key, func() (any, error) {
		// Re-check under the flight: a sibling may have populated
		// between our miss and acquiring the flight.
		c.mu.Lock()
		if e, ok := c.entries[key]; ok && !e.expired(c.now()) {
			c.mu.Unlock()
			return e.value, nil
		}
		c.mu.Unlock()

		fresh, err := populate(ctx)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.entries[key] = entry{value: fresh, createdAt: c.now(), ttl: ttl}
		c.stats.Populates++
		c.mu.Unlock()
		return fresh, nil
	})
	return value, err
}

// Peek returns the cached value without populating. ok is false when
// absent or expired.
func (c *Cache) Peek(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || e.expired(c.now()) {
		return nil, false
	}
	return e.value, true
}

// Invalidate removes one key.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear removes every entry. Counters survive.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

// Snapshot returns current stats.
func (c *Cache) Snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = len(c.entries)
	return s
}
