// Package cache provides a small in-memory TTL cache used for the dedup
// fast path and for AI response caching.
//
// The cache is process-local and bounded: entries expire after a fixed TTL,
// a full sweep runs probabilistically on writes (roughly 1 in 16), and when
// the entry count still exceeds the configured maximum after a sweep the
// oldest entries are dropped. It trades strict LRU precision for a tiny
// footprint, the same trade the per-key limiter map in the HTTP layer makes.
package cache

import (
	"math/rand"
	"sort"
	"sync"
	"time"
)

// sweepProbability is the denominator of the write-triggered sweep chance.
const sweepProbability = 16

type entry[V any] struct {
	value     V
	expiresAt time.Time
	storedAt  time.Time
}

// TTL is a bounded string-keyed cache with per-entry expiry.
// It is safe for concurrent use.
type TTL[V any] struct {
	ttl        time.Duration
	maxEntries int

	mu      sync.Mutex
	entries map[string]entry[V]

	now  func() time.Time // test seam
	roll func() bool      // test seam for the probabilistic sweep
}

// NewTTL constructs a cache whose entries live for ttl and whose size is
// capped at maxEntries. maxEntries <= 0 is coerced to 1.
func NewTTL[V any](ttl time.Duration, maxEntries int) *TTL[V] {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	return &TTL[V]{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]entry[V]),
		now:        time.Now,
		roll:       func() bool { return rand.Intn(sweepProbability) == 0 },
	}
}

// Get returns the cached value for key, if present and not expired.
// Expired entries are removed on access.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value under key, refreshing its expiry. Roughly one in every
// sixteen writes also sweeps expired entries; if the cache is still over
// capacity afterwards the oldest entries are evicted.
func (c *TTL[V]) Set(key string, value V) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry[V]{value: value, expiresAt: now.Add(c.ttl), storedAt: now}

	if c.roll() || len(c.entries) > c.maxEntries {
		c.sweepLocked(now)
	}
}

// Sweep removes all expired entries and enforces the size cap.
func (c *TTL[V]) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked(c.now())
}

// Len reports the current entry count, expired entries included.
func (c *TTL[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *TTL[V]) sweepLocked(now time.Time) {
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	if len(c.entries) <= c.maxEntries {
		return
	}

	// Still over capacity: drop oldest-first until within bounds.
	type aged struct {
		key      string
		storedAt time.Time
	}
	all := make([]aged, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, aged{key: k, storedAt: e.storedAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].storedAt.Before(all[j].storedAt) })
	for i := 0; len(c.entries) > c.maxEntries && i < len(all); i++ {
		delete(c.entries, all[i].key)
	}
}
