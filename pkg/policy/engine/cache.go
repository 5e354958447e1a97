package engine

import (
	"sync"
	"time"
)

// CacheStats is a point-in-time view of the decision cache.
type CacheStats struct {
	Hits          uint64        `json:"hits"`
	Misses        uint64        `json:"misses"`
	Entries       int           `json:"entries"`
	Evictions     uint64        `json:"evictions"`
	Invalidations uint64        `json:"invalidations"`
	TTL           time.Duration `json:"ttl"`
}

// HitRate returns hits / (hits + misses), or 0 before the first lookup.
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

type cacheEntry struct {
	verdict   *Verdict
	storedAt  time.Time
	expiresAt time.Time
}

// DecisionCache maps context fingerprints to verdicts. Entries expire after
// the TTL; when the cache is full the oldest entry is evicted.
//
// Every entry belongs to a generation. Invalidate moves the cache to a new
// generation and drops all entries; a Put tagged with any other generation
// is discarded, so an evaluation that started before a rule change cannot
// store its verdict after it.
type DecisionCache struct {
	mu         sync.Mutex
	entries    map[string]*cacheEntry
	ttl        time.Duration
	maxEntries int
	generation uint64

	hits          uint64
	misses        uint64
	evictions     uint64
	invalidations uint64

	now func() time.Time

	stopCh    chan struct{}
	closeOnce sync.Once
}

// NewDecisionCache creates a cache. TTLs below MinCacheTTL are raised to it.
// A positive cleanupInterval starts a background sweep of expired entries.
func NewDecisionCache(ttl time.Duration, maxEntries int, cleanupInterval time.Duration) *DecisionCache {
	c := &DecisionCache{
		entries:    make(map[string]*cacheEntry),
		ttl:        clampTTL(ttl),
		maxEntries: maxEntries,
		now:        time.Now,
		stopCh:     make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go c.cleanupExpired(cleanupInterval)
	}
	return c
}

func clampTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultCacheTTL
	}
	if ttl < MinCacheTTL {
		return MinCacheTTL
	}
	return ttl
}

// Get returns a copy of the verdict stored under fingerprint.
func (c *DecisionCache) Get(fingerprint string) (*Verdict, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[fingerprint]
	if !ok {
		c.misses++
		return nil, false
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.entries, fingerprint)
		c.misses++
		return nil, false
	}
	c.hits++
	return entry.verdict.Clone(), true
}

// Put stores a copy of v under fingerprint if generation is current. It
// reports whether the verdict was stored.
func (c *DecisionCache) Put(fingerprint string, v *Verdict, generation uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if generation != c.generation {
		return false
	}

	if c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		if _, exists := c.entries[fingerprint]; !exists {
			c.evictOldestLocked()
		}
	}

	now := c.now()
	c.entries[fingerprint] = &cacheEntry{
		verdict:   v.Clone(),
		storedAt:  now,
		expiresAt: now.Add(c.ttl),
	}
	return true
}

// Generation returns the current generation.
func (c *DecisionCache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Invalidate drops every entry and moves the cache to generation.
func (c *DecisionCache) Invalidate(generation uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation = generation
	c.entries = make(map[string]*cacheEntry)
	c.invalidations++
}

// Clear drops every entry without changing the generation.
func (c *DecisionCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*cacheEntry)
	c.invalidations++
}

// SetTTL changes the TTL for entries stored from now on and returns the
// effective value.
func (c *DecisionCache) SetTTL(ttl time.Duration) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ttl = clampTTL(ttl)
	return c.ttl
}

// Size returns the number of stored entries, expired ones included.
func (c *DecisionCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns the cache counters.
func (c *DecisionCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return CacheStats{
		Hits:          c.hits,
		Misses:        c.misses,
		Entries:       len(c.entries),
		Evictions:     c.evictions,
		Invalidations: c.invalidations,
		TTL:           c.ttl,
	}
}

// Close stops the background sweep. Close is safe to call more than once.
func (c *DecisionCache) Close() {
	c.closeOnce.Do(func() {
		close(c.stopCh)
	})
}

// evictOldestLocked removes the entry stored first.
// Must be called with the lock held.
func (c *DecisionCache) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for key, entry := range c.entries {
		if oldestKey == "" || entry.storedAt.Before(oldest) {
			oldestKey = key
			oldest = entry.storedAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
		c.evictions++
	}
}

func (c *DecisionCache) cleanupExpired(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.stopCh:
			return
		}
	}
}

// removeExpired deletes expired entries and returns how many were removed.
func (c *DecisionCache) removeExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}
