package documents

import (
	"sync"
	"time"
)

// projection is one cached document together with its dependent panels
type projection struct {
	doc         *Document
	versions    []Version
	projectedAt time.Time
	panelsAt    time.Time
	// generation changes on every Apply; panel updates keep it
	generation uint64
}

// ProjectionCache provides in-memory caching for document projections
type ProjectionCache struct {
	data    map[string]*cacheEntry
	ttl     time.Duration
	mu      sync.RWMutex
	cleanup *time.Ticker
	done    chan struct{}
	once    sync.Once

	hits   int64
	misses int64
}

// cacheEntry represents a cache entry with expiration
type cacheEntry struct {
	value      *projection
	expiration time.Time
}

// CacheStats reports cache usage
type CacheStats struct {
	Size    int     `json:"size"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// NewProjectionCache creates a cache whose entries expire ttl after their last write
func NewProjectionCache(ttl time.Duration) *ProjectionCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	cache := &ProjectionCache{
		data:    make(map[string]*cacheEntry),
		ttl:     ttl,
		cleanup: time.NewTicker(time.Minute),
		done:    make(chan struct{}),
	}

	go cache.cleanupLoop()

	return cache
}

func (c *ProjectionCache) get(id string) (*projection, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[id]
	if !ok || time.Now().After(entry.expiration) {
		c.misses++
		return nil, false
	}
	c.hits++
	return entry.value, true
}

func (c *ProjectionCache) set(id string, value *projection) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[id] = &cacheEntry{
		value:      value,
		expiration: time.Now().Add(c.ttl),
	}
}

// Delete removes a projection
func (c *ProjectionCache) Delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.data, id)
}

// Keys returns the ids of all live projections
func (c *ProjectionCache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := time.Now()
	keys := make([]string, 0, len(c.data))
	for key, entry := range c.data {
		if now.Before(entry.expiration) {
			keys = append(keys, key)
		}
	}
	return keys
}

// Stats returns cache statistics
func (c *ProjectionCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	total := c.hits + c.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}
	return CacheStats{
		Size:    len(c.data),
		Hits:    c.hits,
		Misses:  c.misses,
		HitRate: hitRate,
	}
}

// cleanupLoop periodically removes expired entries
func (c *ProjectionCache) cleanupLoop() {
	for {
		select {
		case <-c.cleanup.C:
			c.removeExpired()
		case <-c.done:
			return
		}
	}
}

func (c *ProjectionCache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.data {
		if now.After(entry.expiration) {
			delete(c.data, key)
		}
	}
}

// Stop stops the cleanup goroutine
func (c *ProjectionCache) Stop() {
	c.once.Do(func() {
		c.cleanup.Stop()
		close(c.done)
	})
}
