package cache

import (
	"maps"
	"sync"
	"time"

	"riffstore/pkg/models"
)

const statisticsKey = "statistics"

// CacheEntry represents a cached item with expiration
type CacheEntry struct {
	Value      interface{}
	Expiration time.Time
	Generation uint64
}

// IsExpired checks if the cache entry has expired
func (e *CacheEntry) IsExpired() bool {
	return time.Now().After(e.Expiration)
}

// MemoryCache is an in-memory TTL cache keyed by generation. Invalidate bumps
// the generation, so values computed before an invalidation are never served
// after it, even when they are stored late.
type MemoryCache struct {
	items      map[string]*CacheEntry
	mutex      sync.RWMutex
	ttl        time.Duration
	generation uint64

	stop      chan struct{}
	closeOnce sync.Once
}

// NewMemoryCache creates a new memory cache. A ttl of zero disables caching:
// Get always misses.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	cache := &MemoryCache{
		items: make(map[string]*CacheEntry),
		ttl:   ttl,
		stop:  make(chan struct{}),
	}

	if ttl > 0 {
		interval := 5 * time.Minute
		if ttl < interval {
			interval = ttl
		}
		go cache.cleanupExpired(interval)
	}

	return cache
}

// Generation returns the current generation. Capture it before computing a
// value and pass it to Set.
func (c *MemoryCache) Generation() uint64 {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.generation
}

// Set stores a value computed during generation. Values from an older
// generation are dropped.
func (c *MemoryCache) Set(key string, value interface{}, generation uint64) {
	if c.ttl <= 0 {
		return
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if generation != c.generation {
		return
	}
	c.items[key] = &CacheEntry{
		Value:      value,
		Expiration: time.Now().Add(c.ttl),
		Generation: generation,
	}
}

// Get retrieves a value from the cache
func (c *MemoryCache) Get(key string) (interface{}, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entry, exists := c.items[key]
	if !exists || entry.IsExpired() || entry.Generation != c.generation {
		return nil, false
	}

	return entry.Value, true
}

// Invalidate starts a new generation and drops every entry.
func (c *MemoryCache) Invalidate() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.generation++
	c.items = make(map[string]*CacheEntry)
}

// Close stops the cleanup goroutine.
func (c *MemoryCache) Close() {
	c.closeOnce.Do(func() { close(c.stop) })
}

// cleanupExpired removes expired entries periodically
func (c *MemoryCache) cleanupExpired(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.mutex.Lock()
			for key, entry := range c.items {
				if entry.IsExpired() {
					delete(c.items, key)
				}
			}
			c.mutex.Unlock()
		}
	}
}

// StatsCache holds the most recent statistics snapshot.
type StatsCache struct {
	*MemoryCache
}

// NewStatsCache creates a statistics cache with the given lifetime.
func NewStatsCache(ttl time.Duration) *StatsCache {
	return &StatsCache{MemoryCache: NewMemoryCache(ttl)}
}

// SetStatistics caches a snapshot read during generation.
func (sc *StatsCache) SetStatistics(generation uint64, stats *models.Statistics) {
	sc.Set(statisticsKey, copyStatistics(stats), generation)
}

// GetStatistics returns a private copy of the cached snapshot.
func (sc *StatsCache) GetStatistics() (*models.Statistics, bool) {
	value, exists := sc.Get(statisticsKey)
	if !exists {
		return nil, false
	}

	stats, ok := value.(*models.Statistics)
	if !ok {
		return nil, false
	}
	return copyStatistics(stats), true
}

func copyStatistics(stats *models.Statistics) *models.Statistics {
	out := *stats
	out.DownloadsBySource = maps.Clone(stats.DownloadsBySource)
	if stats.LastErrorDate != nil {
		t := *stats.LastErrorDate
		out.LastErrorDate = &t
	}
	if stats.LastDownloadDate != nil {
		t := *stats.LastDownloadDate
		out.LastDownloadDate = &t
	}
	return &out
}
