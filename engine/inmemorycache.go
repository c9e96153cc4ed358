package engine

import (
	"context"
	"sync"
	"time"
)

type cacheEntry struct {
	records  []*Record
	cachedAt time.Time
}

// InMemoryCache is a process-local Cache.
// Thread-safe for concurrent access
type InMemoryCache struct {
	entries map[Owner]cacheEntry
	config  CacheConfig
	mu      sync.RWMutex
}

// NewInMemoryCache creates a new in-memory cache
func NewInMemoryCache(config CacheConfig) *InMemoryCache {
	return &InMemoryCache{
		entries: make(map[Owner]cacheEntry),
		config:  config,
	}
}

// Get retrieves cached records
// Returns nil if the entry is missing or expired
func (c *InMemoryCache) Get(_ context.Context, owner Owner) []*Record {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[owner]
	if !ok || c.expired(entry) {
		return nil
	}

	// Return copy to prevent external modifications
	recordsCopy := make([]*Record, len(entry.records))
	copy(recordsCopy, entry.records)
	return recordsCopy
}

// Set stores records in cache
func (c *InMemoryCache) Set(_ context.Context, owner Owner, records []*Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Store copy to prevent external modifications
	stored := make([]*Record, len(records))
	copy(stored, records)
	c.entries[owner] = cacheEntry{records: stored, cachedAt: time.Now()}
}

// Invalidate clears the owner's entry
func (c *InMemoryCache) Invalidate(_ context.Context, owner Owner) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, owner)
}

// IsValid returns true if the cache contains unexpired data for owner
func (c *InMemoryCache) IsValid(_ context.Context, owner Owner) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[owner]
	return ok && !c.expired(entry)
}

func (c *InMemoryCache) expired(entry cacheEntry) bool {
	return c.config.TTL > 0 && time.Since(entry.cachedAt) > c.config.TTL
}
