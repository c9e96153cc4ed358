package engine

import (
	"context"
	"time"
)

// Cache holds the active record list of each owner.
// This allows swapping between in-memory, Redis, or other caching implementations
type Cache interface {
	// Get retrieves cached records, returns nil on a miss or expiry.
	// An owner cached with no records yields an empty, non-nil slice.
	Get(ctx context.Context, owner Owner) []*Record

	// Set stores records in cache
	Set(ctx context.Context, owner Owner, records []*Record)

	// Invalidate clears the owner's entry, forcing a refresh on next Get
	Invalidate(ctx context.Context, owner Owner)

	// IsValid returns true if the cache has valid data for owner
	IsValid(ctx context.Context, owner Owner) bool
}

// CacheConfig holds configuration for cache behavior
type CacheConfig struct {
	// TTL is the time-to-live for cached entries
	// Set to 0 for no expiration (manual invalidation only)
	TTL time.Duration
}

// DefaultCacheConfig returns the default record caching settings
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL: 0, // No TTL - only invalidate on mutations
	}
}
