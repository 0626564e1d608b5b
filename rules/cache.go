package rules

import "time"

// SchemaCache caches the list of stored form schemas.
// This allows swapping between in-memory, Redis, or other caching implementations.
type SchemaCache interface {
	// Get retrieves cached schemas, returns nil on a miss or after expiry
	Get() []*Schema

	// Set stores schemas in cache
	Set(schemas []*Schema)

	// Invalidate clears the cache, forcing a refresh on next Get
	Invalidate()

	// IsValid returns true if cache has valid data
	IsValid() bool
}

// CacheConfig holds configuration for cache behavior
type CacheConfig struct {
	// TTL is the time-to-live for cached entries.
	// Set to 0 for no expiration (manual invalidation only).
	TTL time.Duration
}

// DefaultCacheConfig only invalidates on mutations
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL: 0,
	}
}
