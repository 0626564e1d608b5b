package rules

import (
	"sync"
	"time"
)

// InMemorySchemaCache is a simple in-memory implementation of SchemaCache.
// Thread-safe for concurrent access.
type InMemorySchemaCache struct {
	schemas  []*Schema
	cachedAt time.Time
	config   CacheConfig
	now      func() time.Time
	mu       sync.RWMutex
	isValid  bool
}

// NewInMemorySchemaCache creates a new in-memory schema cache
func NewInMemorySchemaCache(config CacheConfig) *InMemorySchemaCache {
	return &InMemorySchemaCache{
		config: config,
		now:    time.Now,
	}
}

// Get retrieves cached schemas.
// Returns nil if cache is invalid or expired.
func (c *InMemorySchemaCache) Get() []*Schema {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.fresh() {
		return nil
	}

	// Return copy to prevent external modifications of the slice
	out := make([]*Schema, len(c.schemas))
	copy(out, c.schemas)
	return out
}

// Set stores schemas in cache
func (c *InMemorySchemaCache) Set(schemas []*Schema) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.schemas = make([]*Schema, len(schemas))
	copy(c.schemas, schemas)
	c.cachedAt = c.now()
	c.isValid = true
}

// Invalidate clears the cache
func (c *InMemorySchemaCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.isValid = false
	c.schemas = nil
}

// IsValid returns true if cache contains valid data
func (c *InMemorySchemaCache) IsValid() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.fresh()
}

// fresh must be called with c.mu held
func (c *InMemorySchemaCache) fresh() bool {
	if !c.isValid {
		return false
	}
	if c.config.TTL > 0 {
		return c.now().Sub(c.cachedAt) <= c.config.TTL
	}
	return true
}
