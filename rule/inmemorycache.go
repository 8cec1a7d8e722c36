package rule

import (
	"sync"
	"time"
)

type cacheEntry struct {
	rules    []*Rule
	cachedAt time.Time
}

// InMemoryCache is a simple in-memory implementation of Cache, keyed by
// owner. Thread-safe for concurrent access.
type InMemoryCache struct {
	entries map[string]cacheEntry
	config  CacheConfig
	mu      sync.RWMutex
}

// NewInMemoryCache creates a new in-memory rules cache.
func NewInMemoryCache(config CacheConfig) *InMemoryCache {
	return &InMemoryCache{
		entries: make(map[string]cacheEntry),
		config:  config,
	}
}

// Get retrieves the owner's cached rules, nil if absent or expired.
func (c *InMemoryCache) Get(ownerID string) []*Rule {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.entries[ownerID]
	if !exists {
		return nil
	}
	if c.config.TTL > 0 && time.Since(entry.cachedAt) > c.config.TTL {
		return nil
	}

	// Return a copy to prevent external modification of the cached slice.
	rulesCopy := make([]*Rule, len(entry.rules))
	copy(rulesCopy, entry.rules)
	return rulesCopy
}

// Set stores the owner's enabled rules.
func (c *InMemoryCache) Set(ownerID string, rules []*Rule) {
	rulesCopy := make([]*Rule, len(rules))
	copy(rulesCopy, rules)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[ownerID] = cacheEntry{rules: rulesCopy, cachedAt: time.Now()}
}

// Invalidate clears the cache.
func (c *InMemoryCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}
