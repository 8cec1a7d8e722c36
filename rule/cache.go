package rule

import "time"

// Cache provides an abstraction for caching an owner's enabled rules, so
// the hot lifecycle-event path does not hit the store on every dispatch.
// Implementations may be in-memory, Redis, or anything else.
type Cache interface {
	// Get retrieves the owner's cached rules, nil on miss or expiry.
	Get(ownerID string) []*Rule

	// Set stores the owner's enabled rules.
	Set(ownerID string, rules []*Rule)

	// Invalidate clears the whole cache, forcing a refresh on next Get.
	// Rule mutations are rare enough that per-owner invalidation is not
	// worth the bookkeeping.
	Invalidate()
}

// CacheConfig holds configuration for cache behavior.
type CacheConfig struct {
	// TTL is the time-to-live for cached entries. Zero means no expiration
	// (manual invalidation only).
	TTL time.Duration
}

// DefaultCacheConfig returns sensible defaults for rule caching.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL: 0, // invalidate on mutations only
	}
}
