package cache

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL is how long a cached summary stays valid.
const DefaultTTL = 24 * time.Hour

// MemoryCache implements Cache with an in-process map and per-entry TTL.
// This is suitable for single-instance deployments.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

type memoryEntry struct {
	entry     Entry
	expiresAt time.Time
}

// NewMemoryCache creates an in-memory cache. A ttl of zero falls back to
// DefaultTTL.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get retrieves the entry for a key. Expired entries are evicted lazily.
func (c *MemoryCache) Get(_ context.Context, key string) (*Entry, error) {
	c.mu.RLock()
	stored, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, nil
	}
	if c.now().After(stored.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock: Set may have refreshed it.
		if cur, ok := c.entries[key]; ok && c.now().After(cur.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, nil
	}

	entry := stored.entry
	return &entry, nil
}

// Set stores an entry under a key, resetting its TTL.
func (c *MemoryCache) Set(_ context.Context, key string, entry *Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = memoryEntry{
		entry:     *entry,
		expiresAt: c.now().Add(c.ttl),
	}
	return nil
}

// Close is a no-op for the in-memory cache.
func (c *MemoryCache) Close() error {
	return nil
}
