// Package cache provides a summary cache so that re-submitting the same text
// does not burn another provider call. Supports an in-memory backend for
// single-instance deployments and Redis for multi-instance ones.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Entry is a cached summarization result.
type Entry struct {
	Summary   string    `json:"summary"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
}

// Cache defines the interface for summary storage.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get retrieves the entry for a key.
	// Returns nil, nil on a cache miss.
	Get(ctx context.Context, key string) (*Entry, error)

	// Set stores an entry under a key.
	Set(ctx context.Context, key string, entry *Entry) error

	// Close releases any resources held by the cache.
	Close() error
}

// Key derives a stable cache key from the input text. The same text always
// maps to the same key, so identical summarize requests hit the cache.
func Key(text string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(text))
}
