// Package usage records one row per API request so that provider spend and
// fallback behavior can be analyzed later. Writes are buffered and flushed
// in batches off the request path.
package usage

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Outcome values recorded per request. Failures record the failure kind
// string instead.
const OutcomeSuccess = "success"

// Store defines the interface for usage storage backends.
// Implementations must be safe for concurrent use.
type Store interface {
	// WriteBatch writes multiple usage entries to storage.
	// This is called by the Logger when flushing buffered entries.
	WriteBatch(ctx context.Context, entries []*Entry) error

	// Flush forces any pending writes to complete.
	// Called during graceful shutdown.
	Flush(ctx context.Context) error

	// Close releases resources and flushes pending writes.
	Close() error
}

// Entry is a single request usage record.
type Entry struct {
	// ID is a unique identifier for this entry (UUID)
	ID string `json:"id"`

	// RequestID links to the request log line (from X-Request-ID)
	RequestID string `json:"request_id"`

	// Timestamp is when the request completed
	Timestamp time.Time `json:"timestamp"`

	// Route is the API route that served the request (e.g. "/api/summarize")
	Route string `json:"route"`

	// Provider and Model identify which candidate ultimately answered.
	// Empty when every candidate failed.
	Provider string `json:"provider"`
	Model    string `json:"model"`

	// Outcome is "success" or the failure kind string
	Outcome string `json:"outcome"`

	// LatencyMS is the end-to-end request latency in milliseconds
	LatencyMS int64 `json:"latency_ms"`

	// InputChars is the size of the user input after truncation
	InputChars int `json:"input_chars"`
}

// NewEntry builds an Entry with a fresh UUID and the current timestamp.
func NewEntry(requestID, route string) *Entry {
	return &Entry{
		ID:        uuid.NewString(),
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
		Route:     route,
	}
}

// Config holds usage tracking configuration
type Config struct {
	// Enabled controls whether usage tracking is active
	Enabled bool

	// BufferSize is the number of usage entries to buffer before flushing
	BufferSize int

	// FlushInterval is how often to flush buffered entries
	FlushInterval time.Duration

	// RetentionDays is how long to keep usage data (0 = forever)
	RetentionDays int
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Enabled:       false,
		BufferSize:    1000,
		FlushInterval: 5 * time.Second,
		RetentionDays: 90,
	}
}
