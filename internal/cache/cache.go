// Package cache provides the key-value cache used by the chat counters and
// the cache health probe.
package cache

import (
	"context"
	"time"
)

// Store is a minimal key-value cache.
type Store interface {
	// Put stores value under key. A zero ttl means no expiry.
	Put(ctx context.Context, key, value string, ttl time.Duration) error
	// Get returns the value and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	Forget(ctx context.Context, key string) error
	// Increment atomically adds one to an integer value, creating it at 1.
	Increment(ctx context.Context, key string) (int64, error)
	// Driver names the backing implementation.
	Driver() string
}

// EventRecorder receives cache hit/miss events.
type EventRecorder interface {
	Record(entryType string, value float64, metadata map[string]interface{})
}
