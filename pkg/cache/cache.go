// Package cache provides the public key-value backend interface used by the
// generation result cache. Backends include in-memory and Redis.
package cache

import (
	"context"
	"time"
)

// Type represents the type of cache backend.
type Type string

const (
	TypeMemory Type = "memory" // In-memory backend
	TypeRedis  Type = "redis"  // Redis backend
)

// Backend is a namespaced key-value store with set operations for indexes.
// Implementations must make single-key Set atomic.
type Backend interface {
	// Get retrieves a value. Returns nil, nil if the key doesn't exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with the given TTL. A TTL <= 0 stores the value
	// without backend expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error

	// SetAdd adds members to the set stored at key.
	SetAdd(ctx context.Context, key string, members ...string) error

	// SetRemove removes members from the set stored at key.
	SetRemove(ctx context.Context, key string, members ...string) error

	// SetMembers returns all members of the set stored at key.
	SetMembers(ctx context.Context, key string) ([]string, error)

	// Ping checks if the backend is healthy.
	Ping(ctx context.Context) error

	// Close releases any resources held by the backend.
	Close() error

	// Stats returns backend operation counters.
	Stats() Stats
}

// Stats holds backend operation counters for monitoring.
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Sets    int64 `json:"sets"`
	Deletes int64 `json:"deletes"`
	Errors  int64 `json:"errors"`
}
