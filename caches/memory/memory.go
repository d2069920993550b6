// Package memory provides an in-process cache backend built on go-cache.
package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/blueberrycongee/genmux/pkg/cache"
)

// Cache implements cache.Backend in memory. Values expire through go-cache;
// index sets never expire and are kept in a separate map.
type Cache struct {
	values      *gocache.Cache
	maxItemSize int

	mu      sync.RWMutex
	indexes map[string]map[string]struct{}

	// Statistics
	hits    atomic.Int64
	misses  atomic.Int64
	sets    atomic.Int64
	deletes atomic.Int64
	errors  atomic.Int64
}

// Config holds configuration for the memory backend.
type Config struct {
	CleanupInterval time.Duration `yaml:"cleanup_interval"` // Expired item purge interval (default: 1 minute)
	MaxItemSize     int           `yaml:"max_item_size"`    // Maximum size per value in bytes (default: 16MB)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		CleanupInterval: time.Minute,
		MaxItemSize:     16 * 1024 * 1024,
	}
}

// New creates a new in-memory backend.
func New(cfg Config) *Cache {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.MaxItemSize <= 0 {
		cfg.MaxItemSize = 16 * 1024 * 1024
	}
	return &Cache{
		values:      gocache.New(gocache.NoExpiration, cfg.CleanupInterval),
		maxItemSize: cfg.MaxItemSize,
		indexes:     make(map[string]map[string]struct{}),
	}
}

// Get retrieves a value from memory.
func (c *Cache) Get(_ context.Context, key string) ([]byte, error) {
	val, found := c.values.Get(key)
	if !found {
		c.misses.Add(1)
		return nil, nil
	}
	data, ok := val.([]byte)
	if !ok {
		c.errors.Add(1)
		return nil, fmt.Errorf("memory get: unexpected value type %T", val)
	}
	c.hits.Add(1)
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Set stores a copy of value. A TTL <= 0 stores it without expiry.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if len(value) > c.maxItemSize {
		c.errors.Add(1)
		return fmt.Errorf("memory set: value of %d bytes exceeds limit of %d", len(value), c.maxItemSize)
	}
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	data := make([]byte, len(value))
	copy(data, value)
	c.values.Set(key, data, ttl)
	c.sets.Add(1)
	return nil
}

// Delete removes values and sets stored under keys.
func (c *Cache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	for _, key := range keys {
		c.values.Delete(key)
		delete(c.indexes, key)
	}
	c.mu.Unlock()
	c.deletes.Add(int64(len(keys)))
	return nil
}

// SetAdd adds members to a set.
func (c *Cache) SetAdd(_ context.Context, key string, members ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	set, ok := c.indexes[key]
	if !ok {
		set = make(map[string]struct{}, len(members))
		c.indexes[key] = set
	}
	for _, m := range members {
		set[m] = struct{}{}
	}
	return nil
}

// SetRemove removes members from a set. Empty sets are dropped.
func (c *Cache) SetRemove(_ context.Context, key string, members ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	set, ok := c.indexes[key]
	if !ok {
		return nil
	}
	for _, m := range members {
		delete(set, m)
	}
	if len(set) == 0 {
		delete(c.indexes, key)
	}
	return nil
}

// SetMembers returns a snapshot of a set's members.
func (c *Cache) SetMembers(_ context.Context, key string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	set := c.indexes[key]
	members := make([]string, 0, len(set))
	for m := range set {
		members = append(members, m)
	}
	return members, nil
}

// Ping always succeeds for the memory backend.
func (c *Cache) Ping(_ context.Context) error {
	return nil
}

// Close drops all stored data.
func (c *Cache) Close() error {
	c.values.Flush()
	c.mu.Lock()
	c.indexes = make(map[string]map[string]struct{})
	c.mu.Unlock()
	return nil
}

// Len returns the number of stored values, including expired ones not yet purged.
func (c *Cache) Len() int {
	return c.values.ItemCount()
}

// Stats returns backend statistics.
func (c *Cache) Stats() cache.Stats {
	return cache.Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Sets:    c.sets.Load(),
		Deletes: c.deletes.Load(),
		Errors:  c.errors.Load(),
	}
}
