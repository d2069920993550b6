// Package caches provides the cache backends for genmux library mode.
// It includes memory and redis backends behind pkg/cache.Backend.
package caches

import (
	"fmt"

	"github.com/blueberrycongee/genmux/caches/memory"
	"github.com/blueberrycongee/genmux/caches/redis"
	"github.com/blueberrycongee/genmux/pkg/cache"
)

// Type re-exports cache types for convenience.
type Type = cache.Type

// Cache type constants.
const (
	TypeMemory = cache.TypeMemory
	TypeRedis  = cache.TypeRedis
)

// Config selects and configures a backend.
type Config struct {
	Type   Type
	Memory memory.Config
	Redis  redis.Config
}

// New creates the backend named by cfg.Type. An empty type selects memory.
func New(cfg Config) (cache.Backend, error) {
	switch cfg.Type {
	case "", TypeMemory:
		return memory.New(cfg.Memory), nil
	case TypeRedis:
		return redis.New(cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Type)
	}
}

// NewMemoryDefault creates a new in-memory backend with default configuration.
func NewMemoryDefault() *memory.Cache {
	return memory.New(memory.DefaultConfig())
}

// Re-export config types for convenience.
type (
	MemoryConfig = memory.Config
	RedisConfig  = redis.Config
)

// Re-export default config functions.
var (
	DefaultMemoryConfig = memory.DefaultConfig
	DefaultRedisConfig  = redis.DefaultConfig
)
