// Package cache implements the content-addressed generation result cache.
// Entries live in a pkg/cache.Backend under namespaced keys, with a side index
// of live keys for sweeps and statistics and per-tag sets for invalidation.
package cache

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"

	"github.com/blueberrycongee/genmux/internal/clock"
	"github.com/blueberrycongee/genmux/pkg/cache"
	"github.com/blueberrycongee/genmux/pkg/types"
)

const (
	entryPrefix = "entry:"
	tagPrefix   = "tag:"
	indexKey    = "index"

	lockStripes = 64
)

// Entry is a cached generation result.
type Entry struct {
	Key      string        `json:"key"`
	Payload  types.Payload `json:"payload"`
	Metadata EntryMetadata `json:"metadata"`
	Tags     []string      `json:"tags,omitempty"`
}

// EntryMetadata describes the origin and usage of an entry.
type EntryMetadata struct {
	Request      *types.GenerationRequest `json:"request,omitempty"`
	Provider     string                   `json:"provider"`
	ModelID      string                   `json:"model_id,omitempty"`
	QualityScore float64                  `json:"quality_score"`
	HitCount     int64                    `json:"hit_count"`
	LastAccessed time.Time                `json:"last_accessed"`
	CreatedAt    time.Time                `json:"created_at"`
	ExpiresAt    time.Time                `json:"expires_at"`
}

// Expired reports whether the entry is past its expiry at now.
func (e *Entry) Expired(now time.Time) bool {
	return !now.Before(e.Metadata.ExpiresAt)
}

// Stats aggregates over live entries.
type Stats struct {
	TotalKeys      int         `json:"total_keys"`
	HitRate        float64     `json:"hit_rate"`
	TotalHits      int64       `json:"total_hits"`
	AverageQuality float64     `json:"average_quality"`
	TotalBytes     int64       `json:"total_bytes"`
	HumanSize      string      `json:"human_size"`
	Lookups        int64       `json:"lookups"`
	Backend        cache.Stats `json:"backend"`
}

// Config holds configuration for the Store.
type Config struct {
	DefaultTTL   time.Duration `yaml:"default_ttl"`    // TTL when the caller passes 0 (default: 24 hours)
	MaxEntrySize int           `yaml:"max_entry_size"` // Max serialized entry size (default: 16MB)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTTL:   24 * time.Hour,
		MaxEntrySize: 16 * 1024 * 1024,
	}
}

// Store provides entry semantics on top of a Backend.
type Store struct {
	backend cache.Backend
	cfg     Config
	clock   clock.Clock
	logger  *slog.Logger

	// Per-key read-modify-write serialization for hit count updates.
	locks [lockStripes]sync.Mutex

	lookups atomic.Int64
	hits    atomic.Int64
}

// NewStore creates a Store over backend. A nil clock uses wall time and a nil
// logger uses slog.Default().
func NewStore(backend cache.Backend, cfg Config, clk clock.Clock, logger *slog.Logger) *Store {
	defaults := DefaultConfig()
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = defaults.DefaultTTL
	}
	if cfg.MaxEntrySize <= 0 {
		cfg.MaxEntrySize = defaults.MaxEntrySize
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		backend: backend,
		cfg:     cfg,
		clock:   clk,
		logger:  logger,
	}
}

func (s *Store) lock(key string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	mu := &s.locks[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}

// Get returns the live entry for key, or nil on a miss. A hit increments the
// hit count and refreshes the last-accessed time without moving the expiry.
// An expired entry is removed and reported as a miss.
func (s *Store) Get(ctx context.Context, key string) (*Entry, error) {
	unlock := s.lock(key)
	defer unlock()

	s.lookups.Add(1)

	entry, err := s.load(ctx, key)
	if err != nil || entry == nil {
		return nil, err
	}

	now := s.clock.Now()
	if entry.Expired(now) {
		if err := s.remove(ctx, key, entry.Tags); err != nil {
			s.logger.Warn("cache expired entry removal failed", "key", key, "error", err)
		}
		return nil, nil
	}

	entry.Metadata.HitCount++
	entry.Metadata.LastAccessed = now
	s.hits.Add(1)

	if err := s.write(ctx, entry, entry.Metadata.ExpiresAt.Sub(now)); err != nil {
		s.logger.Warn("cache hit write-back failed", "key", key, "error", err)
	}
	return entry, nil
}

// Set writes an entry for a successful result with expiry now + ttl. A ttl
// of 0 uses the default TTL.
func (s *Store) Set(ctx context.Context, key string, result *types.GenerationResult, req *types.GenerationRequest, ttl time.Duration) error {
	if result == nil || result.Payload == nil {
		return fmt.Errorf("cache set %s: result has no payload", key)
	}
	if ttl <= 0 {
		ttl = s.cfg.DefaultTTL
	}

	now := s.clock.Now()
	entry := &Entry{
		Key:     key,
		Payload: *result.Payload,
		Metadata: EntryMetadata{
			Request:      req.Snapshot(),
			Provider:     result.Metadata.Provider,
			ModelID:      result.Metadata.ModelID,
			QualityScore: result.Metadata.QualityScore,
			LastAccessed: now,
			CreatedAt:    now,
			ExpiresAt:    now.Add(ttl),
		},
	}
	if req != nil {
		entry.Tags = append([]string(nil), req.CacheControl.Tags...)
	}

	unlock := s.lock(key)
	defer unlock()

	if err := s.write(ctx, entry, ttl); err != nil {
		return err
	}
	if err := s.backend.SetAdd(ctx, indexKey, key); err != nil {
		return fmt.Errorf("cache index add: %w", err)
	}
	for _, tag := range entry.Tags {
		if err := s.backend.SetAdd(ctx, tagPrefix+tag, key); err != nil {
			return fmt.Errorf("cache tag add: %w", err)
		}
	}
	return nil
}

// Delete removes the entry for key.
func (s *Store) Delete(ctx context.Context, key string) error {
	unlock := s.lock(key)
	defer unlock()

	entry, err := s.load(ctx, key)
	if err != nil {
		return err
	}
	var tags []string
	if entry != nil {
		tags = entry.Tags
	}
	return s.remove(ctx, key, tags)
}

// Cleanup sweeps the side index and purges entries that are expired or no
// longer present in the backend. It returns the number of keys removed.
func (s *Store) Cleanup(ctx context.Context) (int, error) {
	keys, err := s.backend.SetMembers(ctx, indexKey)
	if err != nil {
		return 0, fmt.Errorf("cache index read: %w", err)
	}

	deleted := 0
	now := s.clock.Now()
	for _, key := range keys {
		if ctx.Err() != nil {
			return deleted, ctx.Err()
		}
		removed, err := s.sweep(ctx, key, now)
		if err != nil {
			s.logger.Warn("cache sweep failed", "key", key, "error", err)
			continue
		}
		if removed {
			deleted++
		}
	}
	return deleted, nil
}

func (s *Store) sweep(ctx context.Context, key string, now time.Time) (bool, error) {
	unlock := s.lock(key)
	defer unlock()

	entry, err := s.load(ctx, key)
	if err != nil {
		return false, err
	}
	if entry == nil {
		return true, s.backend.SetRemove(ctx, indexKey, key)
	}
	if !entry.Expired(now) {
		return false, nil
	}
	return true, s.remove(ctx, key, entry.Tags)
}

// StartCleanup runs Cleanup every interval until ctx is canceled.
func (s *Store) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				deleted, err := s.Cleanup(ctx)
				if err != nil {
					s.logger.Warn("cache cleanup failed", "error", err)
					continue
				}
				if deleted > 0 {
					s.logger.Debug("cache cleanup finished", "deleted", deleted)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// InvalidateTag removes every entry written with tag and returns how many
// entries were removed.
func (s *Store) InvalidateTag(ctx context.Context, tag string) (int, error) {
	keys, err := s.backend.SetMembers(ctx, tagPrefix+tag)
	if err != nil {
		return 0, fmt.Errorf("cache tag read: %w", err)
	}

	deleted := 0
	for _, key := range keys {
		if err := s.Delete(ctx, key); err != nil {
			return deleted, err
		}
		deleted++
	}
	if err := s.backend.Delete(ctx, tagPrefix+tag); err != nil {
		return deleted, fmt.Errorf("cache tag delete: %w", err)
	}
	return deleted, nil
}

// Stats aggregates over live entries. Reading stats does not count as a hit.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{
		Lookups: s.lookups.Load(),
		Backend: s.backend.Stats(),
	}
	if stats.Lookups > 0 {
		stats.HitRate = float64(s.hits.Load()) / float64(stats.Lookups)
	}

	keys, err := s.backend.SetMembers(ctx, indexKey)
	if err != nil {
		return stats, fmt.Errorf("cache index read: %w", err)
	}

	now := s.clock.Now()
	var qualitySum float64
	for _, key := range keys {
		entry, err := s.load(ctx, key)
		if err != nil {
			return stats, err
		}
		if entry == nil || entry.Expired(now) {
			continue
		}
		stats.TotalKeys++
		stats.TotalHits += entry.Metadata.HitCount
		stats.TotalBytes += int64(len(entry.Payload.Image))
		qualitySum += entry.Metadata.QualityScore
	}
	if stats.TotalKeys > 0 {
		stats.AverageQuality = qualitySum / float64(stats.TotalKeys)
	}
	stats.HumanSize = humanize.Bytes(uint64(stats.TotalBytes))
	return stats, nil
}

// Ping checks the backend.
func (s *Store) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

func (s *Store) load(ctx context.Context, key string) (*Entry, error) {
	data, err := s.backend.Get(ctx, entryPrefix+key)
	if err != nil {
		return nil, fmt.Errorf("cache get %s: %w", key, err)
	}
	if data == nil {
		return nil, nil
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		s.logger.Warn("dropping undecodable cache entry", "key", key, "error", err)
		_ = s.remove(ctx, key, nil)
		return nil, nil
	}
	return &entry, nil
}

func (s *Store) write(ctx context.Context, entry *Entry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache marshal %s: %w", entry.Key, err)
	}
	if len(data) > s.cfg.MaxEntrySize {
		return fmt.Errorf("cache entry %s is %d bytes, above limit of %d", entry.Key, len(data), s.cfg.MaxEntrySize)
	}
	if err := s.backend.Set(ctx, entryPrefix+entry.Key, data, ttl); err != nil {
		return fmt.Errorf("cache set %s: %w", entry.Key, err)
	}
	return nil
}

func (s *Store) remove(ctx context.Context, key string, tags []string) error {
	if err := s.backend.Delete(ctx, entryPrefix+key); err != nil {
		return fmt.Errorf("cache delete %s: %w", key, err)
	}
	if err := s.backend.SetRemove(ctx, indexKey, key); err != nil {
		return fmt.Errorf("cache index remove %s: %w", key, err)
	}
	for _, tag := range tags {
		if err := s.backend.SetRemove(ctx, tagPrefix+tag, key); err != nil {
			return fmt.Errorf("cache tag remove %s: %w", key, err)
		}
	}
	return nil
}
