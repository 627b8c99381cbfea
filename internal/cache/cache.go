// Package cache memoizes extraction results keyed by content, MIME type and
// config. Store failures are logged and otherwise ignored: a broken cache
// degrades to uncached extraction, never to a failed one.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/adverant/nexus/extraction-engine/internal/config"
	apperrors "github.com/adverant/nexus/extraction-engine/internal/errors"
	"github.com/adverant/nexus/extraction-engine/internal/logging"
	"github.com/adverant/nexus/extraction-engine/internal/types"
)

// Store is a byte-level key/value backend.
type Store interface {
	// Get reports ok=false for a missing key; err is reserved for backend
	// failures.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// Clear removes every entry and returns how many were removed.
	Clear(ctx context.Context) (int, error)
	Stats(ctx context.Context) (StoreStats, error)
	Close() error
}

// StoreStats is what a backend knows about its own contents.
type StoreStats struct {
	Entries int   `json:"entries"`
	Bytes   int64 `json:"bytes"`
}

// Stats adds hit/miss counters to the backend's stats.
type Stats struct {
	Backend string `json:"backend"`
	Entries int    `json:"entries"`
	Bytes   int64  `json:"bytes"`
	Hits    int64  `json:"hits"`
	Misses  int64  `json:"misses"`
}

// ComputeFunc produces a result on a cache miss. It may return a result
// together with a Plugin error; such results are handed back but not stored.
type ComputeFunc func() (*types.ExtractionResult, error)

// Cache wraps a Store with JSON encoding, single-flight computation and
// hit/miss accounting.
type Cache struct {
	store   Store
	backend string
	group   singleflight.Group
	hits    atomic.Int64
	misses  atomic.Int64
	logger  *logging.Logger
}

// New wraps store. backend is a label reported by Stats.
func New(store Store, backend string, logger *logging.Logger) *Cache {
	return &Cache{
		store:   store,
		backend: backend,
		logger:  logging.OrDefault(logger).Named("cache"),
	}
}

// NewMemory returns a cache over a fresh MemoryStore.
func NewMemory(logger *logging.Logger) *Cache {
	return New(NewMemoryStore(), "memory", logger)
}

// Key is the hex SHA-256 of content, the MIME type and the canonical config
// encoding, separated by NUL bytes.
func Key(content []byte, mimeType string, cfg *config.ExtractionConfig) (string, error) {
	canonical, err := cfg.Canonical()
	if err != nil {
		return "", apperrors.NewSerializationError("failed to encode config for cache key", err)
	}
	h := sha256.New()
	h.Write(content)
	h.Write([]byte{0})
	h.Write([]byte(mimeType))
	h.Write([]byte{0})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

type computed struct {
	data []byte
	err  error
}

// GetOrCompute returns the cached result for key or runs compute. Concurrent
// callers for the same key share one computation; every caller gets its own
// decoded copy.
func (c *Cache) GetOrCompute(ctx context.Context, key string, compute ComputeFunc) (*types.ExtractionResult, error) {
	if result, ok := c.lookup(ctx, key); ok {
		c.hits.Add(1)
		return result, nil
	}

	v, _, _ := c.group.Do(key, func() (interface{}, error) {
		// a caller that lost the race may find the entry already written
		if data, ok := c.get(ctx, key); ok {
			return computed{data: data}, nil
		}
		c.misses.Add(1)

		result, err := compute()
		if result == nil {
			return computed{err: err}, nil
		}
		data, encErr := json.Marshal(result)
		if encErr != nil {
			c.logger.Warn("Failed to encode result for cache", "key", key, "error", encErr)
			return computed{err: apperrors.NewSerializationError("failed to encode extraction result", encErr)}, nil
		}
		if err == nil {
			if setErr := c.store.Set(ctx, key, data); setErr != nil {
				c.logger.Warn("Cache write failed", "key", key, "error", setErr)
			}
		}
		return computed{data: data, err: err}, nil
	})

	res := v.(computed)
	if res.data == nil {
		return nil, res.err
	}
	result, err := decode(res.data)
	if err != nil {
		return nil, err
	}
	return result, res.err
}

func (c *Cache) lookup(ctx context.Context, key string) (*types.ExtractionResult, bool) {
	data, ok := c.get(ctx, key)
	if !ok {
		return nil, false
	}
	result, err := decode(data)
	if err != nil {
		c.logger.Warn("Dropping undecodable cache entry", "key", key, "error", err)
		if delErr := c.store.Delete(ctx, key); delErr != nil {
			c.logger.Warn("Cache delete failed", "key", key, "error", delErr)
		}
		return nil, false
	}
	return result, true
}

func (c *Cache) get(ctx context.Context, key string) ([]byte, bool) {
	data, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("Cache read failed", "key", key, "error", err)
		return nil, false
	}
	return data, ok
}

func decode(data []byte) (*types.ExtractionResult, error) {
	var result types.ExtractionResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, apperrors.NewSerializationError("failed to decode cached result", err)
	}
	return &result, nil
}

// Stats reports backend contents plus the hit/miss counters of this process.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	st, err := c.store.Stats(ctx)
	if err != nil {
		return Stats{}, apperrors.NewCacheError("failed to read cache stats", err)
	}
	return Stats{
		Backend: c.backend,
		Entries: st.Entries,
		Bytes:   st.Bytes,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}, nil
}

// Clear empties the store and resets the counters.
func (c *Cache) Clear(ctx context.Context) (int, error) {
	n, err := c.store.Clear(ctx)
	if err != nil {
		return 0, apperrors.NewCacheError("failed to clear cache", err)
	}
	c.hits.Store(0)
	c.misses.Store(0)
	c.logger.Info("Cache cleared", "entries", n)
	return n, nil
}

func (c *Cache) Close() error {
	return c.store.Close()
}
