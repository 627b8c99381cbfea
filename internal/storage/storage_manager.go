/**
 * Storage Manager for the extraction engine
 *
 * Opens the configured result cache backend (memory, SQLite, Redis or
 * PostgreSQL) and the optional Qdrant chunk index, and closes them together.
 */

package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/adverant/nexus/extraction-engine/internal/cache"
	"github.com/adverant/nexus/extraction-engine/internal/config"
	"github.com/adverant/nexus/extraction-engine/internal/logging"
)

const sqliteCacheFile = "results.db"

// Manager owns every external store the engine writes to.
type Manager struct {
	Cache  *cache.Cache
	Qdrant *QdrantIndex
	logger *logging.Logger
}

// NewManager opens the cache backend named by cfg.CacheBackend and, when
// cfg.QdrantURL is set, the chunk index. Backend "none" yields a nil Cache.
func NewManager(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Manager, error) {
	logger = logging.OrDefault(logger).Named("storage")
	m := &Manager{logger: logger}

	store, err := OpenCacheStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s cache: %w", cfg.CacheBackend, err)
	}
	if store != nil {
		m.Cache = cache.New(store, cfg.CacheBackend, logger)
	}

	if cfg.QdrantURL != "" {
		idx, err := NewQdrantIndex(cfg.QdrantURL, cfg.QdrantCollection, logger)
		if err != nil {
			m.Close() // Cleanup on failure
			return nil, fmt.Errorf("failed to initialize Qdrant index: %w", err)
		}
		m.Qdrant = idx
	}

	logger.Info("Storage initialized",
		"cache_backend", cfg.CacheBackend,
		"qdrant_enabled", m.Qdrant != nil)
	return m, nil
}

// OpenCacheStore returns the store for cfg.CacheBackend, or nil for "none".
func OpenCacheStore(ctx context.Context, cfg *config.Config) (cache.Store, error) {
	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	switch cfg.CacheBackend {
	case "", "memory":
		return cache.NewMemoryStore(), nil
	case "sqlite":
		return OpenSQLiteStore(filepath.Join(cfg.CacheDir, sqliteCacheFile), ttl)
	case "redis":
		return OpenRedisStore(ctx, cfg.RedisURL, ttl)
	case "postgres":
		return OpenPostgresStore(ctx, cfg.DatabaseURL, ttl)
	case "none":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
}

// Close closes every store that was opened.
func (m *Manager) Close() error {
	var firstErr error
	if m.Cache != nil {
		if err := m.Cache.Close(); err != nil {
			m.logger.Warn("Failed to close cache", "error", err)
			firstErr = err
		}
	}
	if m.Qdrant != nil {
		if err := m.Qdrant.Close(); err != nil {
			m.logger.Warn("Failed to close Qdrant connection", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
