package storage

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/extraction-engine/internal/cache"
	"github.com/adverant/nexus/extraction-engine/internal/config"
	"github.com/adverant/nexus/extraction-engine/internal/logging"
	"github.com/adverant/nexus/extraction-engine/internal/types"
)

// exerciseStore runs the behaviour every cache.Store must share.
func exerciseStore(t *testing.T, s cache.Store) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "a", []byte(`{"content":"first"}`)))
	require.NoError(t, s.Set(ctx, "a", []byte(`{"content":"second"}`)))
	require.NoError(t, s.Set(ctx, "b", []byte(`{"content":"b"}`)))

	v, ok, err := s.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"content":"second"}`, string(v))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Entries)
	assert.Greater(t, st.Bytes, int64(0))

	require.NoError(t, s.Delete(ctx, "a"))
	_, ok, err = s.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := s.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	st, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, cache.StoreStats{}, st)
}

func TestSQLiteStore(t *testing.T) {
	s, err := OpenSQLiteStore(":memory:", 0)
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestSQLiteStoreExpiry(t *testing.T) {
	s, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "nested", "cache.db"), time.Minute)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return now }
	require.NoError(t, s.Set(ctx, "k", []byte("{}")))

	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Entries)

	_, ok, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisStore(t *testing.T) {
	_, client := newMiniredis(t)
	exerciseStore(t, NewRedisStore(client, "", 0))
}

func TestRedisStoreIsolatedByPrefixAndExpires(t *testing.T) {
	mr, client := newMiniredis(t)
	ctx := context.Background()
	require.NoError(t, client.Set(ctx, "unrelated", "keep", 0).Err())

	s := NewRedisStore(client, "test:", time.Minute)
	require.NoError(t, s.Set(ctx, "k", []byte("{}")))
	assert.True(t, mr.Exists("test:k"))

	n, err := s.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, mr.Exists("unrelated"))

	require.NoError(t, s.Set(ctx, "k", []byte("{}")))
	mr.FastForward(2 * time.Minute)
	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOpenRedisStore(t *testing.T) {
	mr, _ := newMiniredis(t)
	s, err := OpenRedisStore(context.Background(), "redis://"+mr.Addr(), 0)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = OpenRedisStore(context.Background(), "not a url", 0)
	require.Error(t, err)
}

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	s, err := OpenPostgresStore(context.Background(), url, 0)
	require.NoError(t, err)
	defer s.Close()
	_, err = s.Clear(context.Background())
	require.NoError(t, err)
	exerciseStore(t, s)
}

func TestSanitizeJSONForPostgres(t *testing.T) {
	raw, err := json.Marshal(map[string]string{"content": "a\x00b\x01c\nd"})
	require.NoError(t, err)

	clean := sanitizeJSONForPostgres(raw)
	require.True(t, json.Valid(clean))

	var out map[string]string
	require.NoError(t, json.Unmarshal(clean, &out))
	assert.Equal(t, "ab c\nd", out["content"])
}

func TestOpenCacheStore(t *testing.T) {
	ctx := context.Background()

	s, err := OpenCacheStore(ctx, &config.Config{CacheBackend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &cache.MemoryStore{}, s)

	s, err = OpenCacheStore(ctx, &config.Config{CacheBackend: "none"})
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = OpenCacheStore(ctx, &config.Config{CacheBackend: "sqlite", CacheDir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	_, err = OpenCacheStore(ctx, &config.Config{CacheBackend: "tape"})
	require.Error(t, err)
}

func TestManagerWithSQLiteCache(t *testing.T) {
	cfg := &config.Config{CacheBackend: "sqlite", CacheDir: t.TempDir(), CacheTTLSeconds: 60}
	m, err := NewManager(context.Background(), cfg, logging.NewTestLogger(io.Discard))
	require.NoError(t, err)
	defer m.Close()

	require.NotNil(t, m.Cache)
	assert.Nil(t, m.Qdrant)

	calls := 0
	compute := func() (*types.ExtractionResult, error) {
		calls++
		return &types.ExtractionResult{Content: "persisted", MimeType: "text/plain", Success: true}, nil
	}
	for i := 0; i < 2; i++ {
		r, err := m.Cache.GetOrCompute(context.Background(), "doc", compute)
		require.NoError(t, err)
		assert.Equal(t, "persisted", r.Content)
	}
	assert.Equal(t, 1, calls)

	stats, err := m.Cache.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sqlite", stats.Backend)
	assert.Equal(t, 1, stats.Entries)
}
