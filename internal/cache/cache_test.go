package cache

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/extraction-engine/internal/config"
	apperrors "github.com/adverant/nexus/extraction-engine/internal/errors"
	"github.com/adverant/nexus/extraction-engine/internal/logging"
	"github.com/adverant/nexus/extraction-engine/internal/types"
)

func testLogger() *logging.Logger { return logging.NewTestLogger(io.Discard) }

func sampleResult() *types.ExtractionResult {
	r := &types.ExtractionResult{Content: "hello world", MimeType: "text/plain", Success: true}
	r.Metadata.SetAdditional("quality_score", 0.75)
	return r
}

func TestKey(t *testing.T) {
	cfg := config.Default()
	base, err := Key([]byte("abc"), "text/plain", &cfg)
	require.NoError(t, err)
	assert.Len(t, base, 64)

	again, err := Key([]byte("abc"), "text/plain", &cfg)
	require.NoError(t, err)
	assert.Equal(t, base, again)

	other, _ := Key([]byte("abd"), "text/plain", &cfg)
	assert.NotEqual(t, base, other)
	other, _ = Key([]byte("abc"), "text/markdown", &cfg)
	assert.NotEqual(t, base, other)

	forced := cfg.Clone()
	forced.ForceOCR = true
	other, _ = Key([]byte("abc"), "text/plain", &forced)
	assert.NotEqual(t, base, other)

	// fields that do not change the result do not change the key
	uncached := cfg.Clone()
	uncached.UseCache = false
	uncached.MaxConcurrentExtractions = 7
	other, _ = Key([]byte("abc"), "text/plain", &uncached)
	assert.Equal(t, base, other)
}

func TestGetOrComputeIsIdempotent(t *testing.T) {
	c := NewMemory(testLogger())
	var calls atomic.Int32
	compute := func() (*types.ExtractionResult, error) {
		calls.Add(1)
		return sampleResult(), nil
	}

	first, err := c.GetOrCompute(context.Background(), "k", compute)
	require.NoError(t, err)
	second, err := c.GetOrCompute(context.Background(), "k", compute)
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load())
	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	assert.Equal(t, string(a), string(b))

	// callers own their copies
	first.Content = "mutated"
	third, err := c.GetOrCompute(context.Background(), "k", compute)
	require.NoError(t, err)
	assert.Equal(t, "hello world", third.Content)

	stats, err := c.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "memory", stats.Backend)
	assert.Equal(t, 1, stats.Entries)
	assert.Greater(t, stats.Bytes, int64(0))
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestConcurrentCallersComputeOnce(t *testing.T) {
	c := NewMemory(testLogger())
	var calls atomic.Int32
	release := make(chan struct{})
	compute := func() (*types.ExtractionResult, error) {
		calls.Add(1)
		<-release
		return sampleResult(), nil
	}

	const n = 16
	var wg sync.WaitGroup
	results := make([]*types.ExtractionResult, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := c.GetOrCompute(context.Background(), "shared", compute)
			assert.NoError(t, err)
			results[i] = r
		}(i)
	}
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, "hello world", r.Content)
	}
	for i := 1; i < n; i++ {
		assert.NotSame(t, results[0], results[i])
	}
}

func TestPluginErrorResultsAreNotStored(t *testing.T) {
	c := NewMemory(testLogger())
	var calls int
	compute := func() (*types.ExtractionResult, error) {
		calls++
		return sampleResult(), apperrors.NewPluginError("broken", "post-processor failed", errors.New("boom"))
	}

	for i := 0; i < 2; i++ {
		r, err := c.GetOrCompute(context.Background(), "k", compute)
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrorPlugin, apperrors.KindOf(err))
		require.NotNil(t, r)
		assert.Equal(t, "hello world", r.Content)
	}
	assert.Equal(t, 2, calls)
}

func TestComputeErrorsPassThrough(t *testing.T) {
	c := NewMemory(testLogger())
	want := apperrors.NewParsingError("bad document", nil)

	r, err := c.GetOrCompute(context.Background(), "k", func() (*types.ExtractionResult, error) { return nil, want })
	assert.Nil(t, r)
	assert.ErrorIs(t, err, want)

	stats, _ := c.Stats(context.Background())
	assert.Equal(t, 0, stats.Entries)
}

type brokenStore struct{ MemoryStore }

func (*brokenStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("disk full")
}

func (*brokenStore) Set(context.Context, string, []byte) error { return errors.New("disk full") }

func TestStoreErrorsStillYieldResult(t *testing.T) {
	c := New(&brokenStore{}, "broken", testLogger())
	var calls int
	compute := func() (*types.ExtractionResult, error) {
		calls++
		return sampleResult(), nil
	}

	for i := 0; i < 2; i++ {
		r, err := c.GetOrCompute(context.Background(), "k", compute)
		require.NoError(t, err)
		assert.Equal(t, "hello world", r.Content)
	}
	assert.Equal(t, 2, calls)
}

func TestCorruptEntriesAreDropped(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), "k", []byte("{not json")))
	c := New(store, "memory", testLogger())

	r, err := c.GetOrCompute(context.Background(), "k", func() (*types.ExtractionResult, error) { return sampleResult(), nil })
	require.NoError(t, err)
	assert.Equal(t, "hello world", r.Content)

	data, ok, _ := store.Get(context.Background(), "k")
	require.True(t, ok)
	assert.True(t, json.Valid(data))
}

func TestClear(t *testing.T) {
	c := NewMemory(testLogger())
	for _, k := range []string{"a", "b", "c"} {
		_, err := c.GetOrCompute(context.Background(), k, func() (*types.ExtractionResult, error) { return sampleResult(), nil })
		require.NoError(t, err)
	}

	n, err := c.Clear(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	stats, err := c.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Backend: "memory"}, stats)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "k", []byte("1234")))
	require.NoError(t, s.Set(ctx, "k", []byte("12")))
	st, _ := s.Stats(ctx)
	assert.Equal(t, StoreStats{Entries: 1, Bytes: 2}, st)

	require.NoError(t, s.Delete(ctx, "k"))
	require.NoError(t, s.Delete(ctx, "k"))
	st, _ = s.Stats(ctx)
	assert.Equal(t, StoreStats{}, st)
}
