package app

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/extraction-engine/internal/clients"
	"github.com/adverant/nexus/extraction-engine/internal/config"
	"github.com/adverant/nexus/extraction-engine/internal/logging"
)

func TestNewWiresOptionalBackends(t *testing.T) {
	cfg := &config.Config{
		LogLevel:     "debug",
		CacheBackend: "memory",
		VisionOCRURL: "http://vision.invalid",
	}
	a, err := New(context.Background(), cfg, logging.NewTestLogger(io.Discard))
	require.NoError(t, err)
	defer a.Close()

	assert.ElementsMatch(t, []string{"tesseract", "vision"}, a.Engine.Plugins().OCRBackends())
	assert.NotNil(t, a.Engine.Cache())
	assert.NotEmpty(t, a.Engine.Plugins().PostProcessorNames())
	assert.True(t, a.Defaults.UseCache)
}

func TestNewWithoutCache(t *testing.T) {
	a, err := New(context.Background(), &config.Config{CacheBackend: "none"}, logging.NewTestLogger(io.Discard))
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Engine.Cache())
	assert.Equal(t, []string{"tesseract"}, a.Engine.Plugins().OCRBackends())
}

func TestLoadDefaultsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extraction.yaml")
	require.NoError(t, os.WriteFile(path, []byte("use_cache: false\nchunking:\n  max_chars: 200\n  max_overlap: 20\n"), 0o644))

	defaults, err := LoadDefaults(&config.Config{ExtractionConfigFile: path})
	require.NoError(t, err)
	assert.False(t, defaults.UseCache)
	require.NotNil(t, defaults.Chunking)
	assert.Equal(t, 200, defaults.Chunking.MaxChars)

	_, err = LoadDefaults(&config.Config{ExtractionConfigFile: filepath.Join(t.TempDir(), "missing.toml")})
	assert.Error(t, err)
}

func TestCheckDependencies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	var logs bytes.Buffer
	a, err := New(context.Background(), &config.Config{CacheBackend: "none", GraphRAGURL: srv.URL}, logging.NewTestLogger(&logs))
	require.NoError(t, err)
	defer a.Close()

	require.Len(t, a.Dependencies, 1)
	failed := a.CheckDependencies(context.Background())
	require.Contains(t, failed, clients.GraphRAGSinkName)
	assert.Contains(t, failed[clients.GraphRAGSinkName].Error(), "503")
	assert.Contains(t, logs.String(), "Dependency unavailable")

	none, err := New(context.Background(), &config.Config{CacheBackend: "none"}, logging.NewTestLogger(io.Discard))
	require.NoError(t, err)
	defer none.Close()
	assert.Empty(t, none.Dependencies)
	assert.Empty(t, none.CheckDependencies(context.Background()))
}
