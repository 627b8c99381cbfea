package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/extraction-engine/internal/config"
	"github.com/adverant/nexus/extraction-engine/internal/types"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("CACHE_BACKEND", "none")
	t.Setenv("LOG_LEVEL", "error")

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "absent.env")}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestDetectCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("plain text"), 0o644))

	out, err := run(t, "detect", path)
	require.NoError(t, err)
	assert.Equal(t, "text/plain\n", out)
}

func TestExtractCommandText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello from the cli"), 0o644))

	out, err := run(t, "extract", "-o", "text", path)
	require.NoError(t, err)
	assert.Contains(t, out, "hello from the cli")
}

func TestBatchCommandJSON(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(a, []byte("alpha"), 0o644))

	out, err := run(t, "batch", a, filepath.Join(dir, "missing.txt"))
	require.NoError(t, err)

	var results []types.ExtractionResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 2)
	assert.Contains(t, results[0].Content, "alpha")
	assert.False(t, results[1].Success)
}

func TestExtractCommandMissingFile(t *testing.T) {
	_, err := run(t, "extract", filepath.Join(t.TempDir(), "gone.pdf"))
	assert.Error(t, err)
}

func TestCacheStatsDisabled(t *testing.T) {
	out, err := run(t, "cache", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, `"backend": "none"`)
}

func TestExtractFlagsLayerOverDefaults(t *testing.T) {
	ef := &extractFlags{chunkSize: 300, chunkOverlap: 30, noCache: true, ocrBackend: "vision", pages: true}
	cfg := ef.extractionConfig(config.Default())

	assert.False(t, cfg.UseCache)
	require.NotNil(t, cfg.Chunking)
	assert.Equal(t, 300, cfg.Chunking.MaxChars)
	assert.Equal(t, 30, cfg.Chunking.MaxOverlap)
	assert.Equal(t, "vision", cfg.OCR.Backend)
	require.NotNil(t, cfg.Pages)
	assert.True(t, cfg.Pages.ExtractPages)
}

func TestPrintResults(t *testing.T) {
	results := []*types.ExtractionResult{
		{Content: "first", Success: true},
		types.NewErrorResult("text/plain", "PARSING", "bad bytes"),
	}
	var buf bytes.Buffer
	require.NoError(t, printResults(&buf, "text", results, true))
	parts := strings.Split(buf.String(), "\f\n")
	require.Len(t, parts, 2)
	assert.Equal(t, "first\n", parts[0])
	assert.Equal(t, "[PARSING] bad bytes\n", parts[1])

	assert.Error(t, printResults(&buf, "xml", results, true))
}
