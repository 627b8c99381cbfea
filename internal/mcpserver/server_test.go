package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/extraction-engine/internal/cache"
	"github.com/adverant/nexus/extraction-engine/internal/config"
	"github.com/adverant/nexus/extraction-engine/internal/engine"
	"github.com/adverant/nexus/extraction-engine/internal/extractor"
	"github.com/adverant/nexus/extraction-engine/internal/logging"
	"github.com/adverant/nexus/extraction-engine/internal/plugins"
	"github.com/adverant/nexus/extraction-engine/internal/types"
)

var testImpl = &mcp.Implementation{Name: "extraction-engine-test", Version: "0.1.0"}

type upperExtractor struct{}

func (upperExtractor) Name() string { return "upper" }

func (upperExtractor) Priority() int { return 10 }

func (upperExtractor) Extract(_ context.Context, data []byte, _ string, _ *config.ExtractionConfig) (*types.ExtractionResult, error) {
	return &types.ExtractionResult{Content: strings.ToUpper(string(data)), Success: true}, nil
}

func session(t *testing.T) *mcp.ClientSession {
	t.Helper()
	logger := logging.NewTestLogger(io.Discard)
	reg := extractor.NewRegistry(logger)
	require.NoError(t, reg.Register([]string{"text/plain"}, upperExtractor{}))
	e, err := engine.New(engine.Options{
		Plugins:    plugins.New(logger),
		Extractors: reg,
		Cache:      cache.NewMemory(logger),
		Logger:     logger,
	})
	require.NoError(t, err)

	srv := New(e, nil, logger).NewServer()
	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(testImpl, nil)
	s, err := client.Connect(ctx, clientT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func callTool(t *testing.T, s *mcp.ClientSession, name string, args any) *mcp.CallToolResult {
	t.Helper()
	result, err := s.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	return result
}

func text(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	tc, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok, "expected TextContent")
	return tc.Text
}

func callOK(t *testing.T, s *mcp.ClientSession, name string, args any, out any) {
	t.Helper()
	result := callTool(t, s, name, args)
	require.NoError(t, result.GetError())
	require.NoError(t, json.Unmarshal([]byte(text(t, result)), out))
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestListTools(t *testing.T) {
	s := session(t)
	res, err := s.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"extract_file", "extract_bytes", "batch_extract_files",
		"detect_mime_type", "cache_stats", "cache_clear",
	}, names)
}

func TestExtractFileTool(t *testing.T) {
	s := session(t)
	path := writeFile(t, t.TempDir(), "notes.txt", "hello mcp")

	var result types.ExtractionResult
	callOK(t, s, "extract_file", map[string]any{"path": path}, &result)
	assert.Equal(t, "HELLO MCP", result.Content)
	assert.Equal(t, "text/plain", result.MimeType)
}

func TestExtractBytesTool(t *testing.T) {
	s := session(t)

	var result types.ExtractionResult
	callOK(t, s, "extract_bytes", map[string]any{
		"data":      base64.StdEncoding.EncodeToString([]byte("one two three four five six")),
		"mime_type": "text/plain",
		"config":    map[string]any{"chunking": map[string]any{"max_chars": 10, "max_overlap": 0}},
	}, &result)
	assert.Equal(t, "ONE TWO THREE FOUR FIVE SIX", result.Content)
	assert.Greater(t, len(result.Chunks), 1)
}

func TestToolErrors(t *testing.T) {
	s := session(t)

	tests := []struct {
		name string
		tool string
		args map[string]any
		want string
	}{
		{"bad base64", "extract_bytes", map[string]any{"data": "***", "mime_type": "text/plain"}, "VALIDATION"},
		{"unsupported", "extract_bytes", map[string]any{"data": base64.StdEncoding.EncodeToString([]byte{0, 1, 2, 3}), "mime_type": "application/x-nope"}, "UNSUPPORTED_FORMAT"},
		{"missing path", "extract_file", map[string]any{}, "path is required"},
		{"missing file", "extract_file", map[string]any{"path": filepath.Join(t.TempDir(), "gone.txt")}, "no such file"},
		{"detect without input", "detect_mime_type", map[string]any{}, "path or data is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := callTool(t, s, tt.tool, tt.args)
			assert.True(t, result.IsError)
			assert.Contains(t, text(t, result), tt.want)
		})
	}
}

func TestBatchExtractFilesTool(t *testing.T) {
	s := session(t)
	dir := t.TempDir()
	a := writeFile(t, dir, "a.txt", "first")
	b := writeFile(t, dir, "b.txt", "second")

	var results []types.ExtractionResult
	callOK(t, s, "batch_extract_files", map[string]any{
		"paths": []string{a, filepath.Join(dir, "missing.txt"), b},
	}, &results)
	require.Len(t, results, 3)
	assert.Equal(t, "FIRST", results[0].Content)
	assert.False(t, results[1].Success)
	require.NotNil(t, results[1].Metadata.Error)
	assert.Equal(t, "IO", results[1].Metadata.Error.ErrorType)
	assert.Equal(t, "SECOND", results[2].Content)
}

func TestDetectMimeTypeTool(t *testing.T) {
	s := session(t)
	path := writeFile(t, t.TempDir(), "readme.txt", "plain words")

	var out map[string]string
	callOK(t, s, "detect_mime_type", map[string]any{"path": path}, &out)
	assert.Equal(t, "text/plain", out["mime_type"])

	callOK(t, s, "detect_mime_type", map[string]any{"data": base64.StdEncoding.EncodeToString([]byte("more words"))}, &out)
	assert.Equal(t, "text/plain", out["mime_type"])
}

func TestCacheTools(t *testing.T) {
	s := session(t)
	path := writeFile(t, t.TempDir(), "c.txt", "cached")

	var result types.ExtractionResult
	callOK(t, s, "extract_file", map[string]any{"path": path}, &result)
	callOK(t, s, "extract_file", map[string]any{"path": path}, &result)

	var stats cache.Stats
	callOK(t, s, "cache_stats", map[string]any{}, &stats)
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)

	var cleared map[string]int
	callOK(t, s, "cache_clear", map[string]any{}, &cleared)
	assert.Equal(t, 1, cleared["removed"])

	callOK(t, s, "cache_stats", map[string]any{}, &stats)
	assert.Equal(t, 0, stats.Entries)
}
