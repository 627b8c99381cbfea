package clients

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/extraction-engine/internal/logging"
	"github.com/adverant/nexus/extraction-engine/internal/postprocess"
	"github.com/adverant/nexus/extraction-engine/internal/types"
)

func longResult() *types.ExtractionResult {
	content := strings.Repeat("page one text. ", 5) + strings.Repeat("page two text. ", 5)
	r := &types.ExtractionResult{Content: content, MimeType: "application/pdf", Success: true, DetectedLanguages: []string{"eng"}}
	r.Metadata.SetAdditional("filename", "report.pdf")
	r.Metadata.SetAdditional("extracted_keywords", []postprocess.Keyword{{Text: "page", Score: 1}})
	r.Metadata.Pages = &types.PageStructure{
		TotalCount: 2,
		UnitType:   types.UnitPage,
		Boundaries: []types.PageBoundary{
			{ByteStart: 0, ByteEnd: 75, PageNumber: 1},
			{ByteStart: 75, ByteEnd: len(content), PageNumber: 2},
		},
	}
	return r
}

func TestConsumePostsDocument(t *testing.T) {
	var got GraphRAGDocumentRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/graphrag/api/documents", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		w.Write([]byte(`{"success":true,"documentId":"d1","chunkCount":2}`))
	}))
	defer srv.Close()

	c := NewGraphRAGClient(srv.URL+"/", logging.NewTestLogger(io.Discard))
	assert.Equal(t, "graphrag", c.Name())
	require.NoError(t, c.Consume(context.Background(), longResult()))

	assert.Equal(t, "report.pdf", got.Title)
	assert.Equal(t, "text", got.Metadata.Type)
	assert.Equal(t, 2, got.Metadata.PageCount)
	assert.Equal(t, []string{"page"}, got.Metadata.Tags)
	require.Len(t, got.Metadata.Pages, 2)
	assert.Equal(t, 75, got.Metadata.Pages[1].StartByte)
}

func TestConsumeReportsFailures(t *testing.T) {
	status := http.StatusInternalServerError
	body := `{"error":"down"}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	defer srv.Close()
	c := NewGraphRAGClient(srv.URL, logging.NewTestLogger(io.Discard))

	err := c.Consume(context.Background(), longResult())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")

	status, body = http.StatusOK, `{"success":false,"error":"quota"}`
	err = c.Consume(context.Background(), longResult())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota")

	body = `not json`
	assert.NoError(t, c.Consume(context.Background(), longResult()))
}

func TestConsumeSkipsShortAndFailedResults(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()
	c := NewGraphRAGClient(srv.URL, logging.NewTestLogger(io.Discard))

	require.NoError(t, c.Consume(context.Background(), &types.ExtractionResult{Content: "short", Success: true}))
	require.NoError(t, c.Consume(context.Background(), types.NewErrorResult("", "PARSING", "bad")))
	assert.False(t, called)
}

func TestDetermineDocumentType(t *testing.T) {
	tests := map[string]string{
		"text/markdown":    "markdown",
		"application/json": "structured",
		"text/x-go":        "code",
		"application/pdf":  "text",
	}
	for mime, want := range tests {
		t.Run(mime, func(t *testing.T) {
			assert.Equal(t, want, DetermineDocumentType(mime))
		})
	}
}

func TestGraphRAGHealthCheck(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewGraphRAGClient(srv.URL, logging.NewTestLogger(io.Discard))
	assert.Equal(t, GraphRAGSinkName, c.Name())
	require.NoError(t, c.HealthCheck(context.Background()))

	healthy.Store(false)
	assert.ErrorContains(t, c.HealthCheck(context.Background()), "503")
}
