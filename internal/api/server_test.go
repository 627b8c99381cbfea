package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/extraction-engine/internal/cache"
	"github.com/adverant/nexus/extraction-engine/internal/config"
	"github.com/adverant/nexus/extraction-engine/internal/engine"
	"github.com/adverant/nexus/extraction-engine/internal/extractor"
	"github.com/adverant/nexus/extraction-engine/internal/logging"
	"github.com/adverant/nexus/extraction-engine/internal/plugins"
	"github.com/adverant/nexus/extraction-engine/internal/queue"
	"github.com/adverant/nexus/extraction-engine/internal/types"
)

type upperExtractor struct{}

func (upperExtractor) Name() string { return "upper" }

func (upperExtractor) Priority() int { return 10 }

func (upperExtractor) Extract(_ context.Context, data []byte, _ string, _ *config.ExtractionConfig) (*types.ExtractionResult, error) {
	return &types.ExtractionResult{Content: strings.ToUpper(string(data)), Success: true}, nil
}

type brokenExtractor struct{}

func (brokenExtractor) Name() string { return "broken" }

func (brokenExtractor) Priority() int { return 10 }

func (brokenExtractor) Extract(context.Context, []byte, string, *config.ExtractionConfig) (*types.ExtractionResult, error) {
	return nil, errors.New("corrupt stream")
}

type fakeJobs struct {
	mu       sync.Mutex
	payloads []*queue.JobPayload
	err      error
}

func (f *fakeJobs) Enqueue(_ context.Context, p *queue.JobPayload) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, p)
	return fmt.Sprintf("job-%d", len(f.payloads)), nil
}

func newTestEngine(t *testing.T, c *cache.Cache) *engine.Engine {
	t.Helper()
	logger := logging.NewTestLogger(io.Discard)
	reg := extractor.NewRegistry(logger)
	require.NoError(t, reg.Register([]string{"text/plain"}, upperExtractor{}))
	require.NoError(t, reg.Register([]string{"application/x-broken"}, brokenExtractor{}))
	e, err := engine.New(engine.Options{
		Plugins:    plugins.New(logger),
		Extractors: reg,
		Cache:      c,
		Logger:     logger,
	})
	require.NoError(t, err)
	return e
}

func newTestServer(t *testing.T, opts Options) *httptest.Server {
	t.Helper()
	if opts.Engine == nil {
		opts.Engine = newTestEngine(t, nil)
	}
	opts.Logger = logging.NewTestLogger(io.Discard)
	s, err := NewServer(opts)
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

type upload struct {
	field, name, contentType, body string
}

func multipartBody(t *testing.T, files []upload, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.field, f.name))
		ct := f.contentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
		part, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write([]byte(f.body))
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func post(t *testing.T, url string, files []upload, fields map[string]string) *http.Response {
	t.Helper()
	body, ct := multipartBody(t, files, fields)
	resp, err := http.Post(url, ct, body)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealthAndInfo(t *testing.T) {
	ts := newTestServer(t, Options{})

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var health map[string]string
	decode(t, resp, &health)
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, engine.Version, health["version"])

	resp, err = http.Get(ts.URL + "/info")
	require.NoError(t, err)
	defer resp.Body.Close()
	var info map[string]interface{}
	decode(t, resp, &info)
	assert.ElementsMatch(t, []interface{}{"upper", "broken"}, info["extractors"])
	assert.Contains(t, info["supported_mime_types"], "text/plain")
	assert.Equal(t, false, info["cache_enabled"])
	assert.Equal(t, false, info["jobs_enabled"])
}

func TestExtractSingleFile(t *testing.T) {
	ts := newTestServer(t, Options{})

	resp := post(t, ts.URL+"/extract", []upload{{field: "files", name: "a.txt", body: "hello world"}}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var results []types.ExtractionResult
	decode(t, resp, &results)
	require.Len(t, results, 1)
	assert.Equal(t, "HELLO WORLD", results[0].Content)
	assert.Equal(t, "text/plain", results[0].MimeType)
	assert.True(t, results[0].Success)
}

func TestExtractRequestConfig(t *testing.T) {
	ts := newTestServer(t, Options{})

	resp := post(t, ts.URL+"/extract",
		[]upload{{field: "files", name: "a.txt", body: "alpha beta gamma delta epsilon"}},
		map[string]string{"config": `{"chunking":{"max_chars":10,"max_overlap":2}}`})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var results []types.ExtractionResult
	decode(t, resp, &results)
	require.Len(t, results, 1)
	require.NotEmpty(t, results[0].Chunks)
	for _, c := range results[0].Chunks {
		assert.LessOrEqual(t, c.Metadata.CharCount, 10)
	}
}

func TestExtractBatchCapturesItemFailures(t *testing.T) {
	ts := newTestServer(t, Options{})

	resp := post(t, ts.URL+"/extract", []upload{
		{field: "files", name: "a.txt", body: "one"},
		{field: "files", name: "b.bin", contentType: "application/x-broken", body: "??"},
		{field: "files", name: "c.txt", body: "three"},
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var results []types.ExtractionResult
	decode(t, resp, &results)
	require.Len(t, results, 3)
	assert.Equal(t, "ONE", results[0].Content)
	assert.False(t, results[1].Success)
	require.NotNil(t, results[1].Metadata.Error)
	assert.Equal(t, "PARSING", results[1].Metadata.Error.ErrorType)
	assert.Equal(t, "THREE", results[2].Content)
}

func TestExtractErrorStatus(t *testing.T) {
	ts := newTestServer(t, Options{})

	tests := []struct {
		name   string
		files  []upload
		fields map[string]string
		status int
		code   string
	}{
		{"parse failure", []upload{{field: "files", name: "x.bin", contentType: "application/x-broken", body: "??"}}, nil, http.StatusUnprocessableEntity, "PARSING"},
		{"unsupported", []upload{{field: "files", name: "x.zzz", contentType: "application/x-unknown", body: "\x00\x01\x02\x03"}}, nil, http.StatusUnsupportedMediaType, "UNSUPPORTED_FORMAT"},
		{"no files", nil, map[string]string{"other": "x"}, http.StatusBadRequest, "VALIDATION"},
		{"malformed config", []upload{{field: "files", name: "a.txt", body: "x"}}, map[string]string{"config": "{"}, http.StatusBadRequest, "SERIALIZATION"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, ts.URL+"/extract", tt.files, tt.fields)
			assert.Equal(t, tt.status, resp.StatusCode)
			var body map[string]interface{}
			decode(t, resp, &body)
			assert.Equal(t, tt.code, body["error_code"])
		})
	}
}

func TestUploadLimit(t *testing.T) {
	ts := newTestServer(t, Options{MaxUploadBytes: 1024})

	resp := post(t, ts.URL+"/extract", []upload{{field: "files", name: "a.txt", body: strings.Repeat("x", 4096)}}, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestDetect(t *testing.T) {
	ts := newTestServer(t, Options{})

	resp := post(t, ts.URL+"/detect", []upload{{field: "file", name: "notes.txt", body: "plain"}}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	decode(t, resp, &body)
	assert.Equal(t, "text/plain", body["mime_type"])
	assert.Equal(t, "notes.txt", body["filename"])
}

func TestCacheEndpoints(t *testing.T) {
	c := cache.NewMemory(logging.NewTestLogger(io.Discard))
	ts := newTestServer(t, Options{Engine: newTestEngine(t, c)})

	resp := post(t, ts.URL+"/extract", []upload{{field: "files", name: "a.txt", body: "cache me"}}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	statsResp, err := http.Get(ts.URL + "/cache/stats")
	require.NoError(t, err)
	defer statsResp.Body.Close()
	var stats cache.Stats
	decode(t, statsResp, &stats)
	assert.Equal(t, "memory", stats.Backend)
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, int64(1), stats.Misses)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/cache", nil)
	require.NoError(t, err)
	clearResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer clearResp.Body.Close()
	var cleared map[string]int
	decode(t, clearResp, &cleared)
	assert.Equal(t, 1, cleared["removed"])
}

func TestCacheEndpointsWithoutCache(t *testing.T) {
	ts := newTestServer(t, Options{})

	resp, err := http.Get(ts.URL + "/cache/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var stats map[string]interface{}
	decode(t, resp, &stats)
	assert.Equal(t, "none", stats["backend"])
}

type fakeCheck struct {
	name string
	err  error
}

func (f fakeCheck) Name() string { return f.name }

func (f fakeCheck) HealthCheck(context.Context) error { return f.err }

type fakeIndex struct {
	mu      sync.Mutex
	deleted []string
	err     error
}

func (f *fakeIndex) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeIndex) deletedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func (f *fakeIndex) Info(context.Context) (map[string]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return map[string]interface{}{"collection_name": "chunks", "status": "Green"}, nil
}

func (f *fakeIndex) DeleteDocument(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func TestHealthReportsDependencies(t *testing.T) {
	ts := newTestServer(t, Options{Checks: []HealthChecker{
		fakeCheck{name: "qdrant"},
		fakeCheck{name: "graphrag", err: errors.New("connection refused")},
	}})

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var health struct {
		Status       string            `json:"status"`
		Dependencies map[string]string `json:"dependencies"`
	}
	decode(t, resp, &health)
	assert.Equal(t, "degraded", health.Status)
	assert.Equal(t, "ok", health.Dependencies["qdrant"])
	assert.Contains(t, health.Dependencies["graphrag"], "connection refused")
}

func TestIndexRoutes(t *testing.T) {
	idx := &fakeIndex{}
	ts := newTestServer(t, Options{Index: idx})

	resp, err := http.Get(ts.URL + "/info")
	require.NoError(t, err)
	defer resp.Body.Close()
	var info map[string]interface{}
	decode(t, resp, &info)
	require.IsType(t, map[string]interface{}{}, info["index"])
	assert.Equal(t, "chunks", info["index"].(map[string]interface{})["collection_name"])

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/documents/doc-42", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"doc-42"}, idx.deletedIDs())

	idx.fail(errors.New("qdrant unavailable"))
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/info")
	require.NoError(t, err)
	defer resp.Body.Close()
	info = nil
	decode(t, resp, &info)
	assert.Equal(t, "qdrant unavailable", info["index_error"])
}

func TestDocumentRouteRequiresIndex(t *testing.T) {
	ts := newTestServer(t, Options{})
	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/documents/doc-42", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestJobRoutes(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	status := queue.NewStatusStore(client, "extraction", logging.NewTestLogger(io.Discard))

	jobs := &fakeJobs{}
	ts := newTestServer(t, Options{Jobs: jobs, Status: status})

	resp := post(t, ts.URL+"/jobs", []upload{{field: "file", name: "a.txt", body: "queued body"}},
		map[string]string{"config": `{"use_cache":false}`})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var accepted map[string]string
	decode(t, resp, &accepted)
	assert.Equal(t, "job-1", accepted["jobId"])

	require.Len(t, jobs.payloads, 1)
	p := jobs.payloads[0]
	assert.Equal(t, "a.txt", p.Filename)
	assert.Equal(t, "text/plain", p.MimeType)
	assert.Equal(t, "queued body", string(p.FileBuffer))
	require.NotNil(t, p.Config)
	assert.False(t, p.Config.UseCache)

	ctx := context.Background()
	require.NoError(t, status.MarkCompleted(ctx, "job-1", map[string]int{"chunkCount": 4}))

	getResp, err := http.Get(ts.URL + "/jobs/job-1")
	require.NoError(t, err)
	defer getResp.Body.Close()
	require.Equal(t, http.StatusOK, getResp.StatusCode)
	var job struct {
		Status string          `json:"status"`
		Result json.RawMessage `json:"result"`
	}
	decode(t, getResp, &job)
	assert.Equal(t, "completed", job.Status)
	assert.JSONEq(t, `{"chunkCount":4}`, string(job.Result))

	missing, err := http.Get(ts.URL + "/jobs/nope")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)

	statsResp, err := http.Get(ts.URL + "/jobs/stats")
	require.NoError(t, err)
	defer statsResp.Body.Close()
	var stats map[string]int64
	decode(t, statsResp, &stats)
	assert.Equal(t, int64(1), stats["completed"])
}

func TestSubmitJobBrokerDown(t *testing.T) {
	ts := newTestServer(t, Options{Jobs: &fakeJobs{err: errors.New("connection refused")}})

	resp := post(t, ts.URL+"/jobs", []upload{{field: "file", name: "a.txt", body: "x"}}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, StatusFor(errors.New("boom")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, StatusFor(&http.MaxBytesError{Limit: 10}))
}
