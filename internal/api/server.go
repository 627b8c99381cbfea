/**
 * HTTP API for the extraction engine
 *
 * Routes:
 * - POST   /extract        multipart "files" (+ optional "config" JSON), returns a result array
 * - POST   /detect         multipart "file", returns the resolved MIME type
 * - GET    /health, /info  (dependency health and chunk index stats when wired)
 * - GET    /cache/stats, DELETE /cache
 * - DELETE /documents/{document_id}   drops indexed chunks (only when an index is wired)
 * - POST   /jobs, GET /jobs/stats, GET /jobs/{id}   (only when a job queue is wired)
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/adverant/nexus/extraction-engine/internal/batch"
	"github.com/adverant/nexus/extraction-engine/internal/config"
	"github.com/adverant/nexus/extraction-engine/internal/engine"
	apperrors "github.com/adverant/nexus/extraction-engine/internal/errors"
	"github.com/adverant/nexus/extraction-engine/internal/format"
	"github.com/adverant/nexus/extraction-engine/internal/logging"
	"github.com/adverant/nexus/extraction-engine/internal/queue"
	"github.com/adverant/nexus/extraction-engine/internal/types"
)

const (
	defaultMaxUploadBytes = 100 * 1024 * 1024
	multipartMemory       = 32 << 20
	shutdownTimeout       = 30 * time.Second
	healthCheckTimeout    = 5 * time.Second
)

// HealthChecker is an external dependency reported by /health.
type HealthChecker interface {
	Name() string
	HealthCheck(ctx context.Context) error
}

// DocumentIndex is the chunk index behind /info and /documents.
type DocumentIndex interface {
	Info(ctx context.Context) (map[string]interface{}, error)
	DeleteDocument(ctx context.Context, documentID string) error
}

// JobQueue submits asynchronous extraction jobs.
type JobQueue interface {
	Enqueue(ctx context.Context, payload *queue.JobPayload) (string, error)
}

// Options wires a Server. Engine is required.
type Options struct {
	Engine *engine.Engine
	// Defaults applies to requests without a "config" field.
	Defaults       *config.ExtractionConfig
	MaxUploadBytes int64
	// Jobs and Status enable the /jobs routes. Either may be nil.
	Jobs   JobQueue
	Status *queue.StatusStore
	// Checks feed /health; a failing check reports "degraded".
	Checks []HealthChecker
	Index  DocumentIndex
	Logger *logging.Logger
}

// Server serves the extraction engine over HTTP.
type Server struct {
	engine   *engine.Engine
	batch    *batch.Coordinator
	defaults config.ExtractionConfig
	maxBytes int64
	jobs     JobQueue
	status   *queue.StatusStore
	checks   []HealthChecker
	index    DocumentIndex
	router   *chi.Mux
	logger   *logging.Logger
}

// NewServer builds the router.
func NewServer(opts Options) (*Server, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("Engine is required")
	}
	logger := logging.OrDefault(opts.Logger).Named("api")

	defaults := config.Default()
	if opts.Defaults != nil {
		defaults = opts.Defaults.Clone()
	}
	if err := defaults.Validate(); err != nil {
		return nil, fmt.Errorf("invalid default extraction config: %w", err)
	}

	maxBytes := opts.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxUploadBytes
	}

	s := &Server{
		engine:   opts.Engine,
		batch:    batch.New(opts.Engine, logger),
		defaults: defaults,
		maxBytes: maxBytes,
		jobs:     opts.Jobs,
		status:   opts.Status,
		checks:   opts.Checks,
		index:    opts.Index,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	s.RegisterHTTP(r)
	s.router = r
	return s, nil
}

// RegisterHTTP mounts every route on r.
func (s *Server) RegisterHTTP(r chi.Router) {
	r.Get("/health", s.handleHealth)
	r.Get("/info", s.handleInfo)

	r.Group(func(r chi.Router) {
		r.Use(s.limitBody)
		r.Post("/extract", s.handleExtract)
		r.Post("/detect", s.handleDetect)
		if s.jobs != nil {
			r.Post("/jobs", s.handleSubmitJob)
		}
	})

	r.Get("/cache/stats", s.handleCacheStats)
	r.Delete("/cache", s.handleCacheClear)

	if s.index != nil {
		r.Delete("/documents/{document_id}", s.handleDeleteDocument)
	}

	if s.status != nil {
		r.Get("/jobs/stats", s.handleJobStats)
		r.Get("/jobs/{job_id}", s.handleJobStatus)
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is cancelled, then drains
// in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP API listening", "addr", addr, "max_upload_bytes", s.maxBytes)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP API")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}
	return nil
}

func (s *Server) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > s.maxBytes {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Errorf("request body of %d bytes exceeds the %d byte limit", r.ContentLength, s.maxBytes))
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBytes)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{"status": "healthy", "version": engine.Version}
	if len(s.checks) > 0 {
		deps := make(map[string]string, len(s.checks))
		for _, c := range s.checks {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			err := c.HealthCheck(ctx)
			cancel()
			if err != nil {
				s.logger.Warn("Dependency health check failed", "dependency", c.Name(), "error", err)
				deps[c.Name()] = err.Error()
				body["status"] = "degraded"
				continue
			}
			deps[c.Name()] = "ok"
		}
		body["dependencies"] = deps
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"version":              engine.Version,
		"extractors":           s.engine.Extractors().Names(),
		"supported_mime_types": s.engine.Extractors().SupportedTypes(),
		"ocr_backends":         s.engine.Plugins().OCRBackends(),
		"post_processors":      s.engine.Plugins().PostProcessorNames(),
		"validators":           s.engine.Plugins().ValidatorNames(),
		"cache_enabled":        s.engine.Cache() != nil,
		"jobs_enabled":         s.jobs != nil,
	}
	if s.index != nil {
		if stats, err := s.index.Info(r.Context()); err != nil {
			info["index_error"] = err.Error()
		} else {
			info["index"] = stats
		}
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	documentID := chi.URLParam(r, "document_id")
	if err := s.index.DeleteDocument(r.Context(), documentID); err != nil {
		s.logger.Error("Failed to delete indexed document", "document_id", documentID, "error", err)
		writeError(w, http.StatusBadGateway, err)
		return
	}
	s.logger.Info("Indexed document deleted", "document_id", documentID)
	writeJSON(w, http.StatusOK, map[string]interface{}{"document_id": documentID, "deleted": true})
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		s.writeFailure(w, uploadError(err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	cfg, err := s.requestConfig(r)
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		s.writeFailure(w, apperrors.NewValidationError("no files provided in the \"files\" field"))
		return
	}

	items := make([]batch.Item, 0, len(headers))
	for _, fh := range headers {
		data, err := readUpload(fh)
		if err != nil {
			s.writeFailure(w, err)
			return
		}
		items = append(items, batch.Item{Data: data, MimeType: uploadMimeType(fh), Name: fh.Filename})
	}

	// A single document surfaces its error as the response status
	if len(items) == 1 {
		result, err := s.engine.ExtractBytes(r.Context(), items[0].Data, items[0].MimeType, &cfg)
		if err != nil && (result == nil || !apperrors.Is(err, apperrors.ErrorPlugin)) {
			s.writeFailure(w, err)
			return
		}
		if err != nil {
			result.Metadata.Error = &types.ErrorMetadata{ErrorType: string(apperrors.KindOf(err)), Message: apperrors.Message(err)}
		}
		writeJSON(w, http.StatusOK, []*types.ExtractionResult{result})
		return
	}

	results, err := s.batch.ExtractBytes(r.Context(), items, &cfg)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		s.writeFailure(w, uploadError(err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	fh, err := singleUpload(r)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	data, err := readUpload(fh)
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	hint := r.FormValue("mime_type")
	if hint == "" {
		hint, _ = format.FromExtension(fh.Filename)
	}
	mimeType, err := s.engine.DetectBytes(data, hint)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"mime_type": mimeType, "filename": fh.Filename})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	c := s.engine.Cache()
	if c == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"backend": "none", "entries": 0})
		return
	}
	stats, err := c.Stats(r.Context())
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	c := s.engine.Cache()
	if c == nil {
		writeJSON(w, http.StatusOK, map[string]int{"removed": 0})
		return
	}
	n, err := c.Clear(r.Context())
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.logger.Info("Cache cleared", "removed", n)
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		s.writeFailure(w, uploadError(err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	var payload queue.JobPayload
	if url := r.FormValue("file_url"); url != "" {
		payload.FileURL = url
		payload.Filename = r.FormValue("filename")
	} else {
		fh, err := singleUpload(r)
		if err != nil {
			s.writeFailure(w, err)
			return
		}
		data, err := readUpload(fh)
		if err != nil {
			s.writeFailure(w, err)
			return
		}
		payload.Filename = fh.Filename
		payload.FileBuffer = data
		payload.FileSize = fh.Size
		if mt := uploadMimeType(fh); mt != "application/octet-stream" {
			payload.MimeType = mt
		}
	}

	if r.FormValue("config") != "" {
		cfg, err := s.requestConfig(r)
		if err != nil {
			s.writeFailure(w, err)
			return
		}
		payload.Config = &cfg
	}

	jobID, err := s.jobs.Enqueue(r.Context(), &payload)
	if err != nil {
		s.logger.Error("Failed to enqueue job", "filename", payload.Filename, "error", err)
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID, "status": string(queue.StatusQueued)})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	st, err := s.status.Status(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	if st == queue.StatusUnknown {
		writeError(w, http.StatusNotFound, fmt.Errorf("job %s not found", jobID))
		return
	}

	resp := map[string]interface{}{"jobId": jobID, "status": st}
	var (
		raw json.RawMessage
		ok  bool
	)
	switch st {
	case queue.StatusCompleted:
		raw, ok, err = s.status.Result(r.Context(), jobID)
		if ok {
			resp["result"] = raw
		}
	case queue.StatusFailed:
		raw, ok, err = s.status.Failure(r.Context(), jobID)
		if ok {
			resp["error"] = raw
		}
	}
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleJobStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.status.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// requestConfig parses the "config" form field over the defaults, or
// returns a copy of the server defaults.
func (s *Server) requestConfig(r *http.Request) (config.ExtractionConfig, error) {
	raw := r.FormValue("config")
	if raw == "" {
		return s.defaults.Clone(), nil
	}
	cfg, err := config.Parse([]byte(raw), ".json")
	if err != nil {
		return config.ExtractionConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.ExtractionConfig{}, err
	}
	return cfg, nil
}

func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "error_code", apperrors.KindOf(err), "error", err)
	} else {
		s.logger.Debug("Request rejected", "error_code", apperrors.KindOf(err), "error", err)
	}

	body := map[string]interface{}{
		"error_code": string(apperrors.KindOf(err)),
		"message":    apperrors.Message(err),
	}
	var ee *apperrors.ExtractionError
	if errors.As(err, &ee) {
		body = ee.ToMap()
	}
	writeJSON(w, status, body)
}

// StatusFor maps an error kind to an HTTP status code.
func StatusFor(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	switch apperrors.KindOf(err) {
	case apperrors.ErrorValidation, apperrors.ErrorSerialization:
		return http.StatusBadRequest
	case apperrors.ErrorUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case apperrors.ErrorParsing, apperrors.ErrorOCR, apperrors.ErrorImageProcessing:
		return http.StatusUnprocessableEntity
	case apperrors.ErrorMissingDependency:
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}

func uploadError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return err
	}
	return apperrors.NewValidationErrorf("invalid multipart form: %v", err)
}

func singleUpload(r *http.Request) (*multipart.FileHeader, error) {
	if fhs := r.MultipartForm.File["file"]; len(fhs) > 0 {
		return fhs[0], nil
	}
	if fhs := r.MultipartForm.File["files"]; len(fhs) > 0 {
		return fhs[0], nil
	}
	return nil, apperrors.NewValidationError("no file provided in the \"file\" field")
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload %s: %w", fh.Filename, err)
	}
	defer f.Close()
	return io.ReadAll(f)
}

// uploadMimeType prefers the part's declared type, then the filename
// extension. application/octet-stream leaves detection to content sniffing.
func uploadMimeType(fh *multipart.FileHeader) string {
	if ct := fh.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil && mt != "application/octet-stream" {
			return mt
		}
	}
	if mt, ok := format.FromExtension(fh.Filename); ok {
		return mt
	}
	return "application/octet-stream"
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
