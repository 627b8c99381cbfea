/**
 * Document Processor for the extraction worker
 *
 * Turns a queued job into an engine extraction:
 * - loads the document from an inline buffer, a local path or a URL
 *   (downloads retry with exponential backoff)
 * - resolves the MIME type from the job, the filename or the content
 * - runs the engine and summarizes the result for job status records
 */

package processor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/adverant/nexus/extraction-engine/internal/config"
	apperrors "github.com/adverant/nexus/extraction-engine/internal/errors"
	"github.com/adverant/nexus/extraction-engine/internal/format"
	"github.com/adverant/nexus/extraction-engine/internal/logging"
	"github.com/adverant/nexus/extraction-engine/internal/types"
)

// Engine is the part of engine.Engine the processor uses.
type Engine interface {
	ExtractFile(ctx context.Context, path, mimeHint string, cfg *config.ExtractionConfig) (*types.ExtractionResult, error)
	ExtractBytes(ctx context.Context, data []byte, mimeType string, cfg *config.ExtractionConfig) (*types.ExtractionResult, error)
	DetectBytes(data []byte, hint string) (string, error)
}

// DocumentProcessorInterface defines the interface for document processing
type DocumentProcessorInterface interface {
	ProcessDocument(ctx context.Context, req *ProcessRequest) (*ProcessResult, error)
}

// ProcessorConfig holds processor configuration
type ProcessorConfig struct {
	Engine      Engine
	MaxFileSize int64
	// Defaults derives the config for jobs that carry none.
	Defaults *config.ExtractionConfig
	Logger   *logging.Logger
}

// ProcessRequest represents a document processing request. Exactly one of
// FileBuffer, FilePath or FileURL is used, in that order.
type ProcessRequest struct {
	JobID      string
	Filename   string
	MimeType   string
	FileSize   int64
	FilePath   string
	FileURL    string
	FileBuffer []byte
	Config     *config.ExtractionConfig
	Metadata   map[string]interface{}
}

// ProcessResult represents the processing result
type ProcessResult struct {
	JobID            string                  `json:"jobId"`
	MimeType         string                  `json:"mimeType"`
	ProcessingTimeMs int64                   `json:"processingTime"`
	ContentLength    int                     `json:"contentLength"`
	ChunkCount       int                     `json:"chunkCount"`
	TableCount       int                     `json:"tableCount"`
	PageCount        int                     `json:"pageCount"`
	PluginError      string                  `json:"pluginError,omitempty"`
	Result           *types.ExtractionResult `json:"result"`
}

// Retry policy for URL downloads
const (
	maxRetries        = 5
	initialBackoff    = time.Second
	maxBackoff        = 32 * time.Second
	downloadTimeout   = 10 * time.Minute
	defaultMaxFileLen = 10 * 1024 * 1024 * 1024 // 10GB safety limit
)

// DocumentProcessor handles extraction jobs
type DocumentProcessor struct {
	engine     Engine
	defaults   config.ExtractionConfig
	maxSize    int64
	httpClient *http.Client
	logger     *logging.Logger

	initialBackoff time.Duration
}

// NewDocumentProcessor creates a new document processor
func NewDocumentProcessor(cfg *ProcessorConfig) (*DocumentProcessor, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("Engine is required")
	}

	defaults := config.Default()
	if cfg.Defaults != nil {
		defaults = cfg.Defaults.Clone()
	}
	if err := defaults.Validate(); err != nil {
		return nil, fmt.Errorf("invalid default extraction config: %w", err)
	}

	maxSize := cfg.MaxFileSize
	if maxSize <= 0 {
		maxSize = defaultMaxFileLen
	}

	return &DocumentProcessor{
		engine:         cfg.Engine,
		defaults:       defaults,
		maxSize:        maxSize,
		httpClient:     &http.Client{Timeout: downloadTimeout},
		logger:         logging.OrDefault(cfg.Logger).Named("processor"),
		initialBackoff: initialBackoff,
	}, nil
}

// ProcessDocument loads and extracts one job's document. A result with a
// plugin failure is still returned, with PluginError set.
func (p *DocumentProcessor) ProcessDocument(ctx context.Context, req *ProcessRequest) (*ProcessResult, error) {
	startTime := time.Now()

	cfg := p.defaults.Clone()
	if req.Config != nil {
		cfg = req.Config.Clone()
	}

	var (
		result *types.ExtractionResult
		err    error
	)
	if len(req.FileBuffer) == 0 && req.FileURL == "" && req.FilePath != "" {
		p.logger.Info("Extracting local file", "job_id", req.JobID, "path", req.FilePath)
		result, err = p.engine.ExtractFile(ctx, req.FilePath, req.MimeType, &cfg)
	} else {
		var data []byte
		data, err = p.loadFile(ctx, req)
		if err != nil {
			return nil, err
		}
		var mimeType string
		mimeType, err = p.resolveMimeType(req, data)
		if err != nil {
			return nil, err
		}
		result, err = p.engine.ExtractBytes(ctx, data, mimeType, &cfg)
	}

	if result == nil {
		if err == nil {
			err = apperrors.NewOtherError("extraction returned no result", nil)
		}
		return nil, err
	}

	result.Metadata.SetAdditional("job_id", req.JobID)
	if req.Filename != "" {
		result.Metadata.SetAdditional("filename", req.Filename)
	}

	out := &ProcessResult{
		JobID:            req.JobID,
		MimeType:         result.MimeType,
		ProcessingTimeMs: time.Since(startTime).Milliseconds(),
		ContentLength:    len(result.Content),
		ChunkCount:       len(result.Chunks),
		TableCount:       len(result.Tables),
		Result:           result,
	}
	if result.Metadata.Pages != nil {
		out.PageCount = result.Metadata.Pages.TotalCount
	}
	if err != nil {
		if apperrors.KindOf(err) != apperrors.ErrorPlugin {
			return nil, err
		}
		out.PluginError = apperrors.Message(err)
		p.logger.Warn("Post-processing failed, keeping extracted content", "job_id", req.JobID, "error", err)
	}

	p.logger.Info("Document processed",
		"job_id", req.JobID, "mime_type", out.MimeType,
		"chunks", out.ChunkCount, "tables", out.TableCount, "duration_ms", out.ProcessingTimeMs)
	return out, nil
}

// resolveMimeType prefers the job's type, then the filename extension, then
// content sniffing.
func (p *DocumentProcessor) resolveMimeType(req *ProcessRequest, data []byte) (string, error) {
	if req.MimeType != "" {
		return req.MimeType, nil
	}
	if byExt, ok := format.FromExtension(req.Filename); ok {
		return byExt, nil
	}
	return p.engine.DetectBytes(data, "")
}

// loadFile loads file from buffer or URL
func (p *DocumentProcessor) loadFile(ctx context.Context, req *ProcessRequest) ([]byte, error) {
	if len(req.FileBuffer) > 0 {
		p.logger.Debug("Using file buffer", "job_id", req.JobID, "bytes", len(req.FileBuffer))
		return req.FileBuffer, nil
	}

	if req.FileURL != "" {
		p.logger.Info("Downloading file", "job_id", req.JobID, "url", req.FileURL, "file_size", req.FileSize)
		fileData, err := p.downloadFileFromURL(ctx, req.JobID, req.FileURL, req.FileSize)
		if err != nil {
			return nil, fmt.Errorf("failed to download file: %w", err)
		}
		return fileData, nil
	}

	return nil, apperrors.NewValidationError("no file source provided (buffer, path or URL)")
}

// downloadFileFromURL downloads a file from a URL with retry logic
func (p *DocumentProcessor) downloadFileFromURL(ctx context.Context, jobID string, fileURL string, expectedSize int64) ([]byte, error) {
	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		if attempt > 1 {
			backoff := p.initialBackoff << (attempt - 2)
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			p.logger.Debug("Retrying download", "job_id", jobID, "attempt", attempt, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, fmt.Errorf("context cancelled during retry backoff: %w", ctx.Err())
			}
		}

		data, retry, err := p.download(ctx, fileURL, expectedSize)
		if err == nil {
			p.logger.Info("Download successful", "job_id", jobID, "attempt", attempt, "bytes", len(data))
			return data, nil
		}
		lastErr = err
		p.logger.Warn("Download attempt failed", "job_id", jobID, "attempt", attempt, "error", err)
		if !retry {
			return nil, err
		}
	}

	return nil, fmt.Errorf("failed to download file after %d attempts: %w", maxRetries, lastErr)
}

// download makes one attempt. retry reports whether another attempt could
// succeed.
func (p *DocumentProcessor) download(ctx context.Context, fileURL string, expectedSize int64) (data []byte, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("invalid file URL: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, ctx.Err() == nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Client errors other than throttling will not change on retry
		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return nil, retryable, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	if resp.ContentLength > p.maxSize {
		return nil, false, apperrors.NewValidationErrorf("file size exceeds maximum: %d > %d bytes", resp.ContentLength, p.maxSize)
	}
	if resp.ContentLength > 0 && expectedSize > 0 && resp.ContentLength != expectedSize {
		p.logger.Warn("Content-Length mismatch", "expected", expectedSize, "actual", resp.ContentLength)
	}

	data, err = io.ReadAll(io.LimitReader(resp.Body, p.maxSize+1))
	if err != nil {
		return nil, true, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(data)) > p.maxSize {
		return nil, false, apperrors.NewValidationErrorf("file size exceeds maximum of %d bytes", p.maxSize)
	}
	return data, false, nil
}
