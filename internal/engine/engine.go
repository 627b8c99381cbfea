// Package engine is the entry point for single extractions: it resolves the
// MIME type, runs the matching extractor and the post-extraction pipeline,
// and memoizes the outcome in the result cache.
package engine

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"github.com/adverant/nexus/extraction-engine/internal/cache"
	"github.com/adverant/nexus/extraction-engine/internal/config"
	"github.com/adverant/nexus/extraction-engine/internal/embedding"
	apperrors "github.com/adverant/nexus/extraction-engine/internal/errors"
	"github.com/adverant/nexus/extraction-engine/internal/extractor"
	"github.com/adverant/nexus/extraction-engine/internal/format"
	"github.com/adverant/nexus/extraction-engine/internal/logging"
	"github.com/adverant/nexus/extraction-engine/internal/ocr"
	"github.com/adverant/nexus/extraction-engine/internal/pages"
	"github.com/adverant/nexus/extraction-engine/internal/pipeline"
	"github.com/adverant/nexus/extraction-engine/internal/plugins"
	"github.com/adverant/nexus/extraction-engine/internal/postprocess"
	"github.com/adverant/nexus/extraction-engine/internal/types"
)

// Version is reported by the HTTP API, the MCP server and the CLI.
const Version = "1.0.0"

// Options wires an Engine. Every field is optional.
type Options struct {
	// Plugins defaults to plugins.NewDefault plus the built-in
	// post-processors.
	Plugins *plugins.Registry
	// Extractors defaults to the built-in extractors, with OCR served by
	// the Plugins backends.
	Extractors *extractor.Registry
	// Cache of nil disables caching.
	Cache *cache.Cache
	// Embedder defaults to a generator without remote credentials.
	Embedder       *embedding.Generator
	Sinks          []pipeline.Sink
	TessdataPrefix string
	Logger         *logging.Logger
}

// Engine is safe for concurrent use.
type Engine struct {
	plugins    *plugins.Registry
	extractors *extractor.Registry
	resolver   *format.Resolver
	pipeline   *pipeline.Runner
	cache      *cache.Cache
	logger     *logging.Logger
}

// New builds an engine from opts.
func New(opts Options) (*Engine, error) {
	logger := logging.OrDefault(opts.Logger)

	registry := opts.Plugins
	if registry == nil {
		registry = plugins.NewDefault(opts.TessdataPrefix, logger)
		if err := postprocess.RegisterDefaults(registry); err != nil {
			return nil, fmt.Errorf("failed to register post-processors: %w", err)
		}
	}

	extractors := opts.Extractors
	if extractors == nil {
		var err error
		extractors, err = extractor.NewDefaultRegistry(extractor.Deps{
			OCR:    ocr.NewProcessor(registry, logger),
			Logger: logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to register extractors: %w", err)
		}
	}

	embedder := opts.Embedder
	if embedder == nil {
		embedder = embedding.NewGenerator(embedding.RemoteSettings{}, logger)
	}

	return &Engine{
		plugins:    registry,
		extractors: extractors,
		resolver:   format.NewResolver(extractors),
		pipeline:   pipeline.New(registry, embedder, logger, opts.Sinks...),
		cache:      opts.Cache,
		logger:     logger.Named("engine"),
	}, nil
}

func (e *Engine) Plugins() *plugins.Registry { return e.plugins }

func (e *Engine) Extractors() *extractor.Registry { return e.extractors }

// Cache returns nil when caching is disabled.
func (e *Engine) Cache() *cache.Cache { return e.cache }

// DetectFile resolves the MIME type of the file at path. hint may be empty.
func (e *Engine) DetectFile(path, hint string) (string, error) {
	return e.resolver.DetectFile(path, hint)
}

// DetectBytes resolves the MIME type of data. hint may be empty.
func (e *Engine) DetectBytes(data []byte, hint string) (string, error) {
	return e.resolver.DetectBytes(data, hint)
}

// ExtractFile extracts the file at path. mimeHint may be empty. IO failures
// are returned as the original *fs.PathError.
func (e *Engine) ExtractFile(ctx context.Context, path, mimeHint string, cfg *config.ExtractionConfig) (*types.ExtractionResult, error) {
	c, err := prepare(cfg)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	mimeType, err := e.resolver.DetectFile(path, mimeHint)
	if err != nil {
		return nil, err
	}
	return e.extract(ctx, data, mimeType, c)
}

// ExtractBytes extracts in-memory content of the given MIME type.
func (e *Engine) ExtractBytes(ctx context.Context, data []byte, mimeType string, cfg *config.ExtractionConfig) (*types.ExtractionResult, error) {
	c, err := prepare(cfg)
	if err != nil {
		return nil, err
	}
	if mimeType == "" {
		return nil, apperrors.NewValidationError("mime_type is required for byte input")
	}
	resolved, err := e.resolver.DetectBytes(data, mimeType)
	if err != nil {
		return nil, err
	}
	return e.extract(ctx, data, resolved, c)
}

// prepare validates cfg and returns the engine's own copy of it.
func prepare(cfg *config.ExtractionConfig) (*config.ExtractionConfig, error) {
	var c config.ExtractionConfig
	if cfg == nil {
		c = config.Default()
	} else {
		c = cfg.Clone()
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

type outcome struct {
	result *types.ExtractionResult
	err    error
}

// extract runs the work detached from ctx. A cancelled caller stops waiting
// but the work finishes and still populates the cache.
func (e *Engine) extract(ctx context.Context, data []byte, mimeType string, cfg *config.ExtractionConfig) (*types.ExtractionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	work := context.WithoutCancel(ctx)
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("Extraction panicked", "mime_type", mimeType, "panic", r, "stack", string(debug.Stack()))
				done <- outcome{err: apperrors.NewOtherError(fmt.Sprintf("extraction of %s panicked: %v", mimeType, r), nil)}
			}
		}()
		r, err := e.cached(work, data, mimeType, cfg)
		done <- outcome{result: r, err: err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-ctx.Done():
		e.logger.Debug("Caller stopped waiting; extraction continues", "mime_type", mimeType)
		return nil, ctx.Err()
	}
}

func (e *Engine) cached(ctx context.Context, data []byte, mimeType string, cfg *config.ExtractionConfig) (*types.ExtractionResult, error) {
	compute := func() (*types.ExtractionResult, error) {
		return e.run(ctx, data, mimeType, cfg)
	}
	if e.cache == nil || !cfg.UseCache {
		return compute()
	}
	key, err := cache.Key(data, mimeType, cfg)
	if err != nil {
		e.logger.Warn("Cache key unavailable, extracting uncached", "error", err)
		return compute()
	}
	return e.cache.GetOrCompute(ctx, key, compute)
}

// run is one uncached extraction: extractor, page structure, pipeline.
func (e *Engine) run(ctx context.Context, data []byte, mimeType string, cfg *config.ExtractionConfig) (*types.ExtractionResult, error) {
	startTime := time.Now()

	ex, err := e.extractors.Resolve(mimeType)
	if err != nil {
		return nil, err
	}

	result, err := ex.Extract(ctx, data, mimeType, cfg)
	if err != nil {
		if apperrors.KindOf(err) == apperrors.ErrorOther {
			return nil, apperrors.NewParsingError(fmt.Sprintf("%s extractor failed", ex.Name()), err)
		}
		return nil, err
	}
	if result == nil {
		return nil, apperrors.NewParsingError(fmt.Sprintf("%s extractor returned no result", ex.Name()), nil)
	}
	if result.MimeType == "" {
		result.MimeType = mimeType
	}
	if result.Tables == nil {
		result.Tables = []types.Table{}
	}
	e.ensurePages(result, cfg)

	result, err = e.pipeline.Run(ctx, result, cfg)
	e.logger.Debug("Extraction finished",
		"extractor", ex.Name(), "mime_type", mimeType, "bytes", len(data),
		"error", err != nil, "duration", time.Since(startTime))
	return result, err
}

// ensurePages drops a page structure that does not partition the content and,
// when page extraction is on, gives single-page formats a structure too.
func (e *Engine) ensurePages(result *types.ExtractionResult, cfg *config.ExtractionConfig) {
	if ps := result.Metadata.Pages; ps != nil {
		if err := pages.Validate(result.Content, ps); err != nil {
			e.logger.Warn("Discarding invalid page structure", "mime_type", result.MimeType, "error", err)
			result.Metadata.Pages = nil
			result.Pages = nil
		}
	}
	if result.Metadata.Pages != nil || cfg.Pages == nil || !cfg.Pages.ExtractPages || result.Content == "" {
		return
	}
	result.Metadata.Pages = pages.Single(result.Content, types.UnitPage)
	if result.Pages == nil {
		result.Pages = []types.PageContent{{PageNumber: 1, Content: result.Content, Tables: result.Tables}}
	}
}
