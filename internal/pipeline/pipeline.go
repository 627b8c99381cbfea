// Package pipeline runs everything that happens to a result after its
// extractor returns: post-processors, quality scoring, chunking and
// embedding, language detection, validators and sinks.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/adverant/nexus/extraction-engine/internal/chunking"
	"github.com/adverant/nexus/extraction-engine/internal/config"
	"github.com/adverant/nexus/extraction-engine/internal/embedding"
	apperrors "github.com/adverant/nexus/extraction-engine/internal/errors"
	"github.com/adverant/nexus/extraction-engine/internal/logging"
	"github.com/adverant/nexus/extraction-engine/internal/plugins"
	"github.com/adverant/nexus/extraction-engine/internal/postprocess"
	"github.com/adverant/nexus/extraction-engine/internal/types"
)

// Sink receives every result that passed validation. Sink errors are
// recorded on the result and never fail the run.
type Sink interface {
	Name() string
	Consume(ctx context.Context, result *types.ExtractionResult) error
}

// Runner executes the post-extraction pipeline against a plugin registry.
type Runner struct {
	registry *plugins.Registry
	embedder *embedding.Generator
	sinks    []Sink
	logger   *logging.Logger
}

// New creates a runner. embedder may be nil, in which case chunks are
// never embedded.
func New(registry *plugins.Registry, embedder *embedding.Generator, logger *logging.Logger, sinks ...Sink) *Runner {
	return &Runner{
		registry: registry,
		embedder: embedder,
		sinks:    sinks,
		logger:   logging.OrDefault(logger).Named("pipeline"),
	}
}

// Run mutates result in place and returns it. When a post-processor fails
// the result is still returned, together with a Plugin error. A validator
// failure returns a nil result and a Validation error.
func (r *Runner) Run(ctx context.Context, result *types.ExtractionResult, cfg *config.ExtractionConfig) (*types.ExtractionResult, error) {
	startTime := time.Now()

	pluginErr := r.runPostProcessors(ctx, result, cfg)

	if cfg.EnableQualityProcessing {
		result.Metadata.SetAdditional("quality_score", postprocess.QualityScore(result.Content, &result.Metadata))
	}

	if cfg.Chunking != nil {
		r.chunk(ctx, result, cfg.Chunking)
	}

	if langs := postprocess.DetectLanguages(result.Content, cfg.LanguageDetection); len(langs) > 0 {
		result.DetectedLanguages = langs
	}

	if err := r.runValidators(ctx, result, cfg); err != nil {
		return nil, err
	}

	for _, sink := range r.sinks {
		if err := sink.Consume(ctx, result); err != nil {
			r.logger.Warn("Result sink failed", "sink", sink.Name(), "error", err)
			result.Metadata.SetAdditional("sink_error_"+sink.Name(), err.Error())
		}
	}

	r.logger.Debug("Pipeline complete",
		"mime_type", result.MimeType, "chunks", len(result.Chunks),
		"plugin_error", pluginErr != nil, "duration", time.Since(startTime))
	return result, pluginErr
}

// runPostProcessors runs each stage in order. A failing processor is rolled
// back, recorded, and ends its stage; later stages still run. The first
// failure is returned.
func (r *Runner) runPostProcessors(ctx context.Context, result *types.ExtractionResult, cfg *config.ExtractionConfig) error {
	pp := cfg.Postprocessor
	if pp != nil && !pp.Enabled {
		return nil
	}

	byStage := make(map[plugins.Stage][]plugins.PostProcessor)
	for _, p := range r.registry.PostProcessors() {
		byStage[p.Stage()] = append(byStage[p.Stage()], p)
	}

	var firstErr error
	for _, stage := range plugins.Stages {
		for _, p := range byStage[stage] {
			name := p.Name()
			if !enabled(pp, name) {
				continue
			}
			if c, ok := p.(plugins.Conditional); ok && !c.ShouldProcess(result, cfg) {
				continue
			}

			snapshot := result.Clone()
			err := p.Process(ctx, result, cfg)
			if err == nil {
				continue
			}

			*result = *snapshot
			result.Metadata.SetAdditional("processing_error_"+name, err.Error())
			r.logger.Warn("Post-processor failed, skipping rest of stage",
				"processor", name, "stage", stage, "error", err)
			if firstErr == nil {
				firstErr = apperrors.NewPluginError(name, fmt.Sprintf("post-processor failed in %s stage", stage), err)
			}
			break
		}
	}
	return firstErr
}

// enabled applies the allow and deny lists; the deny list wins.
func enabled(pp *config.PostProcessorConfig, name string) bool {
	if pp == nil {
		return true
	}
	for _, n := range pp.DisabledProcessors {
		if n == name {
			return false
		}
	}
	if len(pp.EnabledProcessors) == 0 {
		return true
	}
	for _, n := range pp.EnabledProcessors {
		if n == name {
			return true
		}
	}
	return false
}

func (r *Runner) chunk(ctx context.Context, result *types.ExtractionResult, cc *config.ChunkingConfig) {
	chunker, err := chunking.New(cc)
	if err != nil {
		result.Metadata.SetAdditional("chunking_error", err.Error())
		return
	}
	result.Chunks = chunker.Chunk(result.Content, result.Metadata.Pages)

	if cc.Embedding == nil || len(result.Chunks) == 0 {
		return
	}
	if r.embedder == nil {
		result.Metadata.SetAdditional("embedding_error", "no embedding generator configured")
		return
	}
	if err := r.embedder.Generate(ctx, result.Chunks, cc.Embedding); err != nil {
		r.logger.Warn("Embedding generation failed", "error", err)
		result.Metadata.SetAdditional("embedding_error", err.Error())
		for i := range result.Chunks {
			result.Chunks[i].Embedding = nil
		}
	}
}

func (r *Runner) runValidators(ctx context.Context, result *types.ExtractionResult, cfg *config.ExtractionConfig) error {
	for _, v := range r.registry.Validators() {
		err := v.Validate(ctx, result, cfg)
		if err == nil {
			continue
		}
		if apperrors.KindOf(err) == apperrors.ErrorValidation {
			return err
		}
		verr := apperrors.NewValidationErrorf("validator %s failed: %v", v.Name(), err)
		verr.Cause = err
		return verr
	}
	return nil
}
