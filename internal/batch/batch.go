// Package batch runs many extractions concurrently while keeping one result
// per input, in input order.
package batch

import (
	"context"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/adverant/nexus/extraction-engine/internal/config"
	apperrors "github.com/adverant/nexus/extraction-engine/internal/errors"
	"github.com/adverant/nexus/extraction-engine/internal/logging"
	"github.com/adverant/nexus/extraction-engine/internal/types"
)

// Extractor is the part of the engine a batch drives.
type Extractor interface {
	ExtractFile(ctx context.Context, path, mimeHint string, cfg *config.ExtractionConfig) (*types.ExtractionResult, error)
	ExtractBytes(ctx context.Context, data []byte, mimeType string, cfg *config.ExtractionConfig) (*types.ExtractionResult, error)
}

// Item is one in-memory document.
type Item struct {
	Data     []byte
	MimeType string
	// Name only labels log lines.
	Name string
}

type Coordinator struct {
	engine Extractor
	logger *logging.Logger
}

func New(engine Extractor, logger *logging.Logger) *Coordinator {
	return &Coordinator{engine: engine, logger: logging.OrDefault(logger).Named("batch")}
}

// ExtractFiles extracts every path. The MIME type of each file is detected.
func (c *Coordinator) ExtractFiles(ctx context.Context, paths []string, cfg *config.ExtractionConfig) ([]*types.ExtractionResult, error) {
	return c.run(ctx, len(paths), cfg, func(ctx context.Context, i int, cfg *config.ExtractionConfig) (string, string, *types.ExtractionResult, error) {
		r, err := c.engine.ExtractFile(ctx, paths[i], "", cfg)
		return filepath.Base(paths[i]), "", r, err
	})
}

// ExtractBytes extracts every item with its declared MIME type.
func (c *Coordinator) ExtractBytes(ctx context.Context, items []Item, cfg *config.ExtractionConfig) ([]*types.ExtractionResult, error) {
	return c.run(ctx, len(items), cfg, func(ctx context.Context, i int, cfg *config.ExtractionConfig) (string, string, *types.ExtractionResult, error) {
		r, err := c.engine.ExtractBytes(ctx, items[i].Data, items[i].MimeType, cfg)
		return items[i].Name, items[i].MimeType, r, err
	})
}

type itemFunc func(ctx context.Context, i int, cfg *config.ExtractionConfig) (name, mimeType string, result *types.ExtractionResult, err error)

// run validates cfg once, then fans out. Item failures are captured in their
// result slot; only a cancelled ctx fails the whole batch.
func (c *Coordinator) run(ctx context.Context, n int, cfg *config.ExtractionConfig, fn itemFunc) ([]*types.ExtractionResult, error) {
	var base config.ExtractionConfig
	if cfg == nil {
		base = config.Default()
	} else {
		base = cfg.Clone()
	}
	if err := base.Validate(); err != nil {
		return nil, err
	}

	startTime := time.Now()
	results := make([]*types.ExtractionResult, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(base.Concurrency())
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			itemCfg := base.Clone()
			name, mimeType, result, err := fn(gctx, i, &itemCfg)
			results[i] = c.settle(name, mimeType, result, err)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	c.logger.Info("Batch complete",
		"items", n, "failed", failed,
		"concurrency", base.Concurrency(), "duration", time.Since(startTime))
	return results, nil
}

// settle turns one outcome into a result slot.
func (c *Coordinator) settle(name, mimeType string, result *types.ExtractionResult, err error) *types.ExtractionResult {
	if err == nil && result != nil {
		return result
	}
	if err == nil {
		err = apperrors.NewOtherError("extraction returned no result", nil)
	}
	c.logger.Warn("Batch item failed", "item", name, "error_type", apperrors.KindOf(err), "error", err)

	meta := &types.ErrorMetadata{
		ErrorType: string(apperrors.KindOf(err)),
		Message:   apperrors.Message(err),
	}
	if result != nil {
		result.Metadata.Error = meta
		return result
	}
	return types.NewErrorResult(mimeType, meta.ErrorType, meta.Message)
}
