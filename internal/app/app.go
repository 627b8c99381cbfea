/**
 * Service wiring shared by the engine CLI and the queue worker
 *
 * Builds one Engine from the service Config:
 * - result cache and Qdrant chunk index from the storage manager
 * - tesseract plus, when VISION_OCR_URL is set, the remote vision OCR backend
 * - GraphRAG document sink when GRAPHRAG_URL is set
 * - remote embedding API credentials for "custom" embedding models
 */

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/adverant/nexus/extraction-engine/internal/clients"
	"github.com/adverant/nexus/extraction-engine/internal/config"
	"github.com/adverant/nexus/extraction-engine/internal/embedding"
	"github.com/adverant/nexus/extraction-engine/internal/engine"
	"github.com/adverant/nexus/extraction-engine/internal/logging"
	"github.com/adverant/nexus/extraction-engine/internal/pipeline"
	"github.com/adverant/nexus/extraction-engine/internal/plugins"
	"github.com/adverant/nexus/extraction-engine/internal/postprocess"
	"github.com/adverant/nexus/extraction-engine/internal/storage"
)

const dependencyCheckTimeout = 5 * time.Second

// Dependency is an external service an output sink writes to.
type Dependency interface {
	Name() string
	HealthCheck(ctx context.Context) error
}

// App owns the engine and the stores behind it.
type App struct {
	Engine   *engine.Engine
	Storage  *storage.Manager
	Defaults config.ExtractionConfig
	Config   *config.Config
	Logger   *logging.Logger
	// Dependencies lists the configured sinks' services.
	Dependencies []Dependency
}

// New wires an engine from cfg. Close releases the stores.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*App, error) {
	logging.SetLevel(cfg.LogLevel)
	logger = logging.OrDefault(logger)

	defaults, err := LoadDefaults(cfg)
	if err != nil {
		return nil, err
	}

	storageManager, err := storage.NewManager(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage manager: %w", err)
	}

	registry := plugins.NewDefault(cfg.TessdataPrefix, logger)
	if err := postprocess.RegisterDefaults(registry); err != nil {
		storageManager.Close()
		return nil, fmt.Errorf("failed to register post-processors: %w", err)
	}
	if cfg.VisionOCRURL != "" {
		if err := registry.RegisterOCRBackend(clients.NewVisionClient(cfg.VisionOCRURL, logger)); err != nil {
			storageManager.Close()
			return nil, fmt.Errorf("failed to register vision OCR backend: %w", err)
		}
	}

	var sinks []pipeline.Sink
	var deps []Dependency
	if storageManager.Qdrant != nil {
		sinks = append(sinks, storageManager.Qdrant)
		deps = append(deps, storageManager.Qdrant)
	}
	if cfg.GraphRAGURL != "" {
		graphrag := clients.NewGraphRAGClient(cfg.GraphRAGURL, logger)
		sinks = append(sinks, graphrag)
		deps = append(deps, graphrag)
	}

	e, err := engine.New(engine.Options{
		Plugins:        registry,
		Cache:          storageManager.Cache,
		Embedder:       embedding.NewGenerator(embedding.RemoteSettings{URL: cfg.EmbeddingAPIURL, APIKey: cfg.EmbeddingAPIKey}, logger),
		Sinks:          sinks,
		TessdataPrefix: cfg.TessdataPrefix,
		Logger:         logger,
	})
	if err != nil {
		storageManager.Close()
		return nil, fmt.Errorf("failed to initialize engine: %w", err)
	}

	logger.Info("Extraction engine initialized",
		"version", engine.Version,
		"cache_backend", cfg.CacheBackend,
		"ocr_backends", registry.OCRBackends(),
		"sinks", len(sinks))

	return &App{
		Engine:   e,
		Storage:  storageManager,
		Defaults: defaults,
		Config:   cfg,
		Logger:   logger,

		Dependencies: deps,
	}, nil
}

// CheckDependencies runs every dependency's health check and returns the
// failures by name, logging each as a warning.
func (a *App) CheckDependencies(ctx context.Context) map[string]error {
	failed := make(map[string]error)
	for _, d := range a.Dependencies {
		checkCtx, cancel := context.WithTimeout(ctx, dependencyCheckTimeout)
		err := d.HealthCheck(checkCtx)
		cancel()
		if err != nil {
			a.Logger.Warn("Dependency unavailable", "dependency", d.Name(), "error", err)
			failed[d.Name()] = err
			continue
		}
		a.Logger.Debug("Dependency healthy", "dependency", d.Name())
	}
	return failed
}

// LoadDefaults reads EXTRACTION_CONFIG when set, else the built-in defaults.
func LoadDefaults(cfg *config.Config) (config.ExtractionConfig, error) {
	if cfg.ExtractionConfigFile == "" {
		return config.Default(), nil
	}
	defaults, err := config.LoadFile(cfg.ExtractionConfigFile)
	if err != nil {
		return config.ExtractionConfig{}, fmt.Errorf("failed to load extraction config %s: %w", cfg.ExtractionConfigFile, err)
	}
	return defaults, nil
}

func (a *App) Close() error {
	return a.Storage.Close()
}
