/**
 * Extraction Worker - Main Entry Point
 *
 * Consumes extraction jobs from Redis and runs them through the engine.
 *
 * Architecture:
 * - Asynq consumer for the Redis-backed job queue
 * - Document processor: buffer / path / URL download with retries
 * - Extraction engine with result cache, OCR backends and output sinks
 * - Job status sets, result hashes and pub/sub events in Redis
 */

package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/extraction-engine/internal/app"
	"github.com/adverant/nexus/extraction-engine/internal/config"
	"github.com/adverant/nexus/extraction-engine/internal/logging"
	"github.com/adverant/nexus/extraction-engine/internal/processor"
	"github.com/adverant/nexus/extraction-engine/internal/queue"
)

func main() {
	logger := logging.NewLogger("extraction-worker")

	// Load environment variables
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("Failed to load .env, using system environment variables", "error", err)
	}

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger.Info("Extraction worker starting",
		"queue", cfg.QueueName,
		"workers", cfg.WorkerConcurrency,
		"cache_backend", cfg.CacheBackend,
		"qdrant_enabled", cfg.QdrantURL != "",
		"graphrag_enabled", cfg.GraphRAGURL != "")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Engine, cache and sinks
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize extraction engine", "error", err)
		os.Exit(1)
	}
	defer a.Close()
	a.CheckDependencies(ctx)

	// Job status store
	redisOpt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Error("Failed to parse Redis URL", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpt)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	status := queue.NewStatusStore(redisClient, cfg.QueueName, logger)

	// Document processor
	proc, err := processor.NewDocumentProcessor(&processor.ProcessorConfig{
		Engine:      a.Engine,
		MaxFileSize: cfg.MaxUploadBytes,
		Defaults:    &a.Defaults,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("Failed to initialize document processor", "error", err)
		os.Exit(1)
	}

	// Queue consumer
	consumer, err := queue.NewConsumer(&queue.ConsumerConfig{
		RedisURL:          cfg.RedisURL,
		QueueName:         cfg.QueueName,
		Concurrency:       cfg.WorkerConcurrency,
		Processor:         proc,
		Status:            status,
		ProcessingTimeout: int64(cfg.ProcessingTimeout),
		Logger:            logger,
	})
	if err != nil {
		logger.Error("Failed to initialize queue consumer", "error", err)
		os.Exit(1)
	}

	if err := consumer.Start(); err != nil {
		logger.Error("Failed to start queue consumer", "error", err)
		os.Exit(1)
	}
	logger.Info("Extraction worker is ready, waiting for jobs",
		"queue", cfg.QueueName,
		"events_channel", status.EventsChannel())

	// Wait for shutdown signal
	<-ctx.Done()
	logger.Info("Shutdown signal received, draining in-flight jobs")

	consumer.Stop()
	logger.Info("Shutdown complete")
}
