/**
 * Queue Consumer for the extraction worker
 *
 * Consumes "extraction:extract" tasks from Redis with asynq, runs each one
 * through the document processor under a processing timeout, and records
 * the outcome in the job status store.
 */

package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hibiken/asynq"

	apperrors "github.com/adverant/nexus/extraction-engine/internal/errors"
	"github.com/adverant/nexus/extraction-engine/internal/logging"
	"github.com/adverant/nexus/extraction-engine/internal/processor"
)

const defaultProcessingTimeout = 5 * time.Minute

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Processor         processor.DocumentProcessorInterface
	Status            *StatusStore
	ProcessingTimeout int64 // milliseconds, default 300000
	Logger            *logging.Logger
}

// Consumer handles job consumption from Redis queue
type Consumer struct {
	server  *asynq.Server
	mux     *asynq.ServeMux
	handler *Handler
	config  *ConsumerConfig
	logger  *logging.Logger
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}
	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	logger := logging.OrDefault(cfg.Logger).Named("consumer")
	handler := NewHandler(cfg.Processor, cfg.Status, time.Duration(cfg.ProcessingTimeout)*time.Millisecond, logger)

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10,
				"default":     1,
			},
			// Exponential backoff: 5s, 10s, 20s, capped at 60s
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				delay := time.Duration(5*(1<<uint(n))) * time.Second
				if delay > 60*time.Second {
					delay = 60 * time.Second
				}
				return delay
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("Task processing error", "type", task.Type(), "error", err)
			}),
			Logger: asynqLogger{logger.Named("asynq")},
		},
	)

	mux := asynq.NewServeMux()
	mux.Handle(TaskTypeExtract, handler)

	return &Consumer{
		server:  server,
		mux:     mux,
		handler: handler,
		config:  cfg,
		logger:  logger,
	}, nil
}

// Start starts processing in background goroutines
func (c *Consumer) Start() error {
	c.logger.Info("Starting queue consumer", "concurrency", c.config.Concurrency, "queue", c.config.QueueName)
	return c.server.Start(c.mux)
}

// Stop waits for in-flight tasks and stops the consumer
func (c *Consumer) Stop() {
	c.logger.Info("Stopping queue consumer")
	c.server.Shutdown()
	c.logger.Info("Queue consumer stopped")
}

// Handler runs one extraction task. It implements asynq.Handler.
type Handler struct {
	processor processor.DocumentProcessorInterface
	status    *StatusStore
	timeout   time.Duration
	logger    *logging.Logger
}

// NewHandler builds a task handler. status may be nil.
func NewHandler(p processor.DocumentProcessorInterface, status *StatusStore, timeout time.Duration, logger *logging.Logger) *Handler {
	if timeout <= 0 {
		timeout = defaultProcessingTimeout
	}
	return &Handler{processor: p, status: status, timeout: timeout, logger: logging.OrDefault(logger)}
}

// ProcessTask implements asynq.Handler. Permanent failures skip retries.
func (h *Handler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	startTime := time.Now()

	job, err := ParseExtractTask(task)
	if err != nil {
		return fmt.Errorf("failed to unmarshal job data: %v: %w", err, asynq.SkipRetry)
	}

	h.logger.Info("Processing job", "job_id", job.JobID, "filename", job.Filename, "size", job.FileSize)
	h.record(ctx, job.JobID, func(ctx context.Context) error { return h.status.MarkProcessing(ctx, job.JobID) })

	processCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	result, err := h.processor.ProcessDocument(processCtx, &processor.ProcessRequest{
		JobID:      job.JobID,
		Filename:   job.Filename,
		MimeType:   job.MimeType,
		FileSize:   job.FileSize,
		FilePath:   job.FilePath,
		FileURL:    job.FileURL,
		FileBuffer: job.FileBuffer,
		Config:     job.Config,
		Metadata:   job.Metadata,
	})
	duration := time.Since(startTime)

	if err != nil {
		if errors.Is(processCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = apperrors.NewProcessingTimeoutError(job.JobID, h.timeout, err)
			h.logger.Warn("Processing timed out", "job_id", job.JobID, "duration", duration, "timeout", h.timeout)
		} else {
			h.logger.Warn("Processing failed", "job_id", job.JobID, "duration", duration, "error", err)
		}

		info := errorInfo(err)
		info["processingTime"] = duration.Milliseconds()
		h.record(ctx, job.JobID, func(ctx context.Context) error { return h.status.MarkFailed(ctx, job.JobID, info) })

		if permanent(err) {
			return fmt.Errorf("document processing failed: %v: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("document processing failed: %w", err)
	}

	h.logger.Info("Processing completed", "job_id", job.JobID, "duration", duration, "chunks", result.ChunkCount)
	h.record(ctx, job.JobID, func(ctx context.Context) error { return h.status.MarkCompleted(ctx, job.JobID, result) })
	return nil
}

// record applies a status update; failures are logged, never fatal.
func (h *Handler) record(ctx context.Context, jobID string, update func(context.Context) error) {
	if h.status == nil {
		return
	}
	// The job context may already be cancelled when a failure is recorded
	if err := update(context.WithoutCancel(ctx)); err != nil {
		h.logger.Warn("Failed to update job status", "job_id", jobID, "error", err)
	}
}

// permanent reports errors that a retry cannot fix.
func permanent(err error) bool {
	switch apperrors.KindOf(err) {
	case apperrors.ErrorValidation, apperrors.ErrorUnsupportedFormat, apperrors.ErrorMissingDependency, apperrors.ErrorParsing:
		return true
	}
	return false
}

func errorInfo(err error) map[string]interface{} {
	var ee *apperrors.ExtractionError
	if errors.As(err, &ee) {
		info := ee.ToMap()
		info["error"] = err.Error()
		return info
	}
	return map[string]interface{}{
		"error_code": string(apperrors.KindOf(err)),
		"error":      err.Error(),
	}
}

// asynqLogger adapts logging.Logger to asynq.Logger.
type asynqLogger struct{ l *logging.Logger }

func (a asynqLogger) Debug(args ...interface{}) { a.l.Debug(fmt.Sprint(args...)) }

func (a asynqLogger) Info(args ...interface{}) { a.l.Info(fmt.Sprint(args...)) }

func (a asynqLogger) Warn(args ...interface{}) { a.l.Warn(fmt.Sprint(args...)) }

func (a asynqLogger) Error(args ...interface{}) { a.l.Error(fmt.Sprint(args...)) }

func (a asynqLogger) Fatal(args ...interface{}) {
	a.l.Error(fmt.Sprint(args...))
	os.Exit(1)
}
