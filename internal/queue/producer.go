package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/extraction-engine/internal/logging"
)

const defaultMaxRetry = 3

// Producer enqueues extraction jobs.
type Producer struct {
	client    *asynq.Client
	status    *StatusStore
	queueName string
	timeout   time.Duration
	logger    *logging.Logger
}

// NewProducer connects to the broker at redisURL. status may be nil.
// timeout bounds a task's total run time inside asynq and should exceed the
// worker's processing timeout.
func NewProducer(redisURL, queueName string, timeout time.Duration, status *StatusStore, logger *logging.Logger) (*Producer, error) {
	redisOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	return &Producer{
		client:    asynq.NewClient(redisOpt),
		status:    status,
		queueName: queueName,
		timeout:   timeout,
		logger:    logging.OrDefault(logger).Named("producer"),
	}, nil
}

// Enqueue submits payload and returns its job id, generating one when
// payload.JobID is empty.
func (p *Producer) Enqueue(ctx context.Context, payload *JobPayload) (string, error) {
	if payload.JobID == "" {
		payload.JobID = uuid.NewString()
	}
	task, err := NewExtractTask(payload)
	if err != nil {
		return "", err
	}

	opts := []asynq.Option{
		asynq.Queue(p.queueName),
		asynq.TaskID(payload.JobID),
		asynq.MaxRetry(defaultMaxRetry),
	}
	if p.timeout > 0 {
		opts = append(opts, asynq.Timeout(p.timeout))
	}
	// Before enqueueing: a worker may start on the job immediately
	if p.status != nil {
		if err := p.status.MarkQueued(ctx, payload.JobID); err != nil {
			p.logger.Warn("Failed to record queued job", "job_id", payload.JobID, "error", err)
		}
	}

	info, err := p.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		err = fmt.Errorf("failed to enqueue job %s: %w", payload.JobID, err)
		if p.status != nil {
			_ = p.status.MarkFailed(context.WithoutCancel(ctx), payload.JobID, errorInfo(err))
		}
		return "", err
	}
	p.logger.Info("Job enqueued", "job_id", info.ID, "queue", info.Queue, "filename", payload.Filename)
	return payload.JobID, nil
}

func (p *Producer) Close() error {
	return p.client.Close()
}
