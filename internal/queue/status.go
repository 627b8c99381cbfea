/**
 * Job status store for extraction jobs
 *
 * Tracks every job in Redis so API clients can poll or stream progress:
 * - sets <queue>:queued, :processing, :completed, :failed hold job ids
 * - hashes <queue>:results and <queue>:errors hold the JSON outcome
 * - every transition is published on <queue>:events
 */

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/extraction-engine/internal/logging"
)

type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusUnknown    JobStatus = "unknown"
)

var allStatuses = []JobStatus{StatusQueued, StatusProcessing, StatusCompleted, StatusFailed}

// Event is published on every status transition
type Event struct {
	Event     string    `json:"event"`
	JobID     string    `json:"jobId"`
	Status    JobStatus `json:"status"`
	Timestamp string    `json:"timestamp"`
}

// StatusStore records job state in Redis
type StatusStore struct {
	client *redis.Client
	prefix string
	logger *logging.Logger
}

// NewStatusStore keys everything under queueName.
func NewStatusStore(client *redis.Client, queueName string, logger *logging.Logger) *StatusStore {
	return &StatusStore{
		client: client,
		prefix: queueName,
		logger: logging.OrDefault(logger).Named("job-status"),
	}
}

func (s *StatusStore) setKey(status JobStatus) string { return fmt.Sprintf("%s:%s", s.prefix, status) }

func (s *StatusStore) resultsKey() string { return s.prefix + ":results" }

func (s *StatusStore) errorsKey() string { return s.prefix + ":errors" }

// EventsChannel is the pub/sub channel carrying Event messages.
func (s *StatusStore) EventsChannel() string { return s.prefix + ":events" }

func (s *StatusStore) MarkQueued(ctx context.Context, jobID string) error {
	return s.transition(ctx, jobID, StatusQueued, "", nil)
}

func (s *StatusStore) MarkProcessing(ctx context.Context, jobID string) error {
	return s.transition(ctx, jobID, StatusProcessing, "", nil)
}

// MarkCompleted stores result as JSON.
func (s *StatusStore) MarkCompleted(ctx context.Context, jobID string, result interface{}) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal job result: %w", err)
	}
	return s.transition(ctx, jobID, StatusCompleted, s.resultsKey(), data)
}

// MarkFailed stores errInfo, typically ExtractionError.ToMap(), as JSON.
func (s *StatusStore) MarkFailed(ctx context.Context, jobID string, errInfo map[string]interface{}) error {
	data, err := json.Marshal(errInfo)
	if err != nil {
		return fmt.Errorf("failed to marshal job error: %w", err)
	}
	return s.transition(ctx, jobID, StatusFailed, s.errorsKey(), data)
}

// transition moves jobID into status atomically and publishes the event.
func (s *StatusStore) transition(ctx context.Context, jobID string, status JobStatus, hashKey string, payload []byte) error {
	event, err := json.Marshal(Event{
		Event:     "job:" + string(status),
		JobID:     jobID,
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, other := range allStatuses {
			if other != status {
				pipe.SRem(ctx, s.setKey(other), jobID)
			}
		}
		pipe.SAdd(ctx, s.setKey(status), jobID)
		if status == StatusQueued || status == StatusProcessing {
			pipe.HDel(ctx, s.resultsKey(), jobID)
			pipe.HDel(ctx, s.errorsKey(), jobID)
		}
		if hashKey != "" {
			pipe.HSet(ctx, hashKey, jobID, payload)
		}
		pipe.Publish(ctx, s.EventsChannel(), event)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record job %s as %s: %w", jobID, status, err)
	}
	s.logger.Debug("Job status updated", "job_id", jobID, "status", status)
	return nil
}

// Status returns StatusUnknown for ids never recorded.
func (s *StatusStore) Status(ctx context.Context, jobID string) (JobStatus, error) {
	cmds := make([]*redis.BoolCmd, len(allStatuses))
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, st := range allStatuses {
			cmds[i] = pipe.SIsMember(ctx, s.setKey(st), jobID)
		}
		return nil
	})
	if err != nil {
		return StatusUnknown, fmt.Errorf("failed to read job status: %w", err)
	}
	for i, cmd := range cmds {
		if cmd.Val() {
			return allStatuses[i], nil
		}
	}
	return StatusUnknown, nil
}

// Result returns the stored result JSON, or ok=false.
func (s *StatusStore) Result(ctx context.Context, jobID string) (json.RawMessage, bool, error) {
	return s.hashValue(ctx, s.resultsKey(), jobID)
}

// Failure returns the stored error JSON, or ok=false.
func (s *StatusStore) Failure(ctx context.Context, jobID string) (json.RawMessage, bool, error) {
	return s.hashValue(ctx, s.errorsKey(), jobID)
}

func (s *StatusStore) hashValue(ctx context.Context, key, jobID string) (json.RawMessage, bool, error) {
	v, err := s.client.HGet(ctx, key, jobID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return json.RawMessage(v), true, nil
}

// Stats returns the number of jobs in each status.
func (s *StatusStore) Stats(ctx context.Context) (map[JobStatus]int64, error) {
	cmds := make([]*redis.IntCmd, len(allStatuses))
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, st := range allStatuses {
			cmds[i] = pipe.SCard(ctx, s.setKey(st))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}
	stats := make(map[JobStatus]int64, len(allStatuses))
	for i, st := range allStatuses {
		stats[st] = cmds[i].Val()
	}
	return stats, nil
}

// Subscribe streams status events until the returned PubSub is closed.
func (s *StatusStore) Subscribe(ctx context.Context) *redis.PubSub {
	return s.client.Subscribe(ctx, s.EventsChannel())
}
