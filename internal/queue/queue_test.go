package queue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/extraction-engine/internal/config"
	apperrors "github.com/adverant/nexus/extraction-engine/internal/errors"
	"github.com/adverant/nexus/extraction-engine/internal/logging"
	"github.com/adverant/nexus/extraction-engine/internal/processor"
	"github.com/adverant/nexus/extraction-engine/internal/types"
)

func newStatusStore(t *testing.T) (*StatusStore, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewStatusStore(client, "extraction", logging.NewTestLogger(io.Discard)), client
}

func TestJobPayloadBufferFormats(t *testing.T) {
	tests := []struct {
		name string
		json string
		want string
	}{
		{"base64", `{"jobId":"j","fileBuffer":"aGVsbG8="}`, "hello"},
		{"node buffer", `{"jobId":"j","fileBuffer":{"type":"Buffer","data":[104,105]}}`, "hi"},
		{"absent", `{"jobId":"j","fileUrl":"http://x"}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p JobPayload
			require.NoError(t, json.Unmarshal([]byte(tt.json), &p))
			assert.Equal(t, "j", p.JobID)
			assert.Equal(t, tt.want, string(p.FileBuffer))
		})
	}

	var p JobPayload
	assert.Error(t, json.Unmarshal([]byte(`{"fileBuffer":{"type":"Blob"}}`), &p))
	assert.Error(t, json.Unmarshal([]byte(`{"fileBuffer":{"type":"Buffer","data":[300]}}`), &p))
	assert.Error(t, json.Unmarshal([]byte(`{"fileBuffer":42}`), &p))
}

func TestExtractTaskCarriesPayload(t *testing.T) {
	cfg := config.New(config.WithChunking(100, 10))
	task, err := NewExtractTask(&JobPayload{JobID: "job-1", Filename: "a.txt", FileBuffer: []byte("data"), Config: &cfg})
	require.NoError(t, err)
	assert.Equal(t, TaskTypeExtract, task.Type())

	got, err := ParseExtractTask(task)
	require.NoError(t, err)
	assert.Equal(t, "job-1", got.JobID)
	assert.Equal(t, "data", string(got.FileBuffer))
	require.NotNil(t, got.Config)
	require.NotNil(t, got.Config.Chunking)
	assert.Equal(t, 100, got.Config.Chunking.MaxChars)

	_, err = NewExtractTask(&JobPayload{JobID: "job-2"})
	assert.Error(t, err)
}

func TestStatusTransitions(t *testing.T) {
	s, client := newStatusStore(t)
	ctx := context.Background()

	sub := s.Subscribe(ctx)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	st, err := s.Status(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, StatusUnknown, st)

	require.NoError(t, s.MarkQueued(ctx, "j1"))
	require.NoError(t, s.MarkProcessing(ctx, "j1"))
	require.NoError(t, s.MarkCompleted(ctx, "j1", map[string]int{"chunkCount": 3}))

	st, err = s.Status(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, st)

	raw, ok, err := s.Result(ctx, "j1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"chunkCount":3}`, string(raw))

	members, err := client.SMembers(ctx, "extraction:processing").Result()
	require.NoError(t, err)
	assert.Empty(t, members)

	var events []Event
	for i := 0; i < 3; i++ {
		msg, err := sub.ReceiveMessage(ctx)
		require.NoError(t, err)
		var ev Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
		events = append(events, ev)
	}
	assert.Equal(t, "job:queued", events[0].Event)
	assert.Equal(t, "job:processing", events[1].Event)
	assert.Equal(t, StatusCompleted, events[2].Status)
}

func TestStatusFailureAndRetryClearsOutcome(t *testing.T) {
	s, _ := newStatusStore(t)
	ctx := context.Background()

	require.NoError(t, s.MarkFailed(ctx, "j2", map[string]interface{}{"error": "boom"}))
	raw, ok, err := s.Failure(ctx, "j2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"error":"boom"}`, string(raw))

	require.NoError(t, s.MarkProcessing(ctx, "j2"))
	_, ok, err = s.Failure(ctx, "j2")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.MarkQueued(ctx, "j3"))
	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[StatusProcessing])
	assert.Equal(t, int64(1), stats[StatusQueued])
	assert.Equal(t, int64(0), stats[StatusFailed])
}

type fakeProcessor struct {
	wait bool
	err  error
}

func (f *fakeProcessor) ProcessDocument(ctx context.Context, req *processor.ProcessRequest) (*processor.ProcessResult, error) {
	if f.wait {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &processor.ProcessResult{
		JobID:      req.JobID,
		ChunkCount: 2,
		Result:     &types.ExtractionResult{Content: string(req.FileBuffer), Success: true},
	}, nil
}

func extractTask(t *testing.T, jobID string) *asynq.Task {
	t.Helper()
	task, err := NewExtractTask(&JobPayload{JobID: jobID, FileBuffer: []byte("body"), MimeType: "text/plain"})
	require.NoError(t, err)
	return task
}

func TestHandlerSuccess(t *testing.T) {
	s, _ := newStatusStore(t)
	h := NewHandler(&fakeProcessor{}, s, time.Second, logging.NewTestLogger(io.Discard))
	ctx := context.Background()

	require.NoError(t, h.ProcessTask(ctx, extractTask(t, "ok")))
	st, err := s.Status(ctx, "ok")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, st)

	raw, ok, err := s.Result(ctx, "ok")
	require.NoError(t, err)
	require.True(t, ok)
	var res processor.ProcessResult
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.Equal(t, 2, res.ChunkCount)
	assert.Equal(t, "body", res.Result.Content)
}

func TestHandlerTimeout(t *testing.T) {
	s, _ := newStatusStore(t)
	h := NewHandler(&fakeProcessor{wait: true}, s, 20*time.Millisecond, logging.NewTestLogger(io.Discard))
	ctx := context.Background()

	err := h.ProcessTask(ctx, extractTask(t, "slow"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
	assert.False(t, errors.Is(err, asynq.SkipRetry))

	raw, ok, err := s.Failure(ctx, "slow")
	require.NoError(t, err)
	require.True(t, ok)
	var info map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &info))
	assert.Equal(t, "slow", info["job_id"])
}

func TestHandlerPermanentFailureSkipsRetry(t *testing.T) {
	s, _ := newStatusStore(t)
	h := NewHandler(&fakeProcessor{err: apperrors.NewUnsupportedFormatError("application/x-foo", nil)}, s, time.Second, nil)

	err := h.ProcessTask(context.Background(), extractTask(t, "bad"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	st, err := s.Status(context.Background(), "bad")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, st)

	err = h.ProcessTask(context.Background(), asynq.NewTask(TaskTypeExtract, []byte("{not json")))
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestHandlerWithoutStatusStore(t *testing.T) {
	h := NewHandler(&fakeProcessor{err: errors.New("network down")}, nil, time.Second, nil)
	err := h.ProcessTask(context.Background(), extractTask(t, "x"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
}
