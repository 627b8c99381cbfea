/**
 * Extraction job payloads
 *
 * The wire format shared by the producer (HTTP API, CLI) and the worker.
 * fileBuffer accepts a base64 string or a Node.js Buffer object so jobs
 * enqueued by JavaScript services decode unchanged.
 */

package queue

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/extraction-engine/internal/config"
)

// TaskTypeExtract is the asynq task type for extraction jobs.
const TaskTypeExtract = "extraction:extract"

// JobPayload contains the actual job data
type JobPayload struct {
	JobID      string                   `json:"jobId"`
	Filename   string                   `json:"filename,omitempty"`
	MimeType   string                   `json:"mimeType,omitempty"`
	FileSize   int64                    `json:"fileSize,omitempty"`
	FilePath   string                   `json:"filePath,omitempty"`
	FileURL    string                   `json:"fileUrl,omitempty"`
	FileBuffer []byte                   `json:"-"` // see UnmarshalJSON / MarshalJSON
	Config     *config.ExtractionConfig `json:"config,omitempty"`
	Metadata   map[string]interface{}   `json:"metadata,omitempty"`
}

// MarshalJSON writes fileBuffer as base64.
func (p JobPayload) MarshalJSON() ([]byte, error) {
	type Alias JobPayload
	aux := struct {
		Alias
		FileBuffer string `json:"fileBuffer,omitempty"`
	}{Alias: Alias(p)}
	if len(p.FileBuffer) > 0 {
		aux.FileBuffer = base64.StdEncoding.EncodeToString(p.FileBuffer)
	}
	return json.Marshal(aux)
}

// UnmarshalJSON implements custom JSON unmarshaling for JobPayload to handle Buffer serialization
// Supports both base64 string format and Node.js Buffer object format
func (p *JobPayload) UnmarshalJSON(data []byte) error {
	// Create alias type to avoid recursion
	type Alias JobPayload
	aux := &struct {
		FileBuffer interface{} `json:"fileBuffer,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(p),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("failed to unmarshal JobPayload: %w", err)
	}

	if aux.FileBuffer == nil {
		return nil
	}
	switch v := aux.FileBuffer.(type) {
	case string:
		decoded, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return fmt.Errorf("failed to decode base64 fileBuffer: %w", err)
		}
		p.FileBuffer = decoded

	case map[string]interface{}:
		bufferType, _ := v["type"].(string)
		if bufferType != "Buffer" {
			return fmt.Errorf("invalid Buffer object format (missing or incorrect 'type' field)")
		}
		dataArray, ok := v["data"].([]interface{})
		if !ok {
			return fmt.Errorf("Buffer object missing 'data' array")
		}
		p.FileBuffer = make([]byte, len(dataArray))
		for i, val := range dataArray {
			byteVal, ok := val.(float64)
			if !ok || byteVal < 0 || byteVal > 255 {
				return fmt.Errorf("invalid byte value in Buffer data array at index %d", i)
			}
			p.FileBuffer[i] = byte(byteVal)
		}

	default:
		return fmt.Errorf("fileBuffer must be either base64 string or Buffer object, got %T", v)
	}

	return nil
}

// NewExtractTask wraps payload in an asynq task.
func NewExtractTask(payload *JobPayload, opts ...asynq.Option) (*asynq.Task, error) {
	if payload.JobID == "" {
		return nil, fmt.Errorf("jobId is required")
	}
	if len(payload.FileBuffer) == 0 && payload.FilePath == "" && payload.FileURL == "" {
		return nil, fmt.Errorf("job %s has no file source", payload.JobID)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job payload: %w", err)
	}
	return asynq.NewTask(TaskTypeExtract, data, opts...), nil
}

// ParseExtractTask decodes the payload of an extraction task.
func ParseExtractTask(task *asynq.Task) (*JobPayload, error) {
	var payload JobPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}
