/**
 * Vision OCR Client for the extraction engine
 *
 * Remote OCR backend backed by a vision-model service. Registered in the
 * plugin registry under the name "vision"; select it with
 * ocr.backend = "vision". Handles both synchronous (200) and queued
 * (202 + task polling) responses.
 */

package clients

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/adverant/nexus/extraction-engine/internal/config"
	apperrors "github.com/adverant/nexus/extraction-engine/internal/errors"
	"github.com/adverant/nexus/extraction-engine/internal/logging"
	"github.com/adverant/nexus/extraction-engine/internal/ocr"
)

const VisionBackendName = "vision"

const defaultPollInterval = 2 * time.Second

// VisionClient handles communication with the vision OCR service
type VisionClient struct {
	baseURL      string
	httpClient   *http.Client
	pollInterval time.Duration
	logger       *logging.Logger
}

// VisionOCRRequest represents a request to extract text from an image
type VisionOCRRequest struct {
	Image          string                 `json:"image"`          // Base64 encoded image
	Format         string                 `json:"format"`         // "base64"
	PreferAccuracy bool                   `json:"preferAccuracy"` // highest accuracy model instead of fastest
	Language       string                 `json:"language,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// VisionOCRResponse is both the synchronous and the queued reply. Data.TaskID
// is only set for queued work.
type VisionOCRResponse struct {
	Success bool          `json:"success"`
	Data    VisionOCRData `json:"data"`
	Message string        `json:"message"`
}

// VisionOCRData contains the extracted text and metadata
type VisionOCRData struct {
	Text           string  `json:"text"`
	Confidence     float64 `json:"confidence"` // 0..1
	ModelUsed      string  `json:"modelUsed"`
	ProcessingTime int64   `json:"processingTime"` // milliseconds
	TaskID         string  `json:"taskId,omitempty"`
}

// TaskStatusResponse represents the response from polling /api/tasks/:taskId
type TaskStatusResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Task TaskInfo `json:"task"`
	} `json:"data"`
	Message string `json:"message"`
}

// TaskInfo contains detailed task information
type TaskInfo struct {
	ID       string                 `json:"id"`
	Status   string                 `json:"status"`   // "pending", "processing", "completed", "failed"
	Progress int                    `json:"progress"` // 0-100
	Result   map[string]interface{} `json:"result,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

// NewVisionClient creates a new vision OCR client
func NewVisionClient(baseURL string, logger *logging.Logger) *VisionClient {
	return &VisionClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 120 * time.Second, // Vision tasks can take time
		},
		pollInterval: defaultPollInterval,
		logger:       logging.OrDefault(logger).Named("vision"),
	}
}

func (c *VisionClient) Name() string { return VisionBackendName }

// SupportedLanguages reports "multi": the remote models detect the language.
func (c *VisionClient) SupportedLanguages() []string { return []string{"multi"} }

// Process implements ocr.Backend.
func (c *VisionClient) Process(ctx context.Context, image []byte, cfg *config.OCRConfig) (*ocr.Result, error) {
	language := ""
	if cfg != nil {
		language = cfg.Language
	}
	data, err := c.ExtractTextFromBytes(ctx, image, true, language)
	if err != nil {
		return nil, apperrors.NewOCRError(VisionBackendName, err)
	}
	return &ocr.Result{
		Text:       data.Text,
		Confidence: data.Confidence * 100,
		Format:     "text",
	}, nil
}

// ExtractTextFromBytes encodes imageData and waits for the text, polling
// when the service queues the work.
func (c *VisionClient) ExtractTextFromBytes(ctx context.Context, imageData []byte, preferAccuracy bool, language string) (*VisionOCRData, error) {
	req := &VisionOCRRequest{
		Image:          base64.StdEncoding.EncodeToString(imageData),
		Format:         "base64",
		PreferAccuracy: preferAccuracy,
		Language:       language,
		Metadata: map[string]interface{}{
			"source":    "extraction-engine",
			"timestamp": time.Now().Unix(),
		},
	}

	resp, queued, err := c.ExtractText(ctx, req)
	if err != nil {
		return nil, err
	}
	if queued {
		return c.WaitForTaskCompletion(ctx, resp.Data.TaskID)
	}
	return &resp.Data, nil
}

// ExtractText posts one request. queued reports a 202 reply whose text must
// be fetched with WaitForTaskCompletion.
func (c *VisionClient) ExtractText(ctx context.Context, req *VisionOCRRequest) (resp *VisionOCRResponse, queued bool, err error) {
	c.logger.Debug("Requesting text extraction",
		"prefer_accuracy", req.PreferAccuracy,
		"language", req.Language,
		"image_size", len(req.Image))

	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/internal/vision/extract-text", bytes.NewReader(reqBody))
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Source", "extraction-engine")
	httpReq.Header.Set("X-Request-ID", "ocr-"+uuid.NewString())

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, false, fmt.Errorf("request to vision service failed: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read response body: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK && httpResp.StatusCode != http.StatusAccepted {
		return nil, false, fmt.Errorf("vision service returned error status %d: %s", httpResp.StatusCode, string(body))
	}

	var out VisionOCRResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, false, fmt.Errorf("failed to parse response: %w", err)
	}
	if !out.Success {
		return nil, false, fmt.Errorf("vision operation failed: %s", out.Message)
	}

	queued = httpResp.StatusCode == http.StatusAccepted
	if queued && out.Data.TaskID == "" {
		return nil, false, fmt.Errorf("queued vision response carries no task id")
	}
	return &out, queued, nil
}

// GetTaskStatus polls for the status of a queued task
func (c *VisionClient) GetTaskStatus(ctx context.Context, taskID string) (*TaskStatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tasks/"+taskID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create status request: %w", err)
	}
	req.Header.Set("X-Source", "extraction-engine")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read status response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status check failed with status %d: %s", resp.StatusCode, string(body))
	}

	var statusResp TaskStatusResponse
	if err := json.Unmarshal(body, &statusResp); err != nil {
		return nil, fmt.Errorf("failed to parse status response: %w", err)
	}

	return &statusResp, nil
}

// WaitForTaskCompletion polls the task status until completion or ctx ends
func (c *VisionClient) WaitForTaskCompletion(ctx context.Context, taskID string) (*VisionOCRData, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled while waiting for task: %w", ctx.Err())

		case <-ticker.C:
			status, err := c.GetTaskStatus(ctx, taskID)
			if err != nil {
				c.logger.Warn("Failed to get task status", "task_id", taskID, "error", err)
				continue
			}

			switch task := status.Data.Task; task.Status {
			case "completed":
				return &VisionOCRData{
					Text:           getStringFromMap(task.Result, "text"),
					Confidence:     getFloatFromMap(task.Result, "confidence"),
					ModelUsed:      getStringFromMap(task.Result, "modelUsed"),
					ProcessingTime: int64(getFloatFromMap(task.Result, "processingTime")),
					TaskID:         taskID,
				}, nil

			case "failed":
				return nil, fmt.Errorf("task failed: %s", task.Error)

			case "pending", "processing":
				c.logger.Debug("Task in progress", "task_id", taskID, "progress", task.Progress)

			default:
				c.logger.Warn("Unknown task status", "task_id", taskID, "status", task.Status)
			}
		}
	}
}

func getStringFromMap(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

func getFloatFromMap(m map[string]interface{}, key string) float64 {
	f, _ := m[key].(float64)
	return f
}
