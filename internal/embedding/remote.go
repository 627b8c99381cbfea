/**
 * Remote embedding client
 *
 * Speaks the VoyageAI-style embeddings API ({"input": [...], "model": ...})
 * used for custom embedding models.
 */

package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/adverant/nexus/extraction-engine/internal/logging"
)

// RemoteClient handles embedding generation over HTTP
type RemoteClient struct {
	apiKey     string
	model      string
	dims       int
	httpClient *http.Client
	baseURL    string
	logger     *logging.Logger
}

// embeddingRequest represents a batch request (multiple texts)
type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

// embeddingResponse represents the response from the API
type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// API limits per request
const (
	remoteBatchLimit = 100
	remoteMaxChars   = 16000
)

// NewRemoteClient creates a new embedding client. dims of 0 accepts whatever
// the API returns.
func NewRemoteClient(baseURL, apiKey, model string, dims int, logger *logging.Logger) *RemoteClient {
	if baseURL == "" {
		baseURL = "https://api.voyageai.com/v1/embeddings"
	}
	return &RemoteClient{
		apiKey:  apiKey,
		model:   model,
		dims:    dims,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logging.OrDefault(logger),
	}
}

func (e *RemoteClient) Dimensions() int { return e.dims }

// Embed processes texts in API-sized batches, falling back to one request per
// text when a batch call fails.
func (e *RemoteClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	allEmbeddings := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += remoteBatchLimit {
		end := min(i+remoteBatchLimit, len(texts))
		batch := texts[i:end]

		batchEmbeddings, err := e.embedBatch(ctx, batch)
		if err != nil {
			e.logger.Warn("Batch embedding call failed, falling back to individual requests",
				"from", i, "to", end-1, "error", err)

			for j, text := range batch {
				single, err := e.embedBatch(ctx, []string{text})
				if err != nil {
					return nil, fmt.Errorf("failed to generate embedding for text %d (fallback): %w", i+j, err)
				}
				allEmbeddings = append(allEmbeddings, single[0])
			}
			continue
		}
		allEmbeddings = append(allEmbeddings, batchEmbeddings...)
	}
	return allEmbeddings, nil
}

// embedBatch makes the actual batch API call
func (e *RemoteClient) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	// Truncate texts if too long
	truncated := make([]string, len(texts))
	for i, text := range texts {
		if len(text) > remoteMaxChars {
			e.logger.Warn("Text too long, truncating", "index", i, "chars", len(text), "limit", remoteMaxChars)
			text = text[:remoteMaxChars]
		}
		truncated[i] = text
	}

	jsonData, err := json.Marshal(embeddingRequest{Input: truncated, Model: e.model})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create batch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", e.apiKey))

	startTime := time.Now()
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("batch request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding API returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse batch response: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("unexpected number of embeddings: got %d, expected %d", len(parsed.Data), len(texts))
	}

	embeddings := make([][]float32, len(texts))
	for _, data := range parsed.Data {
		if data.Index < 0 || data.Index >= len(texts) {
			return nil, fmt.Errorf("invalid embedding index: %d", data.Index)
		}
		if e.dims > 0 && len(data.Embedding) != e.dims {
			return nil, fmt.Errorf("unexpected embedding dimensions for text %d: got %d, expected %d", data.Index, len(data.Embedding), e.dims)
		}
		embeddings[data.Index] = data.Embedding
	}

	e.logger.Debug("Batch embedding complete", "texts", len(texts), "tokens", parsed.Usage.TotalTokens, "duration", time.Since(startTime))
	return embeddings, nil
}
