/**
 * GraphRAG Client for the extraction engine
 *
 * Forwards finished extraction results to a GraphRAG service so extracted
 * documents become searchable next to other knowledge. Registered as a
 * pipeline sink named "graphrag".
 */

package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/adverant/nexus/extraction-engine/internal/logging"
	"github.com/adverant/nexus/extraction-engine/internal/postprocess"
	"github.com/adverant/nexus/extraction-engine/internal/types"
)

const GraphRAGSinkName = "graphrag"

// Shorter content is not worth chunking server-side.
const minGraphRAGContent = 100

// GraphRAGClient handles communication with the GraphRAG service
type GraphRAGClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// GraphRAGDocumentRequest represents a document storage request
type GraphRAGDocumentRequest struct {
	Content  string               `json:"content"`
	Title    string               `json:"title"`
	Metadata GraphRAGDocumentMeta `json:"metadata,omitempty"`
}

// PageInfo is one page's half-open byte range in Content.
type PageInfo struct {
	PageNumber int `json:"pageNumber"`
	StartByte  int `json:"startByte"`
	EndByte    int `json:"endByte"`
}

// GraphRAGDocumentMeta contains document metadata
type GraphRAGDocumentMeta struct {
	Source     string     `json:"source,omitempty"`
	Tags       []string   `json:"tags,omitempty"`
	Type       string     `json:"type,omitempty"` // "text", "code", "markdown", "structured"
	MimeType   string     `json:"mimeType,omitempty"`
	DocumentID string     `json:"documentId,omitempty"`
	Languages  []string   `json:"languages,omitempty"`
	Pages      []PageInfo `json:"pages,omitempty"`
	PageCount  int        `json:"pageCount,omitempty"`
	PageUnit   string     `json:"pageUnit,omitempty"`
	TableCount int        `json:"tableCount,omitempty"`
}

// GraphRAGDocumentResponse represents the response from storing a document
type GraphRAGDocumentResponse struct {
	Success    bool   `json:"success"`
	DocumentID string `json:"documentId,omitempty"`
	ChunkCount int    `json:"chunkCount,omitempty"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
}

// NewGraphRAGClient creates a new GraphRAG client
func NewGraphRAGClient(baseURL string, logger *logging.Logger) *GraphRAGClient {
	return &GraphRAGClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 120 * time.Second, // Long timeout for large documents
		},
		logger: logging.OrDefault(logger).Named("graphrag"),
	}
}

func (c *GraphRAGClient) Name() string { return GraphRAGSinkName }

// Consume stores result in GraphRAG. Failed or empty results are skipped.
func (c *GraphRAGClient) Consume(ctx context.Context, result *types.ExtractionResult) error {
	if result == nil || !result.Success || strings.TrimSpace(result.Content) == "" {
		return nil
	}
	resp, err := c.StoreDocument(ctx, NewDocumentRequest(result))
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("GraphRAG rejected document: %s", resp.Error)
	}
	return nil
}

// NewDocumentRequest builds the GraphRAG payload for result.
func NewDocumentRequest(result *types.ExtractionResult) *GraphRAGDocumentRequest {
	meta := GraphRAGDocumentMeta{
		Source:     "extraction-engine",
		Type:       DetermineDocumentType(result.MimeType),
		MimeType:   result.MimeType,
		DocumentID: additionalString(result, "document_id"),
		Languages:  result.DetectedLanguages,
		TableCount: len(result.Tables),
	}
	if kws, ok := result.Metadata.Additional["extracted_keywords"].([]postprocess.Keyword); ok {
		for _, kw := range kws {
			meta.Tags = append(meta.Tags, kw.Text)
		}
	}
	if ps := result.Metadata.Pages; ps != nil {
		meta.PageCount = ps.TotalCount
		meta.PageUnit = string(ps.UnitType)
		for _, b := range ps.Boundaries {
			meta.Pages = append(meta.Pages, PageInfo{PageNumber: b.PageNumber, StartByte: b.ByteStart, EndByte: b.ByteEnd})
		}
	}

	title := additionalString(result, "title")
	if title == "" {
		title = additionalString(result, "filename")
	}
	if title == "" {
		title = result.Metadata.Subject
	}
	if title == "" {
		title = "Untitled " + meta.Type + " document"
	}

	return &GraphRAGDocumentRequest{Content: result.Content, Title: title, Metadata: meta}
}

func additionalString(result *types.ExtractionResult, key string) string {
	s, _ := result.Metadata.Additional[key].(string)
	return s
}

// HealthCheck verifies GraphRAG service is available
func (c *GraphRAGClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("GraphRAG health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GraphRAG health check returned status %d", resp.StatusCode)
	}

	return nil
}

// StoreDocument stores extracted content in GraphRAG for chunking and search
func (c *GraphRAGClient) StoreDocument(ctx context.Context, req *GraphRAGDocumentRequest) (*GraphRAGDocumentResponse, error) {
	if req.Content == "" {
		return nil, fmt.Errorf("document content is required")
	}

	if len(req.Content) < minGraphRAGContent {
		c.logger.Debug("Content too short for chunking, skipping storage", "title", req.Title, "length", len(req.Content))
		return &GraphRAGDocumentResponse{
			Success: true,
			Message: "Content too short for chunking, skipped",
		}, nil
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/graphrag/api/documents", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create store request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	// System-level tenant context
	httpReq.Header.Set("X-App-ID", "extraction-engine")
	httpReq.Header.Set("X-User-ID", "system")

	c.logger.Info("Storing document", "title", req.Title, "length", len(req.Content))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to store document in GraphRAG: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read GraphRAG response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("GraphRAG returned error status %d: %s", resp.StatusCode, string(body))
	}

	var result GraphRAGDocumentResponse
	if err := json.Unmarshal(body, &result); err != nil {
		// Non-fatal: document may still be stored successfully
		c.logger.Warn("Failed to parse GraphRAG response", "error", err)
		return &GraphRAGDocumentResponse{
			Success: true,
			Message: "Document stored (response parse warning)",
		}, nil
	}

	if result.Success {
		c.logger.Info("Document stored", "document_id", result.DocumentID, "chunks", result.ChunkCount)
	} else {
		c.logger.Warn("Document storage failed", "error", result.Error)
	}

	return &result, nil
}

// DetermineDocumentType maps MIME type to GraphRAG document type
func DetermineDocumentType(mimeType string) string {
	switch mimeType {
	case "text/markdown", "text/x-markdown":
		return "markdown"
	case "application/json", "application/x-yaml", "application/toml", "text/csv",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return "structured"
	}
	if isCodeMimeType(mimeType) {
		return "code"
	}
	return "text"
}

func isCodeMimeType(mimeType string) bool {
	switch mimeType {
	case "text/x-python", "text/javascript", "application/javascript",
		"text/x-java-source", "text/x-go", "text/x-rust", "text/x-c",
		"text/x-c++", "text/typescript":
		return true
	}
	return false
}
