// Package mcpserver exposes the extraction engine as MCP tools.
package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/adverant/nexus/extraction-engine/internal/batch"
	"github.com/adverant/nexus/extraction-engine/internal/config"
	"github.com/adverant/nexus/extraction-engine/internal/engine"
	apperrors "github.com/adverant/nexus/extraction-engine/internal/errors"
	"github.com/adverant/nexus/extraction-engine/internal/logging"
	"github.com/adverant/nexus/extraction-engine/internal/types"
)

const serverName = "extraction-engine"

// Tools serves one engine.
type Tools struct {
	engine   *engine.Engine
	batch    *batch.Coordinator
	defaults config.ExtractionConfig
	logger   *logging.Logger
}

// New builds the tool set. defaults applies to calls without a "config"
// argument and may be nil.
func New(e *engine.Engine, defaults *config.ExtractionConfig, logger *logging.Logger) *Tools {
	logger = logging.OrDefault(logger).Named("mcp")
	d := config.Default()
	if defaults != nil {
		d = defaults.Clone()
	}
	return &Tools{engine: e, batch: batch.New(e, logger), defaults: d, logger: logger}
}

// NewServer returns an MCP server with every tool registered.
func (t *Tools) NewServer() *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: engine.Version}, nil)
	t.RegisterMCP(srv)
	return srv
}

// Run serves over transport until the client disconnects or ctx ends.
func (t *Tools) Run(ctx context.Context, transport mcp.Transport) error {
	t.logger.Info("MCP server starting", "version", engine.Version)
	return t.NewServer().Run(ctx, transport)
}

// RegisterMCP registers the extraction tools on srv.
func (t *Tools) RegisterMCP(srv *mcp.Server) {
	configProp := map[string]any{
		"type":        "object",
		"description": "Extraction config (same fields as the JSON config file). Omit for server defaults.",
	}

	addTool(srv, &mcp.Tool{
		Name:        "extract_file",
		Description: "Extract text, tables and metadata from a document on disk.",
		InputSchema: inputSchema(map[string]any{
			"path":      map[string]any{"type": "string", "description": "Path of the document"},
			"mime_type": map[string]any{"type": "string", "description": "Optional MIME type hint"},
			"config":    configProp,
		}, []string{"path"}),
	}, t.extractFile)

	addTool(srv, &mcp.Tool{
		Name:        "extract_bytes",
		Description: "Extract text, tables and metadata from base64-encoded document content.",
		InputSchema: inputSchema(map[string]any{
			"data":      map[string]any{"type": "string", "description": "Base64-encoded document content"},
			"mime_type": map[string]any{"type": "string", "description": "MIME type of the content"},
			"config":    configProp,
		}, []string{"data", "mime_type"}),
	}, t.extractBytes)

	addTool(srv, &mcp.Tool{
		Name:        "batch_extract_files",
		Description: "Extract several documents concurrently. Returns one result per path, in order; failures are reported in each result's metadata.error.",
		InputSchema: inputSchema(map[string]any{
			"paths": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Paths of the documents",
			},
			"config": configProp,
		}, []string{"paths"}),
	}, t.batchExtractFiles)

	addTool(srv, &mcp.Tool{
		Name:        "detect_mime_type",
		Description: "Detect the MIME type of a document from a path or base64 content.",
		InputSchema: inputSchema(map[string]any{
			"path":      map[string]any{"type": "string", "description": "Path of the document"},
			"data":      map[string]any{"type": "string", "description": "Base64-encoded content, used when path is empty"},
			"mime_type": map[string]any{"type": "string", "description": "Optional MIME type hint"},
		}, nil),
	}, t.detectMimeType)

	addTool(srv, &mcp.Tool{
		Name:        "cache_stats",
		Description: "Report result cache statistics.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, t.cacheStats)

	addTool(srv, &mcp.Tool{
		Name:        "cache_clear",
		Description: "Remove every entry from the result cache.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, t.cacheClear)
}

type extractFileReq struct {
	Path     string          `json:"path"`
	MimeType string          `json:"mime_type"`
	Config   json.RawMessage `json:"config"`
}

func (t *Tools) extractFile(ctx context.Context, r *extractFileReq) (any, error) {
	if r.Path == "" {
		return nil, apperrors.NewValidationError("path is required")
	}
	cfg, err := t.config(r.Config)
	if err != nil {
		return nil, err
	}
	result, err := t.engine.ExtractFile(ctx, r.Path, r.MimeType, &cfg)
	return keepPluginFailure(result, err)
}

type extractBytesReq struct {
	Data     string          `json:"data"`
	MimeType string          `json:"mime_type"`
	Config   json.RawMessage `json:"config"`
}

func (t *Tools) extractBytes(ctx context.Context, r *extractBytesReq) (any, error) {
	data, err := base64.StdEncoding.DecodeString(r.Data)
	if err != nil {
		return nil, apperrors.NewValidationErrorf("data is not valid base64: %v", err)
	}
	cfg, err := t.config(r.Config)
	if err != nil {
		return nil, err
	}
	result, err := t.engine.ExtractBytes(ctx, data, r.MimeType, &cfg)
	return keepPluginFailure(result, err)
}

type batchExtractReq struct {
	Paths  []string        `json:"paths"`
	Config json.RawMessage `json:"config"`
}

func (t *Tools) batchExtractFiles(ctx context.Context, r *batchExtractReq) (any, error) {
	cfg, err := t.config(r.Config)
	if err != nil {
		return nil, err
	}
	return t.batch.ExtractFiles(ctx, r.Paths, &cfg)
}

type detectReq struct {
	Path     string `json:"path"`
	Data     string `json:"data"`
	MimeType string `json:"mime_type"`
}

func (t *Tools) detectMimeType(_ context.Context, r *detectReq) (any, error) {
	var (
		mimeType string
		err      error
	)
	switch {
	case r.Path != "":
		mimeType, err = t.engine.DetectFile(r.Path, r.MimeType)
	case r.Data != "":
		data, decErr := base64.StdEncoding.DecodeString(r.Data)
		if decErr != nil {
			return nil, apperrors.NewValidationErrorf("data is not valid base64: %v", decErr)
		}
		mimeType, err = t.engine.DetectBytes(data, r.MimeType)
	default:
		return nil, apperrors.NewValidationError("path or data is required")
	}
	if err != nil {
		return nil, err
	}
	return map[string]string{"mime_type": mimeType}, nil
}

type emptyReq struct{}

func (t *Tools) cacheStats(ctx context.Context, _ *emptyReq) (any, error) {
	c := t.engine.Cache()
	if c == nil {
		return map[string]any{"backend": "none", "entries": 0}, nil
	}
	return c.Stats(ctx)
}

func (t *Tools) cacheClear(ctx context.Context, _ *emptyReq) (any, error) {
	c := t.engine.Cache()
	if c == nil {
		return map[string]int{"removed": 0}, nil
	}
	n, err := c.Clear(ctx)
	if err != nil {
		return nil, err
	}
	t.logger.Info("Cache cleared", "removed", n)
	return map[string]int{"removed": n}, nil
}

// config parses a call's config over the built-in defaults, or copies the
// server defaults when raw is empty.
func (t *Tools) config(raw json.RawMessage) (config.ExtractionConfig, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return t.defaults.Clone(), nil
	}
	cfg, err := config.Parse(raw, ".json")
	if err != nil {
		return config.ExtractionConfig{}, err
	}
	return cfg, nil
}

// keepPluginFailure returns a partial result when only a post-processor
// failed; any other error fails the call.
func keepPluginFailure(result *types.ExtractionResult, err error) (any, error) {
	if err == nil {
		return result, nil
	}
	if result == nil || !apperrors.Is(err, apperrors.ErrorPlugin) {
		return nil, err
	}
	result.Metadata.Error = &types.ErrorMetadata{ErrorType: string(apperrors.KindOf(err)), Message: apperrors.Message(err)}
	return result, nil
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// addTool decodes the call arguments into Req, runs handle and encodes the
// response as JSON text. Handler errors become tool errors.
func addTool[Req any](srv *mcp.Server, tool *mcp.Tool, handle func(context.Context, *Req) (any, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var r Req
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
				var res mcp.CallToolResult
				res.SetError(fmt.Errorf("%s: invalid arguments: %w", tool.Name, err))
				return &res, nil
			}
		}

		resp, err := handle(ctx, &r)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("%s: %w", tool.Name, err))
			return &res, nil
		}

		data, err := json.Marshal(resp)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("marshal: %w", err))
			return &res, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}
