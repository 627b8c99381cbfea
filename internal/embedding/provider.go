// Package embedding turns chunk text into vectors.
package embedding

import (
	"context"
	"fmt"
	"math"

	"github.com/adverant/nexus/extraction-engine/internal/config"
	apperrors "github.com/adverant/nexus/extraction-engine/internal/errors"
	"github.com/adverant/nexus/extraction-engine/internal/logging"
	"github.com/adverant/nexus/extraction-engine/internal/types"
)

// Provider produces one vector per input text.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// Presets maps preset names to dimensions of the local embedder.
var Presets = map[string]int{
	"fast":         384,
	"balanced":     768,
	"quality":      1024,
	"multilingual": 768,
}

// RemoteSettings configures the custom (HTTP) provider.
type RemoteSettings struct {
	URL    string
	APIKey string
}

// Generator resolves providers and fills chunk embeddings.
type Generator struct {
	remote RemoteSettings
	logger *logging.Logger
}

func NewGenerator(remote RemoteSettings, logger *logging.Logger) *Generator {
	return &Generator{remote: remote, logger: logging.OrDefault(logger)}
}

// Resolve picks the provider for a model description.
func (g *Generator) Resolve(cfg *config.EmbeddingConfig) (Provider, error) {
	m := cfg.Model
	switch m.Type {
	case "preset":
		name := m.Name
		if name == "" {
			name = "balanced"
		}
		dims, ok := Presets[name]
		if !ok {
			return nil, apperrors.NewValidationErrorf("unknown embedding preset %q", name)
		}
		return NewHashingEmbedder(dims), nil
	case "custom":
		if m.ModelID == "" {
			return nil, apperrors.NewValidationError("custom embedding model requires model_id")
		}
		if g.remote.APIKey == "" {
			return nil, apperrors.NewMissingDependencyError("embedding API key", "set EMBEDDING_API_KEY for custom embedding models")
		}
		client := NewRemoteClient(g.remote.URL, g.remote.APIKey, m.ModelID, m.Dimensions, g.logger)
		if cfg.CacheDir != "" {
			return NewDiskCache(client, cfg.CacheDir, m.ModelID), nil
		}
		return client, nil
	case "fastembed":
		return nil, apperrors.NewMissingDependencyError("fastembed model "+m.Model, "ONNX runtime embeddings are not built in; use a preset or a custom model")
	}
	return nil, apperrors.NewValidationErrorf("unknown embedding model type %q", m.Type)
}

// Generate embeds every chunk in place, batch by batch.
func (g *Generator) Generate(ctx context.Context, chunks []types.Chunk, cfg *config.EmbeddingConfig) error {
	if len(chunks) == 0 {
		return nil
	}
	provider, err := g.Resolve(cfg)
	if err != nil {
		return err
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 32
	}

	for i := 0; i < len(chunks); i += batchSize {
		end := min(i+batchSize, len(chunks))
		texts := make([]string, 0, end-i)
		for _, ch := range chunks[i:end] {
			texts = append(texts, ch.Content)
		}
		vectors, err := provider.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed chunks %d-%d: %w", i, end-1, err)
		}
		if len(vectors) != len(texts) {
			return fmt.Errorf("embedding provider returned %d vectors for %d texts", len(vectors), len(texts))
		}
		for j, v := range vectors {
			if cfg.Normalize {
				v = Normalize(v)
			}
			chunks[i+j].Embedding = v
		}
	}
	g.logger.Debug("Embeddings generated", "chunks", len(chunks), "dimensions", provider.Dimensions())
	return nil
}

// Normalize scales v to unit L2 norm. Zero vectors are returned as-is.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}
