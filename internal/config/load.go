package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"

	apperrors "github.com/adverant/nexus/extraction-engine/internal/errors"
)

// Option overrides one aspect of the tree. Options apply after the file layer.
type Option func(*ExtractionConfig)

// New builds a config from defaults and options.
func New(opts ...Option) ExtractionConfig {
	cfg := Default()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// LoadFile layers a JSON, YAML or TOML file over the defaults, then applies opts.
// A missing file is returned as the raw IO error.
func LoadFile(path string, opts ...Option) (ExtractionConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ExtractionConfig{}, err
	}
	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return ExtractionConfig{}, err
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return ExtractionConfig{}, err
	}
	return cfg, nil
}

// Parse decodes config bytes. ext selects the syntax (".json", ".yaml", ".yml", ".toml").
func Parse(data []byte, ext string) (ExtractionConfig, error) {
	var (
		js  []byte
		err error
	)
	switch strings.ToLower(ext) {
	case ".json", "":
		js = data
	case ".yaml", ".yml":
		js, err = yaml.YAMLToJSON(data)
	case ".toml":
		var tree map[string]interface{}
		if err = toml.Unmarshal(data, &tree); err == nil {
			js, err = json.Marshal(tree)
		}
	default:
		return ExtractionConfig{}, apperrors.NewValidationErrorf("unsupported config file extension %q", ext)
	}
	if err != nil {
		return ExtractionConfig{}, apperrors.NewSerializationError(fmt.Sprintf("decode %s config", ext), err)
	}

	var cfg ExtractionConfig
	if err := json.Unmarshal(js, &cfg); err != nil {
		return ExtractionConfig{}, apperrors.NewSerializationError("decode config", err)
	}
	return cfg, nil
}

func WithCache(enabled bool) Option {
	return func(c *ExtractionConfig) { c.UseCache = enabled }
}

func WithForceOCR(force bool) Option {
	return func(c *ExtractionConfig) { c.ForceOCR = force }
}

func WithOCRBackend(backend string) Option {
	return func(c *ExtractionConfig) {
		if c.OCR == nil {
			c.OCR = DefaultOCR()
		}
		c.OCR.Backend = backend
	}
}

func WithOCRLanguage(language string) Option {
	return func(c *ExtractionConfig) {
		if c.OCR == nil {
			c.OCR = DefaultOCR()
		}
		c.OCR.Language = language
		if c.OCR.Tesseract != nil {
			c.OCR.Tesseract.Language = language
		}
	}
}

func WithChunking(maxChars, maxOverlap int) Option {
	return func(c *ExtractionConfig) {
		if c.Chunking == nil {
			c.Chunking = DefaultChunking()
		}
		c.Chunking.MaxChars = maxChars
		c.Chunking.MaxOverlap = maxOverlap
		c.Chunking.Preset = ""
	}
}

func WithChunkingPreset(preset string) Option {
	return func(c *ExtractionConfig) {
		if c.Chunking == nil {
			c.Chunking = DefaultChunking()
		}
		c.Chunking.Preset = preset
	}
}

func WithChunkingStrategy(strategy string) Option {
	return func(c *ExtractionConfig) {
		if c.Chunking == nil {
			c.Chunking = DefaultChunking()
		}
		c.Chunking.Strategy = strategy
	}
}

func WithEmbedding(e *EmbeddingConfig) Option {
	return func(c *ExtractionConfig) {
		if c.Chunking == nil {
			c.Chunking = DefaultChunking()
		}
		c.Chunking.Embedding = e
	}
}

func WithPageExtraction(insertMarkers bool) Option {
	return func(c *ExtractionConfig) {
		c.Pages = DefaultPages()
		c.Pages.InsertPageMarkers = insertMarkers
	}
}

func WithImageExtraction(img *ImageExtractionConfig) Option {
	return func(c *ExtractionConfig) { c.Images = img }
}

func WithPdfOptions(p *PdfConfig) Option {
	return func(c *ExtractionConfig) { c.PdfOptions = p }
}

func WithTokenReduction(mode string) Option {
	return func(c *ExtractionConfig) {
		c.TokenReduction = DefaultTokenReduction()
		c.TokenReduction.Mode = mode
	}
}

func WithLanguageDetection(minConfidence float64, detectMultiple bool) Option {
	return func(c *ExtractionConfig) {
		c.LanguageDetection = &LanguageDetectionConfig{Enabled: true, MinConfidence: minConfidence, DetectMultiple: detectMultiple}
	}
}

func WithKeywords(algorithm string, maxKeywords int) Option {
	return func(c *ExtractionConfig) {
		c.Keywords = DefaultKeywords()
		c.Keywords.Algorithm = algorithm
		c.Keywords.MaxKeywords = maxKeywords
	}
}

func WithQualityProcessing(enabled bool) Option {
	return func(c *ExtractionConfig) { c.EnableQualityProcessing = enabled }
}

// WithPostProcessors sets the allow and deny lists; nil leaves a list empty.
func WithPostProcessors(enabled, disabled []string) Option {
	return func(c *ExtractionConfig) {
		c.Postprocessor = &PostProcessorConfig{Enabled: true, EnabledProcessors: enabled, DisabledProcessors: disabled}
	}
}

func WithoutPostProcessing() Option {
	return func(c *ExtractionConfig) {
		c.Postprocessor = &PostProcessorConfig{Enabled: false}
	}
}

func WithMaxConcurrentExtractions(n int) Option {
	return func(c *ExtractionConfig) { c.MaxConcurrentExtractions = n }
}
