package config

import (
	"encoding/json"
	"runtime"
)

// ExtractionConfig is the per-call configuration tree. Every field has a
// default; a nil sub-config turns its feature off.
type ExtractionConfig struct {
	UseCache                 bool                     `json:"use_cache"`
	EnableQualityProcessing  bool                     `json:"enable_quality_processing"`
	ForceOCR                 bool                     `json:"force_ocr"`
	OCR                      *OCRConfig               `json:"ocr"`
	Chunking                 *ChunkingConfig          `json:"chunking"`
	Images                   *ImageExtractionConfig   `json:"images"`
	PdfOptions               *PdfConfig               `json:"pdf_options"`
	Pages                    *PageConfig              `json:"pages"`
	TokenReduction           *TokenReductionConfig    `json:"token_reduction"`
	LanguageDetection        *LanguageDetectionConfig `json:"language_detection"`
	Keywords                 *KeywordConfig           `json:"keywords"`
	Postprocessor            *PostProcessorConfig     `json:"postprocessor"`
	HTMLOptions              *HTMLConversionConfig    `json:"html_options"`
	MaxConcurrentExtractions int                      `json:"max_concurrent_extractions"`
	SubprocessTimeoutSeconds int                      `json:"subprocess_timeout_seconds"`
}

// OCRConfig selects the backend and its settings.
type OCRConfig struct {
	Backend   string           `json:"backend"`
	Language  string           `json:"language"`
	Tesseract *TesseractConfig `json:"tesseract_config"`
}

type TesseractConfig struct {
	Language               string                    `json:"language"`
	PSM                    int                       `json:"psm"`
	OutputFormat           string                    `json:"output_format"`
	OEM                    int                       `json:"oem"`
	MinConfidence          float64                   `json:"min_confidence"`
	Preprocessing          *ImagePreprocessingConfig `json:"preprocessing"`
	EnableTableDetection   bool                      `json:"enable_table_detection"`
	TableMinConfidence     float64                   `json:"table_min_confidence"`
	TableColumnThreshold   int                       `json:"table_column_threshold"`
	TableRowThresholdRatio float64                   `json:"table_row_threshold_ratio"`
	CharWhitelist          string                    `json:"tessedit_char_whitelist"`
	CharBlacklist          string                    `json:"tessedit_char_blacklist"`
	Variables              map[string]string         `json:"variables"`
}

type ImagePreprocessingConfig struct {
	TargetDPI          int    `json:"target_dpi"`
	AutoRotate         bool   `json:"auto_rotate"`
	Deskew             bool   `json:"deskew"`
	Denoise            bool   `json:"denoise"`
	ContrastEnhance    bool   `json:"contrast_enhance"`
	BinarizationMethod string `json:"binarization_method"`
	InvertColors       bool   `json:"invert_colors"`
}

// ImageExtractionConfig controls image extraction and DPI normalization.
type ImageExtractionConfig struct {
	ExtractImages     bool `json:"extract_images"`
	TargetDPI         int  `json:"target_dpi"`
	MaxImageDimension int  `json:"max_image_dimension"`
	AutoAdjustDPI     bool `json:"auto_adjust_dpi"`
	MinDPI            int  `json:"min_dpi"`
	MaxDPI            int  `json:"max_dpi"`
}

type PdfConfig struct {
	ExtractImages   bool     `json:"extract_images"`
	Passwords       []string `json:"passwords"`
	ExtractMetadata bool     `json:"extract_metadata"`
}

type PageConfig struct {
	ExtractPages      bool   `json:"extract_pages"`
	InsertPageMarkers bool   `json:"insert_page_markers"`
	MarkerFormat      string `json:"marker_format"`
}

type ChunkingConfig struct {
	MaxChars       int              `json:"max_chars"`
	MaxOverlap     int              `json:"max_overlap"`
	Preset         string           `json:"preset"`
	Strategy       string           `json:"strategy"`
	TokenEstimator string           `json:"token_estimator"`
	Embedding      *EmbeddingConfig `json:"embedding"`
}

type EmbeddingConfig struct {
	Model                EmbeddingModel `json:"model"`
	Normalize            bool           `json:"normalize"`
	BatchSize            int            `json:"batch_size"`
	ShowDownloadProgress bool           `json:"show_download_progress"`
	CacheDir             string         `json:"cache_dir"`
}

// EmbeddingModel is a tagged union on Type: preset uses Name, fastembed uses
// Model, custom uses ModelID and Dimensions.
type EmbeddingModel struct {
	Type       string `json:"type"`
	Name       string `json:"name,omitempty"`
	Model      string `json:"model,omitempty"`
	ModelID    string `json:"model_id,omitempty"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type TokenReductionConfig struct {
	Mode                   string `json:"mode"`
	PreserveImportantWords bool   `json:"preserve_important_words"`
}

type LanguageDetectionConfig struct {
	Enabled        bool    `json:"enabled"`
	MinConfidence  float64 `json:"min_confidence"`
	DetectMultiple bool    `json:"detect_multiple"`
}

type KeywordConfig struct {
	Algorithm   string  `json:"algorithm"`
	MaxKeywords int     `json:"max_keywords"`
	MinScore    float64 `json:"min_score"`
	NgramRange  [2]int  `json:"ngram_range"`
	Language    string  `json:"language"`
}

type PostProcessorConfig struct {
	Enabled            bool     `json:"enabled"`
	EnabledProcessors  []string `json:"enabled_processors"`
	DisabledProcessors []string `json:"disabled_processors"`
}

type HTMLConversionConfig struct {
	Sanitize bool   `json:"sanitize"`
	Domain   string `json:"domain"`
}

// Chunking presets: name -> (max_chars, max_overlap).
var ChunkingPresets = map[string][2]int{
	"small":  {500, 100},
	"medium": {1000, 200},
	"large":  {2000, 400},
}

const DefaultPageMarkerFormat = "\n\n<!-- PAGE {page_num} -->\n\n"

func Default() ExtractionConfig {
	return ExtractionConfig{
		UseCache:                 true,
		EnableQualityProcessing:  true,
		OCR:                      DefaultOCR(),
		Postprocessor:            DefaultPostProcessor(),
		SubprocessTimeoutSeconds: 120,
	}
}

func DefaultOCR() *OCRConfig {
	return &OCRConfig{Backend: "tesseract", Language: "eng", Tesseract: DefaultTesseract()}
}

func DefaultTesseract() *TesseractConfig {
	return &TesseractConfig{
		Language:               "eng",
		PSM:                    3,
		OutputFormat:           "markdown",
		OEM:                    3,
		EnableTableDetection:   true,
		TableColumnThreshold:   50,
		TableRowThresholdRatio: 0.5,
	}
}

func DefaultImagePreprocessing() *ImagePreprocessingConfig {
	return &ImagePreprocessingConfig{
		TargetDPI:          300,
		AutoRotate:         true,
		Deskew:             true,
		BinarizationMethod: "otsu",
	}
}

func DefaultImageExtraction() *ImageExtractionConfig {
	return &ImageExtractionConfig{
		ExtractImages:     true,
		TargetDPI:         300,
		MaxImageDimension: 4096,
		AutoAdjustDPI:     true,
		MinDPI:            72,
		MaxDPI:            600,
	}
}

func DefaultPdf() *PdfConfig {
	return &PdfConfig{ExtractMetadata: true}
}

func DefaultPages() *PageConfig {
	return &PageConfig{ExtractPages: true, MarkerFormat: DefaultPageMarkerFormat}
}

func DefaultChunking() *ChunkingConfig {
	return &ChunkingConfig{MaxChars: 1000, MaxOverlap: 200, Strategy: "words", TokenEstimator: "chars"}
}

func DefaultEmbedding() *EmbeddingConfig {
	return &EmbeddingConfig{
		Model:     EmbeddingModel{Type: "preset", Name: "balanced"},
		Normalize: true,
		BatchSize: 32,
	}
}

func DefaultTokenReduction() *TokenReductionConfig {
	return &TokenReductionConfig{Mode: "off", PreserveImportantWords: true}
}

func DefaultLanguageDetection() *LanguageDetectionConfig {
	return &LanguageDetectionConfig{Enabled: true, MinConfidence: 0.5}
}

func DefaultKeywords() *KeywordConfig {
	return &KeywordConfig{Algorithm: "yake", MaxKeywords: 10, NgramRange: [2]int{1, 3}, Language: "en"}
}

func DefaultPostProcessor() *PostProcessorConfig {
	return &PostProcessorConfig{Enabled: true}
}

func DefaultHTMLConversion() *HTMLConversionConfig {
	return &HTMLConversionConfig{Sanitize: true}
}

// Each sub-config decodes on top of its defaults so absent keys keep them.

func (c *ExtractionConfig) UnmarshalJSON(b []byte) error {
	type plain ExtractionConfig
	v := plain(Default())
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*c = ExtractionConfig(v)
	return nil
}

func (c *OCRConfig) UnmarshalJSON(b []byte) error {
	type plain OCRConfig
	v := plain(*DefaultOCR())
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*c = OCRConfig(v)
	return nil
}

func (c *TesseractConfig) UnmarshalJSON(b []byte) error {
	type plain TesseractConfig
	v := plain(*DefaultTesseract())
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*c = TesseractConfig(v)
	return nil
}

func (c *ImagePreprocessingConfig) UnmarshalJSON(b []byte) error {
	type plain ImagePreprocessingConfig
	v := plain(*DefaultImagePreprocessing())
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*c = ImagePreprocessingConfig(v)
	return nil
}

func (c *ImageExtractionConfig) UnmarshalJSON(b []byte) error {
	type plain ImageExtractionConfig
	v := plain(*DefaultImageExtraction())
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*c = ImageExtractionConfig(v)
	return nil
}

func (c *PdfConfig) UnmarshalJSON(b []byte) error {
	type plain PdfConfig
	v := plain(*DefaultPdf())
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*c = PdfConfig(v)
	return nil
}

func (c *PageConfig) UnmarshalJSON(b []byte) error {
	type plain PageConfig
	v := plain(*DefaultPages())
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*c = PageConfig(v)
	return nil
}

func (c *ChunkingConfig) UnmarshalJSON(b []byte) error {
	type plain ChunkingConfig
	v := plain(*DefaultChunking())
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*c = ChunkingConfig(v)
	return nil
}

func (c *EmbeddingConfig) UnmarshalJSON(b []byte) error {
	type plain EmbeddingConfig
	v := plain(*DefaultEmbedding())
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*c = EmbeddingConfig(v)
	return nil
}

func (c *TokenReductionConfig) UnmarshalJSON(b []byte) error {
	type plain TokenReductionConfig
	v := plain(*DefaultTokenReduction())
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*c = TokenReductionConfig(v)
	return nil
}

func (c *LanguageDetectionConfig) UnmarshalJSON(b []byte) error {
	type plain LanguageDetectionConfig
	v := plain(*DefaultLanguageDetection())
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*c = LanguageDetectionConfig(v)
	return nil
}

func (c *KeywordConfig) UnmarshalJSON(b []byte) error {
	type plain KeywordConfig
	v := plain(*DefaultKeywords())
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*c = KeywordConfig(v)
	return nil
}

func (c *PostProcessorConfig) UnmarshalJSON(b []byte) error {
	type plain PostProcessorConfig
	v := plain(*DefaultPostProcessor())
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*c = PostProcessorConfig(v)
	return nil
}

func (c *HTMLConversionConfig) UnmarshalJSON(b []byte) error {
	type plain HTMLConversionConfig
	v := plain(*DefaultHTMLConversion())
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*c = HTMLConversionConfig(v)
	return nil
}

// Effective returns max_chars and max_overlap after applying the preset.
func (c *ChunkingConfig) Effective() (maxChars, maxOverlap int) {
	if p, ok := ChunkingPresets[c.Preset]; ok {
		return p[0], p[1]
	}
	return c.MaxChars, c.MaxOverlap
}

// Concurrency is max_concurrent_extractions, defaulting to twice the CPU count.
func (c *ExtractionConfig) Concurrency() int {
	if c.MaxConcurrentExtractions > 0 {
		return c.MaxConcurrentExtractions
	}
	return 2 * runtime.GOMAXPROCS(0)
}

// TesseractOrDefault never returns nil.
func (c *OCRConfig) TesseractOrDefault() *TesseractConfig {
	if c == nil || c.Tesseract == nil {
		return DefaultTesseract()
	}
	return c.Tesseract
}

// ImagesOrDefault never returns nil.
func (c *ExtractionConfig) ImagesOrDefault() *ImageExtractionConfig {
	if c.Images == nil {
		return DefaultImageExtraction()
	}
	return c.Images
}

// OCROrDefault never returns nil.
func (c *ExtractionConfig) OCROrDefault() *OCRConfig {
	if c.OCR == nil {
		return DefaultOCR()
	}
	return c.OCR
}

// Clone deep-copies the tree through its JSON form.
func (c ExtractionConfig) Clone() ExtractionConfig {
	b, err := json.Marshal(c)
	if err != nil {
		return c
	}
	var out ExtractionConfig
	if err := json.Unmarshal(b, &out); err != nil {
		return c
	}
	return out
}

// Canonical is the stable serialization used in cache keys.
func (c ExtractionConfig) Canonical() ([]byte, error) {
	// neither field changes the produced result
	c.UseCache = false
	c.MaxConcurrentExtractions = 0
	return json.Marshal(c)
}
