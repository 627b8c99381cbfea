package config

import (
	"strings"

	apperrors "github.com/adverant/nexus/extraction-engine/internal/errors"
)

// Validate checks every populated sub-config. Failures are Validation errors.
func (c *ExtractionConfig) Validate() error {
	if c.MaxConcurrentExtractions < 0 {
		return apperrors.NewValidationErrorf("max_concurrent_extractions must not be negative, got %d", c.MaxConcurrentExtractions)
	}
	if c.SubprocessTimeoutSeconds < 0 {
		return apperrors.NewValidationErrorf("subprocess_timeout_seconds must not be negative, got %d", c.SubprocessTimeoutSeconds)
	}
	if c.OCR != nil {
		if err := c.OCR.validate(); err != nil {
			return err
		}
	}
	if c.Images != nil {
		if err := c.Images.validate(); err != nil {
			return err
		}
	}
	if c.Pages != nil && c.Pages.InsertPageMarkers && !strings.Contains(c.Pages.MarkerFormat, "{page_num}") {
		return apperrors.NewValidationError("pages.marker_format must contain {page_num}")
	}
	if c.Chunking != nil {
		if err := c.Chunking.Validate(); err != nil {
			return err
		}
	}
	if c.TokenReduction != nil {
		switch c.TokenReduction.Mode {
		case "off", "light", "moderate", "aggressive", "maximum":
		default:
			return apperrors.NewValidationErrorf("token_reduction.mode must be off, light, moderate, aggressive or maximum, got %q", c.TokenReduction.Mode)
		}
	}
	if c.LanguageDetection != nil {
		if mc := c.LanguageDetection.MinConfidence; mc < 0 || mc > 1 {
			return apperrors.NewValidationErrorf("language_detection.min_confidence must be between 0 and 1, got %v", mc)
		}
	}
	if c.Keywords != nil {
		if err := c.Keywords.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c *OCRConfig) validate() error {
	if strings.TrimSpace(c.Backend) == "" {
		return apperrors.NewValidationError("ocr.backend must not be empty")
	}
	t := c.Tesseract
	if t == nil {
		return nil
	}
	if t.PSM < 0 || t.PSM > 13 {
		return apperrors.NewValidationErrorf("tesseract psm must be between 0 and 13, got %d", t.PSM)
	}
	if t.OEM < 0 || t.OEM > 3 {
		return apperrors.NewValidationErrorf("tesseract oem must be between 0 and 3, got %d", t.OEM)
	}
	switch t.OutputFormat {
	case "text", "markdown", "hocr":
	default:
		return apperrors.NewValidationErrorf("tesseract output_format must be text, markdown or hocr, got %q", t.OutputFormat)
	}
	if t.MinConfidence < 0 || t.MinConfidence > 100 {
		return apperrors.NewValidationErrorf("tesseract min_confidence must be between 0 and 100, got %v", t.MinConfidence)
	}
	if t.TableMinConfidence < 0 || t.TableMinConfidence > 100 {
		return apperrors.NewValidationErrorf("tesseract table_min_confidence must be between 0 and 100, got %v", t.TableMinConfidence)
	}
	if t.EnableTableDetection && (t.TableColumnThreshold <= 0 || t.TableRowThresholdRatio <= 0) {
		return apperrors.NewValidationError("tesseract table thresholds must be positive")
	}
	if p := t.Preprocessing; p != nil {
		if p.TargetDPI < 36 || p.TargetDPI > 2400 {
			return apperrors.NewValidationErrorf("preprocessing target_dpi must be between 36 and 2400, got %d", p.TargetDPI)
		}
		switch p.BinarizationMethod {
		case "otsu", "sauvola", "adaptive", "none", "":
		default:
			return apperrors.NewValidationErrorf("preprocessing binarization_method must be otsu, sauvola, adaptive or none, got %q", p.BinarizationMethod)
		}
	}
	return nil
}

func (c *ImageExtractionConfig) validate() error {
	if c.TargetDPI <= 0 || c.MaxImageDimension <= 0 {
		return apperrors.NewValidationError("images.target_dpi and images.max_image_dimension must be positive")
	}
	if c.MinDPI <= 0 || c.MinDPI > c.MaxDPI {
		return apperrors.NewValidationErrorf("images.min_dpi (%d) must be positive and not exceed images.max_dpi (%d)", c.MinDPI, c.MaxDPI)
	}
	return nil
}

// Validate checks the chunking settings on their own.
func (c *ChunkingConfig) Validate() error {
	if c.Preset != "" {
		if _, ok := ChunkingPresets[c.Preset]; !ok {
			return apperrors.NewValidationErrorf("chunking.preset must be small, medium or large, got %q", c.Preset)
		}
	}
	maxChars, overlap := c.Effective()
	if maxChars <= 0 {
		return apperrors.NewValidationErrorf("chunking.max_chars must be positive, got %d", maxChars)
	}
	if overlap < 0 || overlap >= maxChars {
		return apperrors.NewValidationErrorf("chunking.max_overlap must be in [0, max_chars), got %d", overlap)
	}
	switch c.Strategy {
	case "characters", "words", "sentences":
	default:
		return apperrors.NewValidationErrorf("chunking.strategy must be characters, words or sentences, got %q", c.Strategy)
	}
	switch c.TokenEstimator {
	case "chars", "whitespace":
	default:
		return apperrors.NewValidationErrorf("chunking.token_estimator must be chars or whitespace, got %q", c.TokenEstimator)
	}
	if e := c.Embedding; e != nil {
		switch e.Model.Type {
		case "preset", "fastembed", "custom":
		default:
			return apperrors.NewValidationErrorf("embedding model type must be preset, fastembed or custom, got %q", e.Model.Type)
		}
		if e.BatchSize <= 0 {
			return apperrors.NewValidationErrorf("embedding batch_size must be positive, got %d", e.BatchSize)
		}
	}
	return nil
}

func (c *KeywordConfig) validate() error {
	switch c.Algorithm {
	case "yake", "rake":
	default:
		return apperrors.NewValidationErrorf("keywords.algorithm must be yake or rake, got %q", c.Algorithm)
	}
	if c.MaxKeywords <= 0 {
		return apperrors.NewValidationErrorf("keywords.max_keywords must be positive, got %d", c.MaxKeywords)
	}
	if c.NgramRange[0] < 1 || c.NgramRange[0] > c.NgramRange[1] {
		return apperrors.NewValidationErrorf("keywords.ngram_range must be ascending and start at 1 or more, got %v", c.NgramRange)
	}
	return nil
}
