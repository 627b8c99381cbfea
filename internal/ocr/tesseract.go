/**
 * Tesseract OCR backend
 *
 * Simple, free, offline OCR using Tesseract through gosseract.
 * Registered under the name "tesseract" by default.
 */

package ocr

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/otiai10/gosseract/v2"

	"github.com/adverant/nexus/extraction-engine/internal/config"
	apperrors "github.com/adverant/nexus/extraction-engine/internal/errors"
	"github.com/adverant/nexus/extraction-engine/internal/logging"
)

const TesseractBackendName = "tesseract"

// TesseractBackend handles OCR using Tesseract
type TesseractBackend struct {
	tessdataPrefix string
	logger         *logging.Logger
}

// NewTesseractBackend creates a new Tesseract backend. An empty tessdataPrefix
// uses the library default (TESSDATA_PREFIX).
func NewTesseractBackend(tessdataPrefix string, logger *logging.Logger) *TesseractBackend {
	return &TesseractBackend{
		tessdataPrefix: tessdataPrefix,
		logger:         logging.OrDefault(logger).Named("tesseract"),
	}
}

func (t *TesseractBackend) Name() string { return TesseractBackendName }

// SupportedLanguages lists the installed traineddata files.
func (t *TesseractBackend) SupportedLanguages() []string {
	langs, err := gosseract.GetAvailableLanguages()
	if err != nil || len(langs) == 0 {
		return []string{"eng"}
	}
	return langs
}

// Process performs OCR using Tesseract
func (t *TesseractBackend) Process(ctx context.Context, image []byte, cfg *config.OCRConfig) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	startTime := time.Now()
	tc := cfg.TesseractOrDefault()

	// Create Tesseract client
	client := gosseract.NewClient()
	defer client.Close()
	if t.tessdataPrefix != "" {
		if err := client.SetTessdataPrefix(t.tessdataPrefix); err != nil {
			return nil, apperrors.NewOCRError(TesseractBackendName, err)
		}
	}

	if err := t.configure(client, cfg, tc); err != nil {
		return nil, apperrors.NewOCRError(TesseractBackendName, err)
	}
	if err := client.SetImageFromBytes(image); err != nil {
		return nil, apperrors.NewOCRError(TesseractBackendName, fmt.Errorf("failed to set image: %w", err))
	}

	result := &Result{Format: tc.OutputFormat}
	switch tc.OutputFormat {
	case "hocr", "markdown":
		hocr, err := client.HOCRText()
		if err != nil {
			return nil, apperrors.NewOCRError(TesseractBackendName, fmt.Errorf("tesseract hOCR failed: %w", err))
		}
		result.HOCR = hocr
		if tc.OutputFormat == "hocr" {
			result.Text = hocr
		} else if result.Text, err = HOCRToMarkdown(hocr); err != nil {
			return nil, err
		}
	default:
		text, err := client.Text()
		if err != nil {
			return nil, apperrors.NewOCRError(TesseractBackendName, fmt.Errorf("tesseract OCR failed: %w", err))
		}
		result.Text = text
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		t.logger.Warn("Word boxes unavailable", "error", err)
	}
	for _, b := range boxes {
		if b.Confidence < tc.MinConfidence {
			continue
		}
		result.Words = append(result.Words, Word{
			Text:       b.Word,
			Confidence: b.Confidence,
			BoundingBox: BoundingBox{
				X:      b.Box.Min.X,
				Y:      b.Box.Min.Y,
				Width:  b.Box.Dx(),
				Height: b.Box.Dy(),
			},
		})
	}
	result.Confidence = wordConfidence(result.Words, result.Text)

	t.logger.Debug("Tesseract OCR complete",
		"chars", len(result.Text), "words", len(result.Words),
		"confidence", result.Confidence, "duration", time.Since(startTime))
	return result, nil
}

func (t *TesseractBackend) configure(client *gosseract.Client, cfg *config.OCRConfig, tc *config.TesseractConfig) error {
	lang := tc.Language
	if cfg != nil && cfg.Language != "" {
		lang = cfg.Language
	}
	if err := client.SetLanguage(splitLanguages(lang)...); err != nil {
		return fmt.Errorf("set language %q: %w", lang, err)
	}
	if err := client.SetPageSegMode(gosseract.PageSegMode(tc.PSM)); err != nil {
		return fmt.Errorf("set psm %d: %w", tc.PSM, err)
	}
	if tc.CharWhitelist != "" {
		if err := client.SetWhitelist(tc.CharWhitelist); err != nil {
			return fmt.Errorf("set whitelist: %w", err)
		}
	}
	if tc.CharBlacklist != "" {
		if err := client.SetBlacklist(tc.CharBlacklist); err != nil {
			return fmt.Errorf("set blacklist: %w", err)
		}
	}
	for k, v := range tc.Variables {
		if err := client.SetVariable(gosseract.SettableVariable(k), v); err != nil {
			return fmt.Errorf("set variable %s: %w", k, err)
		}
	}
	return nil
}

// splitLanguages turns "eng+deu" into tesseract's language list.
func splitLanguages(lang string) []string {
	var out []string
	for _, l := range strings.Split(lang, "+") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	if len(out) == 0 {
		return []string{"eng"}
	}
	return out
}

// wordConfidence averages word confidences onto 0..1, falling back to a text
// quality estimate when no boxes were produced.
func wordConfidence(words []Word, text string) float64 {
	if len(words) == 0 {
		return calculateTesseractConfidence(text)
	}
	var sum float64
	for _, w := range words {
		sum += w.Confidence
	}
	return sum / float64(len(words)) / 100
}

// calculateTesseractConfidence estimates confidence based on text quality
func calculateTesseractConfidence(text string) float64 {
	confidence := 0.5 // Base confidence

	// Check text length
	if len(text) > 1000 {
		confidence += 0.1
	}
	if len(text) > 5000 {
		confidence += 0.1
	}

	// Check for coherent words (simple heuristic)
	if len(strings.Fields(text)) > 100 {
		confidence += 0.1
	}

	// Check for reasonable character distribution
	alphaCount := 0
	for _, r := range text {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			alphaCount++
		}
	}
	if len(text) > 0 {
		alphaRatio := float64(alphaCount) / float64(len(text))
		if alphaRatio > 0.5 && alphaRatio < 0.9 {
			confidence += 0.1
		}
	}

	// Cap at reasonable maximum for Tesseract
	return min(confidence, 0.85)
}
