/**
 * OCR Types - Shared data structures for OCR operations
 *
 * Common types used by every OCR backend and the table reconstructor.
 */

package ocr

import (
	"context"

	"github.com/adverant/nexus/extraction-engine/internal/config"
)

// Backend turns image pixels into text. Implementations must be safe for
// concurrent use.
type Backend interface {
	Name() string
	Process(ctx context.Context, image []byte, cfg *config.OCRConfig) (*Result, error)
	SupportedLanguages() []string
}

// Result represents the output of one backend call
type Result struct {
	Text       string
	Confidence float64
	Words      []Word
	HOCR       string // raw hOCR when the backend produced it
	Format     string // text, markdown or hocr
}

// Word represents a single recognized word with its bounding box.
// Confidence is on tesseract's 0-100 scale.
type Word struct {
	Text        string
	Confidence  float64
	BoundingBox BoundingBox
}

// BoundingBox represents coordinates of a region in pixels
type BoundingBox struct {
	X      int
	Y      int
	Width  int
	Height int
}

func (b BoundingBox) centerY() float64 {
	return float64(b.Y) + float64(b.Height)/2
}
