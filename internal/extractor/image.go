package extractor

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/adverant/nexus/extraction-engine/internal/config"
	"github.com/adverant/nexus/extraction-engine/internal/ocr"
	"github.com/adverant/nexus/extraction-engine/internal/types"
)

// ImageExtractor records image dimensions and EXIF data, then OCRs the image.
type ImageExtractor struct {
	ocr OCRRunner
}

func NewImageExtractor(runner OCRRunner) *ImageExtractor {
	return &ImageExtractor{ocr: runner}
}

func (e *ImageExtractor) Name() string  { return "image" }
func (e *ImageExtractor) Priority() int { return DefaultPriority }

func (e *ImageExtractor) Extract(ctx context.Context, data []byte, mimeType string, cfg *config.ExtractionConfig) (*types.ExtractionResult, error) {
	meta := &types.ImageMetadata{Format: strings.TrimPrefix(mimeType, "image/"), EXIF: ocr.ReadEXIF(data)}
	if ic, format, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		meta.Width, meta.Height, meta.Format = ic.Width, ic.Height, format
	}

	if e.ocr == nil {
		return newResult("", mimeType, meta), nil
	}
	ocrRes, err := e.ocr.ProcessImage(ctx, data, cfg, 1)
	if err != nil {
		return nil, err
	}

	res := newResult(ocrRes.Content, mimeType, meta)
	res.Tables = append(res.Tables, ocrRes.Tables...)
	res.Metadata.ImagePreprocessing = ocrRes.Metadata.ImagePreprocessing
	for k, v := range ocrRes.Metadata.Additional {
		res.Metadata.SetAdditional(k, v)
	}
	if om, ok := ocrRes.Metadata.Format.(*types.OcrMetadata); ok {
		res.Metadata.SetAdditional("ocr", om)
		res.Metadata.Language = om.Language
	}
	return res, nil
}
