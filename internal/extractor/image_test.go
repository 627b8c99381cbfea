package extractor

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/extraction-engine/internal/config"
	apperrors "github.com/adverant/nexus/extraction-engine/internal/errors"
	"github.com/adverant/nexus/extraction-engine/internal/types"
)

type fakeOCR struct {
	res   *types.ExtractionResult
	err   error
	calls int
}

func (f *fakeOCR) ProcessImage(ctx context.Context, image []byte, cfg *config.ExtractionConfig, page int) (*types.ExtractionResult, error) {
	f.calls++
	return f.res, f.err
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func TestImageExtractorWithoutOCR(t *testing.T) {
	res, err := NewImageExtractor(nil).Extract(context.Background(), pngBytes(t, 30, 20), "image/png", defaultConfig())
	require.NoError(t, err)

	meta, ok := res.Metadata.Format.(*types.ImageMetadata)
	require.True(t, ok)
	assert.Equal(t, 30, meta.Width)
	assert.Equal(t, 20, meta.Height)
	assert.Equal(t, "png", meta.Format)
	assert.Empty(t, res.Content)
	assert.Equal(t, "image/png", res.MimeType)
}

func TestImageExtractorOCR(t *testing.T) {
	ocrRes := &types.ExtractionResult{
		Content:  "Invoice 2024",
		MimeType: "text/plain",
		Metadata: types.Metadata{Format: &types.OcrMetadata{Language: "eng", Backend: "fake"}},
		Tables:   []types.Table{{Cells: [][]string{{"a"}}, Markdown: "| a |", PageNumber: 1}},
	}
	ocrRes.Metadata.SetAdditional("ocr_confidence", 0.9)
	runner := &fakeOCR{res: ocrRes}

	res, err := NewImageExtractor(runner).Extract(context.Background(), pngBytes(t, 4, 4), "image/png", defaultConfig())
	require.NoError(t, err)
	assert.Equal(t, 1, runner.calls)
	assert.Equal(t, "Invoice 2024", res.Content)
	assert.Equal(t, "image/png", res.MimeType)
	assert.Equal(t, "eng", res.Metadata.Language)
	assert.Len(t, res.Tables, 1)
	assert.Equal(t, 0.9, res.Metadata.Additional["ocr_confidence"])
	assert.IsType(t, &types.ImageMetadata{}, res.Metadata.Format)
	assert.IsType(t, &types.OcrMetadata{}, res.Metadata.Additional["ocr"])
}

func TestImageExtractorOCRFailure(t *testing.T) {
	runner := &fakeOCR{err: apperrors.NewOCRError("fake", errors.New("boom"))}
	_, err := NewImageExtractor(runner).Extract(context.Background(), pngBytes(t, 4, 4), "image/png", defaultConfig())
	assert.Equal(t, apperrors.ErrorOCR, apperrors.KindOf(err))
}
