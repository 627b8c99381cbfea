package ocr

import (
	"context"
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/extraction-engine/internal/config"
)

func TestSplitLanguages(t *testing.T) {
	assert.Equal(t, []string{"eng", "deu"}, splitLanguages("eng+deu"))
	assert.Equal(t, []string{"fra"}, splitLanguages(" fra + "))
	assert.Equal(t, []string{"eng"}, splitLanguages(""))
}

func TestWordConfidence(t *testing.T) {
	words := []Word{{Text: "a", Confidence: 90}, {Text: "b", Confidence: 70}}
	assert.InDelta(t, 0.8, wordConfidence(words, ""), 1e-9)

	assert.Equal(t, 0.5, wordConfidence(nil, ""))
	long := strings.Repeat("Plain words in a sentence. ", 300)
	assert.Equal(t, 0.85, wordConfidence(nil, long))
}

func TestTesseractBackendCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewTesseractBackend("", nil).Process(ctx, []byte{}, config.DefaultOCR())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTesseractBackendRecognizesBlankPage(t *testing.T) {
	if _, err := exec.LookPath("tesseract"); err != nil {
		t.Skip("tesseract not installed")
	}
	backend := NewTesseractBackend("", nil)
	cfg := config.DefaultOCR()
	cfg.Tesseract.OutputFormat = "text"

	res, err := backend.Process(context.Background(), encodePNG(t, whitePage(200, 100)), cfg)
	require.NoError(t, err)
	assert.Equal(t, "text", res.Format)
	assert.Empty(t, strings.TrimSpace(res.Text))
	assert.NotEmpty(t, backend.SupportedLanguages())
}
