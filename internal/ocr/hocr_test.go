package ocr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleHOCR = `<!DOCTYPE html>
<html><body>
<div class="ocr_page" title="bbox 0 0 800 600">
 <p class="ocr_par">
  <span class="ocr_line" title="bbox 10 10 300 40">
   <span class="ocrx_word" title="bbox 10 10 90 40; x_wconf 96">Invoice</span>
   <span class="ocrx_word" title="bbox 100 12 160 40; x_wconf 71"><strong>2024</strong></span>
   <span class="ocrx_word" title="bbox 170 12 180 40; x_wconf 12"> </span>
  </span>
 </p>
</div>
</body></html>`

func TestParseHOCRWords(t *testing.T) {
	words, err := ParseHOCRWords(sampleHOCR)
	require.NoError(t, err)
	require.Len(t, words, 2)

	assert.Equal(t, "Invoice", words[0].Text)
	assert.Equal(t, 96.0, words[0].Confidence)
	assert.Equal(t, BoundingBox{X: 10, Y: 10, Width: 80, Height: 30}, words[0].BoundingBox)

	assert.Equal(t, "2024", words[1].Text)
	assert.Equal(t, 71.0, words[1].Confidence)
}

func TestHOCRToMarkdown(t *testing.T) {
	md, err := HOCRToMarkdown(sampleHOCR)
	require.NoError(t, err)
	assert.Contains(t, md, "Invoice")
	assert.Contains(t, md, "**2024**")
	assert.NotContains(t, md, "ocrx_word")

	empty, err := HOCRToMarkdown("  \n")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestParseTitleIgnoresMalformedProperties(t *testing.T) {
	var w Word
	parseTitle("bbox 1 2 3; x_wconf; baseline 0 0", &w)
	assert.Equal(t, Word{}, w)
}
