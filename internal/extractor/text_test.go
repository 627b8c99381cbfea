package extractor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/extraction-engine/internal/types"
)

func TestTextExtractorPlain(t *testing.T) {
	res, err := NewTextExtractor().Extract(context.Background(), []byte("one two\nthree\xff"), "text/plain", defaultConfig())
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, "one two\nthree�", res.Content)
	meta, ok := res.Metadata.Format.(*types.TextMetadata)
	require.True(t, ok)
	assert.Equal(t, 2, meta.LineCount)
	assert.Equal(t, 3, meta.WordCount)
	assert.Nil(t, meta.Headers)
}

func TestTextExtractorMarkdown(t *testing.T) {
	doc := "# Title\n\nSee [docs](https://example.com/docs).\n\n```go\nfmt.Println(\"# not a header\")\n```\n\n## Usage\n\n```\nplain block\n```\n"
	res, err := NewTextExtractor().Extract(context.Background(), []byte(doc), "text/markdown", defaultConfig())
	require.NoError(t, err)

	meta := res.Metadata.Format.(*types.TextMetadata)
	assert.Equal(t, []string{"Title", "Usage"}, meta.Headers)
	assert.Equal(t, [][2]string{{"docs", "https://example.com/docs"}}, meta.Links)
	assert.Equal(t, [][2]string{
		{"go", `fmt.Println("# not a header")`},
		{"plain", "plain block"},
	}, meta.CodeBlocks)
	assert.Equal(t, len(doc), meta.CharacterCount)
}

func TestHTMLExtractor(t *testing.T) {
	page := `<!DOCTYPE html>
<html lang="en">
<head>
  <title>Quarterly Report</title>
  <meta name="description" content="Results for Q3">
  <meta property="og:title" content="Q3 Results">
  <link rel="canonical" href="https://example.com/q3">
</head>
<body>
  <h1>Revenue</h1>
  <p>Revenue grew <strong>12%</strong>.</p>
  <script>alert("x")</script>
  <table>
    <tr><th>Region</th><th>Sales</th></tr>
    <tr><td>EMEA</td><td>40</td></tr>
  </table>
</body>
</html>`

	res, err := NewHTMLExtractor().Extract(context.Background(), []byte(page), "text/html", defaultConfig())
	require.NoError(t, err)

	assert.Contains(t, res.Content, "# Revenue")
	assert.Contains(t, res.Content, "**12%**")
	assert.NotContains(t, res.Content, "alert")

	meta, ok := res.Metadata.Format.(*types.HtmlMetadata)
	require.True(t, ok)
	assert.Equal(t, "Quarterly Report", meta.Title)
	assert.Equal(t, "Q3 Results", meta.OgTitle)
	assert.Equal(t, "https://example.com/q3", meta.Canonical)
	assert.Equal(t, "Results for Q3", res.Metadata.Subject)
	assert.Equal(t, "en", res.Metadata.Language)

	require.Len(t, res.Tables, 1)
	assert.Equal(t, [][]string{{"Region", "Sales"}, {"EMEA", "40"}}, res.Tables[0].Cells)
}
