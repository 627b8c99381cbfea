package extractor

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/adverant/nexus/extraction-engine/internal/errors"
	"github.com/adverant/nexus/extraction-engine/internal/types"
)

func extractStructured(t *testing.T, mime, doc string) *types.ExtractionResult {
	t.Helper()
	res, err := NewStructuredExtractor().Extract(context.Background(), []byte(doc), mime, defaultConfig())
	require.NoError(t, err)
	return res
}

func TestStructuredJSONFlattening(t *testing.T) {
	doc := `{"title": "Annual Report", "stats": {"pages": 12, "draft": false}, "tags": ["a", "b"], "empty": "", "missing": null}`
	res := extractStructured(t, "application/json", doc)

	assert.Equal(t, "title: Annual Report\nstats.pages: 12\nstats.draft: false\ntags[0]: a\ntags[1]: b", res.Content)
	assert.Equal(t, []string{"title"}, res.Metadata.Additional["text_fields"])
	assert.Equal(t, "json", res.Metadata.Additional["format"])

	var schema map[string]interface{}
	require.NoError(t, json.Unmarshal(res.Metadata.JSONSchema, &schema))
	assert.Equal(t, "object", schema["type"])
}

func TestStructuredJSONRootArray(t *testing.T) {
	res := extractStructured(t, "application/json", `[{"name": "x"}, 3]`)
	assert.Equal(t, "item_0.name: x\nitem_1: 3", res.Content)
}

func TestStructuredNDJSON(t *testing.T) {
	res := extractStructured(t, "application/x-ndjson", "{\"message\": \"hi\"}\n\n{\"message\": \"there\"}\n")
	assert.Equal(t, "item_0.message: hi\nitem_1.message: there", res.Content)
}

func TestStructuredYAMLKeepsOrder(t *testing.T) {
	doc := "zeta: 1\nalpha:\n  description: first\n  items:\n    - x\n    - ~\n"
	res := extractStructured(t, "application/x-yaml", doc)
	assert.Equal(t, "zeta: 1\nalpha.description: first\nalpha.items[0]: x", res.Content)
	assert.Equal(t, []string{"alpha.description"}, res.Metadata.Additional["text_fields"])
}

func TestStructuredTOML(t *testing.T) {
	doc := "title = \"Config\"\n[server]\nport = 8080\nhosts = [\"a\", \"b\"]\n"
	res := extractStructured(t, "application/toml", doc)
	assert.Equal(t, "server.hosts[0]: a\nserver.hosts[1]: b\nserver.port: 8080\ntitle: Config", res.Content)
}

func TestStructuredCSV(t *testing.T) {
	res := extractStructured(t, "text/csv", "name,qty\napple,3\npear\n")
	require.Len(t, res.Tables, 1)
	assert.Equal(t, [][]string{{"name", "qty"}, {"apple", "3"}, {"pear", ""}}, res.Tables[0].Cells)
	assert.Equal(t, res.Tables[0].Markdown, res.Content)
	assert.Equal(t, 3, res.Metadata.Additional["row_count"])
}

func TestStructuredTSV(t *testing.T) {
	res := extractStructured(t, "text/tab-separated-values", "a\tb\n1\t2\n")
	assert.Equal(t, [][]string{{"a", "b"}, {"1", "2"}}, res.Tables[0].Cells)
}

func TestStructuredParseErrors(t *testing.T) {
	for mime, doc := range map[string]string{
		"application/json":     `{"a": `,
		"application/x-yaml":   "a: [1, 2",
		"application/toml":     "a = = 1",
		"application/x-ndjson": "{\"a\":1}\nnope\n",
	} {
		_, err := NewStructuredExtractor().Extract(context.Background(), []byte(doc), mime, defaultConfig())
		require.Error(t, err, mime)
		assert.Equal(t, apperrors.ErrorParsing, apperrors.KindOf(err), mime)
	}
}

func TestXMLExtractor(t *testing.T) {
	doc := `<?xml version="1.0"?>
<root xmlns:dc="http://purl.org/dc/elements/1.1/"><dc:title>Hello</dc:title><item>World</item><item/><![CDATA[a < b]]></root>`
	res, err := NewXMLExtractor().Extract(context.Background(), []byte(doc), "application/xml", defaultConfig())
	require.NoError(t, err)

	assert.Equal(t, "Hello World a < b", res.Content)
	meta := res.Metadata.Format.(*types.XMLMetadata)
	assert.Equal(t, 4, meta.ElementCount)
	assert.Equal(t, []string{"dc:title", "item", "root"}, meta.UniqueElements)
}

func TestXMLExtractorLenient(t *testing.T) {
	res, err := NewXMLExtractor().Extract(context.Background(), []byte("<root><item>Unclosed<item2>Content</root>"), "text/xml", defaultConfig())
	require.NoError(t, err)
	assert.Contains(t, res.Content, "Content")
}
