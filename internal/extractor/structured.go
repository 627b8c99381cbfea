package extractor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/adverant/nexus/extraction-engine/internal/config"
	apperrors "github.com/adverant/nexus/extraction-engine/internal/errors"
	"github.com/adverant/nexus/extraction-engine/internal/ocr"
	"github.com/adverant/nexus/extraction-engine/internal/types"
)

var structuredMimeTypes = []string{
	"application/json",
	"application/geo+json",
	"application/x-ipynb+json",
	"application/x-ndjson",
	"application/x-yaml",
	"application/yaml",
	"text/yaml",
	"text/x-yaml",
	"application/toml",
	"text/csv",
	"text/tab-separated-values",
}

// textFieldKeywords mark keys whose values are prose rather than data.
var textFieldKeywords = []string{"title", "name", "subject", "description", "content", "body", "text", "message"}

const schemaMaxDepth = 10

// StructuredExtractor flattens JSON, YAML and TOML into "path: value" lines
// and turns CSV/TSV into a table.
type StructuredExtractor struct{}

func NewStructuredExtractor() *StructuredExtractor { return &StructuredExtractor{} }

func (e *StructuredExtractor) Name() string  { return "structured" }
func (e *StructuredExtractor) Priority() int { return DefaultPriority }

type flattener struct {
	lines      []string
	textFields []string
}

func (f *flattener) scalar(path, value string, isString bool) {
	if isString && strings.TrimSpace(value) == "" {
		return
	}
	f.lines = append(f.lines, fmt.Sprintf("%s: %s", path, value))
	if isString && isTextField(path) {
		f.textFields = append(f.textFields, path)
	}
}

func isTextField(path string) bool {
	lower := strings.ToLower(path)
	for _, kw := range textFieldKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func indexKey(prefix string, i int) string {
	if prefix == "" {
		return fmt.Sprintf("item_%d", i)
	}
	return fmt.Sprintf("%s[%d]", prefix, i)
}

func (e *StructuredExtractor) Extract(ctx context.Context, data []byte, mimeType string, cfg *config.ExtractionConfig) (*types.ExtractionResult, error) {
	switch mimeType {
	case "text/csv":
		return extractDelimited(data, mimeType, ',')
	case "text/tab-separated-values":
		return extractDelimited(data, mimeType, '\t')
	}

	f := &flattener{}
	var format string
	var schema json.RawMessage
	var err error
	switch mimeType {
	case "application/x-ndjson":
		format = "ndjson"
		err = flattenNDJSON(data, f)
	case "application/x-yaml", "application/yaml", "text/yaml", "text/x-yaml":
		format = "yaml"
		err = flattenYAML(data, f)
	case "application/toml":
		format = "toml"
		err = flattenTOML(data, f)
	default:
		format = "json"
		var v interface{}
		if err = json.Unmarshal(data, &v); err == nil {
			schema, _ = json.Marshal(jsonSchema(v, 0))
			err = flattenJSON(json.NewDecoder(bytes.NewReader(data)), "", f)
		}
	}
	if err != nil {
		return nil, apperrors.NewParsingError(fmt.Sprintf("failed to parse %s", strings.ToUpper(format)), err)
	}

	res := newResult(strings.Join(f.lines, "\n"), mimeType, nil)
	res.Metadata.JSONSchema = schema
	res.Metadata.SetAdditional("format", format)
	if len(f.textFields) > 0 {
		res.Metadata.SetAdditional("text_fields", f.textFields)
	}
	return res, nil
}

// flattenJSON walks the token stream so object keys keep document order.
func flattenJSON(dec *json.Decoder, path string, f *flattener) error {
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	return flattenJSONToken(dec, tok, path, f)
}

func flattenJSONToken(dec *json.Decoder, tok json.Token, path string, f *flattener) error {
	switch v := tok.(type) {
	case json.Delim:
		switch v {
		case '{':
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return err
				}
				key, _ := keyTok.(string)
				next, err := dec.Token()
				if err != nil {
					return err
				}
				if err := flattenJSONToken(dec, next, joinKey(path, key), f); err != nil {
					return err
				}
			}
		case '[':
			for i := 0; dec.More(); i++ {
				next, err := dec.Token()
				if err != nil {
					return err
				}
				if err := flattenJSONToken(dec, next, indexKey(path, i), f); err != nil {
					return err
				}
			}
		}
		_, err := dec.Token() // closing delimiter
		return err
	case string:
		f.scalar(path, v, true)
	case json.Number:
		f.scalar(path, v.String(), false)
	case bool:
		f.scalar(path, fmt.Sprint(v), false)
	}
	return nil
}

func flattenNDJSON(data []byte, f *flattener) error {
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), len(data)+1)
	i := 0
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			return fmt.Errorf("line %d is not valid JSON", i+1)
		}
		if err := flattenJSON(json.NewDecoder(bytes.NewReader(line)), indexKey("", i), f); err != nil {
			return err
		}
		i++
	}
	return sc.Err()
}

// jsonSchema infers a structural schema, truncating deep nesting and long arrays.
func jsonSchema(v interface{}, depth int) map[string]interface{} {
	if depth >= schemaMaxDepth {
		return map[string]interface{}{"max_depth_reached": true}
	}
	switch t := v.(type) {
	case nil:
		return map[string]interface{}{"type": "null"}
	case bool:
		return map[string]interface{}{"type": "bool"}
	case float64, json.Number:
		return map[string]interface{}{"type": "number"}
	case string:
		return map[string]interface{}{"type": "string"}
	case []interface{}:
		out := map[string]interface{}{"type": "array", "length": len(t)}
		switch {
		case len(t) == 0:
		case len(t) <= 100:
			out["items"] = jsonSchema(t[0], depth+1)
		default:
			out["truncated"] = true
			out["items"] = map[string]interface{}{"type": "truncated"}
		}
		return out
	case map[string]interface{}:
		props := make(map[string]interface{}, len(t))
		for k, val := range t {
			props[k] = jsonSchema(val, depth+1)
		}
		return map[string]interface{}{"type": "object", "properties": props}
	}
	return map[string]interface{}{"type": "unknown"}
}

func flattenYAML(data []byte, f *flattener) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	for doc := 0; ; doc++ {
		var root yaml.Node
		if err := dec.Decode(&root); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		prefix := ""
		if doc > 0 {
			prefix = fmt.Sprintf("document_%d", doc)
		}
		walkYAML(&root, prefix, f)
	}
}

func walkYAML(n *yaml.Node, path string, f *flattener) {
	switch n.Kind {
	case yaml.DocumentNode:
		for _, c := range n.Content {
			walkYAML(c, path, f)
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			walkYAML(n.Content[i+1], joinKey(path, n.Content[i].Value), f)
		}
	case yaml.SequenceNode:
		for i, c := range n.Content {
			walkYAML(c, indexKey(path, i), f)
		}
	case yaml.AliasNode:
		if n.Alias != nil {
			walkYAML(n.Alias, path, f)
		}
	case yaml.ScalarNode:
		if n.Tag == "!!null" {
			return
		}
		f.scalar(path, n.Value, n.Tag == "!!str" || n.Tag == "")
	}
}

func flattenTOML(data []byte, f *flattener) error {
	var doc map[string]interface{}
	if err := toml.Unmarshal(data, &doc); err != nil {
		return err
	}
	walkTOML(doc, "", f)
	return nil
}

// walkTOML visits keys in sorted order; decoded TOML tables carry no order.
func walkTOML(v interface{}, path string, f *flattener) {
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			walkTOML(t[k], joinKey(path, k), f)
		}
	case []interface{}:
		for i, item := range t {
			walkTOML(item, indexKey(path, i), f)
		}
	case string:
		f.scalar(path, t, true)
	case nil:
	default:
		f.scalar(path, fmt.Sprint(t), false)
	}
}

// extractDelimited reads CSV/TSV into one table; content is its markdown.
func extractDelimited(data []byte, mimeType string, sep rune) (*types.ExtractionResult, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = sep
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, apperrors.NewParsingError("failed to parse delimited text", err)
	}

	width := 0
	for _, rec := range records {
		width = max(width, len(rec))
	}
	for i := range records {
		for len(records[i]) < width {
			records[i] = append(records[i], "")
		}
		for j := range records[i] {
			records[i][j] = validUTF8(records[i][j])
		}
	}

	md := ocr.TableToMarkdown(records)
	res := newResult(md, mimeType, nil)
	if len(records) > 0 {
		res.Tables = append(res.Tables, types.Table{Cells: records, Markdown: md, PageNumber: 1})
	}
	res.Metadata.SetAdditional("row_count", len(records))
	res.Metadata.SetAdditional("column_count", width)
	return res, nil
}
