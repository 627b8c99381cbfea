package extractor

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"golang.org/x/net/html/charset"

	"github.com/adverant/nexus/extraction-engine/internal/config"
	apperrors "github.com/adverant/nexus/extraction-engine/internal/errors"
	"github.com/adverant/nexus/extraction-engine/internal/types"
)

var xmlMimeTypes = []string{
	"application/xml",
	"text/xml",
	"image/svg+xml",
	"application/rss+xml",
	"application/atom+xml",
}

// XMLExtractor streams text and element statistics out of XML. Unbalanced
// end tags are tolerated.
type XMLExtractor struct{}

func NewXMLExtractor() *XMLExtractor { return &XMLExtractor{} }

func (e *XMLExtractor) Name() string  { return "xml" }
func (e *XMLExtractor) Priority() int { return DefaultPriority }

func (e *XMLExtractor) Extract(ctx context.Context, data []byte, mimeType string, cfg *config.ExtractionConfig) (*types.ExtractionResult, error) {
	content, meta, err := parseXML(data)
	if err != nil {
		return nil, err
	}
	return newResult(content, mimeType, meta), nil
}

func parseXML(data []byte) (string, *types.XMLMetadata, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	dec.Entity = xml.HTMLEntity
	dec.CharsetReader = charset.NewReaderLabel

	var parts []string
	meta := &types.XMLMetadata{UniqueElements: []string{}}
	seen := make(map[string]struct{})
	for {
		// RawToken keeps prefixes as written and skips end-tag matching.
		tok, err := dec.RawToken()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", nil, apperrors.NewParsingError(fmt.Sprintf("XML parsing error at offset %d", dec.InputOffset()), err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			name := t.Name.Local
			if t.Name.Space != "" {
				name = t.Name.Space + ":" + name
			}
			meta.ElementCount++
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				meta.UniqueElements = append(meta.UniqueElements, name)
			}
		case xml.CharData:
			if text := strings.TrimSpace(string(t)); text != "" {
				parts = append(parts, text)
			}
		}
	}
	sort.Strings(meta.UniqueElements)
	return strings.Join(parts, " "), meta, nil
}
