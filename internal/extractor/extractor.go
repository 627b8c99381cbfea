// Package extractor turns document bytes into an ExtractionResult. Each
// built-in extractor claims a set of MIME types in a Registry.
package extractor

import (
	"context"
	"strings"

	"github.com/adverant/nexus/extraction-engine/internal/config"
	"github.com/adverant/nexus/extraction-engine/internal/logging"
	"github.com/adverant/nexus/extraction-engine/internal/pages"
	"github.com/adverant/nexus/extraction-engine/internal/types"
)

// Extractor converts one document. Implementations are pure with respect to
// (data, mimeType, cfg) and return valid UTF-8.
type Extractor interface {
	Name() string
	Priority() int
	Extract(ctx context.Context, data []byte, mimeType string, cfg *config.ExtractionConfig) (*types.ExtractionResult, error)
}

// OCRRunner OCRs a single image. *ocr.Processor implements it.
type OCRRunner interface {
	ProcessImage(ctx context.Context, image []byte, cfg *config.ExtractionConfig, page int) (*types.ExtractionResult, error)
}

// Deps are the collaborators the built-in extractors need.
type Deps struct {
	OCR    OCRRunner
	Logger *logging.Logger
}

// DefaultPriority is used by every built-in extractor.
const DefaultPriority = 0

const pageSeparator = "\n\n"

// RegisterDefaults registers every built-in extractor.
func RegisterDefaults(r *Registry, deps Deps) error {
	logger := logging.OrDefault(deps.Logger)
	html := NewHTMLExtractor()
	office := NewOfficeExtractor(html)
	builtins := []struct {
		mimeTypes []string
		extractor Extractor
	}{
		{textMimeTypes, NewTextExtractor()},
		{htmlMimeTypes, html},
		{[]string{"application/pdf"}, NewPDFExtractor(deps.OCR, logger)},
		{[]string{"image/*"}, NewImageExtractor(deps.OCR)},
		{structuredMimeTypes, NewStructuredExtractor()},
		{xmlMimeTypes, NewXMLExtractor()},
		{officeMimeTypes, office},
		{[]string{"message/rfc822"}, NewEmailExtractor(html)},
		{archiveMimeTypes, NewArchiveExtractor()},
		{officeConverterMimeTypes, NewOfficeConverter(office, logger)},
		{pandocMimeTypes, NewPandocExtractor(logger)},
	}
	for _, b := range builtins {
		if err := r.Register(b.mimeTypes, b.extractor); err != nil {
			return err
		}
	}
	return nil
}

// NewDefaultRegistry is NewRegistry plus RegisterDefaults.
func NewDefaultRegistry(deps Deps) (*Registry, error) {
	r := NewRegistry(deps.Logger)
	if err := RegisterDefaults(r, deps); err != nil {
		return nil, err
	}
	return r, nil
}

func validUTF8(s string) string {
	return strings.ToValidUTF8(s, "�")
}

// newResult builds a successful result with a single-page structure.
func newResult(content, mimeType string, meta types.FormatMetadata) *types.ExtractionResult {
	content = validUTF8(content)
	return &types.ExtractionResult{
		Content:  content,
		MimeType: mimeType,
		Metadata: types.Metadata{Format: meta},
		Tables:   []types.Table{},
		Success:  true,
	}
}

// paged joins per-page texts and records their boundaries. Page markers and
// per-page content follow cfg.Pages.
type paged struct {
	builder *pages.Builder
	tables  map[int][]types.Table
}

func newPaged(unit types.PageUnitType, cfg *config.ExtractionConfig) *paged {
	marker := ""
	if cfg.Pages != nil && cfg.Pages.InsertPageMarkers {
		marker = cfg.Pages.MarkerFormat
		if marker == "" {
			marker = config.DefaultPageMarkerFormat
		}
	}
	return &paged{builder: pages.NewBuilder(unit, pageSeparator, marker), tables: make(map[int][]types.Table)}
}

func (p *paged) add(text string, info types.PageInfo, tables ...types.Table) {
	p.builder.AddPage(text, info)
	if len(tables) > 0 {
		p.tables[p.builder.Len()] = append(p.tables[p.builder.Len()], tables...)
	}
}

// result finalizes into a successful result with pages attached.
func (p *paged) result(mimeType string, meta types.FormatMetadata, cfg *config.ExtractionConfig) *types.ExtractionResult {
	content, ps := p.builder.Build()
	res := newResult(content, mimeType, meta)
	res.Metadata.Pages = ps
	for n := 1; n <= p.builder.Len(); n++ {
		res.Tables = append(res.Tables, p.tables[n]...)
	}
	if cfg.Pages != nil && cfg.Pages.ExtractPages {
		res.Pages = p.builder.PageContents()
		for i := range res.Pages {
			res.Pages[i].Tables = p.tables[res.Pages[i].PageNumber]
		}
	}
	return res
}
