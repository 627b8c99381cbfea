package ocr

import (
	"context"
	"strings"
	"time"

	"github.com/adverant/nexus/extraction-engine/internal/config"
	apperrors "github.com/adverant/nexus/extraction-engine/internal/errors"
	"github.com/adverant/nexus/extraction-engine/internal/logging"
	"github.com/adverant/nexus/extraction-engine/internal/types"
)

// BackendResolver finds an OCR backend by name. The plugin registry
// implements it.
type BackendResolver interface {
	OCRBackend(name string) (Backend, error)
}

// Processor runs preprocessing and the configured backend over images.
type Processor struct {
	backends BackendResolver
	logger   *logging.Logger
}

func NewProcessor(backends BackendResolver, logger *logging.Logger) *Processor {
	return &Processor{backends: backends, logger: logging.OrDefault(logger).Named("ocr")}
}

// ProcessImage OCRs one image. page is recorded on detected tables.
// Preprocessing runs when the tesseract settings carry a preprocessing block
// or the config enables image extraction settings.
func (p *Processor) ProcessImage(ctx context.Context, image []byte, cfg *config.ExtractionConfig, page int) (*types.ExtractionResult, error) {
	startTime := time.Now()
	ocrCfg := cfg.OCROrDefault()
	tc := ocrCfg.TesseractOrDefault()

	backend, err := p.backends.OCRBackend(ocrCfg.Backend)
	if err != nil {
		return nil, err
	}

	input := image
	var prep *types.ImagePreprocessingMetadata
	if tc.Preprocessing != nil || cfg.Images != nil {
		input, prep, err = Preprocess(image, tc.Preprocessing, cfg.Images)
		if err != nil {
			return nil, err
		}
	}

	res, err := backend.Process(ctx, input, ocrCfg)
	if err != nil {
		if apperrors.KindOf(err) == apperrors.ErrorOther {
			err = apperrors.NewOCRError(backend.Name(), err)
		}
		return nil, err
	}

	tables := DetectTables(res.Words, tc, page)
	meta := &types.OcrMetadata{
		Language:     languageOf(ocrCfg, tc),
		PSM:          tc.PSM,
		OutputFormat: res.Format,
		Backend:      backend.Name(),
		TableCount:   len(tables),
	}
	if meta.OutputFormat == "" {
		meta.OutputFormat = tc.OutputFormat
	}
	if len(tables) > 0 {
		meta.TableRows = types.IntPtr(len(tables[0].Cells))
		meta.TableCols = types.IntPtr(len(tables[0].Cells[0]))
	}

	result := &types.ExtractionResult{
		Content:  strings.ToValidUTF8(res.Text, "�"),
		MimeType: outputMimeType(meta.OutputFormat),
		Metadata: types.Metadata{
			Format:             meta,
			ImagePreprocessing: prep,
		},
		Tables:  tables,
		Success: true,
	}
	result.Metadata.SetAdditional("ocr_confidence", res.Confidence)

	p.logger.Debug("OCR complete",
		"backend", backend.Name(), "page", page, "chars", len(result.Content),
		"tables", len(tables), "duration", time.Since(startTime))
	return result, nil
}

func languageOf(ocrCfg *config.OCRConfig, tc *config.TesseractConfig) string {
	if ocrCfg.Language != "" {
		return ocrCfg.Language
	}
	return tc.Language
}

func outputMimeType(format string) string {
	switch format {
	case "markdown":
		return "text/markdown"
	case "hocr":
		return "text/html"
	}
	return "text/plain"
}
