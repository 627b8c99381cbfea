package extractor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/adverant/nexus/extraction-engine/internal/config"
	apperrors "github.com/adverant/nexus/extraction-engine/internal/errors"
	"github.com/adverant/nexus/extraction-engine/internal/logging"
	"github.com/adverant/nexus/extraction-engine/internal/ocr"
	"github.com/adverant/nexus/extraction-engine/internal/types"
)

var disablePdfcpuConfigDir sync.Once

// PDFExtractor reads the text layer of every page with pdfcpu and falls back
// to OCR of the page images when the text layer is missing or unusable.
type PDFExtractor struct {
	ocr    OCRRunner
	logger *logging.Logger
}

func NewPDFExtractor(runner OCRRunner, logger *logging.Logger) *PDFExtractor {
	disablePdfcpuConfigDir.Do(func() { model.ConfigPath = "disable" })
	return &PDFExtractor{ocr: runner, logger: logging.OrDefault(logger).Named("pdf")}
}

func (e *PDFExtractor) Name() string  { return "pdf" }
func (e *PDFExtractor) Priority() int { return DefaultPriority }

type pdfPage struct {
	text   string
	dims   *[2]float64
	images []model.Image
	tables []types.Table
}

func (e *PDFExtractor) Extract(ctx context.Context, data []byte, mimeType string, cfg *config.ExtractionConfig) (*types.ExtractionResult, error) {
	startTime := time.Now()
	pdfOpts := cfg.PdfOptions
	if pdfOpts == nil {
		pdfOpts = config.DefaultPdf()
	}

	pctx, err := e.open(data, pdfOpts.Passwords)
	if err != nil {
		return nil, err
	}

	pageCount := pctx.PageCount
	pagesOut := make([]pdfPage, pageCount)
	dims, err := pctx.PageDims()
	if err != nil {
		e.logger.Debug("Page dimensions unavailable", "error", err)
	}

	var native strings.Builder
	for i := range pagesOut {
		pageNr := i + 1
		if i < len(dims) {
			pagesOut[i].dims = &[2]float64{dims[i].Width, dims[i].Height}
		}
		r, err := pdfcpu.ExtractPageContent(pctx, pageNr)
		if err != nil {
			e.logger.Debug("No content stream", "page", pageNr, "error", err)
			continue
		}
		stream, err := io.ReadAll(r)
		if err != nil {
			return nil, apperrors.NewParsingError(fmt.Sprintf("failed to read content of page %d", pageNr), err)
		}
		pagesOut[i].text = contentText(stream)
		native.WriteString(pagesOut[i].text)
	}

	wantImages := pdfOpts.ExtractImages || (cfg.Images != nil && cfg.Images.ExtractImages)
	decision := ocr.NeedsOCR(native.String(), pageCount)
	runOCR := e.ocr != nil && (cfg.ForceOCR || decision.Fallback)
	if wantImages || runOCR {
		for i := range pagesOut {
			pagesOut[i].images = pageImages(pctx, i+1)
		}
	}

	ocrPages := 0
	if runOCR {
		for i := range pagesOut {
			res, err := e.ocrPage(ctx, pagesOut[i].images, cfg, i+1)
			if err != nil {
				return nil, err
			}
			if res == nil {
				continue
			}
			ocrPages++
			if strings.TrimSpace(res.Content) != "" {
				pagesOut[i].text = res.Content
			}
			pagesOut[i].tables = res.Tables
		}
	}

	p := newPaged(types.UnitPage, cfg)
	var images []types.ExtractedImage
	for i, pg := range pagesOut {
		info := types.PageInfo{Dimensions: pg.dims}
		if len(pg.images) > 0 {
			info.ImageCount = types.IntPtr(len(pg.images))
		}
		if len(pg.tables) > 0 {
			info.TableCount = types.IntPtr(len(pg.tables))
		}
		p.add(pg.text, info, pg.tables...)
		if wantImages {
			images = append(images, extractedImages(pg.images, i+1, len(images))...)
		}
	}

	meta := pdfInfo(pctx, data)
	meta.PageCount = pageCount
	if len(pagesOut) > 0 && pagesOut[0].dims != nil {
		w, h := pagesOut[0].dims[0], pagesOut[0].dims[1]
		meta.Width, meta.Height = &w, &h
	}
	if !pdfOpts.ExtractMetadata {
		meta = &types.PdfMetadata{PageCount: pageCount, PdfVersion: meta.PdfVersion, IsEncrypted: meta.IsEncrypted}
	}

	res := p.result(mimeType, meta, cfg)
	res.Images = images
	if pdfOpts.ExtractMetadata {
		res.Metadata.Subject = pdfSubject(pctx)
	}
	if runOCR {
		res.Metadata.SetAdditional("ocr_fallback", true)
		res.Metadata.SetAdditional("ocr_pages", ocrPages)
	}

	e.logger.Debug("PDF extracted",
		"pages", pageCount, "chars", len(res.Content), "ocr", runOCR,
		"images", len(images), "duration", time.Since(startTime))
	return res, nil
}

// open reads and validates the document, trying the passwords in order.
func (e *PDFExtractor) open(data []byte, passwords []string) (*model.Context, error) {
	candidates := append([]string{""}, passwords...)
	var lastErr error
	for _, pw := range candidates {
		conf := model.NewDefaultConfiguration()
		conf.ValidationMode = model.ValidationRelaxed
		conf.UserPW = pw
		conf.OwnerPW = pw
		pctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), conf)
		if err == nil {
			return pctx, nil
		}
		lastErr = err
		if !bytes.Contains(data, []byte("/Encrypt")) {
			break
		}
	}
	if bytes.Contains(data, []byte("/Encrypt")) {
		return nil, apperrors.NewParsingError("encrypted PDF: none of the provided passwords worked", lastErr)
	}
	return nil, apperrors.NewParsingError("failed to read PDF", lastErr)
}

// ocrPage OCRs the largest image on the page. Returns nil when the page has
// no image the OCR backend can read.
func (e *PDFExtractor) ocrPage(ctx context.Context, images []model.Image, cfg *config.ExtractionConfig, pageNr int) (*types.ExtractionResult, error) {
	var best *model.Image
	for i := range images {
		img := &images[i]
		if !ocrReadable(img.FileType) {
			continue
		}
		if best == nil || img.Width*img.Height > best.Width*best.Height {
			best = img
		}
	}
	if best == nil {
		return nil, nil
	}
	bestData, err := io.ReadAll(best)
	if err != nil || len(bestData) == 0 {
		e.logger.Warn("Unreadable page image", "page", pageNr, "error", err)
		return nil, nil
	}
	return e.ocr.ProcessImage(ctx, bestData, cfg, pageNr)
}

func ocrReadable(fileType string) bool {
	switch strings.ToLower(fileType) {
	case "png", "jpg", "jpeg", "tif", "tiff":
		return true
	}
	return false
}

// pageImages returns the page's images ordered by object number.
func pageImages(pctx *model.Context, pageNr int) []model.Image {
	m, err := pdfcpu.ExtractPageImages(pctx, pageNr, false)
	if err != nil || len(m) == 0 {
		return nil
	}
	objNrs := make([]int, 0, len(m))
	for nr := range m {
		objNrs = append(objNrs, nr)
	}
	sort.Ints(objNrs)
	out := make([]model.Image, 0, len(objNrs))
	for _, nr := range objNrs {
		img := m[nr]
		// buffer the stream so it can be read by both OCR and image output
		if img.Reader != nil {
			raw, err := io.ReadAll(img.Reader)
			if err != nil {
				continue
			}
			img.Reader = bytes.NewReader(raw)
		}
		out = append(out, img)
	}
	return out
}

func extractedImages(images []model.Image, pageNr, startIndex int) []types.ExtractedImage {
	var out []types.ExtractedImage
	for _, img := range images {
		r, ok := img.Reader.(*bytes.Reader)
		if !ok {
			continue
		}
		raw := make([]byte, r.Size())
		if _, err := r.ReadAt(raw, 0); err != nil && err != io.EOF {
			continue
		}
		out = append(out, types.ExtractedImage{
			Data:             raw,
			Format:           img.FileType,
			ImageIndex:       startIndex + len(out),
			PageNumber:       types.IntPtr(pageNr),
			Width:            types.IntPtr(img.Width),
			Height:           types.IntPtr(img.Height),
			Colorspace:       img.Cs,
			BitsPerComponent: types.IntPtr(img.Bpc),
			IsMask:           img.IsImgMask,
		})
	}
	return out
}

var pdfVersionRe = regexp.MustCompile(`^%PDF-(\d\.\d)`)

func pdfInfo(pctx *model.Context, data []byte) *types.PdfMetadata {
	meta := &types.PdfMetadata{
		Title:       strings.TrimSpace(pctx.Title),
		Authors:     splitList(pctx.Author, ";"),
		Keywords:    splitList(pctx.Keywords, ",;"),
		CreatedAt:   parsePDFDate(pctx.CreationDate),
		ModifiedAt:  parsePDFDate(pctx.ModDate),
		CreatedBy:   strings.TrimSpace(pctx.Creator),
		Producer:    strings.TrimSpace(pctx.Producer),
		IsEncrypted: pctx.Encrypt != nil,
	}
	if m := pdfVersionRe.FindSubmatch(data); m != nil {
		meta.PdfVersion = string(m[1])
	}
	return meta
}

func pdfSubject(pctx *model.Context) string {
	return strings.TrimSpace(pctx.Subject)
}

func splitList(s, seps string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return strings.ContainsRune(seps, r) }) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

var pdfDateRe = regexp.MustCompile(`^(?:D:)?(\d{4})(\d{2})?(\d{2})?(\d{2})?(\d{2})?(\d{2})?([Zz]|[+-]\d{2}'?\d{2}'?)?`)

// parsePDFDate converts "D:YYYYMMDDHHmmSSOHH'mm'" to RFC 3339. Unparseable
// dates are returned unchanged.
func parsePDFDate(s string) string {
	s = strings.TrimSpace(s)
	m := pdfDateRe.FindStringSubmatch(s)
	if m == nil {
		return s
	}
	part := func(i int, def string) string {
		if m[i] == "" {
			return def
		}
		return m[i]
	}
	zone := "Z"
	if tz := strings.ReplaceAll(m[7], "'", ""); len(tz) == 5 {
		zone = tz[:3] + ":" + tz[3:]
	}
	out := fmt.Sprintf("%s-%s-%sT%s:%s:%s%s", m[1], part(2, "01"), part(3, "01"), part(4, "00"), part(5, "00"), part(6, "00"), zone)
	if _, err := time.Parse(time.RFC3339, out); err != nil {
		return s
	}
	return out
}
