package extractor

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/extraction-engine/internal/config"
	apperrors "github.com/adverant/nexus/extraction-engine/internal/errors"
	"github.com/adverant/nexus/extraction-engine/internal/pages"
	"github.com/adverant/nexus/extraction-engine/internal/types"
)

func defaultConfig() *config.ExtractionConfig {
	cfg := config.Default()
	return &cfg
}

// buildZip packs name/content pairs in order.
func buildZip(t *testing.T, files ...string) []byte {
	t.Helper()
	require.Zero(t, len(files)%2)
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for i := 0; i < len(files); i += 2 {
		w, err := zw.Create(files[i])
		require.NoError(t, err)
		_, err = w.Write([]byte(files[i+1]))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

const coreXML = `<?xml version="1.0" encoding="UTF-8"?>
<cp:coreProperties xmlns:cp="http://schemas.openxmlformats.org/package/2006/metadata/core-properties" xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:dcterms="http://purl.org/dc/terms/">
  <dc:title>Planning</dc:title>
  <dc:subject>Roadmap</dc:subject>
  <dc:creator>Ada Lovelace</dc:creator>
  <cp:keywords>plan, roadmap</cp:keywords>
  <dcterms:created>2024-01-02T03:04:05Z</dcterms:created>
</cp:coreProperties>`

func extractOffice(t *testing.T, data []byte, mime string, cfg *config.ExtractionConfig) *types.ExtractionResult {
	t.Helper()
	res, err := NewOfficeExtractor(NewHTMLExtractor()).Extract(context.Background(), data, mime, cfg)
	require.NoError(t, err)
	return res
}

func TestDocx(t *testing.T) {
	document := `<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:pPr><w:pStyle w:val="Heading1"/></w:pPr><w:r><w:t>Goals</w:t></w:r></w:p>
    <w:p><w:r><w:t xml:space="preserve">Ship the </w:t></w:r><w:r><w:rPr><w:b/></w:rPr><w:t>beta</w:t></w:r><w:r><w:tab/><w:t>soon</w:t></w:r></w:p>
    <w:p><w:pPr><w:numPr><w:ilvl w:val="0"/></w:numPr></w:pPr><w:r><w:t>first item</w:t></w:r></w:p>
    <w:tbl>
      <w:tr><w:tc><w:p><w:r><w:t>Owner</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>Due</w:t></w:r></w:p></w:tc></w:tr>
      <w:tr><w:tc><w:p><w:r><w:t>Ada</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>May</w:t></w:r></w:p></w:tc></w:tr>
    </w:tbl>
  </w:body>
</w:document>`
	data := buildZip(t, "word/document.xml", document, "docProps/core.xml", coreXML)
	res := extractOffice(t, data, mimeDocx, defaultConfig())

	assert.Equal(t, "# Goals\n\nShip the beta\tsoon\n\n- first item\n\n| Owner | Due |\n| --- | --- |\n| Ada | May |", res.Content)
	require.Len(t, res.Tables, 1)
	assert.Equal(t, [][]string{{"Owner", "Due"}, {"Ada", "May"}}, res.Tables[0].Cells)

	assert.Equal(t, "Roadmap", res.Metadata.Subject)
	assert.Equal(t, "2024-01-02T03:04:05Z", res.Metadata.Date)
	assert.Equal(t, "Planning", res.Metadata.Additional["title"])
	assert.Equal(t, []string{"plan", "roadmap"}, res.Metadata.Additional["keywords"])
}

func TestDocxMissingBody(t *testing.T) {
	_, err := NewOfficeExtractor(NewHTMLExtractor()).Extract(context.Background(), buildZip(t, "other.xml", "<x/>"), mimeDocx, defaultConfig())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorParsing, apperrors.KindOf(err))

	_, err = NewOfficeExtractor(NewHTMLExtractor()).Extract(context.Background(), []byte("not a zip"), mimeDocx, defaultConfig())
	assert.Equal(t, apperrors.ErrorParsing, apperrors.KindOf(err))
}

const pptxNS = `xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships"`

func pptxSlide(title, body string, hidden bool) string {
	show := ""
	if hidden {
		show = ` show="0"`
	}
	return `<p:sld ` + pptxNS + show + `><p:cSld><p:spTree>
  <p:sp><p:nvSpPr><p:nvPr><p:ph type="title"/></p:nvPr></p:nvSpPr><p:txBody><a:p><a:r><a:rPr><a:latin typeface="Calibri"/></a:rPr><a:t>` + title + `</a:t></a:r></a:p></p:txBody></p:sp>
  <p:sp><p:txBody><a:p><a:r><a:t>` + body + `</a:t></a:r></a:p></p:txBody></p:sp>
  <p:pic/>
</p:spTree></p:cSld></p:sld>`
}

func TestPptxSlidesArePages(t *testing.T) {
	presentation := `<p:presentation ` + pptxNS + `><p:sldIdLst><p:sldId id="257" r:id="rId3"/><p:sldId id="256" r:id="rId2"/></p:sldIdLst></p:presentation>`
	rels := `<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
  <Relationship Id="rId2" Type="slide" Target="slides/slide1.xml"/>
  <Relationship Id="rId3" Type="slide" Target="slides/slide2.xml"/>
</Relationships>`
	data := buildZip(t,
		"ppt/presentation.xml", presentation,
		"ppt/_rels/presentation.xml.rels", rels,
		"ppt/slides/slide1.xml", pptxSlide("Second", "shown later", true),
		"ppt/slides/slide2.xml", pptxSlide("First", "shown first", false),
		"docProps/core.xml", coreXML,
	)
	res := extractOffice(t, data, mimePptx, defaultConfig())

	assert.Equal(t, "# First\n\nshown first\n\n# Second\n\nshown later", res.Content)
	ps := res.Metadata.Pages
	require.NotNil(t, ps)
	assert.Equal(t, types.UnitSlide, ps.UnitType)
	assert.Equal(t, 2, ps.TotalCount)
	require.NoError(t, pages.Validate(res.Content, ps))
	assert.Equal(t, "First", ps.Pages[0].Title)
	require.NotNil(t, ps.Pages[1].Hidden)
	assert.True(t, *ps.Pages[1].Hidden)
	assert.Equal(t, 1, *ps.Pages[0].ImageCount)

	meta := res.Metadata.Format.(*types.PptxMetadata)
	assert.Equal(t, 2, meta.SlideCount)
	assert.Equal(t, "Planning", meta.Title)
	assert.Equal(t, []string{"Calibri"}, meta.Fonts)
}

func TestPptxFallsBackToSlideNumbers(t *testing.T) {
	data := buildZip(t,
		"ppt/slides/slide10.xml", pptxSlide("Ten", "x", false),
		"ppt/slides/slide2.xml", pptxSlide("Two", "y", false),
	)
	res := extractOffice(t, data, mimePptx, defaultConfig())
	assert.Equal(t, "# Two\n\ny\n\n# Ten\n\nx", res.Content)
}

func TestXlsxSheetsArePages(t *testing.T) {
	workbook := `<workbook xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships">
  <sheets><sheet name="Sales" sheetId="1" r:id="rId1"/><sheet name="Blank" sheetId="2" state="hidden" r:id="rId2"/></sheets>
</workbook>`
	rels := `<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
  <Relationship Id="rId1" Target="worksheets/sheet1.xml"/>
  <Relationship Id="rId2" Target="/xl/worksheets/sheet2.xml"/>
</Relationships>`
	shared := `<sst xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main"><si><t>Region</t></si><si><t>Total</t></si><si><r><t xml:space="preserve">North </t></r><r><t>East</t></r></si></sst>`
	sheet1 := `<worksheet xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main"><sheetData>
  <row r="2"><c r="B2" t="s"><v>0</v></c><c r="C2" t="s"><v>1</v></c></row>
  <row r="3"><c r="B3" t="s"><v>2</v></c><c r="C3"><v>42</v></c><c r="D3" t="b"><v>1</v></c></row>
</sheetData></worksheet>`
	sheet2 := `<worksheet xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main"><sheetData/></worksheet>`

	data := buildZip(t,
		"xl/workbook.xml", workbook,
		"xl/_rels/workbook.xml.rels", rels,
		"xl/sharedStrings.xml", shared,
		"xl/worksheets/sheet1.xml", sheet1,
		"xl/worksheets/sheet2.xml", sheet2,
	)
	cfg := defaultConfig()
	cfg.Pages = &config.PageConfig{ExtractPages: true}
	res := extractOffice(t, data, mimeXlsx, cfg)

	meta := res.Metadata.Format.(*types.ExcelMetadata)
	assert.Equal(t, 2, meta.SheetCount)
	assert.Equal(t, []string{"Sales", "Blank"}, meta.SheetNames)

	require.Len(t, res.Tables, 1)
	assert.Equal(t, [][]string{{"Region", "Total", ""}, {"North East", "42", "true"}}, res.Tables[0].Cells)
	assert.Equal(t, 1, res.Tables[0].PageNumber)

	assert.Contains(t, res.Content, "## Sales\n\n| Region | Total |  |")
	assert.Contains(t, res.Content, "## Blank\n\n*Empty sheet*")
	ps := res.Metadata.Pages
	assert.Equal(t, types.UnitSheet, ps.UnitType)
	require.NoError(t, pages.Validate(res.Content, ps))
	assert.True(t, *ps.Pages[1].Hidden)
	require.Len(t, res.Pages, 2)
	assert.Len(t, res.Pages[0].Tables, 1)
}

func TestXlsxFarApartCellsAreClipped(t *testing.T) {
	workbook := `<workbook xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships">
  <sheets><sheet name="Sparse" sheetId="1" r:id="rId1"/></sheets>
</workbook>`
	rels := `<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
  <Relationship Id="rId1" Target="worksheets/sheet1.xml"/>
</Relationships>`
	sheet := `<worksheet xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main"><sheetData>
  <row r="0"><c t="inlineStr"><is><t>origin</t></is></c></row>
  <row r="1048576"><c r="XFD1048576"><v>7</v></c></row>
</sheetData></worksheet>`

	data := buildZip(t,
		"xl/workbook.xml", workbook,
		"xl/_rels/workbook.xml.rels", rels,
		"xl/worksheets/sheet1.xml", sheet,
	)
	res := extractOffice(t, data, mimeXlsx, defaultConfig())

	require.Len(t, res.Tables, 1)
	cells := res.Tables[0].Cells
	assert.Len(t, cells, xlsxMaxCells/xlsxMaxCols)
	assert.Len(t, cells[0], xlsxMaxCols)
	assert.Equal(t, "origin", cells[0][0])
}

func TestColumnIndex(t *testing.T) {
	for ref, want := range map[string]int{"A1": 0, "Z9": 25, "AA3": 26, "AB12": 27} {
		got, ok := columnIndex(ref)
		require.True(t, ok)
		assert.Equal(t, want, got, ref)
	}
	_, ok := columnIndex("12")
	assert.False(t, ok)
	_, ok = columnIndex("ZZZZZZZZZZZZZZZ1")
	assert.False(t, ok)
}

func TestODT(t *testing.T) {
	content := `<office:document-content xmlns:office="urn:oasis:names:tc:opendocument:xmlns:office:1.0" xmlns:text="urn:oasis:names:tc:opendocument:xmlns:text:1.0" xmlns:table="urn:oasis:names:tc:opendocument:xmlns:table:1.0">
<office:body><office:text>
  <text:h text:outline-level="2">Intro</text:h>
  <text:p>Hello<text:s text:c="2"/>world<text:line-break/>again</text:p>
  <text:list><text:list-item><text:p>point</text:p></text:list-item></text:list>
  <table:table table:name="T1">
    <table:table-row><table:table-cell><text:p>k</text:p></table:table-cell><table:table-cell><text:p>v</text:p></table:table-cell><table:table-cell table:number-columns-repeated="1000"/></table:table-row>
    <table:table-row table:number-rows-repeated="2"><table:table-cell><text:p>x</text:p></table:table-cell></table:table-row>
  </table:table>
</office:text></office:body></office:document-content>`
	meta := `<office:document-meta xmlns:office="urn:oasis:names:tc:opendocument:xmlns:office:1.0" xmlns:meta="urn:oasis:names:tc:opendocument:xmlns:meta:1.0" xmlns:dc="http://purl.org/dc/elements/1.1/"><office:meta><dc:title>Notes</dc:title><meta:initial-creator>Grace</meta:initial-creator></office:meta></office:document-meta>`
	data := buildZip(t, "mimetype", mimeOdt, "content.xml", content, "meta.xml", meta)
	res := extractOffice(t, data, mimeOdt, defaultConfig())

	assert.Equal(t, "## Intro\n\nHello  world\nagain\n\n- point\n\n| k | v |\n| --- | --- |\n| x |  |\n| x |  |", res.Content)
	require.Len(t, res.Tables, 1)
	assert.Equal(t, "Notes", res.Metadata.Additional["title"])
	assert.Equal(t, []string{"Grace"}, res.Metadata.Additional["authors"])
}

func TestODS(t *testing.T) {
	content := `<office:document-content xmlns:office="urn:oasis:names:tc:opendocument:xmlns:office:1.0" xmlns:text="urn:oasis:names:tc:opendocument:xmlns:text:1.0" xmlns:table="urn:oasis:names:tc:opendocument:xmlns:table:1.0">
<office:body><office:spreadsheet>
  <table:table table:name="One"><table:table-row><table:table-cell><text:p>a</text:p></table:table-cell></table:table-row></table:table>
  <table:table table:name="Two"><table:table-row table:number-rows-repeated="1048576"><table:table-cell table:number-columns-repeated="16384"/></table:table-row></table:table>
</office:spreadsheet></office:body></office:document-content>`
	res := extractOffice(t, buildZip(t, "content.xml", content), mimeOds, defaultConfig())

	meta := res.Metadata.Format.(*types.ExcelMetadata)
	assert.Equal(t, []string{"One", "Two"}, meta.SheetNames)
	assert.Equal(t, "## One\n\n| a |\n| --- |\n\n## Two\n\n*Empty sheet*", res.Content)
}

func TestEpub(t *testing.T) {
	container := `<container xmlns="urn:oasis:names:tc:opendocument:xmlns:container"><rootfiles><rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/></rootfiles></container>`
	opf := `<package xmlns="http://www.idpf.org/2007/opf" xmlns:dc="http://purl.org/dc/elements/1.1/">
  <metadata><dc:title>Tale</dc:title><dc:creator>Anon</dc:creator><dc:language>en</dc:language></metadata>
  <manifest>
    <item id="c2" href="chapter%202.xhtml" media-type="application/xhtml+xml"/>
    <item id="c1" href="ch1.xhtml" media-type="application/xhtml+xml"/>
    <item id="css" href="style.css" media-type="text/css"/>
  </manifest>
  <spine><itemref idref="c1"/><itemref idref="css"/><itemref idref="c2"/></spine>
</package>`
	data := buildZip(t,
		"mimetype", mimeEpub,
		"META-INF/container.xml", container,
		"OEBPS/content.opf", opf,
		"OEBPS/ch1.xhtml", `<html><body><h1>One</h1><p>It began.</p></body></html>`,
		"OEBPS/chapter 2.xhtml", `<html><body><h1>Two</h1><p>It ended.</p></body></html>`,
	)
	res := extractOffice(t, data, mimeEpub, defaultConfig())

	assert.Equal(t, "# One\n\nIt began.\n\n# Two\n\nIt ended.", res.Content)
	assert.Equal(t, "en", res.Metadata.Language)
	assert.Equal(t, "Tale", res.Metadata.Additional["title"])
	assert.Equal(t, 2, res.Metadata.Additional["chapter_count"])
}
