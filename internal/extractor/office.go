package extractor

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/adverant/nexus/extraction-engine/internal/config"
	apperrors "github.com/adverant/nexus/extraction-engine/internal/errors"
	"github.com/adverant/nexus/extraction-engine/internal/ocr"
	"github.com/adverant/nexus/extraction-engine/internal/types"
)

const (
	mimeDocx = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	mimeXlsx = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	mimePptx = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	mimeOdt  = "application/vnd.oasis.opendocument.text"
	mimeOds  = "application/vnd.oasis.opendocument.spreadsheet"
	mimeOdp  = "application/vnd.oasis.opendocument.presentation"
	mimeEpub = "application/epub+zip"

	relationshipsNS = "http://schemas.openxmlformats.org/officeDocument/2006/relationships"

	// maxZipMember bounds how much of a single zip member is read.
	maxZipMember = 256 << 20
)

var officeMimeTypes = []string{
	mimeDocx,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.template",
	"application/vnd.ms-word.document.macroEnabled.12",
	mimeXlsx,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.template",
	"application/vnd.ms-excel.sheet.macroEnabled.12",
	mimePptx,
	"application/vnd.openxmlformats-officedocument.presentationml.template",
	"application/vnd.openxmlformats-officedocument.presentationml.slideshow",
	"application/vnd.ms-powerpoint.presentation.macroEnabled.12",
	mimeOdt,
	"application/vnd.oasis.opendocument.text-template",
	mimeOds,
	"application/vnd.oasis.opendocument.spreadsheet-template",
	mimeOdp,
	"application/vnd.oasis.opendocument.presentation-template",
	mimeEpub,
}

// OfficeExtractor reads the zip-based office formats: OOXML, ODF and EPUB.
type OfficeExtractor struct {
	html *HTMLExtractor
}

func NewOfficeExtractor(html *HTMLExtractor) *OfficeExtractor {
	return &OfficeExtractor{html: html}
}

func (e *OfficeExtractor) Name() string  { return "office" }
func (e *OfficeExtractor) Priority() int { return DefaultPriority }

func (e *OfficeExtractor) Extract(ctx context.Context, data []byte, mimeType string, cfg *config.ExtractionConfig) (*types.ExtractionResult, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, apperrors.NewParsingError("failed to open office document", err)
	}
	pkg := &zipPackage{files: make(map[string]*zip.File, len(zr.File))}
	for _, f := range zr.File {
		pkg.files[f.Name] = f
	}

	switch officeFamily(mimeType) {
	case "docx":
		return extractDocx(pkg, mimeType)
	case "xlsx":
		return extractXlsx(pkg, mimeType, cfg)
	case "pptx":
		return extractPptx(pkg, mimeType, cfg)
	case "odt", "ods", "odp":
		return extractODF(pkg, mimeType, cfg)
	case "epub":
		return e.extractEpub(ctx, pkg, mimeType, cfg)
	}
	return nil, apperrors.NewUnsupportedFormatError(mimeType, officeMimeTypes)
}

func officeFamily(mimeType string) string {
	switch {
	case strings.Contains(mimeType, "wordprocessingml"), strings.HasPrefix(mimeType, "application/vnd.ms-word"):
		return "docx"
	case strings.Contains(mimeType, "spreadsheetml"), strings.HasPrefix(mimeType, "application/vnd.ms-excel"):
		return "xlsx"
	case strings.Contains(mimeType, "presentationml"), strings.HasPrefix(mimeType, "application/vnd.ms-powerpoint"):
		return "pptx"
	case strings.HasPrefix(mimeType, mimeOdt):
		return "odt"
	case strings.HasPrefix(mimeType, mimeOds):
		return "ods"
	case strings.HasPrefix(mimeType, mimeOdp):
		return "odp"
	case mimeType == mimeEpub:
		return "epub"
	}
	return ""
}

type zipPackage struct {
	files map[string]*zip.File
}

// read returns a member's bytes, or nil when the member is absent.
func (p *zipPackage) read(name string) ([]byte, error) {
	f, ok := p.files[strings.TrimPrefix(name, "/")]
	if !ok {
		return nil, nil
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(io.LimitReader(rc, maxZipMember))
}

// tree parses a member; a missing member yields (nil, nil).
func (p *zipPackage) tree(name string) (*xnode, error) {
	data, err := p.read(name)
	if err != nil || data == nil {
		return nil, err
	}
	return parseXMLTree(data)
}

// mustTree is tree, but a missing member is a parsing error.
func (p *zipPackage) mustTree(name string) (*xnode, error) {
	t, err := p.tree(name)
	if err != nil {
		return nil, apperrors.NewParsingError(fmt.Sprintf("failed to read %s", name), err)
	}
	if t == nil {
		return nil, apperrors.NewParsingError(fmt.Sprintf("missing %s", name), nil)
	}
	return t, nil
}

// relationships maps relationship ids to package paths for one part.
func (p *zipPackage) relationships(part string) map[string]string {
	dir, file := path.Split(part)
	rels, err := p.tree(dir + "_rels/" + file + ".rels")
	out := make(map[string]string)
	if err != nil || rels == nil {
		return out
	}
	for _, r := range rels.findAll("Relationship") {
		target := r.attr("Target")
		if r.attr("TargetMode") == "External" || target == "" {
			continue
		}
		if strings.HasPrefix(target, "/") {
			out[r.attr("Id")] = strings.TrimPrefix(target, "/")
		} else {
			out[r.attr("Id")] = path.Clean(dir + target)
		}
	}
	return out
}

func (n *xnode) attrNS(space, local string) string {
	for _, a := range n.attrs {
		if a.Name.Space == space && a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

type coreProps struct {
	title, subject, creator, keywords, description string
	lastModifiedBy, created, modified              string
}

// readCoreProps reads docProps/core.xml; absent properties stay empty.
func readCoreProps(p *zipPackage) coreProps {
	t, err := p.tree("docProps/core.xml")
	if err != nil || t == nil {
		return coreProps{}
	}
	return coreProps{
		title:          t.childText("title"),
		subject:        t.childText("subject"),
		creator:        t.childText("creator"),
		keywords:       t.childText("keywords"),
		description:    t.childText("description"),
		lastModifiedBy: t.childText("lastModifiedBy"),
		created:        t.childText("created"),
		modified:       t.childText("modified"),
	}
}

// apply copies the properties onto the common metadata fields and additional.
func (c coreProps) apply(m *types.Metadata) {
	if c.subject != "" {
		m.Subject = c.subject
	}
	if c.created != "" {
		m.Date = c.created
	}
	set := func(key, value string) {
		if value != "" {
			m.SetAdditional(key, value)
		}
	}
	set("title", c.title)
	set("description", c.description)
	set("modified_at", c.modified)
	set("last_modified_by", c.lastModifiedBy)
	if c.creator != "" {
		m.SetAdditional("authors", splitList(c.creator, ";,"))
	}
	if c.keywords != "" {
		m.SetAdditional("keywords", splitList(c.keywords, ";,"))
	}
}

// --- docx ---

var headingStyle = regexp.MustCompile(`(?i)^heading\s*([1-6])$`)

func extractDocx(p *zipPackage, mimeType string) (*types.ExtractionResult, error) {
	doc, err := p.mustTree("word/document.xml")
	if err != nil {
		return nil, err
	}
	body := doc.find("body")
	if body == nil {
		return nil, apperrors.NewParsingError("document.xml has no body", nil)
	}

	var blocks []string
	var tables []types.Table
	var visit func(n *xnode)
	visit = func(n *xnode) {
		for _, c := range n.children {
			switch c.name {
			case "p":
				if s := docxParagraph(c); s != "" {
					blocks = append(blocks, s)
				}
			case "tbl":
				cells := docxTable(c)
				if len(cells) == 0 {
					continue
				}
				md := ocr.TableToMarkdown(cells)
				tables = append(tables, types.Table{Cells: cells, Markdown: md, PageNumber: 1})
				blocks = append(blocks, md)
			case "":
			default:
				visit(c)
			}
		}
	}
	visit(body)

	res := newResult(strings.Join(blocks, "\n\n"), mimeType, nil)
	if tables != nil {
		res.Tables = tables
	}
	readCoreProps(p).apply(&res.Metadata)
	return res, nil
}

func docxParagraph(p *xnode) string {
	var sb strings.Builder
	docxRuns(p, &sb)
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return ""
	}
	var style string
	if ps := p.find("pStyle"); ps != nil {
		style = ps.attr("val")
	}
	switch {
	case strings.EqualFold(style, "Title"):
		return "# " + text
	case headingStyle.MatchString(style):
		level, _ := strconv.Atoi(headingStyle.FindStringSubmatch(style)[1])
		return strings.Repeat("#", level) + " " + text
	case p.find("numPr") != nil:
		return "- " + text
	}
	return text
}

func docxRuns(n *xnode, sb *strings.Builder) {
	for _, c := range n.children {
		switch c.name {
		case "t":
			sb.WriteString(c.textContent())
		case "tab":
			sb.WriteByte('\t')
		case "br", "cr":
			sb.WriteByte('\n')
		case "", "pPr", "rPr", "instrText", "delText":
		default:
			docxRuns(c, sb)
		}
	}
}

func docxTable(tbl *xnode) [][]string {
	var rows [][]string
	for _, tr := range tbl.findAll("tr") {
		var row []string
		for _, tc := range tr.findAll("tc") {
			var paras []string
			for _, p := range tc.findAll("p") {
				if s := docxParagraph(p); s != "" {
					paras = append(paras, s)
				}
			}
			row = append(row, strings.Join(paras, " "))
		}
		rows = append(rows, row)
	}
	return padRows(rows)
}

// padRows squares a ragged grid.
func padRows(rows [][]string) [][]string {
	width := 0
	for _, r := range rows {
		width = max(width, len(r))
	}
	for i := range rows {
		for len(rows[i]) < width {
			rows[i] = append(rows[i], "")
		}
	}
	return rows
}

// --- pptx ---

var slideFileRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

func extractPptx(p *zipPackage, mimeType string, cfg *config.ExtractionConfig) (*types.ExtractionResult, error) {
	slides := pptxSlideOrder(p)
	if len(slides) == 0 {
		return nil, apperrors.NewParsingError("presentation has no slides", nil)
	}

	pg := newPaged(types.UnitSlide, cfg)
	fonts := make(map[string]struct{})
	for i, name := range slides {
		t, err := p.mustTree(name)
		if err != nil {
			return nil, err
		}
		s := parseSlide(t, i+1)
		for f := range s.fonts {
			fonts[f] = struct{}{}
		}
		info := types.PageInfo{
			Number:     i + 1,
			Title:      s.title,
			ImageCount: types.IntPtr(s.images),
			TableCount: types.IntPtr(len(s.tables)),
		}
		if s.hidden {
			hidden := true
			info.Hidden = &hidden
		}
		pg.add(s.text(), info, s.tables...)
	}

	cp := readCoreProps(p)
	meta := &types.PptxMetadata{
		Title:       cp.title,
		Author:      cp.creator,
		Description: cp.description,
		Summary:     cp.subject,
		SlideCount:  len(slides),
	}
	for f := range fonts {
		meta.Fonts = append(meta.Fonts, f)
	}
	sort.Strings(meta.Fonts)

	res := pg.result(mimeType, meta, cfg)
	cp.apply(&res.Metadata)
	return res, nil
}

// pptxSlideOrder follows presentation.xml's slide list, falling back to the
// numeric order of the slide parts.
func pptxSlideOrder(p *zipPackage) []string {
	if pres, err := p.tree("ppt/presentation.xml"); err == nil && pres != nil {
		rels := p.relationships("ppt/presentation.xml")
		var out []string
		if lst := pres.find("sldIdLst"); lst != nil {
			for _, id := range lst.findAll("sldId") {
				if target, ok := rels[id.attrNS(relationshipsNS, "id")]; ok {
					if _, exists := p.files[target]; exists {
						out = append(out, target)
					}
				}
			}
		}
		if len(out) > 0 {
			return out
		}
	}

	type numbered struct {
		n    int
		name string
	}
	var found []numbered
	for name := range p.files {
		if m := slideFileRe.FindStringSubmatch(name); m != nil {
			n, _ := strconv.Atoi(m[1])
			found = append(found, numbered{n, name})
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].n < found[j].n })
	out := make([]string, len(found))
	for i, f := range found {
		out[i] = f.name
	}
	return out
}

type slide struct {
	title  string
	blocks []string
	tables []types.Table
	images int
	hidden bool
	fonts  map[string]struct{}
}

func (s *slide) text() string {
	if s.title == "" {
		return strings.Join(s.blocks, "\n\n")
	}
	return strings.Join(append([]string{"# " + s.title}, s.blocks...), "\n\n")
}

func parseSlide(t *xnode, number int) *slide {
	s := &slide{fonts: make(map[string]struct{})}
	root := t.child("sld")
	if root != nil && root.attr("show") == "0" {
		s.hidden = true
	}
	for _, latin := range t.findAll("latin") {
		if face := latin.attr("typeface"); face != "" && !strings.HasPrefix(face, "+") {
			s.fonts[face] = struct{}{}
		}
	}
	if tree := t.find("spTree"); tree != nil {
		s.shapes(tree, number)
	}
	return s
}

func (s *slide) shapes(n *xnode, number int) {
	for _, c := range n.children {
		switch c.name {
		case "sp":
			text := shapeText(c)
			if text == "" {
				continue
			}
			if ph := c.find("ph"); ph != nil && s.title == "" {
				if kind := ph.attr("type"); kind == "title" || kind == "ctrTitle" {
					s.title = strings.ReplaceAll(text, "\n", " ")
					continue
				}
			}
			s.blocks = append(s.blocks, text)
		case "graphicFrame":
			if tbl := c.find("tbl"); tbl != nil {
				cells := drawingTable(tbl)
				if len(cells) > 0 {
					md := ocr.TableToMarkdown(cells)
					s.tables = append(s.tables, types.Table{Cells: cells, Markdown: md, PageNumber: number})
					s.blocks = append(s.blocks, md)
				}
			}
		case "pic":
			s.images++
		case "grpSp":
			s.shapes(c, number)
		}
	}
}

// shapeText joins a text body's paragraphs with newlines.
func shapeText(n *xnode) string {
	var lines []string
	for _, p := range n.findAll("p") {
		var sb strings.Builder
		for _, c := range p.children {
			switch c.name {
			case "r", "fld":
				sb.WriteString(runText(c))
			case "br":
				sb.WriteByte('\n')
			}
		}
		if line := strings.TrimSpace(sb.String()); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// runText keeps a run's whitespace; runs split words at formatting changes.
func runText(r *xnode) string {
	if t := r.child("t"); t != nil {
		return t.textContent()
	}
	return ""
}

func drawingTable(tbl *xnode) [][]string {
	var rows [][]string
	for _, tr := range tbl.findAll("tr") {
		var row []string
		for _, tc := range tr.findAll("tc") {
			row = append(row, strings.ReplaceAll(shapeText(tc), "\n", " "))
		}
		rows = append(rows, row)
	}
	return padRows(rows)
}

// --- xlsx ---

type sheet struct {
	name   string
	hidden bool
	cells  [][]string
}

func extractXlsx(p *zipPackage, mimeType string, cfg *config.ExtractionConfig) (*types.ExtractionResult, error) {
	wb, err := p.mustTree("xl/workbook.xml")
	if err != nil {
		return nil, err
	}
	rels := p.relationships("xl/workbook.xml")
	shared, err := sharedStrings(p)
	if err != nil {
		return nil, apperrors.NewParsingError("failed to read shared strings", err)
	}

	var sheets []sheet
	for _, s := range wb.findAll("sheet") {
		target, ok := rels[s.attrNS(relationshipsNS, "id")]
		if !ok {
			continue
		}
		t, err := p.mustTree(target)
		if err != nil {
			return nil, err
		}
		sheets = append(sheets, sheet{
			name:   s.attr("name"),
			hidden: s.attr("state") == "hidden" || s.attr("state") == "veryHidden",
			cells:  xlsxCells(t, shared),
		})
	}
	return sheetsResult(sheets, mimeType, cfg, readCoreProps(p)), nil
}

// sheetsResult renders each sheet as a page: a heading plus a markdown table.
func sheetsResult(sheets []sheet, mimeType string, cfg *config.ExtractionConfig, cp coreProps) *types.ExtractionResult {
	pg := newPaged(types.UnitSheet, cfg)
	meta := &types.ExcelMetadata{SheetCount: len(sheets), SheetNames: []string{}}
	for i, s := range sheets {
		meta.SheetNames = append(meta.SheetNames, s.name)
		info := types.PageInfo{Number: i + 1, Title: s.name}
		if s.hidden {
			hidden := true
			info.Hidden = &hidden
		}
		if len(s.cells) == 0 {
			info.TableCount = types.IntPtr(0)
			pg.add(fmt.Sprintf("## %s\n\n*Empty sheet*", s.name), info)
			continue
		}
		md := ocr.TableToMarkdown(s.cells)
		info.TableCount = types.IntPtr(1)
		pg.add(fmt.Sprintf("## %s\n\n%s", s.name, md), info,
			types.Table{Cells: s.cells, Markdown: md, PageNumber: i + 1})
	}
	res := pg.result(mimeType, meta, cfg)
	cp.apply(&res.Metadata)
	return res
}

func sharedStrings(p *zipPackage) ([]string, error) {
	t, err := p.tree("xl/sharedStrings.xml")
	if err != nil || t == nil {
		return nil, err
	}
	var out []string
	for _, si := range t.findAll("si") {
		var sb strings.Builder
		for _, c := range si.children {
			switch c.name {
			case "t":
				sb.WriteString(c.textContent())
			case "r":
				sb.WriteString(runText(c))
			}
		}
		out = append(out, sb.String())
	}
	return out, nil
}

// Sheet grids are clipped to these bounds, counted from the first non-empty
// row and column. Refs can span XFD1048576 in a workbook of a few bytes.
const (
	xlsxMaxCols  = 512
	xlsxMaxCells = 1 << 18
)

// xlsxCells returns the bounding box of the sheet's non-empty cells.
func xlsxCells(t *xnode, shared []string) [][]string {
	type pos struct{ row, col int }
	values := make(map[pos]string)
	minRow, minCol, maxRow, maxCol := -1, -1, -1, -1

	data := t.find("sheetData")
	if data == nil {
		return nil
	}
	rowIdx := -1
	for _, row := range data.findAll("row") {
		rowIdx++
		if r, err := strconv.Atoi(row.attr("r")); err == nil && r >= 1 {
			rowIdx = r - 1
		}
		colIdx := -1
		for _, c := range row.findAll("c") {
			colIdx++
			if ref := c.attr("r"); ref != "" {
				if col, ok := columnIndex(ref); ok {
					colIdx = col
				}
			}
			v := strings.TrimSpace(xlsxValue(c, shared))
			if v == "" {
				continue
			}
			values[pos{rowIdx, colIdx}] = v
			if minRow < 0 || rowIdx < minRow {
				minRow = rowIdx
			}
			if minCol < 0 || colIdx < minCol {
				minCol = colIdx
			}
			maxRow = max(maxRow, rowIdx)
			maxCol = max(maxCol, colIdx)
		}
	}
	if len(values) == 0 {
		return nil
	}

	cols := min(maxCol-minCol+1, xlsxMaxCols)
	rows := min(maxRow-minRow+1, xlsxMaxCells/cols)
	cells := make([][]string, rows)
	for r := range cells {
		cells[r] = make([]string, cols)
		for c := range cells[r] {
			cells[r][c] = validUTF8(values[pos{minRow + r, minCol + c}])
		}
	}
	return cells
}

func xlsxValue(c *xnode, shared []string) string {
	v := c.childText("v")
	switch c.attr("t") {
	case "s":
		i, err := strconv.Atoi(v)
		if err != nil || i < 0 || i >= len(shared) {
			return ""
		}
		return shared[i]
	case "inlineStr":
		if is := c.child("is"); is != nil {
			return is.textContent()
		}
		return ""
	case "b":
		if v == "1" {
			return "true"
		}
		return "false"
	}
	return v
}

// columnIndex converts the letters of a cell reference ("AB12") to a
// zero-based column.
func columnIndex(ref string) (int, bool) {
	col := 0
	n := 0
	for _, r := range ref {
		if r < 'A' || r > 'Z' {
			break
		}
		col = col*26 + int(r-'A'+1)
		n++
		// past XFD
		if col > 16384 {
			return 0, false
		}
	}
	return col - 1, n > 0
}
