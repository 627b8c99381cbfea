package extractor

import (
	"strconv"
	"strings"

	"github.com/adverant/nexus/extraction-engine/internal/config"
	apperrors "github.com/adverant/nexus/extraction-engine/internal/errors"
	"github.com/adverant/nexus/extraction-engine/internal/ocr"
	"github.com/adverant/nexus/extraction-engine/internal/types"
)

// odfMaxRepeat caps table:number-*-repeated, which spreadsheets set to the
// full sheet size for trailing blank rows.
const odfMaxRepeat = 1024

func extractODF(p *zipPackage, mimeType string, cfg *config.ExtractionConfig) (*types.ExtractionResult, error) {
	content, err := p.mustTree("content.xml")
	if err != nil {
		return nil, err
	}
	body := content.find("body")
	if body == nil {
		return nil, apperrors.NewParsingError("content.xml has no office:body", nil)
	}
	cp := readODFMeta(p)

	switch officeFamily(mimeType) {
	case "ods":
		var sheets []sheet
		if ss := body.child("spreadsheet"); ss != nil {
			for _, t := range ss.findAll("table") {
				sheets = append(sheets, sheet{name: t.attr("name"), cells: odfTable(t)})
			}
		}
		return sheetsResult(sheets, mimeType, cfg, cp), nil
	case "odp":
		return odpResult(body, mimeType, cfg, cp), nil
	}

	var blocks []string
	var tables []types.Table
	if text := body.child("text"); text != nil {
		odfBlocks(text, &blocks, &tables)
	}
	res := newResult(strings.Join(blocks, "\n\n"), mimeType, nil)
	if tables != nil {
		res.Tables = tables
	}
	cp.apply(&res.Metadata)
	return res, nil
}

func readODFMeta(p *zipPackage) coreProps {
	t, err := p.tree("meta.xml")
	if err != nil || t == nil {
		return coreProps{}
	}
	var keywords []string
	for _, k := range t.findAll("keyword") {
		if s := strings.TrimSpace(k.textContent()); s != "" {
			keywords = append(keywords, s)
		}
	}
	creator := t.childText("initial-creator")
	if creator == "" {
		creator = t.childText("creator")
	}
	return coreProps{
		title:          t.childText("title"),
		subject:        t.childText("subject"),
		description:    t.childText("description"),
		creator:        creator,
		keywords:       strings.Join(keywords, ", "),
		lastModifiedBy: t.childText("creator"),
		created:        t.childText("creation-date"),
		modified:       t.childText("date"),
	}
}

func odfBlocks(n *xnode, blocks *[]string, tables *[]types.Table) {
	for _, c := range n.children {
		switch c.name {
		case "h":
			if s := odfInline(c); s != "" {
				level, err := strconv.Atoi(c.attr("outline-level"))
				if err != nil || level < 1 || level > 6 {
					level = 1
				}
				*blocks = append(*blocks, strings.Repeat("#", level)+" "+s)
			}
		case "p":
			if s := odfInline(c); s != "" {
				*blocks = append(*blocks, s)
			}
		case "list":
			for _, item := range c.findAll("list-item") {
				for _, para := range append(item.findAll("p"), item.findAll("h")...) {
					if s := odfInline(para); s != "" {
						*blocks = append(*blocks, "- "+s)
					}
				}
			}
		case "table":
			if cells := odfTable(c); len(cells) > 0 {
				md := ocr.TableToMarkdown(cells)
				*tables = append(*tables, types.Table{Cells: cells, Markdown: md, PageNumber: 1})
				*blocks = append(*blocks, md)
			}
		case "", "sequence-decls", "tracked-changes":
		default:
			odfBlocks(c, blocks, tables)
		}
	}
}

// odfInline flattens a paragraph, expanding text:s, text:tab and line breaks.
func odfInline(n *xnode) string {
	var sb strings.Builder
	var walk func(*xnode)
	walk = func(n *xnode) {
		for _, c := range n.children {
			switch c.name {
			case "":
				sb.WriteString(c.text)
			case "s":
				count, err := strconv.Atoi(c.attr("c"))
				if err != nil || count < 1 {
					count = 1
				}
				sb.WriteString(strings.Repeat(" ", min(count, odfMaxRepeat)))
			case "tab":
				sb.WriteByte('\t')
			case "line-break":
				sb.WriteByte('\n')
			case "note", "annotation":
			default:
				walk(c)
			}
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}

func odfParagraphs(n *xnode) string {
	var lines []string
	for _, p := range n.findAll("p") {
		if s := odfInline(p); s != "" {
			lines = append(lines, s)
		}
	}
	return strings.Join(lines, "\n")
}

func odfRepeat(n *xnode, attr string) int {
	r, err := strconv.Atoi(n.attr(attr))
	if err != nil || r < 1 {
		return 1
	}
	return min(r, odfMaxRepeat)
}

// odfTable expands repeated rows and cells, then drops trailing blanks.
func odfTable(t *xnode) [][]string {
	var rows [][]string
	for _, row := range t.findAll("table-row") {
		var cells []string
		for _, c := range row.children {
			if c.name != "table-cell" && c.name != "covered-table-cell" {
				continue
			}
			text := validUTF8(strings.ReplaceAll(odfParagraphs(c), "\n", " "))
			for i := odfRepeat(c, "number-columns-repeated"); i > 0; i-- {
				cells = append(cells, text)
			}
		}
		for len(cells) > 0 && cells[len(cells)-1] == "" {
			cells = cells[:len(cells)-1]
		}
		for i := odfRepeat(row, "number-rows-repeated"); i > 0; i-- {
			rows = append(rows, append([]string(nil), cells...))
		}
	}
	for len(rows) > 0 && len(rows[len(rows)-1]) == 0 {
		rows = rows[:len(rows)-1]
	}
	if len(rows) == 0 {
		return nil
	}
	return padRows(rows)
}

func odpResult(body *xnode, mimeType string, cfg *config.ExtractionConfig, cp coreProps) *types.ExtractionResult {
	pg := newPaged(types.UnitSlide, cfg)
	var pagesN int
	if pres := body.child("presentation"); pres != nil {
		for _, page := range pres.findAll("page") {
			pagesN++
			s := &slide{}
			odpShapes(page, s, pagesN)
			title := s.title
			if title == "" {
				title = page.attr("name")
			}
			pg.add(s.text(), types.PageInfo{
				Number:     pagesN,
				Title:      title,
				ImageCount: types.IntPtr(s.images),
				TableCount: types.IntPtr(len(s.tables)),
			}, s.tables...)
		}
	}
	meta := &types.PptxMetadata{
		Title:       cp.title,
		Author:      cp.creator,
		Description: cp.description,
		Summary:     cp.subject,
		SlideCount:  pagesN,
	}
	res := pg.result(mimeType, meta, cfg)
	cp.apply(&res.Metadata)
	return res
}

func odpShapes(n *xnode, s *slide, number int) {
	for _, c := range n.children {
		switch c.name {
		case "frame", "custom-shape", "rect", "ellipse":
			if tbl := c.find("table"); tbl != nil {
				if cells := odfTable(tbl); len(cells) > 0 {
					md := ocr.TableToMarkdown(cells)
					s.tables = append(s.tables, types.Table{Cells: cells, Markdown: md, PageNumber: number})
					s.blocks = append(s.blocks, md)
				}
				continue
			}
			text := odfParagraphs(c)
			if text == "" {
				if c.find("image") != nil {
					s.images++
				}
				continue
			}
			if c.attr("class") == "title" && s.title == "" {
				s.title = strings.ReplaceAll(text, "\n", " ")
				continue
			}
			s.blocks = append(s.blocks, text)
		case "g":
			odpShapes(c, s, number)
		}
	}
}
