package extractor

import (
	"context"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/strikethrough"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/adverant/nexus/extraction-engine/internal/config"
	apperrors "github.com/adverant/nexus/extraction-engine/internal/errors"
	"github.com/adverant/nexus/extraction-engine/internal/ocr"
	"github.com/adverant/nexus/extraction-engine/internal/types"
)

var htmlMimeTypes = []string{"text/html", "application/xhtml+xml"}

// HTMLExtractor converts HTML to markdown, collecting head metadata and
// tables from the unsanitized document.
type HTMLExtractor struct {
	policy *bluemonday.Policy
}

func NewHTMLExtractor() *HTMLExtractor {
	return &HTMLExtractor{policy: bluemonday.UGCPolicy()}
}

func (e *HTMLExtractor) Name() string  { return "html" }
func (e *HTMLExtractor) Priority() int { return DefaultPriority }

func (e *HTMLExtractor) Extract(ctx context.Context, data []byte, mimeType string, cfg *config.ExtractionConfig) (*types.ExtractionResult, error) {
	doc, err := html.Parse(strings.NewReader(validUTF8(string(data))))
	if err != nil {
		return nil, apperrors.NewParsingError("failed to parse HTML", err)
	}
	meta := htmlHeadMetadata(doc)

	md, err := e.ToMarkdown(ctx, string(data), cfg.HTMLOptions)
	if err != nil {
		return nil, err
	}

	res := newResult(md, mimeType, meta)
	for _, cells := range htmlTables(doc) {
		res.Tables = append(res.Tables, types.Table{Cells: cells, Markdown: ocr.TableToMarkdown(cells), PageNumber: 1})
	}
	if meta.Description != "" {
		res.Metadata.Subject = meta.Description
	}
	if lang := attr(findElement(doc, atom.Html), "lang"); lang != "" {
		res.Metadata.Language = lang
	}
	return res, nil
}

// ToMarkdown sanitizes (unless disabled) and converts an HTML fragment or
// document. A nil opts uses the defaults.
func (e *HTMLExtractor) ToMarkdown(ctx context.Context, src string, opts *config.HTMLConversionConfig) (string, error) {
	if opts == nil {
		opts = config.DefaultHTMLConversion()
	}
	if opts.Sanitize {
		src = e.policy.Sanitize(src)
	}

	conv := converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
			strikethrough.NewStrikethroughPlugin(),
		),
	)
	convOpts := []converter.ConvertOptionFunc{converter.WithContext(ctx)}
	if opts.Domain != "" {
		convOpts = append(convOpts, converter.WithDomain(opts.Domain))
	}
	md, err := conv.ConvertString(src, convOpts...)
	if err != nil {
		return "", apperrors.NewParsingError("failed to convert HTML to markdown", err)
	}
	return strings.TrimSpace(validUTF8(md)), nil
}

func htmlHeadMetadata(doc *html.Node) *types.HtmlMetadata {
	meta := &types.HtmlMetadata{}
	walk(doc, func(n *html.Node) bool {
		switch n.DataAtom {
		case atom.Title:
			if meta.Title == "" {
				meta.Title = strings.TrimSpace(textOf(n))
			}
		case atom.Base:
			if meta.BaseHref == "" {
				meta.BaseHref = attr(n, "href")
			}
		case atom.Meta:
			applyMetaTag(meta, n)
		case atom.Link:
			href := attr(n, "href")
			for _, rel := range strings.Fields(strings.ToLower(attr(n, "rel"))) {
				switch rel {
				case "canonical":
					meta.Canonical = href
				case "author":
					meta.LinkAuthor = href
				case "license":
					meta.LinkLicense = href
				case "alternate":
					meta.LinkAlternate = href
				}
			}
		case atom.Body:
			return false
		}
		return true
	})
	return meta
}

func applyMetaTag(meta *types.HtmlMetadata, n *html.Node) {
	key := strings.ToLower(attr(n, "name"))
	if key == "" {
		key = strings.ToLower(attr(n, "property"))
	}
	content := strings.TrimSpace(attr(n, "content"))
	if content == "" {
		return
	}
	fields := map[string]*string{
		"description":         &meta.Description,
		"keywords":            &meta.Keywords,
		"author":              &meta.Author,
		"og:title":            &meta.OgTitle,
		"og:description":      &meta.OgDescription,
		"og:image":            &meta.OgImage,
		"og:url":              &meta.OgURL,
		"og:type":             &meta.OgType,
		"og:site_name":        &meta.OgSiteName,
		"twitter:card":        &meta.TwitterCard,
		"twitter:title":       &meta.TwitterTitle,
		"twitter:description": &meta.TwitterDescription,
		"twitter:image":       &meta.TwitterImage,
		"twitter:site":        &meta.TwitterSite,
		"twitter:creator":     &meta.TwitterCreator,
	}
	if dst, ok := fields[key]; ok && *dst == "" {
		*dst = content
	}
}

// htmlTables returns the cell grid of every non-empty <table>. Nested
// tables are read on their own.
func htmlTables(doc *html.Node) [][][]string {
	var tables [][][]string
	walk(doc, func(n *html.Node) bool {
		if n.DataAtom != atom.Table {
			return true
		}
		var rows [][]string
		width := 0
		walk(n, func(c *html.Node) bool {
			if c != n && c.DataAtom == atom.Table {
				return false
			}
			if c.DataAtom != atom.Tr {
				return true
			}
			var row []string
			for cell := c.FirstChild; cell != nil; cell = cell.NextSibling {
				if cell.DataAtom == atom.Td || cell.DataAtom == atom.Th {
					row = append(row, strings.Join(strings.Fields(textOf(cell)), " "))
				}
			}
			if len(row) > 0 {
				rows = append(rows, row)
				width = max(width, len(row))
			}
			return false
		})
		if len(rows) > 0 {
			for i := range rows {
				for len(rows[i]) < width {
					rows[i] = append(rows[i], "")
				}
			}
			tables = append(tables, rows)
		}
		return true
	})
	return tables
}

// walk visits n and its descendants depth-first; fn returning false skips
// the children.
func walk(n *html.Node, fn func(*html.Node) bool) {
	if n == nil {
		return
	}
	if n.Type == html.ElementNode && !fn(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	var found *html.Node
	walk(n, func(c *html.Node) bool {
		if found != nil {
			return false
		}
		if c.DataAtom == a {
			found = c
			return false
		}
		return true
	})
	return found
}

func attr(n *html.Node, key string) string {
	if n == nil {
		return ""
	}
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	var rec func(*html.Node)
	rec = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			rec(c)
		}
	}
	rec(n)
	return sb.String()
}
