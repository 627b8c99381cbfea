package ocr

import (
	"strconv"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"golang.org/x/net/html"

	apperrors "github.com/adverant/nexus/extraction-engine/internal/errors"
)

// HOCRToMarkdown converts tesseract hOCR output to markdown text.
func HOCRToMarkdown(hocr string) (string, error) {
	if strings.TrimSpace(hocr) == "" {
		return "", nil
	}
	md, err := htmltomarkdown.ConvertString(hocr)
	if err != nil {
		return "", apperrors.NewOCRError("hocr", err)
	}
	return strings.TrimSpace(md), nil
}

// ParseHOCRWords returns every ocrx_word span with its bbox and x_wconf.
func ParseHOCRWords(hocr string) ([]Word, error) {
	doc, err := html.Parse(strings.NewReader(hocr))
	if err != nil {
		return nil, apperrors.NewOCRError("hocr", err)
	}

	var words []Word
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && hasClass(n, "ocrx_word") {
			w := Word{Text: strings.TrimSpace(textContent(n))}
			parseTitle(attr(n, "title"), &w)
			if w.Text != "" {
				words = append(words, w)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return words, nil
}

// parseTitle reads "bbox x0 y0 x1 y1; x_wconf 93" properties.
func parseTitle(title string, w *Word) {
	for _, prop := range strings.Split(title, ";") {
		fields := strings.Fields(prop)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "bbox":
			if len(fields) != 5 {
				continue
			}
			var c [4]int
			for i := range c {
				c[i], _ = strconv.Atoi(fields[i+1])
			}
			w.BoundingBox = BoundingBox{X: c[0], Y: c[1], Width: c[2] - c[0], Height: c[3] - c[1]}
		case "x_wconf":
			if len(fields) == 2 {
				w.Confidence, _ = strconv.ParseFloat(fields[1], 64)
			}
		}
	}
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
