package extractor

import (
	"bufio"
	"context"
	"regexp"
	"strings"

	"github.com/adverant/nexus/extraction-engine/internal/config"
	"github.com/adverant/nexus/extraction-engine/internal/types"
)

var textMimeTypes = []string{
	"text/plain",
	"text/markdown",
	"text/x-markdown",
	"text/x-commonmark",
	"text/x-rst",
	"text/x-org",
	"text/x-asciidoc",
	"text/x-textile",
	"text/x-mediawiki",
	"text/x-creole",
	"text/x-pod",
	"application/x-latex",
	"application/x-bibtex",
	"application/x-typst",
}

var (
	markdownHeader = regexp.MustCompile(`^#{1,6}\s*(.+)$`)
	markdownLink   = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	codeFence      = regexp.MustCompile("^```(\\w*)\\r?$")
)

// TextExtractor passes text through and counts lines, words and characters.
// Markdown additionally yields headers, links and fenced code blocks.
type TextExtractor struct{}

func NewTextExtractor() *TextExtractor { return &TextExtractor{} }

func (e *TextExtractor) Name() string  { return "text" }
func (e *TextExtractor) Priority() int { return DefaultPriority }

func (e *TextExtractor) Extract(ctx context.Context, data []byte, mimeType string, cfg *config.ExtractionConfig) (*types.ExtractionResult, error) {
	text := validUTF8(string(data))
	isMarkdown := mimeType == "text/markdown" || mimeType == "text/x-markdown" || mimeType == "text/x-commonmark"
	meta := analyzeText(text, isMarkdown)

	return newResult(text, mimeType, meta), nil
}

func analyzeText(text string, isMarkdown bool) *types.TextMetadata {
	meta := &types.TextMetadata{CharacterCount: len(text)}

	var inCode bool
	var lang string
	var code strings.Builder

	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 64*1024), len(text)+1)
	for sc.Scan() {
		line := sc.Text()
		meta.LineCount++
		meta.WordCount += len(strings.Fields(line))
		if !isMarkdown {
			continue
		}

		if m := codeFence.FindStringSubmatch(line); m != nil {
			if inCode {
				if lang == "" {
					lang = "plain"
				}
				meta.CodeBlocks = append(meta.CodeBlocks, [2]string{lang, strings.TrimRight(code.String(), " \t\r\n")})
				code.Reset()
				lang = ""
				inCode = false
			} else {
				lang = m[1]
				inCode = true
			}
			continue
		}
		if inCode {
			code.WriteString(line)
			code.WriteByte('\n')
			continue
		}

		if m := markdownHeader.FindStringSubmatch(line); m != nil {
			meta.Headers = append(meta.Headers, m[1])
		}
		for _, m := range markdownLink.FindAllStringSubmatch(line, -1) {
			meta.Links = append(meta.Links, [2]string{m[1], m[2]})
		}
	}
	return meta
}
