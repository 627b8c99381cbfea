// Package chunking splits content into overlapping, page-attributed chunks.
package chunking

import (
	"strings"
	"unicode"

	"github.com/adverant/nexus/extraction-engine/internal/config"
	"github.com/adverant/nexus/extraction-engine/internal/pages"
	"github.com/adverant/nexus/extraction-engine/internal/types"
)

// Chunker cuts text into windows of at most MaxChars runes. Consecutive
// chunks share at most Overlap runes and never leave a gap, so removing the
// overlaps and concatenating gives back the input.
type Chunker struct {
	MaxChars  int
	Overlap   int
	Strategy  string
	Estimator string
}

// New creates a chunker from a validated config.
func New(cfg *config.ChunkingConfig) (*Chunker, error) {
	if cfg == nil {
		cfg = config.DefaultChunking()
	}
	c := *cfg
	if err := c.Validate(); err != nil {
		return nil, err
	}
	maxChars, overlap := c.Effective()
	return &Chunker{MaxChars: maxChars, Overlap: overlap, Strategy: c.Strategy, Estimator: c.TokenEstimator}, nil
}

type span struct{ start, end int }

// Chunk splits content. ps may be nil; when present, chunks carry their
// first and last page.
func (c *Chunker) Chunk(content string, ps *types.PageStructure) []types.Chunk {
	if content == "" {
		return nil
	}
	runes := make([]rune, 0, len(content))
	offsets := make([]int, 0, len(content)+1)
	for i, r := range content {
		runes = append(runes, r)
		offsets = append(offsets, i)
	}
	offsets = append(offsets, len(content))

	spans := c.spans(runes)

	var index *pages.Index
	if ps != nil && len(ps.Boundaries) > 0 {
		index = pages.NewIndex(ps.Boundaries, 0)
	}

	chunks := make([]types.Chunk, len(spans))
	for i, s := range spans {
		byteStart, byteEnd := offsets[s.start], offsets[s.end]
		text := content[byteStart:byteEnd]
		meta := types.ChunkMetadata{
			ByteStart:   byteStart,
			ByteEnd:     byteEnd,
			CharCount:   s.end - s.start,
			TokenCount:  types.IntPtr(c.estimateTokens(text, s.end-s.start)),
			ChunkIndex:  i,
			TotalChunks: len(spans),
		}
		if index != nil {
			if first, ok := index.Page(byteStart); ok {
				meta.FirstPage = types.IntPtr(first)
			}
			if last, ok := index.Page(byteEnd - 1); ok {
				meta.LastPage = types.IntPtr(last)
			}
		}
		chunks[i] = types.Chunk{Content: text, Metadata: meta}
	}
	return chunks
}

func (c *Chunker) spans(runes []rune) []span {
	n := len(runes)
	var out []span
	start := 0
	for start < n {
		end := start + c.MaxChars
		if end >= n {
			end = n
		} else {
			end = c.breakPoint(runes, start, end)
		}
		out = append(out, span{start, end})
		if end == n {
			break
		}

		next := end - c.Overlap
		if next <= start {
			next = start + 1
		}
		if c.Strategy != "characters" {
			next = alignToWord(runes, next, end)
		}
		start = next
	}
	return out
}

// breakPoint picks where a full window ending at end should be cut. The
// search never goes below half the window.
func (c *Chunker) breakPoint(runes []rune, start, end int) int {
	if c.Strategy == "characters" {
		return end
	}
	lower := start + c.MaxChars/2
	if lower <= start {
		lower = start + 1
	}
	if c.Strategy == "sentences" {
		for i := end; i > lower; i-- {
			if isWordStart(runes, i) && endsSentence(runes, i) {
				return i
			}
		}
	}
	for i := end; i > lower; i-- {
		if isWordStart(runes, i) {
			return i
		}
	}
	return end
}

// isWordStart: whitespace before i, non-whitespace at i.
func isWordStart(runes []rune, i int) bool {
	return i > 0 && i < len(runes) && unicode.IsSpace(runes[i-1]) && !unicode.IsSpace(runes[i])
}

// endsSentence reports whether the whitespace run before i follows a terminal mark or a blank line.
func endsSentence(runes []rune, i int) bool {
	j := i - 1
	newlines := 0
	for j >= 0 && unicode.IsSpace(runes[j]) {
		if runes[j] == '\n' {
			newlines++
		}
		j--
	}
	if newlines >= 2 {
		return true
	}
	if j < 0 {
		return false
	}
	switch runes[j] {
	case '.', '!', '?', '。', '！', '？', '…':
		return true
	}
	return false
}

// alignToWord moves from up to the next word start, never past limit.
func alignToWord(runes []rune, from, limit int) int {
	for i := from; i < limit; i++ {
		if i == 0 || isWordStart(runes, i) {
			return i
		}
	}
	return limit
}

func (c *Chunker) estimateTokens(text string, chars int) int {
	if c.Estimator == "whitespace" {
		return len(strings.Fields(text))
	}
	return (chars + 3) / 4
}

// Reassemble drops each chunk's overlap with its predecessor and joins the rest.
func Reassemble(content string, chunks []types.Chunk) string {
	var sb strings.Builder
	prevEnd := 0
	for _, ch := range chunks {
		if ch.Metadata.ByteEnd > prevEnd {
			from := ch.Metadata.ByteStart
			if from < prevEnd {
				from = prevEnd
			}
			sb.WriteString(content[from:ch.Metadata.ByteEnd])
			prevEnd = ch.Metadata.ByteEnd
		}
	}
	return sb.String()
}
