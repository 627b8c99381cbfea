// Package pages builds and queries byte-accurate page boundaries.
//
// Boundaries partition the content: sorted, non-overlapping, covering every
// byte, and never splitting a UTF-8 sequence. Separator bytes between pages
// belong to the page before them; a page marker belongs to the page it
// introduces.
package pages

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	apperrors "github.com/adverant/nexus/extraction-engine/internal/errors"
	"github.com/adverant/nexus/extraction-engine/internal/types"
)

// Builder accumulates per-page text into one content string.
type Builder struct {
	sb           strings.Builder
	separator    string
	markerFormat string
	unit         types.PageUnitType
	boundaries   []types.PageBoundary
	infos        []types.PageInfo
	texts        []string
}

// NewBuilder creates a builder joining pages with separator. A non-empty
// markerFormat (containing {page_num}) is inserted before every page.
func NewBuilder(unit types.PageUnitType, separator, markerFormat string) *Builder {
	if unit == "" {
		unit = types.UnitPage
	}
	return &Builder{separator: separator, markerFormat: markerFormat, unit: unit}
}

// AddPage appends the next page. Invalid UTF-8 in text is replaced.
func (b *Builder) AddPage(text string, info types.PageInfo) {
	text = strings.ToValidUTF8(text, "�")
	number := len(b.boundaries) + 1

	if n := len(b.boundaries); n > 0 && b.separator != "" {
		b.sb.WriteString(b.separator)
		b.boundaries[n-1].ByteEnd = b.sb.Len()
	}

	start := b.sb.Len()
	if b.markerFormat != "" {
		b.sb.WriteString(strings.ReplaceAll(b.markerFormat, "{page_num}", strconv.Itoa(number)))
	}
	b.sb.WriteString(text)

	info.Number = number
	b.boundaries = append(b.boundaries, types.PageBoundary{ByteStart: start, ByteEnd: b.sb.Len(), PageNumber: number})
	b.infos = append(b.infos, info)
	b.texts = append(b.texts, text)
}

// Len is the number of pages added so far.
func (b *Builder) Len() int { return len(b.boundaries) }

// Build returns the content and its page structure. With zero pages the
// structure is nil.
func (b *Builder) Build() (string, *types.PageStructure) {
	content := b.sb.String()
	if len(b.boundaries) == 0 {
		return content, nil
	}
	return content, &types.PageStructure{
		TotalCount: len(b.boundaries),
		UnitType:   b.unit,
		Boundaries: append([]types.PageBoundary(nil), b.boundaries...),
		Pages:      append([]types.PageInfo(nil), b.infos...),
	}
}

// PageContents returns the raw per-page texts, without separators or markers.
func (b *Builder) PageContents() []types.PageContent {
	out := make([]types.PageContent, len(b.texts))
	for i, t := range b.texts {
		out[i] = types.PageContent{PageNumber: i + 1, Content: t}
	}
	return out
}

// Single describes content that is one page long.
func Single(content string, unit types.PageUnitType) *types.PageStructure {
	if unit == "" {
		unit = types.UnitPage
	}
	return &types.PageStructure{
		TotalCount: 1,
		UnitType:   unit,
		Boundaries: []types.PageBoundary{{ByteStart: 0, ByteEnd: len(content), PageNumber: 1}},
		Pages:      []types.PageInfo{{Number: 1}},
	}
}

// Validate checks the partition invariant of ps over content.
func Validate(content string, ps *types.PageStructure) error {
	if ps == nil {
		return nil
	}
	bs := ps.Boundaries
	if len(bs) == 0 {
		if len(content) == 0 {
			return nil
		}
		return apperrors.NewValidationError("page structure has no boundaries for non-empty content")
	}
	if ps.TotalCount != len(bs) {
		return apperrors.NewValidationErrorf("page total_count %d does not match %d boundaries", ps.TotalCount, len(bs))
	}
	if bs[0].ByteStart != 0 {
		return apperrors.NewValidationErrorf("first page starts at byte %d, want 0", bs[0].ByteStart)
	}
	for i, b := range bs {
		if b.ByteEnd < b.ByteStart {
			return apperrors.NewValidationErrorf("page %d ends before it starts (%d < %d)", b.PageNumber, b.ByteEnd, b.ByteStart)
		}
		if i > 0 && b.ByteStart != bs[i-1].ByteEnd {
			return apperrors.NewValidationErrorf("page %d starts at %d but page %d ends at %d", b.PageNumber, b.ByteStart, bs[i-1].PageNumber, bs[i-1].ByteEnd)
		}
		if !onRuneBoundary(content, b.ByteStart) || !onRuneBoundary(content, b.ByteEnd) {
			return apperrors.NewValidationErrorf("page %d boundary splits a UTF-8 sequence", b.PageNumber)
		}
	}
	if last := bs[len(bs)-1]; last.ByteEnd != len(content) {
		return apperrors.NewValidationErrorf("last page ends at %d, content is %d bytes", last.ByteEnd, len(content))
	}
	return nil
}

func onRuneBoundary(s string, i int) bool {
	if i < 0 || i > len(s) {
		return false
	}
	return i == len(s) || utf8.RuneStart(s[i])
}

// Lookup returns the page number containing byte offset, by binary search.
// Offsets past the end map to the last page.
func Lookup(boundaries []types.PageBoundary, offset int) (int, bool) {
	if len(boundaries) == 0 || offset < 0 {
		return 0, false
	}
	i := sort.Search(len(boundaries), func(i int) bool { return boundaries[i].ByteEnd > offset })
	if i == len(boundaries) {
		return boundaries[len(boundaries)-1].PageNumber, true
	}
	return boundaries[i].PageNumber, true
}

// Index answers offset -> page in O(1) using fixed-size byte buckets.
type Index struct {
	boundaries []types.PageBoundary
	bucketSize int
	// first boundary index overlapping each bucket
	buckets []int
}

// NewIndex builds an index; bucketSize <= 0 picks one from the content size.
func NewIndex(boundaries []types.PageBoundary, bucketSize int) *Index {
	idx := &Index{boundaries: boundaries}
	if len(boundaries) == 0 {
		return idx
	}
	total := boundaries[len(boundaries)-1].ByteEnd
	if bucketSize <= 0 {
		bucketSize = total/(4*len(boundaries)) + 1
	}
	idx.bucketSize = bucketSize
	idx.buckets = make([]int, total/bucketSize+1)
	j := 0
	for bucket := range idx.buckets {
		start := bucket * bucketSize
		for j < len(boundaries)-1 && boundaries[j].ByteEnd <= start {
			j++
		}
		idx.buckets[bucket] = j
	}
	return idx
}

// Page returns the page containing offset.
func (x *Index) Page(offset int) (int, bool) {
	if len(x.boundaries) == 0 || offset < 0 {
		return 0, false
	}
	bucket := offset / x.bucketSize
	if bucket >= len(x.buckets) {
		return x.boundaries[len(x.boundaries)-1].PageNumber, true
	}
	for j := x.buckets[bucket]; j < len(x.boundaries); j++ {
		if x.boundaries[j].ByteEnd > offset {
			return x.boundaries[j].PageNumber, true
		}
	}
	return x.boundaries[len(x.boundaries)-1].PageNumber, true
}

// Slice returns the content of one page.
func Slice(content string, ps *types.PageStructure, page int) (string, error) {
	if ps == nil {
		return "", fmt.Errorf("no page structure")
	}
	for _, b := range ps.Boundaries {
		if b.PageNumber == page {
			return content[b.ByteStart:b.ByteEnd], nil
		}
	}
	return "", fmt.Errorf("page %d not found", page)
}
