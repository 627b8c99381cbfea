package ocr

import (
	"strings"
	"unicode"
)

const (
	minTotalNonWhitespace   = 64
	minNonWhitespacePerPage = 32.0
	minAlnumRatio           = 0.3
	minMeaningfulWordLen    = 4
	minMeaningfulWords      = 3
)

// TextStats summarizes a native text layer.
type TextStats struct {
	NonWhitespace   int
	Alnum           int
	MeaningfulWords int
	AlnumRatio      float64
}

// Decision is the outcome of NeedsOCR with the numbers behind it.
type Decision struct {
	Stats            TextStats
	AvgNonWhitespace float64
	AvgAlnum         float64
	Fallback         bool
}

func computeStats(text string) TextStats {
	var s TextStats
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		s.NonWhitespace++
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			s.Alnum++
		}
	}
	for _, w := range strings.Fields(text) {
		n := 0
		for _, r := range w {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				n++
			}
		}
		if n >= minMeaningfulWordLen {
			s.MeaningfulWords++
			if s.MeaningfulWords >= minMeaningfulWords {
				break
			}
		}
	}
	if s.NonWhitespace > 0 {
		s.AlnumRatio = float64(s.Alnum) / float64(s.NonWhitespace)
	}
	return s
}

// NeedsOCR decides whether a native text layer is too thin to trust, in which
// case the source is treated as scanned. pageCount below 1 counts as 1.
func NeedsOCR(text string, pageCount int) Decision {
	stats := computeStats(strings.TrimSpace(text))
	pages := float64(max(pageCount, 1))
	d := Decision{
		Stats:            stats,
		AvgNonWhitespace: float64(stats.NonWhitespace) / pages,
		AvgAlnum:         float64(stats.Alnum) / pages,
	}

	switch {
	case stats.NonWhitespace == 0 || stats.Alnum == 0:
		d.Fallback = true
	case stats.NonWhitespace <= minTotalNonWhitespace || d.AvgNonWhitespace <= minNonWhitespacePerPage:
		d.Fallback = true
	case stats.AlnumRatio < minAlnumRatio && d.AvgAlnum <= minNonWhitespacePerPage:
		d.Fallback = true
	}
	return d
}
