/**
 * Token reduction post-processor
 *
 * Shrinks extracted content before chunking and embedding:
 * - light: Unicode NFC, punctuation runs, HTML comments, whitespace
 * - moderate: light plus stopword removal outside markdown structure
 * - aggressive/maximum: moderate plus removal of frequent short words
 *
 * Paged content is reduced page by page and its boundaries rebuilt.
 */

package postprocess

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/adverant/nexus/extraction-engine/internal/config"
	"github.com/adverant/nexus/extraction-engine/internal/pages"
	"github.com/adverant/nexus/extraction-engine/internal/plugins"
	"github.com/adverant/nexus/extraction-engine/internal/types"
)

const TokenReductionName = "token_reduction"

var (
	repeatedBang     = regexp.MustCompile(`!{2,}`)
	repeatedQuestion = regexp.MustCompile(`\?{2,}`)
	repeatedComma    = regexp.MustCompile(`,{2,}`)
	htmlComment      = regexp.MustCompile(`(?s)<!--.*?-->`)
	multipleSpaces   = regexp.MustCompile(`[ \t]{2,}`)
	trailingSpaces   = regexp.MustCompile(`[ \t]+\n`)
	excessNewlines   = regexp.MustCompile(`\n{3,}`)
	markdownHeading  = regexp.MustCompile(`^\s*#{1,6}\s`)
	markdownListItem = regexp.MustCompile(`^\s*(?:[-*+]|\d+[.)])\s`)
)

// TokenReducer is the token_reduction post-processor.
type TokenReducer struct{}

func NewTokenReducer() *TokenReducer { return &TokenReducer{} }

func (t *TokenReducer) Name() string { return TokenReductionName }

func (t *TokenReducer) Stage() plugins.Stage { return plugins.StageMiddle }

func (t *TokenReducer) Priority() int { return 50 }

func (t *TokenReducer) ShouldProcess(_ *types.ExtractionResult, cfg *config.ExtractionConfig) bool {
	return cfg.TokenReduction != nil && cfg.TokenReduction.Mode != "" && cfg.TokenReduction.Mode != "off"
}

func (t *TokenReducer) Process(ctx context.Context, result *types.ExtractionResult, cfg *config.ExtractionConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tr := cfg.TokenReduction
	if tr == nil || tr.Mode == "off" || tr.Mode == "" {
		return nil
	}
	lang := result.Metadata.Language
	if lang == "" && len(result.DetectedLanguages) > 0 {
		lang = result.DetectedLanguages[0]
	}
	reducer := newReducer(tr, lang)

	original := result.Content
	if ps := result.Metadata.Pages; ps != nil && len(ps.Boundaries) > 0 && pages.Validate(original, ps) == nil {
		t.reducePaged(result, cfg, reducer)
	} else {
		result.Content = reducer.reduce(original)
		if len(result.Pages) == 1 {
			result.Pages[0].Content = result.Content
		}
	}

	result.Metadata.SetAdditional("token_reduction", reductionStats(tr.Mode, original, result.Content))
	return nil
}

// reducePaged reduces each page on its own and rebuilds the structure with
// the same separator and marker conventions the extractors use.
func (t *TokenReducer) reducePaged(result *types.ExtractionResult, cfg *config.ExtractionConfig, reducer *reducer) {
	ps := result.Metadata.Pages
	markerFormat := ""
	if cfg.Pages != nil && cfg.Pages.InsertPageMarkers {
		markerFormat = cfg.Pages.MarkerFormat
	}

	builder := pages.NewBuilder(ps.UnitType, "\n\n", markerFormat)
	reduced := make(map[int]string, len(ps.Boundaries))
	for i, b := range ps.Boundaries {
		text := result.Content[b.ByteStart:b.ByteEnd]
		if markerFormat != "" {
			text = strings.TrimPrefix(text, strings.ReplaceAll(markerFormat, "{page_num}", strconv.Itoa(b.PageNumber)))
		}
		text = reducer.reduce(text)
		reduced[b.PageNumber] = text

		var info types.PageInfo
		if i < len(ps.Pages) {
			info = ps.Pages[i]
		}
		builder.AddPage(text, info)
	}

	content, structure := builder.Build()
	result.Content = content
	result.Metadata.Pages = structure
	for i := range result.Pages {
		if text, ok := reduced[result.Pages[i].PageNumber]; ok {
			result.Pages[i].Content = text
		}
	}
}

func reductionStats(mode, original, reduced string) map[string]interface{} {
	origChars, redChars := utf8.RuneCountInString(original), utf8.RuneCountInString(reduced)
	origTokens, redTokens := len(strings.Fields(original)), len(strings.Fields(reduced))
	stats := map[string]interface{}{
		"mode":            mode,
		"original_chars":  origChars,
		"reduced_chars":   redChars,
		"original_tokens": origTokens,
		"reduced_tokens":  redTokens,
		"char_reduction":  0.0,
		"token_reduction": 0.0,
	}
	if origChars > 0 {
		stats["char_reduction"] = 1 - float64(redChars)/float64(origChars)
	}
	if origTokens > 0 {
		stats["token_reduction"] = 1 - float64(redTokens)/float64(origTokens)
	}
	return stats
}

type reducer struct {
	mode      string
	preserve  bool
	stopwords map[string]struct{}
}

func newReducer(cfg *config.TokenReductionConfig, lang string) *reducer {
	return &reducer{mode: cfg.Mode, preserve: cfg.PreserveImportantWords, stopwords: StopwordsFor(lang)}
}

// ReduceText applies one reduction mode to text outside of a pipeline run.
func ReduceText(text string, cfg *config.TokenReductionConfig, lang string) string {
	if cfg == nil {
		return text
	}
	return newReducer(cfg, lang).reduce(text)
}

func (r *reducer) reduce(text string) string {
	if text == "" || r.mode == "off" {
		return text
	}
	text = norm.NFC.String(text)
	text = r.light(text)
	switch r.mode {
	case "moderate":
		text = r.removeStopwords(text)
	case "aggressive", "maximum":
		text = r.removeStopwords(text)
		text = r.removeCommonWords(text)
	}
	return text
}

func (r *reducer) light(text string) string {
	text = repeatedBang.ReplaceAllString(text, "!")
	text = repeatedQuestion.ReplaceAllString(text, "?")
	text = repeatedComma.ReplaceAllString(text, ",")
	text = htmlComment.ReplaceAllString(text, "")
	text = multipleSpaces.ReplaceAllString(text, " ")
	text = trailingSpaces.ReplaceAllString(text, "\n")
	text = excessNewlines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// removeStopwords works line by line and leaves markdown headings, list
// items, table rows and fenced code untouched.
func (r *reducer) removeStopwords(text string) string {
	lines := strings.Split(text, "\n")
	inFence := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			continue
		}
		if inFence || markdownHeading.MatchString(line) || markdownListItem.MatchString(line) ||
			(strings.HasPrefix(trimmed, "|") && strings.HasSuffix(trimmed, "|")) {
			continue
		}
		lines[i] = r.filterWords(line, func(word, clean string) bool {
			if _, stop := r.stopwords[clean]; !stop {
				return true
			}
			return r.preserve && importantWord(word)
		})
	}
	return strings.Join(lines, "\n")
}

// removeCommonWords drops frequent words shorter than the text's average,
// backing off when that would remove more than two thirds of the words.
func (r *reducer) removeCommonWords(text string) string {
	words := strings.Fields(text)
	if len(words) < 4 {
		return text
	}
	freq := make(map[string]int)
	var totalLen, counted int
	for _, w := range words {
		if clean := cleanWord(w); clean != "" {
			freq[clean]++
			totalLen += utf8.RuneCountInString(clean)
			counted++
		}
	}
	avg := 5.0
	if counted > 0 {
		avg = float64(totalLen) / float64(counted)
	}

	keep := func(word, clean string) bool {
		if clean == "" || importantWord(word) {
			return true
		}
		n := float64(utf8.RuneCountInString(clean))
		return (freq[clean] <= 2 && n >= avg*0.8) || n >= avg*1.5
	}
	kept := 0
	for _, w := range words {
		if keep(w, cleanWord(w)) {
			kept++
		}
	}
	if kept < len(words)/3 {
		keep = func(word, clean string) bool {
			return clean == "" || utf8.RuneCountInString(clean) >= 3 || importantWord(word)
		}
	}

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = r.filterWords(line, keep)
	}
	return strings.Join(lines, "\n")
}

func (r *reducer) filterWords(line string, keep func(word, clean string) bool) string {
	words := strings.Fields(line)
	out := words[:0]
	for _, w := range words {
		if keep(w, cleanWord(w)) {
			out = append(out, w)
		}
	}
	return strings.Join(out, " ")
}

func cleanWord(w string) string {
	return strings.ToLower(strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) }))
}

// importantWord keeps acronyms, numbers, long words and mixed-case
// identifiers.
func importantWord(w string) bool {
	letters, upper := 0, 0
	for _, r := range w {
		switch {
		case unicode.IsDigit(r):
			return true
		case unicode.IsUpper(r):
			upper++
			letters++
		case unicode.IsLetter(r):
			letters++
		}
	}
	if letters > 1 && upper == letters {
		return true
	}
	if utf8.RuneCountInString(w) > 10 {
		return true
	}
	return upper > 1 && upper < letters
}
