package postprocess

import (
	"context"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/adverant/nexus/extraction-engine/internal/config"
	"github.com/adverant/nexus/extraction-engine/internal/plugins"
	"github.com/adverant/nexus/extraction-engine/internal/types"
)

const (
	KeywordsName = "keywords"

	// below this many words there is nothing worth ranking
	minKeywordWords    = 10
	minKeywordLength   = 3
	maxPhraseWords     = 3
	keywordsAdditional = "extracted_keywords"
)

// Keyword is one ranked phrase. Scores are normalized to 0..1, higher is
// better.
type Keyword struct {
	Text      string  `json:"text"`
	Score     float64 `json:"score"`
	Algorithm string  `json:"algorithm"`
}

// KeywordExtractor is the keywords post-processor.
type KeywordExtractor struct{}

func NewKeywordExtractor() *KeywordExtractor { return &KeywordExtractor{} }

func (k *KeywordExtractor) Name() string { return KeywordsName }

func (k *KeywordExtractor) Stage() plugins.Stage { return plugins.StageMiddle }

func (k *KeywordExtractor) Priority() int { return 40 }

func (k *KeywordExtractor) ShouldProcess(_ *types.ExtractionResult, cfg *config.ExtractionConfig) bool {
	return cfg.Keywords != nil
}

func (k *KeywordExtractor) Process(ctx context.Context, result *types.ExtractionResult, cfg *config.ExtractionConfig) error {
	if cfg.Keywords == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(strings.Fields(result.Content)) < minKeywordWords {
		return nil
	}
	keywords := ExtractKeywords(result.Content, cfg.Keywords)
	result.Metadata.SetAdditional(keywordsAdditional, keywords)
	return nil
}

// ExtractKeywords ranks phrases with RAKE or a YAKE-style scorer. An empty
// result is returned as an empty, non-nil slice.
func ExtractKeywords(text string, cfg *config.KeywordConfig) []Keyword {
	if cfg == nil {
		cfg = config.DefaultKeywords()
	}
	lang := cfg.Language
	var scored map[string]float64
	switch cfg.Algorithm {
	case "rake":
		scored = rakeScores(text, StopwordsFor(lang), cfg.NgramRange)
		if len(scored) == 0 && normalizeLanguage(lang) != "eng" {
			scored = rakeScores(text, StopwordsFor("eng"), cfg.NgramRange)
		}
	default:
		scored = yakeScores(text, StopwordsFor(lang), cfg.NgramRange)
	}
	return rankKeywords(scored, cfg)
}

func rankKeywords(scored map[string]float64, cfg *config.KeywordConfig) []Keyword {
	out := []Keyword{}
	if len(scored) == 0 {
		return out
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, s := range scored {
		lo, hi = math.Min(lo, s), math.Max(hi, s)
	}
	for phrase, s := range scored {
		norm := 1.0
		if hi > lo {
			norm = (s - lo) / (hi - lo)
		}
		if norm < cfg.MinScore {
			continue
		}
		out = append(out, Keyword{Text: phrase, Score: norm, Algorithm: cfg.Algorithm})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Text < out[j].Text
	})
	if cfg.MaxKeywords > 0 && len(out) > cfg.MaxKeywords {
		out = out[:cfg.MaxKeywords]
	}
	return out
}

// token is a word with the index of the sentence it appeared in.
type token struct {
	word     string
	lower    string
	sentence int
}

// splitPhrases cuts text into runs of content words: stopwords and
// punctuation end a run.
func splitPhrases(text string, stop map[string]struct{}) [][]token {
	var (
		phrases  [][]token
		current  []token
		sentence int
	)
	flush := func() {
		if len(current) > 0 {
			phrases = append(phrases, current)
			current = nil
		}
	}
	var word strings.Builder
	emit := func() {
		if word.Len() == 0 {
			return
		}
		w := word.String()
		word.Reset()
		lower := strings.ToLower(w)
		if _, ok := stop[lower]; ok || !hasLetter(w) {
			flush()
			return
		}
		current = append(current, token{word: w, lower: lower, sentence: sentence})
	}
	for _, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '\'':
			word.WriteRune(r)
		case unicode.IsSpace(r):
			emit()
		default:
			emit()
			flush()
			if r == '.' || r == '!' || r == '?' {
				sentence++
			}
		}
	}
	emit()
	flush()
	return phrases
}

func hasLetter(s string) bool {
	return strings.IndexFunc(s, unicode.IsLetter) >= 0
}

func phraseText(toks []token) string {
	parts := make([]string, len(toks))
	for i, t := range toks {
		parts[i] = t.lower
	}
	return strings.Join(parts, " ")
}

func inRange(n int, ngram [2]int) bool {
	lo, hi := max(ngram[0], 1), ngram[1]
	if hi < lo {
		hi = lo
	}
	return n >= lo && n <= min(hi, maxPhraseWords)
}

// rakeScores scores each candidate phrase as the sum of its words'
// degree/frequency ratios.
func rakeScores(text string, stop map[string]struct{}, ngram [2]int) map[string]float64 {
	phrases := splitPhrases(text, stop)
	freq := make(map[string]float64)
	degree := make(map[string]float64)
	for _, p := range phrases {
		for _, t := range p {
			freq[t.lower]++
			degree[t.lower] += float64(len(p))
		}
	}

	scores := make(map[string]float64)
	for _, p := range phrases {
		if !inRange(len(p), ngram) {
			continue
		}
		key := phraseText(p)
		if len(key) < minKeywordLength {
			continue
		}
		var s float64
		for _, t := range p {
			s += degree[t.lower] / freq[t.lower]
		}
		scores[key] = s
	}
	return scores
}

// yakeScores favours words that are frequent, appear early, and are often
// capitalized. Candidate n-grams are taken from within stopword-free runs.
func yakeScores(text string, stop map[string]struct{}, ngram [2]int) map[string]float64 {
	phrases := splitPhrases(text, stop)
	type stat struct {
		freq, caps    float64
		firstSentence int
	}
	stats := make(map[string]*stat)
	var maxFreq float64
	for _, p := range phrases {
		for _, t := range p {
			st, ok := stats[t.lower]
			if !ok {
				st = &stat{firstSentence: t.sentence}
				stats[t.lower] = st
			}
			st.freq++
			if r := []rune(t.word); len(r) > 0 && unicode.IsUpper(r[0]) {
				st.caps++
			}
			maxFreq = math.Max(maxFreq, st.freq)
		}
	}
	wordScore := func(w string) float64 {
		st := stats[w]
		relevance := st.freq / maxFreq
		casing := 1 + 0.5*st.caps/st.freq
		position := 1 / (1 + math.Log1p(float64(st.firstSentence)))
		return relevance * casing * position
	}

	scores := make(map[string]float64)
	counts := make(map[string]float64)
	for _, p := range phrases {
		for n := max(ngram[0], 1); n <= min(max(ngram[1], ngram[0]), maxPhraseWords); n++ {
			for i := 0; i+n <= len(p); i++ {
				gram := p[i : i+n]
				key := phraseText(gram)
				if len(key) < minKeywordLength {
					continue
				}
				counts[key]++
				if _, seen := scores[key]; seen {
					continue
				}
				var s float64
				for _, t := range gram {
					s += wordScore(t.lower)
				}
				scores[key] = s / float64(n)
			}
		}
	}
	for key := range scores {
		scores[key] *= math.Sqrt(counts[key])
	}
	return scores
}
