package postprocess

import (
	"sort"
	"strings"
	"unicode"

	"github.com/adverant/nexus/extraction-engine/internal/config"
)

const (
	languageChunkRunes      = 200
	multiLanguageConfidence = 0.35
	// fraction of tokens that must be stopwords before a guess is fully trusted
	fullCoverage = 0.2
)

type languageGuess struct {
	code       string
	confidence float64
}

// DetectLanguages returns ISO 639-3 codes for the languages in text, best
// first. It returns nil when detection is off, the text is blank, or no
// language reaches cfg.MinConfidence.
func DetectLanguages(text string, cfg *config.LanguageDetectionConfig) []string {
	if cfg == nil || !cfg.Enabled || strings.TrimSpace(text) == "" {
		return nil
	}
	if !cfg.DetectMultiple {
		return detectSingle(text, cfg.MinConfidence)
	}

	// Vote per fixed-size window with a relaxed threshold.
	threshold := min(cfg.MinConfidence, multiLanguageConfidence)
	counts := make(map[string]int)
	runes := []rune(text)
	for start := 0; start < len(runes); start += languageChunkRunes {
		end := min(start+languageChunkRunes, len(runes))
		if g, ok := guessLanguage(string(runes[start:end])); ok && g.confidence >= threshold {
			counts[g.code]++
		}
	}
	if len(counts) == 0 {
		return detectSingle(text, cfg.MinConfidence)
	}

	langs := make([]string, 0, len(counts))
	for code := range counts {
		langs = append(langs, code)
	}
	sort.Slice(langs, func(i, j int) bool {
		if counts[langs[i]] != counts[langs[j]] {
			return counts[langs[i]] > counts[langs[j]]
		}
		return langs[i] < langs[j]
	})
	return langs
}

func detectSingle(text string, minConfidence float64) []string {
	g, ok := guessLanguage(text)
	if !ok || g.confidence < minConfidence {
		return nil
	}
	return []string{g.code}
}

// guessLanguage scores every stopword profile against the text. Confidence
// is the winner's share of all stopword hits, scaled down when few of the
// text's tokens are stopwords at all.
func guessLanguage(text string) (languageGuess, bool) {
	tokens := wordTokens(text)
	if len(tokens) == 0 {
		return languageGuess{}, false
	}

	hits := make(map[string]int, len(stopwords))
	total := 0
	for code, set := range stopwords {
		for _, tok := range tokens {
			if _, ok := set[tok]; ok {
				hits[code]++
			}
		}
		total += hits[code]
	}
	if total == 0 {
		return languageGuess{}, false
	}

	best := ""
	for code, n := range hits {
		if n > hits[best] || (n == hits[best] && n > 0 && code < best) {
			best = code
		}
	}
	share := float64(hits[best]) / float64(total)
	coverage := float64(hits[best]) / float64(len(tokens))
	return languageGuess{code: best, confidence: share * min(coverage/fullCoverage, 1)}, true
}

func wordTokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
}
