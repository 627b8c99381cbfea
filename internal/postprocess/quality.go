package postprocess

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/adverant/nexus/extraction-engine/internal/types"
)

const (
	ocrPenaltyWeight      = 0.3
	scriptPenaltyWeight   = 0.2
	navPenaltyWeight      = 0.1
	structureBonusWeight  = 0.2
	metadataBonusWeight   = 0.1
	minQualityTextLength  = 10
	largeTextLength       = 1000
	minSentenceWords      = 10.0
	maxSentenceWords      = 30.0
	minParagraphWords     = 50.0
	maxParagraphWords     = 300.0
	shortTextQualityScore = 0.1
)

var (
	scatteredChars    = regexp.MustCompile(`\b[a-zA-Z]\s{2,}[a-zA-Z]\s{2,}[a-zA-Z]\b`)
	repeatedPunct     = regexp.MustCompile(`[.]{3,}|[_]{3,}`)
	dashRun           = regexp.MustCompile(`[-]{3,}`)
	isolatedPunct     = regexp.MustCompile(`\s[.,;:!?]\s`)
	malformedWords    = regexp.MustCompile(`\b[a-zA-Z]+[0-9]+[a-zA-Z]+[a-zA-Z0-9]*\b`)
	excessiveSpace    = regexp.MustCompile(`\s{3,}`)
	jsFunction        = regexp.MustCompile(`(?i)function\s+\w+\s*\([^)]*\)\s*\{[^}]*\}`)
	cssRule           = regexp.MustCompile(`(?i)\.[a-zA-Z][\w-]*\s*\{[^}]*\}`)
	scriptTag         = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleTag          = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	navWords          = regexp.MustCompile(`(?i)\b(?:Skip to main content|Back to top|Main navigation|Site navigation)\b`)
	breadcrumbs       = regexp.MustCompile(`(?:Home\s*[>»]\s*|[>»]\s*){2,}`)
	pagination        = regexp.MustCompile(`(?i)\b(?:Page \d+ of \d+|First page|Last page|Previous page|Next page)\b`)
	sentenceBoundary  = regexp.MustCompile(`[.!?]\s+[A-Z]`)
	sentencePunctSign = regexp.MustCompile(`[.!?]`)
)

// QualityScore rates extracted text between 0 and 1. OCR artifacts, script
// or style residue and navigation chrome lower the score; sentence and
// paragraph structure and descriptive metadata raise it.
func QualityScore(text string, meta *types.Metadata) float64 {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	if len(text) < minQualityTextLength {
		return shortTextQualityScore
	}

	total := float64(len(text))
	score := 1.0
	score -= ocrPenalty(text, total) * ocrPenaltyWeight
	if len(text) > largeTextLength {
		score -= scriptPenalty(text, total) * scriptPenaltyWeight
		score -= navigationPenalty(text, total) * navPenaltyWeight
	}
	score += structureBonus(text) * structureBonusWeight
	if meta != nil {
		score += metadataBonus(meta) * metadataBonusWeight
	}
	return min(max(score, 0), 1)
}

func matchedLength(text string, re *regexp.Regexp) int {
	n := 0
	for _, loc := range re.FindAllStringIndex(text, -1) {
		n += loc[1] - loc[0]
	}
	return n
}

func ocrPenalty(text string, total float64) float64 {
	if !strings.Contains(text, "  ") && !strings.Contains(text, "...") {
		return 0
	}
	artifacts := matchedLength(text, scatteredChars) +
		matchedLength(text, repeatedPunct) +
		dashArtifacts(text) +
		matchedLength(text, isolatedPunct) +
		matchedLength(text, malformedWords) +
		matchedLength(text, excessiveSpace)
	return min(float64(artifacts)/total, 1)
}

// dashArtifacts counts dash runs outside markdown table separator rows.
func dashArtifacts(text string) int {
	n := 0
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		separator := strings.HasPrefix(trimmed, "|") && strings.HasSuffix(trimmed, "|") &&
			strings.Trim(trimmed, "|-: \t") == ""
		if !separator {
			n += matchedLength(line, dashRun)
		}
	}
	return n
}

func scriptPenalty(text string, total float64) float64 {
	if !strings.Contains(text, "function") && !strings.Contains(text, "<script") && !strings.Contains(text, "<style") {
		return 0
	}
	chars := matchedLength(text, jsFunction) +
		matchedLength(text, cssRule) +
		matchedLength(text, scriptTag) +
		matchedLength(text, styleTag)
	return min(float64(chars)/total, 1)
}

func navigationPenalty(text string, total float64) float64 {
	chars := matchedLength(text, navWords) +
		matchedLength(text, breadcrumbs) +
		matchedLength(text, pagination)
	return min(float64(chars)/total, 1)
}

func structureBonus(text string) float64 {
	words := float64(len(strings.Fields(text)))
	if words == 0 {
		return 0
	}
	sentences := float64(len(sentenceBoundary.FindAllStringIndex(text, -1)))
	paragraphs := float64(strings.Count(text, "\n\n") + 1)

	perSentence := words / max(sentences, 1)
	perParagraph := words / paragraphs

	bonus := 0.0
	if perSentence >= minSentenceWords && perSentence <= maxSentenceWords {
		bonus += 0.3
	}
	if perParagraph >= minParagraphWords && perParagraph <= maxParagraphWords {
		bonus += 0.3
	}
	if paragraphs > 1 {
		bonus += 0.2
	}
	if sentencePunctSign.MatchString(text) {
		bonus += 0.2
	}
	return min(bonus, 1)
}

var descriptiveFields = [][]string{
	{"title"},
	{"author", "authors", "from_email"},
	{"subject"},
	{"description"},
	{"keywords"},
}

// metadataBonus is the share of descriptive fields the flattened metadata
// carries.
func metadataBonus(meta *types.Metadata) float64 {
	raw, err := json.Marshal(meta)
	if err != nil {
		return 0
	}
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(raw, &flat); err != nil {
		return 0
	}
	present := 0
	for _, aliases := range descriptiveFields {
		for _, key := range aliases {
			if v, ok := flat[key]; ok && !emptyJSON(v) {
				present++
				break
			}
		}
	}
	return float64(present) / float64(len(descriptiveFields))
}

func emptyJSON(v json.RawMessage) bool {
	switch strings.TrimSpace(string(v)) {
	case "", "null", `""`, "[]", "{}":
		return true
	}
	return false
}
