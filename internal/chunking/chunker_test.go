package chunking

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/extraction-engine/internal/config"
	"github.com/adverant/nexus/extraction-engine/internal/pages"
	"github.com/adverant/nexus/extraction-engine/internal/types"
)

const sample = "The quick brown fox jumps over the lazy dog. Pack my box with five dozen liquor jugs! " +
	"Sphinx of black quartz, judge my vow? Über größere Flüsse führen Brücken. 日本語のテキストも含まれます。 " +
	"How vexingly quick daft zebras jump.\n\nA new paragraph starts here and keeps going for a while."

func checkInvariants(t *testing.T, content string, chunks []types.Chunk, maxChars, overlap int) {
	t.Helper()
	require.NotEmpty(t, chunks)
	assert.Equal(t, 0, chunks[0].Metadata.ByteStart)
	assert.Equal(t, len(content), chunks[len(chunks)-1].Metadata.ByteEnd)

	for i, ch := range chunks {
		m := ch.Metadata
		assert.Equal(t, i, m.ChunkIndex)
		assert.Equal(t, len(chunks), m.TotalChunks)
		assert.LessOrEqual(t, m.CharCount, maxChars, "chunk %d too long", i)
		assert.Equal(t, utf8.RuneCountInString(ch.Content), m.CharCount)
		assert.Equal(t, content[m.ByteStart:m.ByteEnd], ch.Content)
		assert.True(t, utf8.ValidString(ch.Content))
		if i > 0 {
			prev := chunks[i-1].Metadata
			assert.LessOrEqual(t, m.ByteStart, prev.ByteEnd, "gap before chunk %d", i)
			assert.Greater(t, m.ByteStart, prev.ByteStart)
			shared := 0
			if prev.ByteEnd > m.ByteStart {
				shared = utf8.RuneCountInString(content[m.ByteStart:prev.ByteEnd])
			}
			assert.LessOrEqual(t, shared, overlap, "overlap before chunk %d", i)
		}
	}
	assert.Equal(t, content, Reassemble(content, chunks))
}

func TestChunkInvariantsAcrossStrategies(t *testing.T) {
	content := strings.Repeat(sample+" ", 8)
	for _, strategy := range []string{"characters", "words", "sentences"} {
		for _, window := range [][2]int{{40, 0}, {40, 10}, {100, 30}, {7, 6}} {
			t.Run(strategy, func(t *testing.T) {
				c, err := New(&config.ChunkingConfig{
					MaxChars: window[0], MaxOverlap: window[1], Strategy: strategy, TokenEstimator: "chars",
				})
				require.NoError(t, err)
				checkInvariants(t, content, c.Chunk(content, nil), window[0], window[1])
			})
		}
	}
}

func TestChunkPresetOverridesSizes(t *testing.T) {
	cfg := config.DefaultChunking()
	cfg.Preset = "small"
	c, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, 500, c.MaxChars)
	assert.Equal(t, 100, c.Overlap)
}

func TestChunkRejectsOverlapNotBelowMax(t *testing.T) {
	_, err := New(&config.ChunkingConfig{MaxChars: 10, MaxOverlap: 10, Strategy: "words", TokenEstimator: "chars"})
	assert.Error(t, err)
}

func TestChunkEmptyContent(t *testing.T) {
	c, err := New(nil)
	require.NoError(t, err)
	assert.Empty(t, c.Chunk("", nil))
}

func TestWordStrategyCutsAtWordStarts(t *testing.T) {
	c, err := New(&config.ChunkingConfig{MaxChars: 20, MaxOverlap: 0, Strategy: "words", TokenEstimator: "whitespace"})
	require.NoError(t, err)
	content := "alpha beta gamma delta epsilon zeta eta theta"
	chunks := c.Chunk(content, nil)
	for _, ch := range chunks[1:] {
		assert.NotEqual(t, ' ', rune(ch.Content[0]), "chunk %q starts with a space", ch.Content)
	}
	assert.Equal(t, 3, *chunks[0].Metadata.TokenCount)
}

func TestChunksCarryPages(t *testing.T) {
	b := pages.NewBuilder(types.UnitPage, "\n\n", "")
	for i := 0; i < 3; i++ {
		b.AddPage(strings.Repeat(sample, 3), types.PageInfo{})
	}
	content, ps := b.Build()

	c, err := New(&config.ChunkingConfig{MaxChars: 500, MaxOverlap: 50, Strategy: "words", TokenEstimator: "chars"})
	require.NoError(t, err)
	chunks := c.Chunk(content, ps)
	checkInvariants(t, content, chunks, 500, 50)

	lastFirst := 0
	for _, ch := range chunks {
		require.NotNil(t, ch.Metadata.FirstPage)
		require.NotNil(t, ch.Metadata.LastPage)
		first, last := *ch.Metadata.FirstPage, *ch.Metadata.LastPage
		assert.GreaterOrEqual(t, first, 1)
		assert.LessOrEqual(t, last, 3)
		assert.LessOrEqual(t, first, last)
		assert.GreaterOrEqual(t, first, lastFirst)
		lastFirst = first
	}
	assert.Equal(t, 3, *chunks[len(chunks)-1].Metadata.LastPage)
}
