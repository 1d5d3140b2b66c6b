package ingest

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func narrative(s string) Element { return Element{Category: CategoryNarrative, Text: s, Page: 1} }
func title(s string) Element     { return Element{Category: CategoryTitle, Text: s, Page: 1} }

func TestChunkByTitle_CombinesSmallSections(t *testing.T) {
	els := []Element{title("A"), narrative("short"), title("B"), narrative("also short")}
	out := ChunkByTitle(els, ChunkingOptions{MaxCharacters: 100, NewAfterNChars: 80, CombineTextUnderNChars: 50})
	require.Len(t, out, 1)
	assert.Equal(t, CategoryComposite, out[0].Category)
	assert.Equal(t, "A\n\nshort\n\nB\n\nalso short", out[0].Text)
}

func TestChunkByTitle_TitleStartsNewChunk(t *testing.T) {
	body := strings.Repeat("x", 30)
	els := []Element{title("A"), narrative(body), title("B"), narrative(body)}
	out := ChunkByTitle(els, ChunkingOptions{MaxCharacters: 100, NewAfterNChars: 100, CombineTextUnderNChars: 10})
	require.Len(t, out, 2)
	assert.True(t, strings.HasPrefix(out[0].Text, "A"))
	assert.True(t, strings.HasPrefix(out[1].Text, "B"))
}

func TestChunkByTitle_TablesAndImagesPassThrough(t *testing.T) {
	els := []Element{
		narrative("before"),
		{Category: CategoryTable, Text: "a\tb", Page: 1},
		narrative("after"),
		{Category: CategoryImage, Page: 2},
	}
	out := ChunkByTitle(els, DefaultChunking())
	require.Len(t, out, 4)
	assert.Equal(t, []string{CategoryNarrative, CategoryTable, CategoryNarrative, CategoryImage},
		[]string{out[0].Category, out[1].Category, out[2].Category, out[3].Category})
}

func TestChunkByTitle_OversizedElementIsSplit(t *testing.T) {
	long := strings.Repeat("abcdefghij", 25)
	out := ChunkByTitle([]Element{narrative(long)}, ChunkingOptions{MaxCharacters: 100})
	require.Len(t, out, 3)
	for _, el := range out {
		assert.LessOrEqual(t, utf8.RuneCountInString(el.Text), 100)
	}
	assert.Equal(t, long, out[0].Text+out[1].Text+out[2].Text)
}

func TestChunkByTitle_RespectsMaxCharacters(t *testing.T) {
	var els []Element
	for i := 0; i < 20; i++ {
		els = append(els, narrative(strings.Repeat("w", 40)))
	}
	out := ChunkByTitle(els, ChunkingOptions{MaxCharacters: 100, NewAfterNChars: 60})
	require.NotEmpty(t, out)
	for _, el := range out {
		assert.LessOrEqual(t, utf8.RuneCountInString(el.Text), 100)
	}
}

func TestChunkByTitle_SkipsBlank(t *testing.T) {
	assert.Empty(t, ChunkByTitle([]Element{narrative("  "), narrative("")}, DefaultChunking()))
}
