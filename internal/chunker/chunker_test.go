package chunker

import (
	"math/rand"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowledge-rag/internal/models"
)

func doc(id, text string) models.Document {
	return models.Document{ID: id, Text: text}
}

// assertChunkInvariants checks coverage, size bound, contiguity and overlap.
func assertChunkInvariants(t *testing.T, c *Chunker, text string, chunks []models.Chunk) {
	t.Helper()
	assert.Equal(t, text, Reassemble(chunks))
	prevEnd := 0
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
		assert.Equal(t, prevEnd, ch.Start, "chunk %d must start where the previous ended", i)
		assert.Greater(t, ch.End, ch.Start)
		assert.Equal(t, text[ch.Start-ch.Overlap:ch.End], ch.Text)
		assert.Equal(t, utf8.RuneCountInString(ch.Text), ch.Size)
		if ch.Oversized {
			assert.True(t, ch.HasCode, "only code blocks may exceed the limit")
		} else {
			assert.LessOrEqual(t, ch.Size, c.MaxSize())
		}
		want := min(c.Overlap(), utf8.RuneCountInString(text[:ch.Start]))
		got := utf8.RuneCountInString(ch.Text[:ch.Overlap])
		if got < want {
			// a code block took the room of the overlap
			assert.True(t, ch.HasCode, "chunk %d overlap shortened without code", i)
			assert.True(t, ch.Size == c.MaxSize() || (ch.Oversized && got == 0), "chunk %d overlap %d size %d", i, got, ch.Size)
		} else {
			assert.Equal(t, want, got, "chunk %d overlap", i)
		}
		prevEnd = ch.End
	}
	assert.Equal(t, len(text), prevEnd)
}

func TestNew(t *testing.T) {
	t.Run("Should reject invalid sizes", func(t *testing.T) {
		_, err := New(0, 0)
		require.Error(t, err)
		_, err = New(100, -1)
		require.Error(t, err)
		_, err = New(100, 100)
		require.Error(t, err)
	})
}

func TestSplitCorpusScenario(t *testing.T) {
	c, err := New(1000, 200)
	require.NoError(t, err)

	t.Run("Should return one chunk for short document", func(t *testing.T) {
		text := strings.Repeat("a", 500)
		chunks := c.Split(doc("a.md", text))
		require.Len(t, chunks, 1)
		assert.Equal(t, text, chunks[0].Text)
		assert.Equal(t, 0, chunks[0].Overlap)
	})

	t.Run("Should return three overlapping chunks", func(t *testing.T) {
		text := strings.Repeat("abcd ", 500)
		require.Len(t, text, 2500)
		chunks := c.Split(doc("b.md", text))
		require.Len(t, chunks, 3)
		assertChunkInvariants(t, c, text, chunks)
		assert.Equal(t, 200, chunks[1].Overlap)
		assert.Equal(t, 200, chunks[2].Overlap)
	})

	t.Run("Should return no chunks for empty document", func(t *testing.T) {
		assert.Empty(t, c.Split(doc("c.md", "")))
		assert.Empty(t, c.Split(doc("c.md", " \n\t\n")))
	})
}

func TestSplitBreakPriority(t *testing.T) {
	t.Run("Should prefer heading boundary", func(t *testing.T) {
		c, err := New(1000, 100)
		require.NoError(t, err)
		text := "# Intro\n\n" + strings.Repeat("Plutus scripts validate. ", 24) +
			"\n\n## Datum\n\n" + strings.Repeat("Datum carries state. ", 40)
		chunks := c.Split(doc("d.md", text))
		require.Len(t, chunks, 2)
		assertChunkInvariants(t, c, text, chunks)
		assert.True(t, strings.HasPrefix(chunks[1].Text[chunks[1].Overlap:], "## Datum"))
	})

	t.Run("Should prefer paragraph over sentence", func(t *testing.T) {
		c, err := New(200, 20)
		require.NoError(t, err)
		text := strings.Repeat("One. ", 20) + "\n\n" + strings.Repeat("Two. ", 40)
		chunks := c.Split(doc("p.md", text))
		require.GreaterOrEqual(t, len(chunks), 2)
		assertChunkInvariants(t, c, text, chunks)
		assert.True(t, strings.HasSuffix(chunks[0].Text, "\n\n"))
	})

	t.Run("Should break at sentence before word", func(t *testing.T) {
		c, err := New(100, 10)
		require.NoError(t, err)
		text := strings.Repeat("Aiken compiles to UPLC. ", 10)
		chunks := c.Split(doc("s.md", text))
		assertChunkInvariants(t, c, text, chunks)
		for _, ch := range chunks[:len(chunks)-1] {
			assert.True(t, strings.HasSuffix(ch.Text, ". "), "got %q", ch.Text)
		}
	})

	t.Run("Should fall back to raw runes without boundaries", func(t *testing.T) {
		c, err := New(1000, 100)
		require.NoError(t, err)
		text := strings.Repeat("é", 2500)
		chunks := c.Split(doc("u.md", text))
		assertChunkInvariants(t, c, text, chunks)
		assert.Equal(t, 1000, chunks[0].Size)
	})
}

func TestSplitCodeBlocks(t *testing.T) {
	c, err := New(1000, 50)
	require.NoError(t, err)
	block := "```aiken\n" + strings.Repeat("let x = 1\n", 150) + "```\n"
	text := "# Example\n\nIntro sentence. \n\n" + block + "\nAfter the code.\n"
	blockStart := strings.Index(text, "```aiken")
	blockEnd := blockStart + len(block)

	chunks := c.Split(doc("code.md", text))
	assertChunkInvariants(t, c, text, chunks)

	t.Run("Should keep long block intact", func(t *testing.T) {
		var holder *models.Chunk
		for i := range chunks {
			if strings.Contains(chunks[i].Text, block) {
				holder = &chunks[i]
			}
		}
		require.NotNil(t, holder)
		assert.True(t, holder.Oversized)
		assert.True(t, holder.HasCode)
		assert.Greater(t, holder.Size, 1000)
	})

	t.Run("Should never end inside block", func(t *testing.T) {
		for _, ch := range chunks {
			assert.False(t, blockStart < ch.End && ch.End < blockEnd, "chunk ends at %d inside block", ch.End)
		}
	})

	t.Run("Should shorten the overlap so a fitting block stays within the limit", func(t *testing.T) {
		c, err := New(100, 50)
		require.NoError(t, err)
		block := "```\n" + strings.Repeat("let x = 1\n", 7) + "```\n"
		text := strings.Repeat("Datum. ", 8) + "\n\n" + block + "Done.\n"

		chunks := c.Split(doc("fit.md", text))
		assertChunkInvariants(t, c, text, chunks)
		var holder *models.Chunk
		for i := range chunks {
			if strings.Contains(chunks[i].Text, block) {
				holder = &chunks[i]
			}
		}
		require.NotNil(t, holder)
		assert.False(t, holder.Oversized)
		assert.Equal(t, 100, holder.Size)
		assert.Equal(t, 100-utf8.RuneCountInString(block), holder.Overlap)
	})

	t.Run("Should drop the overlap before an oversized block", func(t *testing.T) {
		for _, ch := range chunks {
			if ch.Oversized {
				assert.Zero(t, ch.Overlap)
				assert.Equal(t, block, ch.Text)
			}
		}
	})

	t.Run("Should not treat comments in code as headings", func(t *testing.T) {
		st := analyze("```sh\n# not a heading\n```\n# Real\n")
		assert.Len(t, st.headings, 1)
		assert.True(t, st.headings[strings.Index("```sh\n# not a heading\n```\n# Real\n", "# Real")])
		require.Len(t, st.blocks, 1)
		assert.Equal(t, span{start: 0, end: 26}, st.blocks[0])
	})
}

func TestSplitCoverageProperty(t *testing.T) {
	fragments := []string{
		"# Heading\n", "## Sub heading\n", "\n", "\n\n", "Validators check datums. ",
		"Redeemers select the branch! ", "Is the UTxO spent? ", "word ", "ünïcødé ",
		"```aiken\nvalidator spend {\n  True\n}\n```\n", "\r\n", "- list item\n",
		"    indented code\n", strings.Repeat("x", 120), "Ogmios and Kupo index the chain. ",
	}
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 200; round++ {
		var b strings.Builder
		for n := rng.Intn(80); n >= 0; n-- {
			b.WriteString(fragments[rng.Intn(len(fragments))])
		}
		text := b.String()
		size := 40 + rng.Intn(400)
		c, err := New(size, rng.Intn(size/2))
		require.NoError(t, err)
		chunks := c.Split(doc("prop.md", text))
		if strings.TrimSpace(text) == "" {
			assert.Empty(t, chunks)
			continue
		}
		assertChunkInvariants(t, c, text, chunks)
	}
}

func TestSplitIdentity(t *testing.T) {
	c, err := New(300, 30)
	require.NoError(t, err)
	text := strings.Repeat("Aiken validators run on Cardano. ", 30)

	t.Run("Should produce stable IDs", func(t *testing.T) {
		first := c.Split(doc("a.md", text))
		second := c.Split(doc("a.md", text))
		require.Equal(t, len(first), len(second))
		for i := range first {
			assert.Equal(t, first[i].ID, second[i].ID)
			assert.Equal(t, first[i].ContentHash, HashText(first[i].Text))
		}
	})

	t.Run("Should scope IDs to document", func(t *testing.T) {
		a := c.Split(doc("a.md", text))
		b := c.Split(doc("b.md", text))
		assert.NotEqual(t, a[0].ID, b[0].ID)
		assert.Equal(t, a[0].ContentHash, b[0].ContentHash)
	})

	t.Run("Should give repeated text distinct IDs", func(t *testing.T) {
		c, err := New(1000, 200)
		require.NoError(t, err)
		chunks := c.Split(doc("b.md", strings.Repeat("abcd ", 500)))
		require.Len(t, chunks, 3)
		require.Equal(t, chunks[0].Text, chunks[1].Text)
		assert.Equal(t, chunks[0].ContentHash, chunks[1].ContentHash)
		assert.NotEqual(t, chunks[0].ID, chunks[1].ID)
		assert.NotEqual(t, chunks[1].ID, chunks[2].ID)
	})

	t.Run("Should keep IDs of unchanged chunks when the document grows", func(t *testing.T) {
		before := c.Split(doc("a.md", text))
		after := c.Split(doc("a.md", text+"\n\n"+strings.Repeat("Mithril signs snapshots. ", 20)))
		require.Greater(t, len(after), 1)
		assert.Equal(t, before[0].ID, after[0].ID)
	})

	t.Run("Should flag technologies", func(t *testing.T) {
		chunks := c.Split(doc("a.md", "Deploy with cardano-cli, query Blockfrost and Cardano."))
		require.Len(t, chunks, 1)
		assert.True(t, chunks[0].MentionsTech)
		assert.Equal(t, []string{"cardano-cli", "blockfrost", "cardano"}, chunks[0].Technologies)
		assert.False(t, chunks[0].HasCode)
	})
}
