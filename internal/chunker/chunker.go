// Package chunker splits documents into overlapping, size-bounded chunks that
// break at markdown structure before falling back to sentences and words.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"knowledge-rag/internal/models"
)

// a break is not taken before a quarter of the window is filled
const minFillDivisor = 4

var techPattern = regexp.MustCompile(`(?i)\b(cardano-cli|cardano-node|cardano|aiken|plutus|midnight|compact|marlowe|ogmios|kupo|blockfrost|lucid|mesh|hydra|mithril)\b`)

// Chunker holds the size configuration. Sizes are measured in runes.
type Chunker struct {
	maxSize int
	overlap int
}

func New(maxSize, overlap int) (*Chunker, error) {
	if maxSize <= 0 {
		return nil, errors.New("chunker: size must be greater than zero")
	}
	if overlap < 0 {
		return nil, errors.New("chunker: overlap cannot be negative")
	}
	if overlap >= maxSize {
		return nil, fmt.Errorf("chunker: overlap %d must be smaller than size %d", overlap, maxSize)
	}
	return &Chunker{maxSize: maxSize, overlap: overlap}, nil
}

func (c *Chunker) MaxSize() int { return c.maxSize }
func (c *Chunker) Overlap() int { return c.overlap }

// Split cuts doc.Text into chunks. Every chunk after the first repeats the last
// overlap runes of the text before it, less when a code block needs the room;
// dropping that prefix and concatenating gives back doc.Text exactly.
func (c *Chunker) Split(doc models.Document) []models.Chunk {
	src := doc.Text
	if strings.TrimSpace(src) == "" {
		return nil
	}
	st := analyze(src)

	var chunks []models.Chunk
	seen := make(map[string]int)
	pos := 0
	for pos < len(src) {
		ovStart := backRunes(src, pos, c.overlap)
		ovRunes := utf8.RuneCountInString(src[ovStart:pos])
		end := c.nextBreak(src, pos, c.maxSize-ovRunes, st)
		if unit := utf8.RuneCountInString(src[pos:end]); ovRunes+unit > c.maxSize {
			// only a code block gets here: shorten the overlap so the block
			// fits, or drop it when the block alone is over the limit
			ovStart = backRunes(src, pos, max(c.maxSize-unit, 0))
		}

		text := src[ovStart:end]
		size := utf8.RuneCountInString(text)
		techs := technologies(text)
		occurrence := seen[text]
		seen[text]++
		chunks = append(chunks, models.Chunk{
			ID:           chunkID(doc.ID, text, occurrence),
			ContentHash:  hashText(text),
			DocumentID:   doc.ID,
			Index:        len(chunks),
			Text:         text,
			Start:        pos,
			End:          end,
			Overlap:      pos - ovStart,
			Size:         size,
			HasCode:      st.touchesBlock(ovStart, end) || strings.Contains(text, "```"),
			MentionsTech: len(techs) > 0,
			Technologies: techs,
			Oversized:    size > c.maxSize,
		})
		pos = end
	}
	return chunks
}

// nextBreak picks where the chunk starting at pos ends.
func (c *Chunker) nextBreak(src string, pos, budget int, st structure) int {
	limit := forwardRunes(src, pos, budget)
	if limit >= len(src) {
		return len(src)
	}
	lo := forwardRunes(src, pos, budget/minFillDivisor)
	if blk, ok := st.blockAt(limit); ok {
		if blk.start <= pos {
			// a code block is never cut; it becomes one oversized chunk
			return blk.end
		}
		limit = blk.start
		lo = pos + 1
	}
	if lo <= pos {
		lo = pos + 1
	}
	if lo > limit {
		return limit
	}

	levels := []func(b int) bool{
		func(b int) bool { return st.headings[b] },
		func(b int) bool { return isParagraphBreak(src, b) },
		func(b int) bool { return src[b-1] == '\n' },
		func(b int) bool { return isSentenceBreak(src, b) },
		func(b int) bool { return src[b-1] == ' ' || src[b-1] == '\t' },
	}
	for _, accept := range levels {
		for b := limit; b >= lo; b-- {
			if accept(b) && !st.inside(b) {
				return b
			}
		}
	}
	return limit
}

// Reassemble rebuilds the document text from its chunks in order.
func Reassemble(chunks []models.Chunk) string {
	var b strings.Builder
	for _, ch := range chunks {
		b.WriteString(ch.Text[ch.Overlap:])
	}
	return b.String()
}

func isParagraphBreak(src string, b int) bool {
	if b < 2 || src[b-1] != '\n' {
		return false
	}
	if src[b-2] == '\n' {
		return true
	}
	return b >= 3 && src[b-2] == '\r' && src[b-3] == '\n'
}

func isSentenceBreak(src string, b int) bool {
	if b < 2 {
		return false
	}
	switch src[b-1] {
	case ' ', '\t', '\n':
	default:
		return false
	}
	switch src[b-2] {
	case '.', '!', '?':
		return true
	}
	return false
}

func forwardRunes(s string, pos, n int) int {
	i := pos
	for k := 0; k < n && i < len(s); k++ {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return i
}

func backRunes(s string, pos, n int) int {
	i := pos
	for k := 0; k < n && i > 0; k++ {
		_, size := utf8.DecodeLastRuneInString(s[:i])
		i -= size
	}
	return i
}

func technologies(text string) []string {
	matches := techPattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		name := strings.ToLower(m)
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// chunkID is derived from the text and how many earlier chunks of the same
// document carry the identical text, so repeats get distinct ids while an edit
// elsewhere in the document leaves them unchanged.
func chunkID(documentID, text string, occurrence int) string {
	if occurrence == 0 {
		return hashText(documentID + "\x00" + text)
	}
	return hashText(documentID + "\x00" + text + "\x00" + strconv.Itoa(occurrence))
}

func hashText(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:16])
}

// HashText is the content hash used for chunk ids and cache keys.
func HashText(input string) string { return hashText(input) }
