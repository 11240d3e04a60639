package ingest

import (
	"strings"
	"unicode/utf8"
)

// Default chunking parameters, in characters.
const (
	DefaultChunkSize    = 1500
	DefaultChunkOverlap = 200
)

// Chunker splits text into overlapping windows on paragraph and word
// boundaries. Sizes are measured in runes.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a chunker. Out-of-range values fall back to the
// defaults; overlap is kept below size.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 2
	}
	return &Chunker{size: size, overlap: overlap}
}

// piece is a word and the separator that precedes it.
type piece struct {
	sep  string
	word string
}

// Split returns the chunks of text. Blank text yields no chunks.
func (c *Chunker) Split(text string) []string {
	pieces := c.pieces(text)
	if len(pieces) == 0 {
		return nil
	}

	var chunks []string
	var cur []piece
	for _, p := range pieces {
		if len(cur) > 0 && grown(cur, p) > c.size {
			chunks = append(chunks, render(cur))
			cur = c.tail(cur)
			for len(cur) > 0 && grown(cur, p) > c.size {
				cur = cur[1:]
			}
		}
		cur = append(cur, p)
	}
	if len(cur) > 0 {
		chunks = append(chunks, render(cur))
	}
	return chunks
}

// pieces flattens text into words, keeping paragraph breaks as the
// separator of the first word in each paragraph. Words longer than the
// chunk size are cut into size-rune fragments.
func (c *Chunker) pieces(text string) []piece {
	var out []piece
	for _, para := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		words := strings.Fields(para)
		for i, w := range words {
			sep := " "
			if i == 0 {
				sep = "\n\n"
			}
			for _, frag := range c.fragments(w) {
				out = append(out, piece{sep: sep, word: frag})
				sep = ""
			}
		}
	}
	return out
}

func (c *Chunker) fragments(word string) []string {
	if utf8.RuneCountInString(word) <= c.size {
		return []string{word}
	}
	runes := []rune(word)
	var out []string
	for len(runes) > 0 {
		n := min(c.size, len(runes))
		out = append(out, string(runes[:n]))
		runes = runes[n:]
	}
	return out
}

// tail returns the trailing pieces of cur that fit in the overlap. It
// never returns all of cur.
func (c *Chunker) tail(cur []piece) []piece {
	total := 0
	start := len(cur)
	for i := len(cur) - 1; i > 0; i-- {
		n := utf8.RuneCountInString(cur[i].word)
		if i < len(cur)-1 {
			n += utf8.RuneCountInString(cur[i+1].sep)
		}
		if total+n > c.overlap {
			break
		}
		total += n
		start = i
	}
	return append([]piece(nil), cur[start:]...)
}

func length(ps []piece) int {
	n := 0
	for i, p := range ps {
		if i > 0 {
			n += utf8.RuneCountInString(p.sep)
		}
		n += utf8.RuneCountInString(p.word)
	}
	return n
}

// grown is the length of cur after appending p.
func grown(cur []piece, p piece) int {
	n := length(cur) + utf8.RuneCountInString(p.word)
	if len(cur) > 0 {
		n += utf8.RuneCountInString(p.sep)
	}
	return n
}

func render(ps []piece) string {
	var b strings.Builder
	for i, p := range ps {
		if i > 0 {
			b.WriteString(p.sep)
		}
		b.WriteString(p.word)
	}
	return b.String()
}
