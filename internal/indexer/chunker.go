// Package indexer splits documents into chunks and builds persisted vector indexes from a documents directory.
package indexer

import (
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/hikidashi/internal/fingerprint"
	"github.com/hyperjump/hikidashi/internal/models"
)

// Separators tried in order when splitting text. The empty separator splits into characters.
var defaultSeparators = []string{"\n\n", "\n", " ", ""}

// Chunker recursively splits text into chunks of at most chunkSize characters,
// with up to chunkOverlap characters shared between neighbouring chunks.
// Lengths are counted in Unicode code points.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
	separators   []string
}

// NewChunker creates a chunker. Out-of-range arguments are clamped: size to at least 1,
// overlap to [0, size).
func NewChunker(chunkSize, chunkOverlap int) *Chunker {
	if chunkSize < 1 {
		chunkSize = 1
	}
	if chunkOverlap < 0 {
		chunkOverlap = 0
	}
	if chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize - 1
	}
	return &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		separators:   defaultSeparators,
	}
}

// Split chunks every document. Each chunk gets a fresh ID, a copy of its document's
// metadata and the start_index of its text within the document.
func (c *Chunker) Split(docs []models.Document) []*models.Chunk {
	var chunks []*models.Chunk
	for _, doc := range docs {
		texts := c.SplitText(doc.Content)
		if len(texts) == 0 {
			continue
		}
		offsets := runeOffsets(doc.Content)
		index, prevLen := 0, 0
		for _, text := range texts {
			index = findFrom(doc.Content, text, index+prevLen-c.chunkOverlap, offsets)
			prevLen = runeLen(text)

			meta := models.CloneMetadata(doc.Metadata)
			meta[models.MetaStartIndex] = strconv.Itoa(index)
			chunks = append(chunks, &models.Chunk{
				ID:       fingerprint.NewID(),
				Content:  text,
				Metadata: meta,
			})
		}
	}
	return chunks
}

// SplitText returns the chunk texts of text, whitespace-trimmed and non-empty.
func (c *Chunker) SplitText(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return c.split(text, c.separators)
}

func (c *Chunker) split(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var rest []string
	for i, s := range separators {
		if s == "" {
			separator = s
			break
		}
		if strings.Contains(text, s) {
			separator = s
			rest = separators[i+1:]
			break
		}
	}

	var out, good []string
	for _, piece := range splitKeepingSeparator(text, separator) {
		if runeLen(piece) < c.chunkSize {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			out = append(out, c.merge(good)...)
			good = nil
		}
		if len(rest) == 0 {
			if t := strings.TrimSpace(piece); t != "" {
				out = append(out, t)
			}
			continue
		}
		out = append(out, c.split(piece, rest)...)
	}
	if len(good) > 0 {
		out = append(out, c.merge(good)...)
	}
	return out
}

// merge greedily packs pieces into chunks no longer than chunkSize. After each chunk,
// pieces are dropped from the front until the retained tail fits the overlap and the next piece.
func (c *Chunker) merge(pieces []string) []string {
	var out, current []string
	total := 0
	for _, p := range pieces {
		n := runeLen(p)
		if total+n > c.chunkSize && len(current) > 0 {
			if chunk := strings.TrimSpace(strings.Join(current, "")); chunk != "" {
				out = append(out, chunk)
			}
			for total > c.chunkOverlap || (total+n > c.chunkSize && total > 0) {
				total -= runeLen(current[0])
				current = current[1:]
			}
		}
		current = append(current, p)
		total += n
	}
	if chunk := strings.TrimSpace(strings.Join(current, "")); chunk != "" {
		out = append(out, chunk)
	}
	return out
}

// splitKeepingSeparator splits text on sep, prefixing every piece after the first with sep.
// An empty sep splits into characters. Empty pieces are dropped.
func splitKeepingSeparator(text, sep string) []string {
	var pieces []string
	if sep == "" {
		for _, r := range text {
			pieces = append(pieces, string(r))
		}
		return pieces
	}
	for i, part := range strings.Split(text, sep) {
		if i > 0 {
			part = sep + part
		}
		if part != "" {
			pieces = append(pieces, part)
		}
	}
	return pieces
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

// runeOffsets maps rune index to byte offset; the last element is len(s).
func runeOffsets(s string) []int {
	offsets := make([]int, 0, len(s)+1)
	for i := range s {
		offsets = append(offsets, i)
	}
	return append(offsets, len(s))
}

// findFrom returns the rune index of the first occurrence of sub in s at or after rune index from.
// When none is found after from, the search restarts at 0.
func findFrom(s, sub string, from int, offsets []int) int {
	if from < 0 {
		from = 0
	}
	if from >= len(offsets) {
		from = len(offsets) - 1
	}
	start := offsets[from]
	if i := strings.Index(s[start:], sub); i >= 0 {
		return sort.SearchInts(offsets, start+i)
	}
	if i := strings.Index(s, sub); i >= 0 {
		return sort.SearchInts(offsets, i)
	}
	return -1
}
