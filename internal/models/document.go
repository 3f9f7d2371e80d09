// Package models defines core data structures for documents, chunks, and retrieval results.
package models

import "strconv"

// Metadata keys set by loaders, the chunker, and the builder.
const (
	MetaSourceFile  = "source_file"
	MetaSource      = "source"
	MetaStartIndex  = "start_index"
	MetaPage        = "page"
	MetaSheet       = "sheet"
	MetaRow         = "row"
	MetaFingerprint = "fingerprint"
)

// Document is the text extracted from one source file (or one page, sheet, or row of it).
type Document struct {
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
}

// Chunk is a bounded-length slice of a Document's content that carries a copy of
// the parent's metadata plus its start offset.
type Chunk struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
}

// SourceFile returns the base name of the file the chunk came from, or "" if unknown.
func (c *Chunk) SourceFile() string {
	if c == nil || c.Metadata == nil {
		return ""
	}
	return c.Metadata[MetaSourceFile]
}

// StartIndex returns the chunk's character offset in its parent document, or -1 if unknown.
func (c *Chunk) StartIndex() int {
	if c == nil || c.Metadata == nil {
		return -1
	}
	v, ok := c.Metadata[MetaStartIndex]
	if !ok {
		return -1
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return -1
	}
	return n
}

// CloneMetadata returns a shallow copy of m. A nil map yields an empty map.
func CloneMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}
