// Package fingerprint provides deterministic content keys for chunks and fresh chunk IDs.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

const prefix = "chunk:"

// Chunk returns a stable key for a chunk from the base name of its source file and its text.
// Same file name and content always yield the same key. Used to skip re-adding unchanged chunks.
func Chunk(sourceFile, content string) string {
	h := sha256.New()
	h.Write([]byte(sourceFile))
	h.Write([]byte{0})
	h.Write([]byte(content))
	return prefix + hex.EncodeToString(h.Sum(nil))
}

// NewID returns a fresh random chunk ID.
func NewID() string {
	return uuid.NewString()
}
