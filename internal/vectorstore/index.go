package vectorstore

import (
	"github.com/hyperjump/hikidashi/internal/models"
	"github.com/hyperjump/hikidashi/internal/storage"
	"github.com/hyperjump/hikidashi/internal/vector"
)

// Index is a loaded or freshly built index: a vector structure plus the chunk stored at each position.
// Not safe for concurrent mutation.
type Index struct {
	structure    vector.VectorIndex
	chunks       []*models.Chunk
	fingerprints []string
	fpSet        map[string]struct{}
	info         storage.IndexInfo
}

func (i *Index) append(c *models.Chunk, fp string) {
	i.chunks = append(i.chunks, c)
	i.fingerprints = append(i.fingerprints, fp)
	i.fpSet[fp] = struct{}{}
}

// Size returns the number of entries.
func (i *Index) Size() int {
	return len(i.chunks)
}

// Dimensions returns the vector dimensionality.
func (i *Index) Dimensions() int {
	return i.structure.Dimensions()
}

// Info returns the metadata recorded at the last save or load.
func (i *Index) Info() storage.IndexInfo {
	return i.info
}

// Has reports whether a chunk with fingerprint fp is in the index.
func (i *Index) Has(fp string) bool {
	_, ok := i.fpSet[fp]
	return ok
}

// Chunk returns the chunk at position pos, or nil if out of range.
func (i *Index) Chunk(pos int) *models.Chunk {
	if pos < 0 || pos >= len(i.chunks) {
		return nil
	}
	return i.chunks[pos]
}

// Close releases the underlying structure.
func (i *Index) Close() error {
	return i.structure.Close()
}
