package vector

import "fmt"

// IndexType represents the type of vector index to use.
type IndexType string

const (
	// IndexTypeFlat uses in-memory brute-force search persisted to a .vec file.
	IndexTypeFlat IndexType = "flat"
	// IndexTypeFAISS uses a FAISS flat index persisted in FAISS's own format.
	// Requires FAISS library and build tag -tags=faiss.
	IndexTypeFAISS IndexType = "faiss"
)

// NewVectorIndex creates a vector index of the specified type.
// Supported types: "flat" (default), "faiss".
func NewVectorIndex(indexType string, dimensions int, metric Metric) (VectorIndex, error) {
	switch IndexType(indexType) {
	case IndexTypeFlat, "":
		return NewMemoryIndex(dimensions, metric)
	case IndexTypeFAISS:
		return NewFAISSIndex(dimensions, metric)
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: flat, faiss)", indexType)
	}
}

// FileExtension returns the file extension of the structure file for indexType.
func FileExtension(indexType string) string {
	if IndexType(indexType) == IndexTypeFAISS {
		return ".faiss"
	}
	return ".vec"
}

// IsFAISSAvailable returns true if FAISS support is compiled in.
// This is determined by the build tag -tags=faiss.
func IsFAISSAvailable() bool {
	idx, err := NewFAISSIndex(1, MetricCosine)
	if err != nil {
		return false
	}
	_ = idx.Close()
	return true
}
