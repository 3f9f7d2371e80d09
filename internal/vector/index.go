// Package vector provides nearest-neighbor index structures over dense float32 vectors.
// Entries are addressed by insertion position; callers keep their own payload per position.
package vector

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrDimensionMismatch is returned when a vector's length differs from the index dimensionality.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrCorrupt is returned when a persisted index cannot be decoded.
	ErrCorrupt = errors.New("corrupt index file")
)

// Metric selects how similarity is scored. Scores are always higher-is-better.
type Metric string

const (
	// MetricCosine scores by inner product of L2-normalized vectors.
	MetricCosine Metric = "cosine"
	// MetricL2 scores by negated squared Euclidean distance.
	MetricL2 Metric = "l2"
)

// ParseMetric validates s as a Metric. Empty means cosine.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case MetricCosine, "":
		return MetricCosine, nil
	case MetricL2:
		return MetricL2, nil
	default:
		return "", fmt.Errorf("unknown metric: %s (supported: cosine, l2)", s)
	}
}

// VectorIndex defines vector storage and similarity search.
type VectorIndex interface {
	// Add appends vectors; the first gets position Size() before the call.
	Add(ctx context.Context, vectors [][]float32) error
	// Search returns up to k hits in descending score order; ties keep insertion order.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Save(path string) error
	// Load replaces the contents with the index at path. Dimensions and metric must match.
	Load(path string) error
	Size() int
	Dimensions() int
	Metric() Metric
	Type() string
	Close() error
}

// VectorResult is a single vector search hit.
type VectorResult struct {
	Position int
	Score    float64
}

func checkDims(got, want int) error {
	if got != want {
		return fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, got, want)
	}
	return nil
}
