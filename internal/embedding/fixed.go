package embedding

import (
	"context"
	"fmt"
)

// FixedEmbedder returns preset vectors for known texts and a fallback for everything else.
// It lets tests place chunks and queries at exact points in vector space.
type FixedEmbedder struct {
	dimensions int
	vectors    map[string][]float32
	fallback   []float32
	// Calls counts texts embedded so far.
	Calls int
}

// NewFixedEmbedder returns an embedder of the given dimensions whose unknown texts map to the zero vector.
func NewFixedEmbedder(dimensions int) *FixedEmbedder {
	return &FixedEmbedder{
		dimensions: dimensions,
		vectors:    make(map[string][]float32),
		fallback:   make([]float32, dimensions),
	}
}

// Set assigns vec to text. vec is not validated so tests can produce wrong-length output on purpose.
func (e *FixedEmbedder) Set(text string, vec ...float32) *FixedEmbedder {
	e.vectors[text] = vec
	return e
}

// Embed returns the vector set for text, or the fallback.
func (e *FixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	e.Calls++
	v, ok := e.vectors[text]
	if !ok {
		v = e.fallback
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out, nil
}

// EmbedBatch calls Embed for each text.
func (e *FixedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, e, texts)
}

// Dimensions returns the embedding dimension.
func (e *FixedEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op.
func (e *FixedEmbedder) Close() error {
	return nil
}
