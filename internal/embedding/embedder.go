// Package embedding turns text into dense vectors. Backends: ONNX Runtime (cgo),
// the OpenAI embeddings API, and a deterministic mock for tests.
package embedding

import (
	"context"
	"strings"
)

// Embedder produces vector embeddings for text. Every vector returned by one Embedder
// has length Dimensions().
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// MockModelName selects the deterministic hash embedder.
const MockModelName = "mock"

var knownDimensions = map[string]int{
	"all-MiniLM-L6-v2":                      384,
	"sentence-transformers/all-MiniLM-L6-v2": 384,
	"all-MiniLM-L12-v2":                     384,
	"all-mpnet-base-v2":                     768,
	"text-embedding-3-small":                1536,
	"text-embedding-3-large":                3072,
	"text-embedding-ada-002":                1536,
}

// KnownDimensions returns the output dimensionality of a known model name.
func KnownDimensions(model string) (int, bool) {
	d, ok := knownDimensions[model]
	return d, ok
}

// IsOpenAIModel reports whether model names an OpenAI embeddings model.
func IsOpenAIModel(model string) bool {
	return strings.HasPrefix(model, "text-embedding-")
}
