// Package search retrieves the chunks nearest to a query from a persisted index.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/hikidashi/internal/embedding"
	"github.com/hyperjump/hikidashi/internal/models"
	"github.com/hyperjump/hikidashi/internal/vectorstore"
	"github.com/hyperjump/hikidashi/pkg/utils"
)

// DefaultK is used when neither the caller nor the configuration sets a result count.
const DefaultK = 10

// Retriever answers nearest-neighbour queries against the index named indexName in indexDir.
// The index is read from disk on every call, so a concurrent rebuild is picked up by the next query.
type Retriever struct {
	embedder  embedding.Embedder
	store     *vectorstore.Store
	indexDir  string
	indexName string
	defaultK  int
	logger    *zap.Logger
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Retriever) { r.logger = utils.OrNop(l) }
}

// NewRetriever creates a Retriever. embedder must be configured as it was when the index was built.
func NewRetriever(
	embedder embedding.Embedder,
	store *vectorstore.Store,
	indexDir, indexName string,
	defaultK int,
	opts ...Option,
) *Retriever {
	if defaultK < 1 {
		defaultK = DefaultK
	}
	r := &Retriever{
		embedder:  embedder,
		store:     store,
		indexDir:  indexDir,
		indexName: indexName,
		defaultK:  defaultK,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve returns up to k chunks most similar to query, best first. k == 0 means the default.
// A query that is empty or only whitespace fails with ErrEmptyQuery before anything is embedded.
// On error the returned slice is empty and non-nil.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]*models.SearchResult, error) {
	startTime := time.Now()
	none := []*models.SearchResult{}

	k, err := processQuery(query, k, r.defaultK)
	if err != nil {
		return none, err
	}

	idx, err := r.store.Load(ctx, r.indexDir, r.indexName)
	if err != nil {
		if errors.Is(err, vectorstore.ErrIndexNotFound) {
			r.logger.Error("Index not found; run a build first",
				zap.String("index_directory", r.indexDir),
				zap.String("index_name", r.indexName))
		} else {
			r.logger.Error("Failed to load index", zap.Error(err))
		}
		return none, err
	}
	defer idx.Close()

	if idx.Dimensions() != r.embedder.Dimensions() {
		err := fmt.Errorf("%w: index has %d dimensions, embedder produces %d",
			vectorstore.ErrDimensionMismatch, idx.Dimensions(), r.embedder.Dimensions())
		r.logger.Error("Index and embedder disagree; rebuild the index or change the embedding model", zap.Error(err))
		return none, err
	}

	queryEmbedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		r.logger.Error("Failed to embed query", zap.Error(err))
		return none, fmt.Errorf("embedding failed: %w", err)
	}

	results, err := r.store.Search(ctx, idx, queryEmbedding, k)
	if err != nil {
		r.logger.Error("Vector search failed", zap.Error(err))
		return none, fmt.Errorf("vector search failed: %w", err)
	}

	r.logger.Debug("Retrieved chunks",
		zap.String("query", utils.Truncate(query, 80)),
		zap.Int("k", k),
		zap.Int("results", len(results)),
		zap.Int("index_size", idx.Size()),
		zap.Duration("duration", time.Since(startTime)))
	return results, nil
}
