// Package pipeline wires the retrieval components from a Config.
package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/hikidashi/internal/config"
	"github.com/hyperjump/hikidashi/internal/embedding"
	"github.com/hyperjump/hikidashi/internal/extract"
	"github.com/hyperjump/hikidashi/internal/indexer"
	"github.com/hyperjump/hikidashi/internal/models"
	"github.com/hyperjump/hikidashi/internal/prompt"
	"github.com/hyperjump/hikidashi/internal/search"
	"github.com/hyperjump/hikidashi/internal/vector"
	"github.com/hyperjump/hikidashi/internal/vectorstore"
	"github.com/hyperjump/hikidashi/pkg/utils"
)

// Pipeline holds initialized components sharing one embedder and one store.
type Pipeline struct {
	Config    *config.Config
	Embedder  embedding.Embedder
	Store     *vectorstore.Store
	Builder   *indexer.Builder
	Retriever *search.Retriever
	Augmenter *prompt.Augmenter
	logger    *zap.Logger
}

// Load reads the config file at path and builds a Pipeline that logs through
// a development logger when debug is set and a production logger otherwise.
func Load(path string) (*Pipeline, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	p, err := New(cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return p, nil
}

// New builds a Pipeline from cfg. A nil logger disables logging.
func New(cfg *config.Config, logger *zap.Logger) (*Pipeline, error) {
	logger = utils.OrNop(logger)
	if cfg.IndexBackend == config.BackendFAISS && !vector.IsFAISSAvailable() {
		return nil, fmt.Errorf("index_backend %q requires a build with -tags=faiss", cfg.IndexBackend)
	}

	embedder, err := embedding.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	store, err := vectorstore.NewStore(cfg.IndexBackend, cfg.IndexMetric, cfg.EmbeddingModelName,
		vectorstore.WithLogger(logger))
	if err != nil {
		_ = embedder.Close()
		return nil, fmt.Errorf("failed to initialize index store: %w", err)
	}

	builder := indexer.NewBuilder(
		extract.NewRegistry(),
		indexer.NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		embedder,
		store,
		indexer.WithLogger(logger),
		indexer.WithDedup(cfg.Dedup),
	)
	retriever := search.NewRetriever(embedder, store, cfg.IndexDirectory, cfg.IndexName, cfg.DefaultK,
		search.WithLogger(logger))

	logger.Info("Pipeline initialized",
		zap.String("embedding_model", cfg.EmbeddingModelName),
		zap.Int("dimensions", embedder.Dimensions()),
		zap.String("index_backend", cfg.IndexBackend),
		zap.String("index_metric", cfg.IndexMetric))

	return &Pipeline{
		Config:    cfg,
		Embedder:  embedder,
		Store:     store,
		Builder:   builder,
		Retriever: retriever,
		Augmenter: prompt.NewAugmenter(retriever, prompt.WithLogger(logger)),
		logger:    logger,
	}, nil
}

// Build indexes the configured documents directory into the configured index.
func (p *Pipeline) Build(ctx context.Context) (*indexer.BuildReport, error) {
	return p.Builder.Build(ctx, p.Config.DocumentsDirectory, p.Config.IndexDirectory, p.Config.IndexName)
}

// Retrieve returns up to k chunks for query; k == 0 means default_k.
func (p *Pipeline) Retrieve(ctx context.Context, query string, k int) ([]*models.SearchResult, error) {
	return p.Retriever.Retrieve(ctx, query, k)
}

// Augment returns question wrapped with up to k retrieved chunks.
func (p *Pipeline) Augment(ctx context.Context, question string, k int) (string, error) {
	return p.Augmenter.Augment(ctx, question, k)
}

// Close releases the embedder and flushes the logger.
func (p *Pipeline) Close() error {
	defer func() { _ = p.logger.Sync() }()
	if p.Embedder != nil {
		return p.Embedder.Close()
	}
	return nil
}
