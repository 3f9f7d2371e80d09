package embedding

import (
	"fmt"
	"os"

	"github.com/hyperjump/hikidashi/internal/config"
	"go.uber.org/zap"
)

// New returns the Embedder selected by cfg.EmbeddingModelName:
// "mock" gives the deterministic hash embedder, "text-embedding-*" the OpenAI API,
// and any other name the ONNX model at cfg.ONNX.ModelPath. There is no fallback between backends.
func New(cfg *config.Config, logger *zap.Logger) (Embedder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	model := cfg.EmbeddingModelName

	switch {
	case model == MockModelName:
		e := NewMockEmbedder(cfg.EmbeddingDimensions)
		logger.Info("embedder ready", zap.String("backend", "mock"), zap.Int("dimensions", e.Dimensions()))
		return e, nil

	case IsOpenAIModel(model):
		apiKey := os.Getenv(cfg.OpenAI.APIKeyEnv)
		if apiKey == "" {
			return nil, fmt.Errorf("embedding model %q needs an API key in $%s", model, cfg.OpenAI.APIKeyEnv)
		}
		e, err := NewOpenAIEmbedder(OpenAIOptions{
			APIKey:     apiKey,
			BaseURL:    cfg.OpenAI.BaseURL,
			Model:      model,
			Dimensions: cfg.EmbeddingDimensions,
			BatchSize:  cfg.OpenAI.BatchSize,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("embedder ready",
			zap.String("backend", "openai"),
			zap.String("model", model),
			zap.Int("dimensions", e.Dimensions()))
		return e, nil

	default:
		dims := cfg.EmbeddingDimensions
		if dims == 0 {
			known, ok := KnownDimensions(model)
			if !ok {
				return nil, fmt.Errorf("unknown embedding model %q; set embedding_dimensions", model)
			}
			dims = known
		}
		if _, err := os.Stat(cfg.ONNX.ModelPath); err != nil {
			return nil, fmt.Errorf("onnx model for %q: %w", model, err)
		}
		e, err := NewONNXEmbedder(cfg.ONNX.ModelPath, dims, cfg.ONNX.MaxTokens)
		if err != nil {
			return nil, fmt.Errorf("embedding model %q: %w", model, err)
		}
		logger.Info("embedder ready",
			zap.String("backend", "onnx"),
			zap.String("model", model),
			zap.String("path", cfg.ONNX.ModelPath),
			zap.Int("dimensions", dims))
		return NewCachedEmbedder(e, cfg.ONNX.CacheSize), nil
	}
}
