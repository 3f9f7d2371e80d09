package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"
)

// DefaultOpenAIBatchSize balances requests-per-minute vs tokens-per-minute rate limits.
// OpenAI supports up to 2048 texts per batch, but smaller batches reduce TPM pressure.
const DefaultOpenAIBatchSize = 500

// OpenAIEmbedder calls the OpenAI embeddings API. Requests are batched and retried
// with exponential backoff on rate limit errors.
type OpenAIEmbedder struct {
	client     openai.Client
	model      string
	dimensions int
	// requestDims is sent as the dimensions parameter when non-zero.
	requestDims int
	batchSize   int
	logger      *zap.Logger
	newBackOff  func() backoff.BackOff
}

// OpenAIOptions configures NewOpenAIEmbedder.
type OpenAIOptions struct {
	APIKey  string
	BaseURL string
	Model   string
	// Dimensions overrides the model's native dimensionality (text-embedding-3 models only).
	Dimensions int
	BatchSize  int
	Logger     *zap.Logger
}

// NewOpenAIEmbedder returns an embedder for opts.Model.
func NewOpenAIEmbedder(opts OpenAIOptions) (*OpenAIEmbedder, error) {
	if opts.APIKey == "" {
		return nil, errors.New("openai: API key is empty")
	}
	dims, known := KnownDimensions(opts.Model)
	var requestDims int
	if opts.Dimensions > 0 && opts.Dimensions != dims {
		requestDims = opts.Dimensions
		dims = opts.Dimensions
	}
	if !known && dims == 0 {
		return nil, fmt.Errorf("openai: unknown model %q; set embedding_dimensions", opts.Model)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultOpenAIBatchSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		// Retries are handled here so rate limits are logged and bounded.
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}

	return &OpenAIEmbedder{
		client:      openai.NewClient(reqOpts...),
		model:       opts.Model,
		dimensions:  dims,
		requestDims: requestDims,
		batchSize:   opts.BatchSize,
		logger:      logger,
		newBackOff:  defaultBackOff,
	}, nil
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return b
}

// Embed returns the embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("openai: expected 1 embedding, got %d", len(vecs))
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in batches of at most batchSize, preserving input order.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	all := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += e.batchSize {
		end := min(i+e.batchSize, len(texts))
		vecs, err := e.embedBatchWithRetry(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("openai: batch %d-%d: %w", i, end, err)
		}
		all = append(all, vecs...)
	}
	return all, nil
}

// embedBatchWithRetry retries with exponential backoff on HTTP 429.
// Other errors are treated as permanent and fail immediately.
func (e *OpenAIEmbedder) embedBatchWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var embeddings [][]float32
	attempt := 0

	operation := func() error {
		attempt++
		params := openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{
				OfArrayOfStrings: texts,
			},
			Model: openai.EmbeddingModel(e.model),
		}
		if e.requestDims > 0 {
			params.Dimensions = openai.Int(int64(e.requestDims))
		}
		resp, err := e.client.Embeddings.New(ctx, params)
		if err != nil {
			if isRateLimitError(err) {
				e.logger.Warn("openai rate limited, backing off",
					zap.Int("attempt", attempt),
					zap.Int("texts", len(texts)))
				return err
			}
			return backoff.Permanent(err)
		}
		if len(resp.Data) != len(texts) {
			return backoff.Permanent(fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data)))
		}

		embeddings = make([][]float32, len(resp.Data))
		for i, data := range resp.Data {
			idx := i
			if data.Index >= 0 && int(data.Index) < len(embeddings) {
				idx = int(data.Index)
			}
			embeddings[idx] = toFloat32(data.Embedding)
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(e.newBackOff(), ctx)); err != nil {
		return nil, err
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op; the HTTP client holds no resources that need releasing.
func (e *OpenAIEmbedder) Close() error {
	return nil
}

// isRateLimitError checks if the error is a rate limit error (HTTP 429).
func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// toFloat32 converts []float64 to []float32.
func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
