// Package prompt builds language-model prompts from a question and the chunks retrieved for it.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/hikidashi/internal/models"
	"github.com/hyperjump/hikidashi/internal/vectorstore"
	"github.com/hyperjump/hikidashi/pkg/utils"
)

const (
	instructions = "Please answer the following question based *only* on the provided context below. " +
		"If the context does not contain the information needed to answer the question, state that clearly."
	startMarker   = "--- Start of Context ---"
	endMarker     = "--- End of Context ---"
	noContext     = "No relevant context was found in the indexed documents for the question."
	unknownSource = "Unknown File"
)

// Retriever returns the chunks most relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]*models.SearchResult, error)
}

// Augmenter wraps a question with retrieved context.
type Augmenter struct {
	retriever Retriever
	logger    *zap.Logger
}

// Option configures an Augmenter.
type Option func(*Augmenter)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Augmenter) { a.logger = utils.OrNop(l) }
}

// NewAugmenter creates an Augmenter.
func NewAugmenter(retriever Retriever, opts ...Option) *Augmenter {
	a := &Augmenter{retriever: retriever, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Augment retrieves up to k chunks for question and renders the prompt. Retrieval failures
// produce the no-context prompt, except a dimension mismatch, which is a configuration error and is returned.
// A blank question is rejected by the retriever, so it always gets the no-context prompt.
func (a *Augmenter) Augment(ctx context.Context, question string, k int) (string, error) {
	results, err := a.retriever.Retrieve(ctx, question, k)
	if err != nil {
		if errors.Is(err, vectorstore.ErrDimensionMismatch) {
			return "", fmt.Errorf("retrieve context: %w", err)
		}
		a.logger.Error("Retrieval failed; answering without context", zap.Error(err))
		return Fallback(question), nil
	}
	if len(results) == 0 {
		a.logger.Warn("No context retrieved for question", zap.String("question", utils.Truncate(question, 80)))
		return Fallback(question), nil
	}
	a.logger.Info("Prompt augmented with retrieved context", zap.Int("chunks", len(results)))
	return Render(question, results), nil
}

// Fallback returns the prompt used when no context is available.
func Fallback(question string) string {
	return noContext + "\n\nUser Question: " + question
}

// Render formats results, in order, as numbered context blocks around question.
// With no results it returns Fallback(question).
func Render(question string, results []*models.SearchResult) string {
	if len(results) == 0 {
		return Fallback(question)
	}
	blocks := make([]string, len(results))
	for i, r := range results {
		source, content := unknownSource, ""
		if r != nil && r.Chunk != nil {
			content = r.Chunk.Content
			if s := r.Chunk.SourceFile(); s != "" {
				source = s
			}
		}
		blocks[i] = fmt.Sprintf("--- Context %d (Source File: %s) ---\n%s", i+1, source, content)
	}

	var b strings.Builder
	b.WriteString(instructions)
	b.WriteString("\n\n")
	b.WriteString(startMarker)
	b.WriteString("\n\n")
	b.WriteString(strings.Join(blocks, "\n\n"))
	b.WriteString("\n\n")
	b.WriteString(endMarker)
	b.WriteString("\n\nUser Question: ")
	b.WriteString(question)
	b.WriteString("\n\nAnswer:\n")
	return b.String()
}
