package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/hikidashi/internal/embedding"
	"github.com/hyperjump/hikidashi/internal/extract"
	"github.com/hyperjump/hikidashi/internal/fingerprint"
	"github.com/hyperjump/hikidashi/internal/models"
	"github.com/hyperjump/hikidashi/internal/storage"
	"github.com/hyperjump/hikidashi/internal/vectorstore"
	"github.com/hyperjump/hikidashi/pkg/utils"
)

// Outcome describes what a build did to the persisted index.
type Outcome string

const (
	// OutcomeCreated means no index existed and a new one was saved.
	OutcomeCreated Outcome = "created"
	// OutcomeUpdated means new entries were appended to the existing index.
	OutcomeUpdated Outcome = "updated"
	// OutcomeRebuilt means the existing index could not be loaded and was replaced by one built from this batch.
	OutcomeRebuilt Outcome = "rebuilt"
	// OutcomeEmptyCorpus means no documents were loaded; the index was not touched.
	OutcomeEmptyCorpus Outcome = "empty_corpus"
	// OutcomeEmptyChunkSet means documents produced no chunks; the index was not touched.
	OutcomeEmptyChunkSet Outcome = "empty_chunk_set"
)

// Reasons recorded for skipped files.
const (
	SkipUnsupported = "unsupported_file_type"
	SkipLoadFailed  = "load_failed"
	SkipUnreadable  = "unreadable"
)

// SkippedFile is a file that contributed no documents.
type SkippedFile struct {
	Path   string
	Reason string
	Err    error
}

// BuildReport summarizes one Build call.
type BuildReport struct {
	Outcome      Outcome
	IndexPath    string
	FilesSeen    int
	FilesLoaded  int
	Skipped      []SkippedFile
	Documents    int
	Chunks       int
	Added        int
	Deduplicated int
	IndexSize    int
	IndexBytes   int64
	// LoadErr is set when an existing index could not be loaded and was rebuilt.
	LoadErr  error
	Duration time.Duration
}

// Builder loads a documents directory, chunks and embeds it, and creates or extends a persisted index.
type Builder struct {
	registry *extract.Registry
	chunker  *Chunker
	embedder embedding.Embedder
	store    *vectorstore.Store
	dedup    bool
	logger   *zap.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Builder) { b.logger = utils.OrNop(l) }
}

// WithDedup drops chunks whose fingerprint is already indexed or repeated within the batch.
// Off by default: rebuilding over the same files appends duplicate entries.
func WithDedup(enabled bool) Option {
	return func(b *Builder) { b.dedup = enabled }
}

// NewBuilder creates a Builder.
func NewBuilder(
	registry *extract.Registry,
	chunker *Chunker,
	embedder embedding.Embedder,
	store *vectorstore.Store,
	opts ...Option,
) *Builder {
	b := &Builder{
		registry: registry,
		chunker:  chunker,
		embedder: embedder,
		store:    store,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build indexes the regular files directly inside documentsDir into index indexName in indexDir.
// Unsupported and unreadable files are skipped. Embedding, dimension and save errors are returned;
// in that case the persisted index is unchanged.
func (b *Builder) Build(ctx context.Context, documentsDir, indexDir, indexName string) (*BuildReport, error) {
	start := time.Now()
	structurePath, sidecarPath := b.store.Paths(indexDir, indexName)
	report := &BuildReport{IndexPath: structurePath}

	docs, err := b.loadDocuments(ctx, documentsDir, report)
	if err != nil {
		return nil, err
	}
	report.Documents = len(docs)
	if len(docs) == 0 {
		report.Outcome = OutcomeEmptyCorpus
		b.logger.Warn("No documents loaded; index left unchanged", zap.String("documents_directory", documentsDir))
		return b.finish(report, start), nil
	}

	chunks := b.chunker.Split(docs)
	report.Chunks = len(chunks)
	if len(chunks) == 0 {
		report.Outcome = OutcomeEmptyChunkSet
		b.logger.Warn("Documents produced no chunks; index left unchanged", zap.Int("documents", len(docs)))
		return b.finish(report, start), nil
	}

	vectors, err := b.embed(ctx, chunks)
	if err != nil {
		return nil, err
	}

	idx, err := b.loadExisting(ctx, indexDir, indexName, report)
	if err != nil {
		return nil, err
	}
	if idx != nil {
		defer idx.Close()
		if idx.Dimensions() != len(vectors[0]) {
			return nil, fmt.Errorf("%w: index %s has %d dimensions, embedder produces %d",
				vectorstore.ErrDimensionMismatch, structurePath, idx.Dimensions(), len(vectors[0]))
		}
	}

	if b.dedup {
		chunks, vectors = b.deduplicate(idx, chunks, vectors, report)
	}
	report.Added = len(chunks)

	switch {
	case idx != nil && len(chunks) == 0:
		report.Outcome = OutcomeUpdated
		report.IndexSize = idx.Size()
		b.logger.Info("All chunks already indexed; nothing to save", zap.Int("deduplicated", report.Deduplicated))
	case idx != nil:
		if _, err := b.store.Add(ctx, idx, chunks, vectors); err != nil {
			return nil, err
		}
		if err := b.store.Save(ctx, idx, indexDir, indexName); err != nil {
			return nil, err
		}
		report.Outcome = OutcomeUpdated
		report.IndexSize = idx.Size()
	default:
		fresh, err := b.store.Build(ctx, chunks, vectors)
		if err != nil {
			return nil, err
		}
		defer fresh.Close()
		if err := b.store.Save(ctx, fresh, indexDir, indexName); err != nil {
			return nil, err
		}
		if report.LoadErr != nil {
			report.Outcome = OutcomeRebuilt
		} else {
			report.Outcome = OutcomeCreated
		}
		report.IndexSize = fresh.Size()
	}

	if n, err := storage.DiskUsageBytes(structurePath, sidecarPath); err == nil {
		report.IndexBytes = n
	} else {
		b.logger.Debug("Failed to measure index size", zap.Error(err))
	}
	return b.finish(report, start), nil
}

func (b *Builder) finish(report *BuildReport, start time.Time) *BuildReport {
	report.Duration = time.Since(start)
	b.logger.Info("Index build finished",
		zap.String("outcome", string(report.Outcome)),
		zap.String("index_path", report.IndexPath),
		zap.Int("files_seen", report.FilesSeen),
		zap.Int("files_loaded", report.FilesLoaded),
		zap.Int("files_skipped", len(report.Skipped)),
		zap.Int("documents", report.Documents),
		zap.Int("chunks", report.Chunks),
		zap.Int("added", report.Added),
		zap.Int("deduplicated", report.Deduplicated),
		zap.Int("index_size", report.IndexSize),
		zap.Int64("index_bytes", report.IndexBytes),
		zap.Duration("duration", report.Duration))
	return report
}

// loadDocuments loads every regular file directly inside dir, in name order. Symlinks are followed.
// A missing dir yields no documents.
func (b *Builder) loadDocuments(ctx context.Context, dir string, report *BuildReport) ([]models.Document, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		b.logger.Warn("Documents directory does not exist", zap.String("path", dir))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read documents directory: %w", err)
	}

	var docs []models.Document
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := filepath.Join(dir, entry.Name())
		info, err := os.Stat(path)
		if err != nil {
			b.logger.Warn("Skipping unreadable entry", zap.String("path", path), zap.Error(err))
			report.Skipped = append(report.Skipped, SkippedFile{Path: path, Reason: SkipUnreadable, Err: err})
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}
		report.FilesSeen++

		loaded, err := b.registry.Load(path)
		switch {
		case errors.Is(err, extract.ErrUnsupportedFileType):
			b.logger.Warn("Skipping unsupported file", zap.String("path", path))
			report.Skipped = append(report.Skipped, SkippedFile{Path: path, Reason: SkipUnsupported, Err: err})
		case err != nil:
			b.logger.Error("Failed to load file", zap.String("path", path), zap.Error(err))
			report.Skipped = append(report.Skipped, SkippedFile{Path: path, Reason: SkipLoadFailed, Err: err})
		default:
			b.logger.Debug("Loaded file", zap.String("path", path), zap.Int("documents", len(loaded)))
			report.FilesLoaded++
			docs = append(docs, loaded...)
		}
	}
	return docs, nil
}

// embed returns one vector per chunk, all of the embedder's dimensionality.
func (b *Builder) embed(ctx context.Context, chunks []*models.Chunk) ([][]float32, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := b.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("%w: embedder returned %d vectors for %d chunks",
			vectorstore.ErrDimensionMismatch, len(vectors), len(chunks))
	}
	dims := b.embedder.Dimensions()
	for i, v := range vectors {
		if len(v) != dims {
			return nil, fmt.Errorf("%w: vector %d has %d dimensions, embedder reports %d",
				vectorstore.ErrDimensionMismatch, i, len(v), dims)
		}
	}
	return vectors, nil
}

// loadExisting returns the persisted index, or nil when there is none or it cannot be loaded.
// A load failure is recorded on report so the caller rebuilds.
func (b *Builder) loadExisting(ctx context.Context, indexDir, indexName string, report *BuildReport) (*vectorstore.Index, error) {
	if !b.store.Exists(indexDir, indexName) {
		return nil, nil
	}
	idx, err := b.store.Load(ctx, indexDir, indexName)
	switch {
	case err == nil:
		b.logger.Debug("Loaded existing index", zap.Int("entries", idx.Size()))
		return idx, nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, err
	case errors.Is(err, vectorstore.ErrIndexNotFound):
		return nil, nil
	default:
		b.logger.Error("Failed to load existing index; rebuilding from current documents",
			zap.String("index_directory", indexDir),
			zap.String("index_name", indexName),
			zap.Error(err))
		report.LoadErr = err
		return nil, nil
	}
}

// deduplicate drops chunks already in idx or repeated earlier in the batch.
func (b *Builder) deduplicate(idx *vectorstore.Index, chunks []*models.Chunk, vectors [][]float32, report *BuildReport) ([]*models.Chunk, [][]float32) {
	seen := make(map[string]struct{}, len(chunks))
	keptChunks := chunks[:0:0]
	keptVectors := vectors[:0:0]
	for i, c := range chunks {
		fp := fingerprint.Chunk(c.SourceFile(), c.Content)
		if _, dup := seen[fp]; dup || (idx != nil && idx.Has(fp)) {
			report.Deduplicated++
			continue
		}
		seen[fp] = struct{}{}
		keptChunks = append(keptChunks, c)
		keptVectors = append(keptVectors, vectors[i])
	}
	if report.Deduplicated > 0 {
		b.logger.Debug("Dropped duplicate chunks", zap.Int("count", report.Deduplicated))
	}
	return keptChunks, keptVectors
}
