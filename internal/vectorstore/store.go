// Package vectorstore persists named vector indexes as a structure file plus a SQLite sidecar,
// and searches them. An index is present only when both files exist.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/hikidashi/internal/fingerprint"
	"github.com/hyperjump/hikidashi/internal/models"
	"github.com/hyperjump/hikidashi/internal/storage"
	"github.com/hyperjump/hikidashi/internal/vector"
	"github.com/hyperjump/hikidashi/pkg/utils"
)

const sidecarExt = ".db"

var (
	// ErrIndexNotFound is returned when either persisted file of an index is missing.
	ErrIndexNotFound = errors.New("index not found")
	// ErrIndexLoad is returned when a persisted index is unreadable or inconsistent.
	ErrIndexLoad = errors.New("failed to load index")
	// ErrIndexSave is returned when an index could not be persisted. Existing files are left as they were.
	ErrIndexSave = errors.New("failed to save index")
	// ErrDimensionMismatch is returned when vector lengths disagree with the index.
	ErrDimensionMismatch = vector.ErrDimensionMismatch
)

// Store creates, persists and searches indexes for one backend, metric and embedding model.
type Store struct {
	backend string
	metric  vector.Metric
	model   string
	logger  *zap.Logger
	rename  func(oldpath, newpath string) error
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		s.logger = utils.OrNop(logger)
	}
}

// NewStore returns a Store. backend is "flat" or "faiss"; metric is "cosine" or "l2".
// model is recorded in saved indexes and compared on load.
func NewStore(backend, metric, model string, opts ...Option) (*Store, error) {
	switch vector.IndexType(backend) {
	case vector.IndexTypeFlat, vector.IndexTypeFAISS:
	case "":
		backend = string(vector.IndexTypeFlat)
	default:
		return nil, fmt.Errorf("unknown index backend: %s (supported: flat, faiss)", backend)
	}
	m, err := vector.ParseMetric(metric)
	if err != nil {
		return nil, err
	}
	s := &Store{
		backend: backend,
		metric:  m,
		model:   model,
		logger:  zap.NewNop(),
		rename:  os.Rename,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Paths returns the structure and sidecar file paths of index name in dir.
func (s *Store) Paths(dir, name string) (structure, sidecar string) {
	base := filepath.Join(dir, name)
	return base + vector.FileExtension(s.backend), base + sidecarExt
}

// Exists reports whether both files of index name are present in dir.
func (s *Store) Exists(dir, name string) bool {
	structure, sidecar := s.Paths(dir, name)
	return isRegularFile(structure) && isRegularFile(sidecar)
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Build creates an in-memory index from chunks and their vectors. Nothing is written to disk.
func (s *Store) Build(ctx context.Context, chunks []*models.Chunk, vectors [][]float32) (*Index, error) {
	if len(vectors) == 0 {
		return nil, errors.New("cannot build an index from zero vectors")
	}
	if err := checkBatch(chunks, vectors, len(vectors[0])); err != nil {
		return nil, err
	}
	structure, err := vector.NewVectorIndex(s.backend, len(vectors[0]), s.metric)
	if err != nil {
		return nil, err
	}
	idx := &Index{
		structure: structure,
		fpSet:     make(map[string]struct{}),
		info: storage.IndexInfo{
			Backend:        s.backend,
			Metric:         string(s.metric),
			Dimensions:     len(vectors[0]),
			EmbeddingModel: s.model,
		},
	}
	if _, err := s.Add(ctx, idx, chunks, vectors); err != nil {
		_ = structure.Close()
		return nil, err
	}
	return idx, nil
}

// Add appends chunks and their vectors to idx. Either all entries are added or none.
func (s *Store) Add(ctx context.Context, idx *Index, chunks []*models.Chunk, vectors [][]float32) (*Index, error) {
	if err := checkBatch(chunks, vectors, idx.Dimensions()); err != nil {
		return nil, err
	}
	if err := idx.structure.Add(ctx, vectors); err != nil {
		return nil, err
	}
	for _, c := range chunks {
		idx.append(c, fingerprint.Chunk(c.SourceFile(), c.Content))
	}
	return idx, nil
}

func checkBatch(chunks []*models.Chunk, vectors [][]float32, dims int) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("%w: %d vectors for %d chunks", ErrDimensionMismatch, len(vectors), len(chunks))
	}
	for i, v := range vectors {
		if len(v) != dims {
			return fmt.Errorf("%w: vector %d has %d dimensions, expected %d", ErrDimensionMismatch, i, len(v), dims)
		}
	}
	return nil
}

// Search returns up to k chunks closest to query, best first.
func (s *Store) Search(ctx context.Context, idx *Index, query []float32, k int) ([]*models.SearchResult, error) {
	hits, err := idx.structure.Search(ctx, query, k)
	if err != nil {
		return []*models.SearchResult{}, err
	}
	results := make([]*models.SearchResult, 0, len(hits))
	for _, h := range hits {
		c := idx.Chunk(h.Position)
		if c == nil {
			return []*models.SearchResult{}, fmt.Errorf("%w: hit at position %d has no chunk", ErrIndexLoad, h.Position)
		}
		results = append(results, &models.SearchResult{
			Chunk: c,
			Score: h.Score,
			Rank:  len(results) + 1,
		})
	}
	return results, nil
}

// Load reads index name from dir. The structure and sidecar must agree on dimensionality and entry count.
func (s *Store) Load(ctx context.Context, dir, name string) (*Index, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.Exists(dir, name) {
		return nil, fmt.Errorf("%w: %s in %s", ErrIndexNotFound, name, dir)
	}
	structurePath, sidecarPath := s.Paths(dir, name)

	db, err := storage.OpenSQLiteStorage(sidecarPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIndexLoad, err)
	}
	defer db.Close()

	info, err := db.ReadInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIndexLoad, err)
	}
	if info.Backend != s.backend {
		return nil, fmt.Errorf("%w: saved with backend %q, configured %q", ErrIndexLoad, info.Backend, s.backend)
	}
	if vector.Metric(info.Metric) != s.metric {
		return nil, fmt.Errorf("%w: saved with metric %q, configured %q", ErrIndexLoad, info.Metric, s.metric)
	}
	if info.EmbeddingModel != s.model {
		s.logger.Warn("Index was built with a different embedding model",
			zap.String("index_model", info.EmbeddingModel),
			zap.String("configured_model", s.model))
	}

	structure, err := vector.NewVectorIndex(s.backend, info.Dimensions, s.metric)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIndexLoad, err)
	}
	idx, err := s.fill(ctx, structure, structurePath, db, info)
	if err != nil {
		_ = structure.Close()
		return nil, err
	}
	s.logger.Debug("Loaded index",
		zap.String("path", structurePath),
		zap.Int("entries", idx.Size()),
		zap.Int("dimensions", idx.Dimensions()))
	return idx, nil
}

func (s *Store) fill(ctx context.Context, structure vector.VectorIndex, structurePath string, db *storage.SQLiteStorage, info *storage.IndexInfo) (*Index, error) {
	if err := structure.Load(structurePath); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIndexLoad, err)
	}
	records, err := db.LoadChunks(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIndexLoad, err)
	}
	if structure.Size() != info.EntryCount || len(records) != info.EntryCount {
		return nil, fmt.Errorf("%w: structure has %d entries, sidecar records %d with %d chunk rows",
			ErrIndexLoad, structure.Size(), info.EntryCount, len(records))
	}
	if structure.Dimensions() != info.Dimensions {
		return nil, fmt.Errorf("%w: structure has %d dimensions, sidecar records %d",
			ErrIndexLoad, structure.Dimensions(), info.Dimensions)
	}
	idx := &Index{
		structure: structure,
		fpSet:     make(map[string]struct{}, len(records)),
		info:      *info,
	}
	for _, r := range records {
		idx.append(r.Chunk, r.Fingerprint)
	}
	return idx, nil
}

// Save writes idx as index name in dir. Both files are written to temporaries in dir and
// renamed into place; on failure the temporaries are removed and the previous pair is restored.
func (s *Store) Save(ctx context.Context, idx *Index, dir, name string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrIndexSave, err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: %w", ErrIndexSave, err)
	}
	structurePath, sidecarPath := s.Paths(dir, name)
	suffix := ".tmp-" + uuid.NewString()
	tmpStructure, tmpSidecar := structurePath+suffix, sidecarPath+suffix
	cleanup := func() {
		_ = os.Remove(tmpStructure)
		_ = os.Remove(tmpSidecar)
	}

	now := time.Now().UTC()
	info := idx.info
	info.Generation = uuid.NewString()
	info.EntryCount = idx.Size()
	info.Dimensions = idx.Dimensions()
	info.UpdatedAt = now
	if info.CreatedAt.IsZero() {
		info.CreatedAt = now
	}

	if err := idx.structure.Save(tmpStructure); err != nil {
		cleanup()
		return fmt.Errorf("%w: write structure: %w", ErrIndexSave, err)
	}
	if err := writeSidecar(ctx, tmpSidecar, &info, idx); err != nil {
		cleanup()
		return fmt.Errorf("%w: write sidecar: %w", ErrIndexSave, err)
	}
	// The previous structure is kept under a second name until the sidecar is in place,
	// so a failed sidecar rename can put the old pair back.
	backup := structurePath + ".bak-" + uuid.NewString()
	hadStructure, err := preserve(structurePath, backup)
	if err != nil {
		cleanup()
		return fmt.Errorf("%w: preserve previous structure: %w", ErrIndexSave, err)
	}
	restore := func() {
		if hadStructure {
			_ = os.Rename(backup, structurePath)
		} else {
			_ = os.Remove(structurePath)
		}
	}
	if err := s.rename(tmpStructure, structurePath); err != nil {
		_ = os.Remove(backup)
		cleanup()
		return fmt.Errorf("%w: %w", ErrIndexSave, err)
	}
	if err := s.rename(tmpSidecar, sidecarPath); err != nil {
		restore()
		cleanup()
		return fmt.Errorf("%w: %w", ErrIndexSave, err)
	}
	_ = os.Remove(backup)
	idx.info = info
	s.logger.Debug("Saved index",
		zap.String("path", structurePath),
		zap.String("generation", info.Generation),
		zap.Int("entries", info.EntryCount))
	return nil
}

// preserve makes backup a second name for path, hard-linking where the file system allows and
// copying otherwise. It reports false when path is not an existing regular file.
func preserve(path, backup string) (bool, error) {
	fi, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !fi.Mode().IsRegular() {
		return false, nil
	}
	if err := os.Link(path, backup); err == nil {
		return true, nil
	}
	src, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer src.Close()
	dst, err := os.OpenFile(backup, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return false, err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		_ = os.Remove(backup)
		return false, err
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(backup)
		return false, err
	}
	return true, nil
}

func writeSidecar(ctx context.Context, path string, info *storage.IndexInfo, idx *Index) error {
	db, err := storage.NewSQLiteStorage(path)
	if err != nil {
		return err
	}
	records := make([]storage.ChunkRecord, len(idx.chunks))
	for i, c := range idx.chunks {
		records[i] = storage.ChunkRecord{Position: i, Chunk: c, Fingerprint: idx.fingerprints[i]}
	}
	if err := db.BatchInsertChunks(ctx, records); err != nil {
		_ = db.Close()
		return err
	}
	if err := db.WriteInfo(ctx, info); err != nil {
		_ = db.Close()
		return err
	}
	return db.Close()
}
