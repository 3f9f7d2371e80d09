package vector

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"sync"

	"github.com/hyperjump/hikidashi/pkg/utils"
)

// memoryMagic identifies a flat index file; memoryVersion is bumped on layout changes.
var memoryMagic = [4]byte{'H', 'K', 'V', 'I'}

const memoryVersion uint32 = 1

// memoryHeaderSize is the magic plus version, metric, dimensions and count.
const memoryHeaderSize = 4 + 4*4

// MemoryIndex is an in-memory vector index using brute-force search.
// With MetricCosine, vectors and queries are L2-normalized copies.
type MemoryIndex struct {
	dimensions int
	metric     Metric
	vectors    [][]float32
	mu         sync.RWMutex
}

// NewMemoryIndex creates an in-memory vector index with the given dimension and metric.
func NewMemoryIndex(dimensions int, metric Metric) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	metric, err := ParseMetric(string(metric))
	if err != nil {
		return nil, err
	}
	return &MemoryIndex{
		dimensions: dimensions,
		metric:     metric,
		vectors:    make([][]float32, 0),
	}, nil
}

// Type returns the index type identifier.
func (m *MemoryIndex) Type() string {
	return string(IndexTypeFlat)
}

// Dimensions returns the vector dimensionality.
func (m *MemoryIndex) Dimensions() int {
	return m.dimensions
}

// Metric returns the similarity metric.
func (m *MemoryIndex) Metric() Metric {
	return m.metric
}

// Add appends vectors. Either all vectors are added or none.
func (m *MemoryIndex) Add(ctx context.Context, vectors [][]float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	prepared := make([][]float32, len(vectors))
	for i, v := range vectors {
		if err := checkDims(len(v), m.dimensions); err != nil {
			return fmt.Errorf("vector %d: %w", i, err)
		}
		prepared[i] = m.prepare(v)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vectors = append(m.vectors, prepared...)
	return nil
}

func (m *MemoryIndex) prepare(v []float32) []float32 {
	if m.metric == MetricCosine {
		return utils.NormalizedCopy(v)
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}

func (m *MemoryIndex) score(q, v []float32) float64 {
	if m.metric == MetricL2 {
		return -SquaredL2(q, v)
	}
	return InnerProduct(q, v)
}

// Search returns the top-k vectors by score.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if err := checkDims(len(query), m.dimensions); err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q := m.prepare(query)

	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 || len(m.vectors) == 0 {
		return []*VectorResult{}, nil
	}
	scores := make([]*VectorResult, len(m.vectors))
	for i, vec := range m.vectors {
		scores[i] = &VectorResult{Position: i, Score: m.score(q, vec)}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].Score > scores[j].Score })
	if k > len(scores) {
		k = len(scores)
	}
	return scores[:k], nil
}

// Save persists the index to path. Format (little endian): magic (4), version (4), metric (4),
// dimension (4), n (4), then n*dimension float32 values.
func (m *MemoryIndex) Save(path string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	w := bufio.NewWriter(f)
	if err := m.writeTo(w); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flush index file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync index file: %w", err)
	}
	return f.Close()
}

func (m *MemoryIndex) writeTo(w io.Writer) error {
	header := []uint32{memoryVersion, metricCode(m.metric), uint32(m.dimensions), uint32(len(m.vectors))}
	if _, err := w.Write(memoryMagic[:]); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, vec := range m.vectors {
		if _, err := w.Write(float32SliceToBytes(vec)); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
	}
	return nil
}

// Load reads the index from path and replaces the in-memory contents.
// Truncated files, trailing bytes, and header mismatches are reported as ErrCorrupt.
func (m *MemoryIndex) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil || magic != memoryMagic {
		return fmt.Errorf("%w: %s: bad magic", ErrCorrupt, path)
	}
	var header [4]uint32
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return fmt.Errorf("%w: %s: read header: %v", ErrCorrupt, path, err)
	}
	version, metric, dim, n := header[0], header[1], header[2], header[3]
	if version != memoryVersion {
		return fmt.Errorf("%w: %s: unsupported version %d", ErrCorrupt, path, version)
	}
	if metric != metricCode(m.metric) {
		return fmt.Errorf("%w: %s: metric %d, index expects %s", ErrCorrupt, path, metric, m.metric)
	}
	if int(dim) != m.dimensions {
		return fmt.Errorf("%w: %s: file has %d dimensions, index expects %d", ErrCorrupt, path, dim, m.dimensions)
	}
	// The header count is untrusted until the file size agrees with it.
	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat index file: %w", err)
	}
	if want := memoryHeaderSize + int64(n)*int64(dim)*4; fi.Size() != want {
		return fmt.Errorf("%w: %s: %d bytes, header implies %d", ErrCorrupt, path, fi.Size(), want)
	}

	vectors := make([][]float32, 0, n)
	buf := make([]byte, m.dimensions*4)
	for i := uint32(0); i < n; i++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			return fmt.Errorf("%w: %s: read vector %d: %v", ErrCorrupt, path, i, err)
		}
		vectors = append(vectors, bytesToFloat32Slice(buf))
	}
	if _, err := r.ReadByte(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %s: trailing data after %d vectors", ErrCorrupt, path, n)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.vectors = vectors
	return nil
}

func metricCode(metric Metric) uint32 {
	if metric == MetricL2 {
		return 1
	}
	return 0
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}

// Size returns the number of vectors in the index.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.vectors)
}

// Close is a no-op for MemoryIndex.
func (m *MemoryIndex) Close() error {
	return nil
}
