//go:build faiss && cgo

package vector

/*
#cgo CFLAGS: -I/opt/homebrew/include -I/usr/local/include
#cgo LDFLAGS: -L/opt/homebrew/lib -L/usr/local/lib -lfaiss_c

#include <stdlib.h>
#include <faiss/c_api/Index_c.h>
#include <faiss/c_api/IndexFlat_c.h>
#include <faiss/c_api/index_io_c.h>
#include <faiss/c_api/error_c.h>
*/
import "C"

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"unsafe"

	"github.com/hyperjump/hikidashi/pkg/utils"
)

// FAISSIndex is a vector index backed by a FAISS flat index: IndexFlatIP over normalized
// vectors for MetricCosine, IndexFlatL2 for MetricL2. FAISS labels are insertion positions.
type FAISSIndex struct {
	index      *C.FaissIndex
	dimensions int
	metric     Metric
	mu         sync.RWMutex
}

// NewFAISSIndex creates an empty FAISS index with the given dimension and metric.
func NewFAISSIndex(dimensions int, metric Metric) (*FAISSIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	metric, err := ParseMetric(string(metric))
	if err != nil {
		return nil, err
	}

	var index *C.FaissIndex
	var ret C.int
	if metric == MetricL2 {
		ret = C.faiss_IndexFlatL2_new_with(&index, C.idx_t(dimensions))
	} else {
		ret = C.faiss_IndexFlatIP_new_with(&index, C.idx_t(dimensions))
	}
	if ret != 0 {
		return nil, fmt.Errorf("failed to create FAISS index: %s", faissLastError())
	}
	return &FAISSIndex{index: index, dimensions: dimensions, metric: metric}, nil
}

// faissLastError returns the last FAISS error message.
func faissLastError() string {
	cErr := C.faiss_get_last_error()
	if cErr == nil {
		return "unknown error"
	}
	return C.GoString(cErr)
}

func (f *FAISSIndex) flatten(vectors [][]float32) ([]float32, error) {
	flat := make([]float32, len(vectors)*f.dimensions)
	for i, vec := range vectors {
		if err := checkDims(len(vec), f.dimensions); err != nil {
			return nil, fmt.Errorf("vector %d: %w", i, err)
		}
		if f.metric == MetricCosine {
			vec = utils.NormalizedCopy(vec)
		}
		copy(flat[i*f.dimensions:(i+1)*f.dimensions], vec)
	}
	return flat, nil
}

// Add appends vectors.
func (f *FAISSIndex) Add(ctx context.Context, vectors [][]float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(vectors) == 0 {
		return nil
	}
	flat, err := f.flatten(vectors)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	ret := C.faiss_Index_add(f.index, C.idx_t(len(vectors)), (*C.float)(unsafe.Pointer(&flat[0])))
	if ret != 0 {
		return fmt.Errorf("failed to add vectors to FAISS index: %s", faissLastError())
	}
	return nil
}

// Search returns the top-k vectors by score.
func (f *FAISSIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	q, err := f.flatten([][]float32{query})
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	ntotal := int(C.faiss_Index_ntotal(f.index))
	if k <= 0 || ntotal == 0 {
		return []*VectorResult{}, nil
	}
	if k > ntotal {
		k = ntotal
	}

	distances := make([]float32, k)
	labels := make([]int64, k)
	ret := C.faiss_Index_search(
		f.index,
		1,
		(*C.float)(unsafe.Pointer(&q[0])),
		C.idx_t(k),
		(*C.float)(unsafe.Pointer(&distances[0])),
		(*C.idx_t)(unsafe.Pointer(&labels[0])),
	)
	if ret != 0 {
		return nil, fmt.Errorf("FAISS search failed: %s", faissLastError())
	}

	results := make([]*VectorResult, 0, k)
	for i := 0; i < k; i++ {
		if labels[i] < 0 {
			continue
		}
		score := float64(distances[i])
		if f.metric == MetricL2 {
			score = -score
		}
		results = append(results, &VectorResult{Position: int(labels[i]), Score: score})
	}
	// FAISS does not order ties; earlier positions win.
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Position < results[j].Position
	})
	return results, nil
}

// Save writes the index to path in FAISS's native format.
func (f *FAISSIndex) Save(path string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))
	if ret := C.faiss_write_index_fname(f.index, cPath); ret != 0 {
		return fmt.Errorf("failed to save FAISS index: %s", faissLastError())
	}
	return nil
}

// Load replaces the index with the one stored at path.
func (f *FAISSIndex) Load(path string) error {
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))

	var loaded *C.FaissIndex
	if ret := C.faiss_read_index_fname(cPath, 0, &loaded); ret != 0 {
		return fmt.Errorf("%w: %s: %s", ErrCorrupt, path, faissLastError())
	}
	if d := int(C.faiss_Index_d(loaded)); d != f.dimensions {
		C.faiss_Index_free(loaded)
		return fmt.Errorf("%w: %s: file has %d dimensions, index expects %d", ErrCorrupt, path, d, f.dimensions)
	}
	var wantMetric C.FaissMetricType = C.METRIC_INNER_PRODUCT
	if f.metric == MetricL2 {
		wantMetric = C.METRIC_L2
	}
	if C.faiss_Index_metric_type(loaded) != wantMetric {
		C.faiss_Index_free(loaded)
		return fmt.Errorf("%w: %s: metric differs from %s", ErrCorrupt, path, f.metric)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index != nil {
		C.faiss_Index_free(f.index)
	}
	f.index = loaded
	return nil
}

// Size returns the number of vectors.
func (f *FAISSIndex) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.index == nil {
		return 0
	}
	return int(C.faiss_Index_ntotal(f.index))
}

// Dimensions returns the vector dimensionality.
func (f *FAISSIndex) Dimensions() int {
	return f.dimensions
}

// Metric returns the similarity metric.
func (f *FAISSIndex) Metric() Metric {
	return f.metric
}

// Close frees the FAISS index resources.
func (f *FAISSIndex) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.index != nil {
		C.faiss_Index_free(f.index)
		f.index = nil
	}
	return nil
}

// Type returns the index type identifier.
func (f *FAISSIndex) Type() string {
	return string(IndexTypeFAISS)
}
