// Package extract turns files on disk into Documents, dispatching on file extension.
package extract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hyperjump/hikidashi/internal/models"
)

var (
	// ErrUnsupportedFileType is returned for extensions with no registered loader.
	ErrUnsupportedFileType = errors.New("unsupported file type")
	// ErrDocumentLoad wraps any failure of a registered loader.
	ErrDocumentLoad = errors.New("failed to load document")
)

// Loader reads one file and returns the Documents it contains.
type Loader interface {
	Load(path string) ([]models.Document, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(path string) ([]models.Document, error)

// Load calls f(path).
func (f LoaderFunc) Load(path string) ([]models.Document, error) {
	return f(path)
}

// Unsupported is the loader returned for unknown extensions. It always fails with ErrUnsupportedFileType.
var Unsupported Loader = LoaderFunc(func(path string) ([]models.Document, error) {
	ext := strings.ToLower(filepath.Ext(path))
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFileType, ext)
})

// Registry maps lower-case file extensions (with leading dot) to Loaders.
type Registry struct {
	loaders map[string]Loader
}

// NewRegistry returns a Registry with the default loaders registered.
func NewRegistry() *Registry {
	r := NewEmptyRegistry()
	r.Register(".pdf", LoaderFunc(loadPDF))
	r.Register(".docx", LoaderFunc(loadDOCX))
	for _, ext := range []string{".doc", ".odt", ".rtf"} {
		r.Register(ext, LoaderFunc(loadLegacyWord))
	}
	for _, ext := range []string{".xlsx", ".xls"} {
		r.Register(ext, LoaderFunc(loadExcel))
	}
	r.Register(".csv", LoaderFunc(loadCSV))
	r.Register(".txt", LoaderFunc(loadText))
	r.Register(".md", LoaderFunc(loadMarkdown))
	return r
}

// NewEmptyRegistry returns a Registry with no loaders.
func NewEmptyRegistry() *Registry {
	return &Registry{loaders: make(map[string]Loader)}
}

// Register sets the loader for ext, replacing any previous one.
func (r *Registry) Register(ext string, l Loader) {
	r.loaders[normalizeExt(ext)] = l
}

// Lookup returns the loader for ext, or Unsupported.
func (r *Registry) Lookup(ext string) Loader {
	if l, ok := r.loaders[normalizeExt(ext)]; ok {
		return l
	}
	return Unsupported
}

// Supports reports whether a loader is registered for path's extension.
func (r *Registry) Supports(path string) bool {
	_, ok := r.loaders[normalizeExt(filepath.Ext(path))]
	return ok
}

// Extensions returns the registered extensions in sorted order.
func (r *Registry) Extensions() []string {
	exts := make([]string, 0, len(r.loaders))
	for ext := range r.loaders {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Load loads the file at path with the loader for its extension and stamps
// source_file (base name) and source (path) on every returned Document.
// Errors wrap ErrUnsupportedFileType or ErrDocumentLoad; a panicking loader
// is reported as ErrDocumentLoad.
func (r *Registry) Load(path string) ([]models.Document, error) {
	base := filepath.Base(path)
	docs, err := safeLoad(r.Lookup(filepath.Ext(path)), path)
	if err != nil {
		if errors.Is(err, ErrUnsupportedFileType) {
			return nil, err
		}
		return nil, fmt.Errorf("%w %s: %w", ErrDocumentLoad, base, err)
	}
	for i := range docs {
		if docs[i].Metadata == nil {
			docs[i].Metadata = make(map[string]string)
		}
		docs[i].Metadata[models.MetaSourceFile] = base
		docs[i].Metadata[models.MetaSource] = path
	}
	return docs, nil
}

// safeLoad runs l.Load, converting a panic into an error. ledongthuc/pdf panics on malformed
// cross-reference tables.
func safeLoad(l Loader, path string) (docs []models.Document, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			docs, err = nil, fmt.Errorf("loader panic: %v", rec)
		}
	}()
	return l.Load(path)
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// readFile reads path, wrapping the error the way every loader reports it.
func readFile(path string) ([]byte, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return content, nil
}

// single wraps text as a one-Document result.
func single(text string) []models.Document {
	return []models.Document{{Content: text, Metadata: map[string]string{}}}
}
