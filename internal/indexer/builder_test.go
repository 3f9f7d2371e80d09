package indexer

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hyperjump/hikidashi/internal/embedding"
	"github.com/hyperjump/hikidashi/internal/extract"
	"github.com/hyperjump/hikidashi/internal/vectorstore"
)

const testDims = 8

type builderFixture struct {
	docsDir  string
	indexDir string
	store    *vectorstore.Store
	logs     *observer.ObservedLogs
}

func newFixture(t *testing.T) *builderFixture {
	t.Helper()
	root := t.TempDir()
	f := &builderFixture{
		docsDir:  filepath.Join(root, "Documents"),
		indexDir: filepath.Join(root, "index"),
	}
	if err := os.MkdirAll(f.docsDir, 0755); err != nil {
		t.Fatal(err)
	}
	store, err := vectorstore.NewStore("flat", "cosine", embedding.MockModelName)
	if err != nil {
		t.Fatal(err)
	}
	f.store = store
	return f
}

func (f *builderFixture) builder(embedder embedding.Embedder, opts ...Option) *Builder {
	core, logs := observer.New(zapcore.DebugLevel)
	f.logs = logs
	opts = append([]Option{WithLogger(zap.New(core))}, opts...)
	return NewBuilder(extract.NewRegistry(), NewChunker(40, 8), embedder, f.store, opts...)
}

func (f *builderFixture) write(t *testing.T, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(f.docsDir, name), []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}

func (f *builderFixture) build(t *testing.T, b *Builder) *BuildReport {
	t.Helper()
	report, err := b.Build(context.Background(), f.docsDir, f.indexDir, "docs")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return report
}

func (f *builderFixture) snapshot(t *testing.T) map[string][]byte {
	t.Helper()
	out := make(map[string][]byte)
	entries, err := os.ReadDir(f.indexDir)
	if errors.Is(err, os.ErrNotExist) {
		return out
	}
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(f.indexDir, e.Name()))
		if err != nil {
			t.Fatal(err)
		}
		out[e.Name()] = data
	}
	return out
}

func assertUnchanged(t *testing.T, before, after map[string][]byte) {
	t.Helper()
	if len(before) != len(after) {
		t.Fatalf("index directory changed: %d files before, %d after", len(before), len(after))
	}
	for name, data := range before {
		if string(after[name]) != string(data) {
			t.Errorf("%s changed", name)
		}
	}
}

func TestBuilder_Created(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.txt", "The quick brown fox jumps over the lazy dog. Pack my box with five dozen liquor jugs.")
	f.write(t, "b.md", "# Notes\n\nSphinx of black quartz, judge my vow.")
	f.write(t, "c.png", "\x89PNG")
	f.write(t, "d.pdf", "this is not a pdf")
	if err := os.Mkdir(filepath.Join(f.docsDir, "sub"), 0755); err != nil {
		t.Fatal(err)
	}
	f.write(t, filepath.Join("sub", "ignored.txt"), "nested files are not indexed")

	report := f.build(t, f.builder(embedding.NewMockEmbedder(testDims)))

	if report.Outcome != OutcomeCreated {
		t.Fatalf("Outcome = %s, want created", report.Outcome)
	}
	if report.FilesSeen != 4 || report.FilesLoaded != 2 {
		t.Errorf("FilesSeen = %d, FilesLoaded = %d", report.FilesSeen, report.FilesLoaded)
	}
	if len(report.Skipped) != 2 {
		t.Fatalf("Skipped = %+v", report.Skipped)
	}
	if report.Skipped[0].Reason != SkipUnsupported || !errors.Is(report.Skipped[0].Err, extract.ErrUnsupportedFileType) {
		t.Errorf("Skipped[0] = %+v", report.Skipped[0])
	}
	if report.Skipped[1].Reason != SkipLoadFailed || !errors.Is(report.Skipped[1].Err, extract.ErrDocumentLoad) {
		t.Errorf("Skipped[1] = %+v", report.Skipped[1])
	}
	if report.Documents != 2 || report.Chunks < 3 {
		t.Errorf("Documents = %d, Chunks = %d", report.Documents, report.Chunks)
	}
	if report.Added != report.Chunks || report.IndexSize != report.Chunks {
		t.Errorf("Added = %d, IndexSize = %d, Chunks = %d", report.Added, report.IndexSize, report.Chunks)
	}
	if report.IndexBytes <= 0 {
		t.Errorf("IndexBytes = %d", report.IndexBytes)
	}
	if report.IndexPath != filepath.Join(f.indexDir, "docs.vec") {
		t.Errorf("IndexPath = %s", report.IndexPath)
	}
	if !f.store.Exists(f.indexDir, "docs") {
		t.Error("index should exist after build")
	}

	if n := f.logs.FilterMessage("Skipping unsupported file").FilterLevelExact(zapcore.WarnLevel).Len(); n != 1 {
		t.Errorf("expected 1 unsupported warning, got %d", n)
	}
	if n := f.logs.FilterMessage("Failed to load file").FilterLevelExact(zapcore.ErrorLevel).Len(); n != 1 {
		t.Errorf("expected 1 load error, got %d", n)
	}
	if n := f.logs.FilterMessage("Index build finished").FilterLevelExact(zapcore.InfoLevel).Len(); n != 1 {
		t.Errorf("expected 1 completion log, got %d", n)
	}

	idx, err := f.store.Load(context.Background(), f.indexDir, "docs")
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	if idx.Size() != report.Chunks {
		t.Errorf("persisted size = %d, want %d", idx.Size(), report.Chunks)
	}
	first := idx.Chunk(0)
	if first.SourceFile() != "a.txt" || first.StartIndex() != 0 {
		t.Errorf("first chunk metadata = %v", first.Metadata)
	}
}

func TestBuilder_UpdatedAppendsDuplicates(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.txt", "Alpha beta gamma delta epsilon zeta eta theta iota kappa lambda mu.")
	b := f.builder(embedding.NewMockEmbedder(testDims))

	first := f.build(t, b)
	second := f.build(t, b)

	if first.Outcome != OutcomeCreated || second.Outcome != OutcomeUpdated {
		t.Fatalf("outcomes = %s, %s", first.Outcome, second.Outcome)
	}
	if second.IndexSize != 2*first.IndexSize {
		t.Errorf("IndexSize after rebuild = %d, want %d", second.IndexSize, 2*first.IndexSize)
	}
	if second.Deduplicated != 0 {
		t.Errorf("Deduplicated = %d without dedup", second.Deduplicated)
	}
}

func TestBuilder_IncrementalCounts(t *testing.T) {
	f := newFixture(t)
	b := f.builder(embedding.NewMockEmbedder(testDims))
	doc1 := "First document body. It has enough words to need a few chunks here."
	doc2 := "Second document, shorter."

	f.write(t, "doc1.txt", doc1)
	first := f.build(t, b)

	if err := os.Remove(filepath.Join(f.docsDir, "doc1.txt")); err != nil {
		t.Fatal(err)
	}
	f.write(t, "doc2.txt", doc2)
	second := f.build(t, b)
	if second.IndexSize != first.Chunks+second.Chunks {
		t.Errorf("after doc2: IndexSize = %d, want %d", second.IndexSize, first.Chunks+second.Chunks)
	}

	if err := os.Remove(filepath.Join(f.docsDir, "doc2.txt")); err != nil {
		t.Fatal(err)
	}
	f.write(t, "doc1.txt", doc1)
	third := f.build(t, b)
	if third.IndexSize != 2*first.Chunks+second.Chunks {
		t.Errorf("after doc1 again: IndexSize = %d, want %d", third.IndexSize, 2*first.Chunks+second.Chunks)
	}
}

func TestBuilder_Dedup(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.txt", "Alpha beta gamma delta epsilon zeta eta theta iota kappa lambda mu.")
	b := f.builder(embedding.NewMockEmbedder(testDims), WithDedup(true))

	first := f.build(t, b)
	before := f.snapshot(t)
	second := f.build(t, b)

	if second.Outcome != OutcomeUpdated {
		t.Fatalf("Outcome = %s", second.Outcome)
	}
	if second.Added != 0 || second.Deduplicated != first.Chunks || second.IndexSize != first.IndexSize {
		t.Errorf("second build = %+v", second)
	}
	assertUnchanged(t, before, f.snapshot(t))

	f.write(t, "b.txt", "Completely new material.")
	third := f.build(t, b)
	if third.Added != 1 || third.IndexSize != first.IndexSize+1 {
		t.Errorf("third build Added = %d, IndexSize = %d", third.Added, third.IndexSize)
	}
}

func TestBuilder_DedupWithinBatch(t *testing.T) {
	f := newFixture(t)
	line := "the same line repeated here ok"
	f.write(t, "a.txt", line+"\n\n"+line+"\n\n"+line)
	report := f.build(t, f.builder(embedding.NewMockEmbedder(testDims), WithDedup(true)))
	if report.Chunks != 3 || report.Added != 1 || report.Deduplicated != 2 {
		t.Errorf("report = %+v", report)
	}
}

func TestBuilder_MalformedPDFIsSkipped(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.txt", "The quick brown fox jumps over the lazy dog.")
	f.write(t, "b.pdf", string(misdirectedXrefPDF()))

	report := f.build(t, f.builder(embedding.NewMockEmbedder(testDims)))

	if report.Outcome != OutcomeCreated {
		t.Fatalf("Outcome = %s, want created", report.Outcome)
	}
	if report.FilesLoaded != 1 || len(report.Skipped) != 1 {
		t.Fatalf("FilesLoaded = %d, Skipped = %+v", report.FilesLoaded, report.Skipped)
	}
	if report.Skipped[0].Reason != SkipLoadFailed || !errors.Is(report.Skipped[0].Err, extract.ErrDocumentLoad) {
		t.Errorf("Skipped[0] = %+v", report.Skipped[0])
	}
}

func TestBuilder_RebuildsCorruptIndex(t *testing.T) {
	tests := []struct {
		name    string
		corrupt func(valid []byte) []byte
	}{
		{"garbage", func([]byte) []byte { return []byte("garbage") }},
		{"header claims too many vectors", func(valid []byte) []byte {
			out := append([]byte{}, valid[:20]...)
			binary.LittleEndian.PutUint32(out[16:], 0xFFFFFFFF)
			return append(out, 0x00)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.write(t, "a.txt", "Alpha beta gamma delta epsilon zeta eta theta iota kappa lambda mu.")
			b := f.builder(embedding.NewMockEmbedder(testDims))
			first := f.build(t, b)

			structure, _ := f.store.Paths(f.indexDir, "docs")
			valid, err := os.ReadFile(structure)
			if err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(structure, tt.corrupt(valid), 0600); err != nil {
				t.Fatal(err)
			}

			report := f.build(t, b)
			if report.Outcome != OutcomeRebuilt {
				t.Fatalf("Outcome = %s, want rebuilt", report.Outcome)
			}
			if !errors.Is(report.LoadErr, vectorstore.ErrIndexLoad) {
				t.Errorf("LoadErr = %v", report.LoadErr)
			}
			if report.IndexSize != first.Chunks {
				t.Errorf("IndexSize = %d, want %d", report.IndexSize, first.Chunks)
			}
			if f.logs.FilterLevelExact(zapcore.ErrorLevel).Len() == 0 {
				t.Error("expected an error log for the load failure")
			}

			idx, err := f.store.Load(context.Background(), f.indexDir, "docs")
			if err != nil {
				t.Fatalf("rebuilt index should load: %v", err)
			}
			_ = idx.Close()
		})
	}
}

func TestBuilder_EmptyCorpus(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, f *builderFixture)
	}{
		{"empty directory", func(t *testing.T, f *builderFixture) {}},
		{"missing directory", func(t *testing.T, f *builderFixture) {
			if err := os.RemoveAll(f.docsDir); err != nil {
				t.Fatal(err)
			}
		}},
		{"only unsupported files", func(t *testing.T, f *builderFixture) {
			f.write(t, "image.png", "png")
			f.write(t, "archive.zip", "zip")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(t, f)
			report := f.build(t, f.builder(embedding.NewMockEmbedder(testDims)))
			if report.Outcome != OutcomeEmptyCorpus {
				t.Errorf("Outcome = %s, want empty_corpus", report.Outcome)
			}
			if _, err := os.Stat(f.indexDir); !errors.Is(err, os.ErrNotExist) {
				t.Error("index directory should not be created")
			}
		})
	}
}

func TestBuilder_EmptyChunkSetLeavesIndex(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.txt", "Some real content to index first.")
	f.build(t, f.builder(embedding.NewMockEmbedder(testDims)))
	before := f.snapshot(t)

	if err := os.Remove(filepath.Join(f.docsDir, "a.txt")); err != nil {
		t.Fatal(err)
	}
	f.write(t, "blank.txt", "  \n\n\t ")
	report := f.build(t, f.builder(embedding.NewMockEmbedder(testDims)))

	if report.Outcome != OutcomeEmptyChunkSet {
		t.Errorf("Outcome = %s, want empty_chunk_set", report.Outcome)
	}
	if report.Documents != 1 || report.Chunks != 0 {
		t.Errorf("Documents = %d, Chunks = %d", report.Documents, report.Chunks)
	}
	assertUnchanged(t, before, f.snapshot(t))
}

func TestBuilder_DimensionMismatchWithExistingIndex(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.txt", "Some real content to index first.")
	f.build(t, f.builder(embedding.NewMockEmbedder(testDims)))
	before := f.snapshot(t)

	_, err := f.builder(embedding.NewMockEmbedder(testDims*2)).Build(context.Background(), f.docsDir, f.indexDir, "docs")
	if !errors.Is(err, vectorstore.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
	assertUnchanged(t, before, f.snapshot(t))
}

func TestBuilder_EmbedderReturnsWrongLength(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.txt", "short text")
	embedder := embedding.NewFixedEmbedder(testDims).Set("short text", 1, 2, 3)

	_, err := f.builder(embedder).Build(context.Background(), f.docsDir, f.indexDir, "docs")
	if !errors.Is(err, vectorstore.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
	if f.store.Exists(f.indexDir, "docs") {
		t.Error("no index should be written")
	}
}

type failingEmbedder struct{ embedding.MockEmbedder }

var errEmbed = errors.New("model unavailable")

func (failingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errEmbed
}

func TestBuilder_EmbedderError(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.txt", "short text")
	_, err := f.builder(&failingEmbedder{*embedding.NewMockEmbedder(testDims)}).Build(context.Background(), f.docsDir, f.indexDir, "docs")
	if !errors.Is(err, errEmbed) {
		t.Fatalf("expected embedder error, got %v", err)
	}
	if f.store.Exists(f.indexDir, "docs") {
		t.Error("no index should be written")
	}
}

func TestBuilder_SaveFailure(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.txt", "short text")
	// A regular file where the index directory should be.
	if err := os.WriteFile(f.indexDir, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	_, err := f.builder(embedding.NewMockEmbedder(testDims)).Build(context.Background(), f.docsDir, f.indexDir, "docs")
	if !errors.Is(err, vectorstore.ErrIndexSave) {
		t.Fatalf("expected ErrIndexSave, got %v", err)
	}
}

func TestBuilder_FollowsSymlinks(t *testing.T) {
	f := newFixture(t)
	target := filepath.Join(t.TempDir(), "outside.txt")
	if err := os.WriteFile(target, []byte("linked content"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(target, filepath.Join(f.docsDir, "link.txt")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	if err := os.Symlink(filepath.Join(f.docsDir, "missing.txt"), filepath.Join(f.docsDir, "dangling.txt")); err != nil {
		t.Fatal(err)
	}

	report := f.build(t, f.builder(embedding.NewMockEmbedder(testDims)))
	if report.FilesLoaded != 1 || report.Chunks != 1 {
		t.Errorf("FilesLoaded = %d, Chunks = %d", report.FilesLoaded, report.Chunks)
	}
	if len(report.Skipped) != 1 || report.Skipped[0].Reason != SkipUnreadable {
		t.Errorf("Skipped = %+v", report.Skipped)
	}
}

func TestBuilder_Cancelled(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.txt", "short text")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.builder(embedding.NewMockEmbedder(testDims)).Build(ctx, f.docsDir, f.indexDir, "docs")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

// misdirectedXrefPDF returns a PDF whose cross-reference table points object 2
// at object 1's offset.
func misdirectedXrefPDF() []byte {
	header := "%PDF-1.4\n"
	catalog := "1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n"
	pages := "2 0 obj\n<< /Type /Pages /Kids [] /Count 0 >>\nendobj\n"
	var b strings.Builder
	b.WriteString(header + catalog + pages)
	xref := b.Len()
	b.WriteString("xref\n0 3\n0000000000 65535 f \n")
	fmt.Fprintf(&b, "%010d 00000 n \n", len(header))
	fmt.Fprintf(&b, "%010d 00000 n \n", len(header))
	fmt.Fprintf(&b, "trailer\n<< /Size 3 /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", xref)
	return []byte(b.String())
}
