package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/hikidashi/internal/models"
)

func sampleInfo() *IndexInfo {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &IndexInfo{
		Backend:        "flat",
		Metric:         "cosine",
		Dimensions:     384,
		EmbeddingModel: "all-MiniLM-L6-v2",
		Generation:     "gen-1",
		EntryCount:     2,
		CreatedAt:      now,
		UpdatedAt:      now.Add(time.Hour),
	}
}

func sampleRecords() []ChunkRecord {
	return []ChunkRecord{
		{Position: 0, Fingerprint: "fp0", Chunk: &models.Chunk{ID: "c0", Content: "first chunk", Metadata: map[string]string{
			models.MetaSourceFile: "a.txt", models.MetaStartIndex: "0",
		}}},
		{Position: 1, Fingerprint: "fp1", Chunk: &models.Chunk{ID: "c1", Content: "second chunk", Metadata: map[string]string{
			models.MetaSourceFile: "b.pdf", models.MetaPage: "3",
		}}},
	}
}

func TestSQLiteStorage_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx.db")
	store, err := NewSQLiteStorage(path)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := store.WriteInfo(ctx, sampleInfo()); err != nil {
		t.Fatal(err)
	}
	if err := store.BatchInsertChunks(ctx, sampleRecords()); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	ro, err := OpenSQLiteStorage(path)
	if err != nil {
		t.Fatal(err)
	}
	defer ro.Close()

	info, err := ro.ReadInfo(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := sampleInfo()
	if info.Backend != want.Backend || info.Metric != want.Metric || info.Dimensions != want.Dimensions ||
		info.EmbeddingModel != want.EmbeddingModel || info.Generation != want.Generation || info.EntryCount != 2 {
		t.Errorf("info = %+v", info)
	}
	if !info.CreatedAt.Equal(want.CreatedAt) || !info.UpdatedAt.Equal(want.UpdatedAt) {
		t.Errorf("timestamps = %v, %v", info.CreatedAt, info.UpdatedAt)
	}
	if info.SchemaVersion != SchemaVersion {
		t.Errorf("schema version = %d", info.SchemaVersion)
	}

	records, err := ro.LoadChunks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records", len(records))
	}
	if records[1].Chunk.ID != "c1" || records[1].Chunk.Content != "second chunk" || records[1].Fingerprint != "fp1" {
		t.Errorf("record 1 = %+v", records[1])
	}
	if records[1].Chunk.Metadata[models.MetaPage] != "3" {
		t.Errorf("metadata = %v", records[1].Chunk.Metadata)
	}
	n, err := ro.CountChunks(ctx)
	if err != nil || n != 2 {
		t.Errorf("CountChunks = %d, %v", n, err)
	}
}

func TestSQLiteStorage_singleFile(t *testing.T) {
	dir := t.TempDir()
	store, err := NewSQLiteStorage(filepath.Join(dir, "idx.db"))
	if err != nil {
		t.Fatal(err)
	}
	if err := store.WriteInfo(context.Background(), sampleInfo()); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		t.Errorf("sidecar should be a single file, found %v", names)
	}
}

func TestSQLiteStorage_readOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx.db")
	store, err := NewSQLiteStorage(path)
	if err != nil {
		t.Fatal(err)
	}
	_ = store.Close()

	ro, err := OpenSQLiteStorage(path)
	if err != nil {
		t.Fatal(err)
	}
	defer ro.Close()
	if err := ro.WriteInfo(context.Background(), sampleInfo()); err == nil {
		t.Error("writes through a read-only handle should fail")
	}
}

func TestSQLiteStorage_missingInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx.db")
	store, err := NewSQLiteStorage(path)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	if _, err := store.ReadInfo(context.Background()); !errors.Is(err, ErrSchema) {
		t.Errorf("expected ErrSchema, got %v", err)
	}
}

func TestSQLiteStorage_wrongSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx.db")
	store, err := NewSQLiteStorage(path)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()
	if err := store.WriteInfo(ctx, sampleInfo()); err != nil {
		t.Fatal(err)
	}
	if _, err := store.db.ExecContext(ctx, `UPDATE index_info SET schema_version = 99`); err != nil {
		t.Fatal(err)
	}
	if _, err := store.ReadInfo(ctx); !errors.Is(err, ErrSchema) {
		t.Errorf("expected ErrSchema, got %v", err)
	}
}

func TestSQLiteStorage_gapInPositions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx.db")
	store, err := NewSQLiteStorage(path)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()
	records := sampleRecords()
	records[1].Position = 5
	if err := store.BatchInsertChunks(ctx, records); err != nil {
		t.Fatal(err)
	}
	if _, err := store.LoadChunks(ctx); !errors.Is(err, ErrInconsistent) {
		t.Errorf("expected ErrInconsistent, got %v", err)
	}
}

func TestSQLiteStorage_foreignDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "other.db")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`CREATE TABLE unrelated (x INTEGER)`); err != nil {
		t.Fatal(err)
	}
	_ = db.Close()

	ro, err := OpenSQLiteStorage(path)
	if err != nil {
		t.Fatal(err)
	}
	defer ro.Close()
	if _, err := ro.ReadInfo(context.Background()); !errors.Is(err, ErrSchema) {
		t.Errorf("expected ErrSchema, got %v", err)
	}
	if _, err := ro.LoadChunks(context.Background()); !errors.Is(err, ErrSchema) {
		t.Errorf("expected ErrSchema, got %v", err)
	}
}

func TestSQLiteStorage_notADatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.db")
	if err := os.WriteFile(path, []byte("definitely not sqlite, just some bytes that go on for a while"), 0600); err != nil {
		t.Fatal(err)
	}
	ro, err := OpenSQLiteStorage(path)
	if err != nil {
		return
	}
	defer ro.Close()
	if _, err := ro.ReadInfo(context.Background()); err == nil {
		t.Error("expected error reading a non-database file")
	}
}

func TestSQLiteStorage_duplicatePositionRollsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx.db")
	store, err := NewSQLiteStorage(path)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()
	records := sampleRecords()
	records[1].Position = 0
	if err := store.BatchInsertChunks(ctx, records); err == nil {
		t.Fatal("expected error for duplicate position")
	}
	n, _ := store.CountChunks(ctx)
	if n != 0 {
		t.Errorf("failed batch must not leave rows behind, found %d", n)
	}
}
