// Package storage persists chunk payloads and index metadata in a SQLite sidecar file
// that sits next to a vector index structure.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/hikidashi/internal/models"
)

// SchemaVersion is written to index_info and checked on open.
const SchemaVersion = 1

var (
	// ErrSchema is returned when the sidecar has an unexpected layout or version.
	ErrSchema = errors.New("unsupported sidecar schema")
	// ErrInconsistent is returned when chunk rows do not form positions 0..n-1.
	ErrInconsistent = errors.New("inconsistent sidecar contents")
)

// IndexInfo describes a persisted index.
type IndexInfo struct {
	SchemaVersion  int
	Backend        string
	Metric         string
	Dimensions     int
	EmbeddingModel string
	// Generation changes on every save.
	Generation string
	EntryCount int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ChunkRecord is one row of the chunks table; Position is the vector's position in the index structure.
type ChunkRecord struct {
	Position    int
	Chunk       *models.Chunk
	Fingerprint string
}

// SQLiteStorage wraps a sidecar database.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a sidecar database at dbPath and initializes the schema.
// The parent directory must exist. Journaling stays in rollback mode so the database is a single file.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

// OpenSQLiteStorage opens an existing sidecar read-only.
func OpenSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	dsn := "file:" + (&url.URL{Path: dbPath}).EscapedPath() + "?mode=ro"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS index_info (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		schema_version INTEGER NOT NULL,
		backend TEXT NOT NULL,
		metric TEXT NOT NULL,
		dimensions INTEGER NOT NULL,
		embedding_model TEXT NOT NULL,
		generation TEXT NOT NULL,
		entry_count INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chunks (
		position INTEGER PRIMARY KEY,
		id TEXT NOT NULL,
		content TEXT NOT NULL,
		metadata TEXT NOT NULL,
		fingerprint TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_fingerprint ON chunks(fingerprint);
	`
	_, err := db.Exec(schema)
	return err
}

// WriteInfo stores info as the single index_info row.
func (s *SQLiteStorage) WriteInfo(ctx context.Context, info *IndexInfo) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO index_info
		 (id, schema_version, backend, metric, dimensions, embedding_model, generation, entry_count, created_at, updated_at)
		 VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		SchemaVersion, info.Backend, info.Metric, info.Dimensions, info.EmbeddingModel,
		info.Generation, info.EntryCount,
		info.CreatedAt.UTC().Format(time.RFC3339Nano), info.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to write index info: %w", err)
	}
	return nil
}

// ReadInfo returns the index_info row.
func (s *SQLiteStorage) ReadInfo(ctx context.Context) (*IndexInfo, error) {
	var info IndexInfo
	var created, updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT schema_version, backend, metric, dimensions, embedding_model, generation, entry_count, created_at, updated_at
		 FROM index_info WHERE id = 1`,
	).Scan(&info.SchemaVersion, &info.Backend, &info.Metric, &info.Dimensions, &info.EmbeddingModel,
		&info.Generation, &info.EntryCount, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: index_info row missing", ErrSchema)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read index info: %w", ErrSchema, err)
	}
	if info.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("%w: version %d, expected %d", ErrSchema, info.SchemaVersion, SchemaVersion)
	}
	if info.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, fmt.Errorf("%w: created_at: %v", ErrSchema, err)
	}
	if info.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return nil, fmt.Errorf("%w: updated_at: %v", ErrSchema, err)
	}
	return &info, nil
}

// BatchInsertChunks inserts records in a single transaction.
func (s *SQLiteStorage) BatchInsertChunks(ctx context.Context, records []ChunkRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (position, id, content, metadata, fingerprint) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rec := range records {
		metadataJSON, err := json.Marshal(rec.Chunk.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, rec.Position, rec.Chunk.ID, rec.Chunk.Content, string(metadataJSON), rec.Fingerprint); err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", rec.Position, err)
		}
	}
	return tx.Commit()
}

// LoadChunks returns every chunk ordered by position. Positions must be exactly 0..n-1.
func (s *SQLiteStorage) LoadChunks(ctx context.Context) ([]ChunkRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT position, id, content, metadata, fingerprint FROM chunks ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("%w: query chunks: %w", ErrSchema, err)
	}
	defer rows.Close()

	var records []ChunkRecord
	for rows.Next() {
		var rec ChunkRecord
		var chunk models.Chunk
		var metadataJSON string
		if err := rows.Scan(&rec.Position, &chunk.ID, &chunk.Content, &metadataJSON, &rec.Fingerprint); err != nil {
			return nil, fmt.Errorf("%w: scan chunk: %v", ErrSchema, err)
		}
		if err := json.Unmarshal([]byte(metadataJSON), &chunk.Metadata); err != nil {
			return nil, fmt.Errorf("%w: chunk %d metadata: %v", ErrInconsistent, rec.Position, err)
		}
		if rec.Position != len(records) {
			return nil, fmt.Errorf("%w: expected position %d, found %d", ErrInconsistent, len(records), rec.Position)
		}
		rec.Chunk = &chunk
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate chunks: %w", ErrSchema, err)
	}
	return records, nil
}

// CountChunks returns the number of chunk rows.
func (s *SQLiteStorage) CountChunks(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n)
	return n, err
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
