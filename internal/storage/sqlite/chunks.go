package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/yegors/co-voice/internal/retrieval"
	"github.com/yegors/co-voice/pkg/logger"
	_ "modernc.org/sqlite"
)

// Import logger functions
var (
	String = logger.String
	Error  = logger.Error
)

// DocumentRecord represents an ingested knowledge base document
type DocumentRecord struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	ChunkCount int       `json:"chunk_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// ChunkStorage persists knowledge base chunks and their embeddings
type ChunkStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewChunkStorage opens (or creates) the SQLite database at dbPath
func NewChunkStorage(dbPath string, log *logger.Logger) (*ChunkStorage, error) {
	storageLogger := log.Named("sqlite")

	storageLogger.Info("Initializing SQLite storage", String("path", dbPath))

	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer at a time
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	storage := &ChunkStorage{
		db:     db,
		logger: storageLogger,
	}
	if err := storage.initDB(); err != nil {
		db.Close()
		return nil, err
	}

	return storage, nil
}

// initDB initializes the database tables
func (s *ChunkStorage) initDB() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			chunk_count INTEGER NOT NULL,
			created_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create documents table: %w", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			source TEXT NOT NULL,
			content TEXT NOT NULL,
			dims INTEGER NOT NULL,
			embedding BLOB NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create chunks table: %w", err)
	}

	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id, position)`)
	if err != nil {
		return fmt.Errorf("failed to create document index: %w", err)
	}

	return nil
}

// Close closes the database
func (s *ChunkStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveDocument stores a document and its chunks in one transaction
func (s *ChunkStorage) SaveDocument(ctx context.Context, source string, chunks []retrieval.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	docID := uuid.NewString()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO documents (id, source, chunk_count, created_at) VALUES (?, ?, ?, ?)`,
		docID, source, len(chunks), time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (id, document_id, position, source, content, dims, embedding) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for i, c := range chunks {
		id := c.ID
		if id == "" {
			id = uuid.NewString()
		}
		if _, err := stmt.ExecContext(ctx, id, docID, i, c.Source, c.Text, len(c.Embedding), encodeEmbedding(c.Embedding)); err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit document: %w", err)
	}

	s.logger.Debug("Stored document",
		String("document_id", docID),
		String("source", source),
		logger.Int("chunks", len(chunks)))
	return nil
}

// LoadChunks returns every stored chunk in ingestion order
func (s *ChunkStorage) LoadChunks(ctx context.Context) ([]retrieval.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.source, c.content, c.dims, c.embedding
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		ORDER BY d.created_at, d.rowid, c.position`)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []retrieval.Chunk
	for rows.Next() {
		var (
			c    retrieval.Chunk
			dims int
			blob []byte
		)
		if err := rows.Scan(&c.ID, &c.Source, &c.Text, &dims, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		vec, err := decodeEmbedding(blob, dims)
		if err != nil {
			s.logger.Warn("Skipping chunk with corrupt embedding", String("chunk_id", c.ID), Error(err))
			continue
		}
		c.Embedding = vec
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chunks: %w", err)
	}

	return chunks, nil
}

// GetDocuments returns ingested documents, newest first, with pagination
func (s *ChunkStorage) GetDocuments(ctx context.Context, limit, offset int) ([]*DocumentRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, chunk_count, created_at
		FROM documents
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var records []*DocumentRecord
	for rows.Next() {
		var (
			record    DocumentRecord
			createdAt string
		)
		if err := rows.Scan(&record.ID, &record.Source, &record.ChunkCount, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		record.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			s.logger.Warn("Failed to parse document timestamp", String("created_at", createdAt), Error(err))
		}
		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}

	return records, nil
}

// encodeEmbedding packs a vector as little-endian float32s
func encodeEmbedding(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeEmbedding(blob []byte, dims int) ([]float32, error) {
	if len(blob) != 4*dims {
		return nil, fmt.Errorf("embedding blob is %d bytes, want %d", len(blob), 4*dims)
	}
	vec := make([]float32, dims)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[4*i:]))
	}
	return vec, nil
}
