package vectorindex

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/filingchat/cli/internal/documents"
)

// SQLiteIndex is the default file-backed index. Collections live in a single
// SQLite database under the configured storage directory; similarity search
// is a brute-force cosine scan, which is adequate for a fixed corpus of
// filings.
type SQLiteIndex struct {
	mu sync.RWMutex
	db *sql.DB
}

// NewSQLiteIndex opens (or creates) the index database under storagePath.
func NewSQLiteIndex(storagePath string) (*SQLiteIndex, error) {
	if storagePath == "" {
		storagePath = "./index_data"
	}
	if err := os.MkdirAll(storagePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	dbPath := filepath.Join(storagePath, "index.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}

	idx := &SQLiteIndex{db: db}
	if err := idx.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return idx, nil
}

func (s *SQLiteIndex) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS collections (
		name TEXT PRIMARY KEY,
		provider TEXT NOT NULL,
		dimension INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT NOT NULL,
		collection TEXT NOT NULL,
		file_name TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		ticker TEXT,
		fiscal_year TEXT,
		page_label TEXT,
		content TEXT NOT NULL,
		embedding BLOB NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (collection, id)
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_file ON chunks(collection, file_name);
	CREATE INDEX IF NOT EXISTS idx_chunks_hash ON chunks(collection, content_hash);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Upsert writes chunks inside one transaction, replacing existing IDs.
func (s *SQLiteIndex) Upsert(ctx context.Context, collection string, chunks []documents.Chunk, providerID string, dimension int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.ensureCollection(ctx, tx, collection, providerID, dimension); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO chunks
			(id, collection, file_name, content_hash, ticker, fiscal_year, page_label, content, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, chunk := range chunks {
		embeddingJSON, err := json.Marshal(chunk.Embedding)
		if err != nil {
			return fmt.Errorf("failed to encode embedding: %w", err)
		}
		_, err = stmt.ExecContext(ctx,
			chunk.ID, collection,
			chunk.Meta.FileName, chunk.Meta.ContentHash,
			chunk.Meta.Ticker, chunk.Meta.FiscalYear, chunk.Meta.PageLabel,
			chunk.Text, embeddingJSON,
		)
		if err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", chunk.ID, err)
		}
	}
	return tx.Commit()
}

// ensureCollection pins the collection to a provider identity on first write
// and rejects writes from a different identity afterwards.
func (s *SQLiteIndex) ensureCollection(ctx context.Context, tx *sql.Tx, collection, providerID string, dimension int) error {
	var existing string
	err := tx.QueryRowContext(ctx,
		`SELECT provider FROM collections WHERE name = ?`, collection,
	).Scan(&existing)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO collections (name, provider, dimension) VALUES (?, ?, ?)`,
			collection, providerID, dimension,
		)
		if err != nil {
			return fmt.Errorf("failed to register collection: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read collection metadata: %w", err)
	}
	if existing != providerID {
		return &EmbeddingMismatchError{
			Collection:    collection,
			IndexProvider: existing,
			QueryProvider: providerID,
		}
	}
	return nil
}

// Query scans the collection and returns the topK most similar chunks.
func (s *SQLiteIndex) Query(ctx context.Context, collection string, vector []float32, providerID string, topK int) ([]ScoredChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkQueryable(ctx, collection, providerID, len(vector)); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 5
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, file_name, content_hash, ticker, fiscal_year, page_label, content, embedding
		FROM chunks WHERE collection = ?
	`, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var results []ScoredChunk
	for rows.Next() {
		var chunk documents.Chunk
		var embeddingJSON []byte
		err := rows.Scan(&chunk.ID,
			&chunk.Meta.FileName, &chunk.Meta.ContentHash,
			&chunk.Meta.Ticker, &chunk.Meta.FiscalYear, &chunk.Meta.PageLabel,
			&chunk.Text, &embeddingJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		if err := json.Unmarshal(embeddingJSON, &chunk.Embedding); err != nil {
			continue
		}
		results = append(results, ScoredChunk{
			Chunk: chunk,
			Score: cosineSimilarity(vector, chunk.Embedding),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chunks: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// checkQueryable verifies the collection exists and matches the querying
// provider configuration.
func (s *SQLiteIndex) checkQueryable(ctx context.Context, collection, providerID string, queryDim int) error {
	var provider string
	var dimension int
	err := s.db.QueryRowContext(ctx,
		`SELECT provider, dimension FROM collections WHERE name = ?`, collection,
	).Scan(&provider, &dimension)
	if errors.Is(err, sql.ErrNoRows) {
		return &CollectionNotFoundError{Collection: collection}
	}
	if err != nil {
		return fmt.Errorf("failed to read collection metadata: %w", err)
	}
	if provider != providerID {
		return &EmbeddingMismatchError{
			Collection:    collection,
			IndexProvider: provider,
			QueryProvider: providerID,
		}
	}
	if dimension > 0 && queryDim != dimension {
		return &EmbeddingMismatchError{
			Collection:    collection,
			IndexProvider: fmt.Sprintf("%s (dim %d)", provider, dimension),
			QueryProvider: fmt.Sprintf("%s (dim %d)", providerID, queryDim),
		}
	}
	return nil
}

// Drop removes the collection and its chunks in one transaction.
func (s *SQLiteIndex) Drop(ctx context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE collection = ?`, collection); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, collection); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	return tx.Commit()
}

// DeleteByFile removes every chunk that originated from fileName.
func (s *SQLiteIndex) DeleteByFile(ctx context.Context, collection, fileName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM chunks WHERE collection = ? AND file_name = ?`,
		collection, fileName,
	)
	return err
}

// HasContentHash reports whether the content hash is already indexed.
func (s *SQLiteIndex) HasContentHash(ctx context.Context, collection, contentHash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunks WHERE collection = ? AND content_hash = ?`,
		collection, contentHash,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check content hash: %w", err)
	}
	return count > 0, nil
}

// Stats describes the collection.
func (s *SQLiteIndex) Stats(ctx context.Context, collection string) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var provider string
	var dimension int
	err := s.db.QueryRowContext(ctx,
		`SELECT provider, dimension FROM collections WHERE name = ?`, collection,
	).Scan(&provider, &dimension)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &CollectionNotFoundError{Collection: collection}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read collection metadata: %w", err)
	}

	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunks WHERE collection = ?`, collection,
	).Scan(&count); err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}

	return &Stats{
		Collection: collection,
		Chunks:     count,
		Provider:   provider,
		Dimension:  dimension,
	}, nil
}

// Close closes the database.
func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}

// cosineSimilarity computes the cosine of the angle between two vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
