package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/filingchat/cli/internal/documents"
)

// PostgresIndex is the pgvector-backed index for deployments that already
// run Postgres. Requires the vector extension.
type PostgresIndex struct {
	pool *pgxpool.Pool
}

// NewPostgresIndex connects to Postgres and ensures the index schema.
func NewPostgresIndex(ctx context.Context, connString string) (*PostgresIndex, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	config.MaxConns = 10
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	idx := &PostgresIndex{pool: pool}
	if err := idx.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return idx, nil
}

func (p *PostgresIndex) initSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS rag_collections (
			name TEXT PRIMARY KEY,
			provider TEXT NOT NULL,
			dimension INTEGER NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS rag_chunks (
			id TEXT NOT NULL,
			collection TEXT NOT NULL REFERENCES rag_collections(name) ON DELETE CASCADE,
			file_name TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			ticker TEXT,
			fiscal_year TEXT,
			page_label TEXT,
			content TEXT NOT NULL,
			embedding vector NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (collection, id)
		);
		CREATE INDEX IF NOT EXISTS idx_rag_chunks_file ON rag_chunks(collection, file_name);
		CREATE INDEX IF NOT EXISTS idx_rag_chunks_hash ON rag_chunks(collection, content_hash);
	`)
	return err
}

// Upsert writes chunks in one batch, replacing existing chunk IDs.
func (p *PostgresIndex) Upsert(ctx context.Context, collection string, chunks []documents.Chunk, providerID string, dimension int) error {
	if err := p.ensureCollection(ctx, collection, providerID, dimension); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, chunk := range chunks {
		batch.Queue(`
			INSERT INTO rag_chunks
				(id, collection, file_name, content_hash, ticker, fiscal_year, page_label, content, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (collection, id) DO UPDATE SET
				file_name = EXCLUDED.file_name,
				content_hash = EXCLUDED.content_hash,
				ticker = EXCLUDED.ticker,
				fiscal_year = EXCLUDED.fiscal_year,
				page_label = EXCLUDED.page_label,
				content = EXCLUDED.content,
				embedding = EXCLUDED.embedding
		`,
			chunk.ID, collection,
			chunk.Meta.FileName, chunk.Meta.ContentHash,
			chunk.Meta.Ticker, chunk.Meta.FiscalYear, chunk.Meta.PageLabel,
			chunk.Text, pgvector.NewVector(chunk.Embedding),
		)
	}

	br := p.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < len(chunks); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to upsert chunk %d: %w", i, err)
		}
	}
	return nil
}

func (p *PostgresIndex) ensureCollection(ctx context.Context, collection, providerID string, dimension int) error {
	var existing string
	err := p.pool.QueryRow(ctx,
		`SELECT provider FROM rag_collections WHERE name = $1`, collection,
	).Scan(&existing)
	if errors.Is(err, pgx.ErrNoRows) {
		_, err = p.pool.Exec(ctx,
			`INSERT INTO rag_collections (name, provider, dimension) VALUES ($1, $2, $3)`,
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

// Query runs a cosine nearest-neighbor search with pgvector's <=> operator.
func (p *PostgresIndex) Query(ctx context.Context, collection string, vector []float32, providerID string, topK int) ([]ScoredChunk, error) {
	if err := p.checkQueryable(ctx, collection, providerID, len(vector)); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 5
	}

	rows, err := p.pool.Query(ctx, `
		SELECT id, file_name, content_hash, ticker, fiscal_year, page_label, content,
		       1 - (embedding <=> $1) AS score
		FROM rag_chunks
		WHERE collection = $2
		ORDER BY embedding <=> $1
		LIMIT $3
	`, pgvector.NewVector(vector), collection, topK)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var results []ScoredChunk
	for rows.Next() {
		var sc ScoredChunk
		err := rows.Scan(&sc.Chunk.ID,
			&sc.Chunk.Meta.FileName, &sc.Chunk.Meta.ContentHash,
			&sc.Chunk.Meta.Ticker, &sc.Chunk.Meta.FiscalYear, &sc.Chunk.Meta.PageLabel,
			&sc.Chunk.Text, &sc.Score,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		results = append(results, sc)
	}
	return results, rows.Err()
}

func (p *PostgresIndex) checkQueryable(ctx context.Context, collection, providerID string, queryDim int) error {
	var provider string
	var dimension int
	err := p.pool.QueryRow(ctx,
		`SELECT provider, dimension FROM rag_collections WHERE name = $1`, collection,
	).Scan(&provider, &dimension)
	if errors.Is(err, pgx.ErrNoRows) {
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

// Drop removes the collection; chunks go with it via ON DELETE CASCADE
// inside a single transaction.
func (p *PostgresIndex) Drop(ctx context.Context, collection string) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM rag_collections WHERE name = $1`, collection); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	return tx.Commit(ctx)
}

// DeleteByFile removes every chunk that originated from fileName.
func (p *PostgresIndex) DeleteByFile(ctx context.Context, collection, fileName string) error {
	_, err := p.pool.Exec(ctx,
		`DELETE FROM rag_chunks WHERE collection = $1 AND file_name = $2`,
		collection, fileName,
	)
	return err
}

// HasContentHash reports whether the content hash is already indexed.
func (p *PostgresIndex) HasContentHash(ctx context.Context, collection, contentHash string) (bool, error) {
	var count int
	err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM rag_chunks WHERE collection = $1 AND content_hash = $2`,
		collection, contentHash,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check content hash: %w", err)
	}
	return count > 0, nil
}

// Stats describes the collection.
func (p *PostgresIndex) Stats(ctx context.Context, collection string) (*Stats, error) {
	var provider string
	var dimension int
	err := p.pool.QueryRow(ctx,
		`SELECT provider, dimension FROM rag_collections WHERE name = $1`, collection,
	).Scan(&provider, &dimension)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &CollectionNotFoundError{Collection: collection}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read collection metadata: %w", err)
	}

	var count int
	if err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM rag_chunks WHERE collection = $1`, collection,
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

// Close closes the connection pool.
func (p *PostgresIndex) Close() error {
	p.pool.Close()
	return nil
}
