// Package vectorindex persists (vector, text, metadata) triples and answers
// k-nearest-neighbor queries. Collections are written by a single ingestion
// run and read concurrently by chat sessions; the similarity metric is
// cosine for every backend.
package vectorindex

import (
	"context"
	"fmt"

	"github.com/filingchat/cli/internal/documents"
)

// ScoredChunk is one retrieval hit with its cosine similarity score.
type ScoredChunk struct {
	Chunk documents.Chunk
	Score float64
}

// Stats summarizes a collection for dashboards and audits.
type Stats struct {
	Collection string
	Chunks     int
	Provider   string
	Dimension  int
}

// CollectionNotFoundError reports a query or bind against a collection that
// has never been populated.
type CollectionNotFoundError struct {
	Collection string
}

func (e *CollectionNotFoundError) Error() string {
	return fmt.Sprintf("collection %q not found", e.Collection)
}

// EmbeddingMismatchError reports a query embedded by a different provider
// configuration than the one that built the collection. Mixing embedding
// spaces would silently degrade results, so the query is refused instead.
type EmbeddingMismatchError struct {
	Collection    string
	IndexProvider string
	QueryProvider string
}

func (e *EmbeddingMismatchError) Error() string {
	return fmt.Sprintf("collection %q was embedded with %q, query used %q",
		e.Collection, e.IndexProvider, e.QueryProvider)
}

// Index is a persistent vector store keyed by collection name.
type Index interface {
	// Upsert writes chunks with embeddings. Idempotent by chunk ID: an
	// existing ID is replaced, never duplicated. The first upsert pins the
	// collection to providerID and dimension; later upserts with a
	// different identity fail with EmbeddingMismatchError.
	Upsert(ctx context.Context, collection string, chunks []documents.Chunk, providerID string, dimension int) error

	// Query returns at most topK chunks ranked by descending cosine
	// similarity to vector. Fails with CollectionNotFoundError for an
	// unpopulated collection and EmbeddingMismatchError when providerID or
	// the vector dimension does not match the collection.
	Query(ctx context.Context, collection string, vector []float32, providerID string, topK int) ([]ScoredChunk, error)

	// Drop irreversibly removes the collection, all-or-nothing.
	Drop(ctx context.Context, collection string) error

	// DeleteByFile removes every chunk originating from fileName, used to
	// clear a changed document's stale lineage before reinsertion.
	DeleteByFile(ctx context.Context, collection, fileName string) error

	// HasContentHash reports whether any chunk with the given content hash
	// is already indexed, enabling idempotent re-ingestion.
	HasContentHash(ctx context.Context, collection, contentHash string) (bool, error)

	// Stats describes the collection.
	Stats(ctx context.Context, collection string) (*Stats, error)

	// Close releases backend resources.
	Close() error
}
