// Package rag turns a natural-language question into ranked evidence chunks.
package rag

import (
	"context"
	"fmt"

	"github.com/filingchat/cli/internal/embeddings"
	"github.com/filingchat/cli/internal/vectorindex"
)

// Retriever embeds a question and runs a similarity query against one
// collection. Results keep the index's native similarity order; any
// re-ranking belongs in a separate layer.
type Retriever struct {
	index      vectorindex.Index
	provider   embeddings.Provider
	collection string
	topK       int
}

// NewRetriever creates a retriever bound to a collection.
func NewRetriever(index vectorindex.Index, provider embeddings.Provider, collection string, topK int) *Retriever {
	if topK <= 0 {
		topK = 5
	}
	return &Retriever{
		index:      index,
		provider:   provider,
		collection: collection,
		topK:       topK,
	}
}

// Collection returns the bound collection name.
func (r *Retriever) Collection() string { return r.collection }

// Retrieve returns up to topK chunks ranked by descending similarity to the
// question. Index errors, including provider mismatches, propagate unchanged.
func (r *Retriever) Retrieve(ctx context.Context, question string) ([]vectorindex.ScoredChunk, error) {
	queryVector, err := r.provider.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("failed to embed question: %w", err)
	}

	results, err := r.index.Query(ctx, r.collection, queryVector, r.provider.Identity(), r.topK)
	if err != nil {
		return nil, err
	}
	if len(results) > r.topK {
		results = results[:r.topK]
	}
	return results, nil
}
