package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filingchat/cli/internal/documents"
	"github.com/filingchat/cli/internal/vectorindex"
)

type fakeProvider struct {
	vector   []float32
	embedErr error
}

func (f *fakeProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vector, f.embedErr
}

func (f *fakeProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vector
	}
	return out, f.embedErr
}

func (f *fakeProvider) Identity() string { return "fake/embedder" }
func (f *fakeProvider) Dimension() int   { return len(f.vector) }

type fakeIndex struct {
	vectorindex.Index

	results      []vectorindex.ScoredChunk
	queryErr     error
	gotVector    []float32
	gotProvider  string
	gotTopK      int
	gotCollected string
}

func (f *fakeIndex) Query(ctx context.Context, collection string, vector []float32, providerID string, topK int) ([]vectorindex.ScoredChunk, error) {
	f.gotCollected = collection
	f.gotVector = vector
	f.gotProvider = providerID
	f.gotTopK = topK
	return f.results, f.queryErr
}

func scored(id string, score float64) vectorindex.ScoredChunk {
	return vectorindex.ScoredChunk{
		Chunk: documents.Chunk{ID: id, Text: "text " + id},
		Score: score,
	}
}

func TestRetrievePassesProviderIdentity(t *testing.T) {
	index := &fakeIndex{results: []vectorindex.ScoredChunk{scored("a", 0.9)}}
	provider := &fakeProvider{vector: []float32{1, 2, 3}}
	r := NewRetriever(index, provider, "filings", 5)

	results, err := r.Retrieve(context.Background(), "what was revenue?")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "filings", index.gotCollected)
	assert.Equal(t, []float32{1, 2, 3}, index.gotVector)
	assert.Equal(t, "fake/embedder", index.gotProvider)
	assert.Equal(t, 5, index.gotTopK)
}

func TestRetrieveTruncatesToTopK(t *testing.T) {
	index := &fakeIndex{results: []vectorindex.ScoredChunk{
		scored("a", 0.9), scored("b", 0.8), scored("c", 0.7),
	}}
	r := NewRetriever(index, &fakeProvider{vector: []float32{1}}, "filings", 2)

	results, err := r.Retrieve(context.Background(), "q")
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, "a", results[0].Chunk.ID)
}

func TestRetrieveEmbedError(t *testing.T) {
	index := &fakeIndex{}
	provider := &fakeProvider{embedErr: errors.New("provider down")}
	r := NewRetriever(index, provider, "filings", 5)

	_, err := r.Retrieve(context.Background(), "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to embed question")
}

func TestRetrieveIndexErrorPropagates(t *testing.T) {
	mismatch := &vectorindex.EmbeddingMismatchError{
		Collection:    "filings",
		IndexProvider: "other/model",
		QueryProvider: "fake/embedder",
	}
	index := &fakeIndex{queryErr: mismatch}
	r := NewRetriever(index, &fakeProvider{vector: []float32{1}}, "filings", 5)

	_, err := r.Retrieve(context.Background(), "q")
	var got *vectorindex.EmbeddingMismatchError
	require.ErrorAs(t, err, &got)
	assert.Same(t, mismatch, got)
}

func TestNewRetrieverDefaultsTopK(t *testing.T) {
	index := &fakeIndex{}
	r := NewRetriever(index, &fakeProvider{vector: []float32{1}}, "filings", 0)

	_, err := r.Retrieve(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, 5, index.gotTopK)
}
