// Package embeddings maps text to fixed-dimension vectors. The same provider
// configuration must serve both ingestion and every query against a
// collection; the vector index enforces this through the provider identity.
package embeddings

import "context"

// Provider generates embedding vectors for text.
type Provider interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Identity names the provider configuration, qualified by backend,
	// e.g. "ollama/nomic-embed-text". Two identities are interchangeable
	// only if they are equal.
	Identity() string

	// Dimension returns the vector dimension, or 0 before the first
	// successful embed when the model's dimension is not known up front.
	Dimension() int
}
