// Package ingest drives documents from a data directory into a vector
// collection: hash, parse, chunk, embed, index. Re-runs are incremental by
// content hash; a rebuild drops the collection first.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/filingchat/cli/internal/documents"
	"github.com/filingchat/cli/internal/embeddings"
	"github.com/filingchat/cli/internal/vectorindex"
)

// Summary reports the outcome of one pipeline run.
type Summary struct {
	Files   int
	Skipped int
	Failed  int
	Chunks  int
}

// Options tunes a run. Rebuild drops the collection before indexing so every
// document is processed from scratch.
type Options struct {
	Rebuild bool
}

// Pipeline wires the ingestion stages together.
type Pipeline struct {
	parser     documents.Parser
	chunker    *documents.Chunker
	provider   embeddings.Provider
	index      vectorindex.Index
	collection string
	logger     *zap.Logger
}

// NewPipeline creates a pipeline over the given components.
func NewPipeline(parser documents.Parser, chunker *documents.Chunker, provider embeddings.Provider, index vectorindex.Index, collection string, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		parser:     parser,
		chunker:    chunker,
		provider:   provider,
		index:      index,
		collection: collection,
		logger:     logger,
	}
}

// Run ingests every PDF under dataDir. A document whose content hash is
// already indexed is skipped unless opts.Rebuild is set. A parse failure
// skips that document and the run continues; the failure is counted, not
// fatal.
func (p *Pipeline) Run(ctx context.Context, dataDir string, opts Options) (Summary, error) {
	var summary Summary

	paths, err := listPDFs(dataDir)
	if err != nil {
		return summary, err
	}
	if len(paths) == 0 {
		return summary, fmt.Errorf("no PDF files found in %s", dataDir)
	}

	if opts.Rebuild {
		if err := p.index.Drop(ctx, p.collection); err != nil {
			var notFound *vectorindex.CollectionNotFoundError
			if !errors.As(err, &notFound) {
				return summary, fmt.Errorf("failed to drop collection: %w", err)
			}
		}
		p.logger.Info("collection dropped for rebuild", zap.String("collection", p.collection))
	}

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		count, err := p.ingestFile(ctx, path, opts)
		switch {
		case err == nil && count < 0:
			summary.Skipped++
		case err == nil:
			summary.Files++
			summary.Chunks += count
		default:
			var parseErr *documents.ParseServiceError
			if errors.As(err, &parseErr) {
				p.logger.Warn("skipping document after parse failure",
					zap.String("file", filepath.Base(path)), zap.Error(err))
				summary.Failed++
				continue
			}
			return summary, err
		}
	}

	p.logger.Info("ingestion complete",
		zap.Int("files", summary.Files),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Int("chunks", summary.Chunks))
	return summary, nil
}

// ingestFile processes a single document. Returns -1 chunks when the
// document was skipped as already indexed.
func (p *Pipeline) ingestFile(ctx context.Context, path string, opts Options) (int, error) {
	fileName := filepath.Base(path)

	contentHash, err := documents.HashFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to hash %s: %w", fileName, err)
	}

	if !opts.Rebuild {
		indexed, err := p.index.HasContentHash(ctx, p.collection, contentHash)
		if err != nil {
			var notFound *vectorindex.CollectionNotFoundError
			if !errors.As(err, &notFound) {
				return 0, fmt.Errorf("failed to check index for %s: %w", fileName, err)
			}
		} else if indexed {
			p.logger.Info("document already indexed", zap.String("file", fileName))
			return -1, nil
		}
	}

	units, err := p.parser.Parse(ctx, path)
	if err != nil {
		return 0, err
	}

	meta := documents.MetaFromFileName(fileName, contentHash)
	chunks, warnings := p.chunker.Chunk(units, meta)
	for _, w := range warnings {
		p.logger.Warn("chunking warning",
			zap.String("file", w.File),
			zap.String("page", w.PageLabel),
			zap.String("reason", w.Reason))
	}
	if len(chunks) == 0 {
		p.logger.Warn("document produced no chunks", zap.String("file", fileName))
		return 0, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := p.provider.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("failed to embed %s: %w", fileName, err)
	}
	if len(vectors) != len(chunks) {
		return 0, fmt.Errorf("embedding count mismatch for %s: got %d, want %d", fileName, len(vectors), len(chunks))
	}
	for i := range chunks {
		chunks[i].Embedding = vectors[i]
	}

	// An earlier revision of this file may already be indexed under the
	// same name with a different hash.
	if err := p.index.DeleteByFile(ctx, p.collection, fileName); err != nil {
		var notFound *vectorindex.CollectionNotFoundError
		if !errors.As(err, &notFound) {
			return 0, fmt.Errorf("failed to clear stale chunks for %s: %w", fileName, err)
		}
	}

	if err := p.index.Upsert(ctx, p.collection, chunks, p.provider.Identity(), p.provider.Dimension()); err != nil {
		return 0, fmt.Errorf("failed to index %s: %w", fileName, err)
	}

	p.logger.Info("document indexed",
		zap.String("file", fileName),
		zap.String("ticker", meta.Ticker),
		zap.String("fiscal_year", meta.FiscalYear),
		zap.Int("chunks", len(chunks)))
	return len(chunks), nil
}

// listPDFs returns the PDF files directly under dir, sorted by name.
func listPDFs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), ".pdf") {
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}
