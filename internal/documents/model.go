// Package documents covers the ingestion-side document model: hashing,
// parsing into page-level units and chunking into retrievable nodes.
package documents

import "strings"

// ParsedUnit is one logical page of a parsed filing.
type ParsedUnit struct {
	Text       string
	PageLabel  string
	SourceFile string
}

// DocumentMeta describes a raw filing before chunking.
type DocumentMeta struct {
	FileName    string
	ContentHash string
	Ticker      string
	FiscalYear  string
}

// ChunkMeta is the metadata carried by every indexed chunk.
type ChunkMeta struct {
	FileName    string
	ContentHash string
	Ticker      string
	FiscalYear  string
	PageLabel   string
}

// Chunk is the minimal retrievable unit. The embedding is populated by the
// embedding provider after chunking.
type Chunk struct {
	ID        string
	Text      string
	Embedding []float32
	Meta      ChunkMeta
}

// MetaFromFileName derives ticker and fiscal year from a filing file name of
// the form TICKER_YEAR_rest.pdf. Unparseable names yield UNKNOWN for both.
func MetaFromFileName(fileName, contentHash string) DocumentMeta {
	meta := DocumentMeta{
		FileName:    fileName,
		ContentHash: contentHash,
		Ticker:      "UNKNOWN",
		FiscalYear:  "UNKNOWN",
	}
	parts := strings.Split(fileName, "_")
	if len(parts) >= 2 {
		meta.Ticker = parts[0]
		meta.FiscalYear = strings.TrimSuffix(parts[1], ".pdf")
	}
	return meta
}
