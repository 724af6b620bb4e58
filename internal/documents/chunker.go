package documents

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// chunkNamespace is the UUIDv5 namespace for chunk IDs. IDs are derived from
// the document content hash, so re-ingesting identical content reproduces
// identical IDs and upserts replace rather than duplicate.
var chunkNamespace = uuid.MustParse("7c9e5a60-31f4-4d52-9b1e-2f8c0d6a4e11")

// ChunkWarning records a degraded chunking decision, such as an oversized
// table that had to be kept whole. Warnings are reported, never raised.
type ChunkWarning struct {
	File      string
	PageLabel string
	Reason    string
}

// Chunker splits parsed pages into retrieval-sized chunks along structural
// markdown boundaries: headings, blank-line paragraph breaks and table
// blocks. Table rows are never split across chunks.
type Chunker struct {
	maxChars int
}

// DefaultMaxChunkChars bounds chunk length so chunks stay inside embedding
// model input limits.
const DefaultMaxChunkChars = 2048

// NewChunker creates a chunker with the given maximum chunk length in
// characters.
func NewChunker(maxChars int) *Chunker {
	if maxChars <= 0 {
		maxChars = DefaultMaxChunkChars
	}
	return &Chunker{maxChars: maxChars}
}

// Chunk converts parsed units into chunks carrying the document metadata.
// A unit that is empty after trimming produces no chunks.
func (c *Chunker) Chunk(units []ParsedUnit, meta DocumentMeta) ([]Chunk, []ChunkWarning) {
	var chunks []Chunk
	var warnings []ChunkWarning
	ordinal := 0

	for _, unit := range units {
		if strings.TrimSpace(unit.Text) == "" {
			continue
		}

		blocks := splitBlocks(unit.Text)
		for _, text := range packBlocks(blocks, c.maxChars) {
			if len(text) > c.maxChars {
				warnings = append(warnings, ChunkWarning{
					File:      meta.FileName,
					PageLabel: unit.PageLabel,
					Reason:    fmt.Sprintf("structural unit of %d chars exceeds limit %d, kept whole", len(text), c.maxChars),
				})
			}
			chunks = append(chunks, Chunk{
				ID:   chunkID(meta.ContentHash, unit.PageLabel, ordinal),
				Text: text,
				Meta: ChunkMeta{
					FileName:    meta.FileName,
					ContentHash: meta.ContentHash,
					Ticker:      meta.Ticker,
					FiscalYear:  meta.FiscalYear,
					PageLabel:   unit.PageLabel,
				},
			})
			ordinal++
		}
	}
	return chunks, warnings
}

// chunkID derives a stable chunk identifier from content identity.
func chunkID(contentHash, pageLabel string, ordinal int) string {
	name := fmt.Sprintf("%s:%s:%d", contentHash, pageLabel, ordinal)
	return uuid.NewSHA1(chunkNamespace, []byte(name)).String()
}

// splitBlocks breaks page text into indivisible structural blocks: headings,
// paragraphs and whole tables.
func splitBlocks(text string) []string {
	lines := strings.Split(text, "\n")
	var blocks []string
	var current []string
	inTable := false

	flush := func() {
		if len(current) == 0 {
			return
		}
		block := strings.TrimSpace(strings.Join(current, "\n"))
		if block != "" {
			blocks = append(blocks, block)
		}
		current = nil
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		isTableRow := strings.HasPrefix(trimmed, "|")

		switch {
		case trimmed == "":
			flush()
			inTable = false
		case strings.HasPrefix(trimmed, "#"):
			flush()
			inTable = false
			current = append(current, line)
			flush()
		case isTableRow && !inTable:
			flush()
			inTable = true
			current = append(current, line)
		case !isTableRow && inTable:
			flush()
			inTable = false
			current = append(current, line)
		default:
			current = append(current, line)
		}
	}
	flush()
	return blocks
}

// packBlocks greedily joins consecutive blocks into chunk texts without
// exceeding maxChars. A single oversized block is emitted whole.
func packBlocks(blocks []string, maxChars int) []string {
	var texts []string
	var current []string
	size := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		texts = append(texts, strings.Join(current, "\n\n"))
		current = nil
		size = 0
	}

	for _, block := range blocks {
		// +2 accounts for the joining blank line.
		if size > 0 && size+len(block)+2 > maxChars {
			flush()
		}
		current = append(current, block)
		size += len(block) + 2
		if size > maxChars {
			flush()
		}
	}
	flush()
	return texts
}
