package chat

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/filingchat/cli/internal/vectorindex"
)

// DefaultPersona is the grounding instruction used when no persona is
// configured. It fixes the analyst role, mandates page citations and
// mandates an explicit not-found answer.
const DefaultPersona = "You are a senior financial analyst answering questions about SEC filings. " +
	"Answer ONLY from the provided filing excerpts. " +
	"ALWAYS cite the specific page number when an excerpt supports a claim. " +
	"If the excerpts do not contain the answer, say 'I cannot find that in the indexed filings.'"

// PromptBuilder assembles the system instruction sent with every question.
type PromptBuilder struct {
	persona          string
	maxContextTokens int
}

// NewPromptBuilder creates a prompt builder with the given persona text.
func NewPromptBuilder(persona string, maxContextTokens int) *PromptBuilder {
	if persona == "" {
		persona = DefaultPersona
	}
	if maxContextTokens <= 0 {
		maxContextTokens = 2000
	}
	return &PromptBuilder{persona: persona, maxContextTokens: maxContextTokens}
}

// System renders the grounding instruction plus the retrieved evidence.
func (b *PromptBuilder) System(evidence []vectorindex.ScoredChunk) string {
	var parts []string
	parts = append(parts, b.persona)

	if len(evidence) > 0 {
		parts = append(parts, "", "## Filing Excerpts:")
		for i, sc := range evidence {
			header := fmt.Sprintf("### Excerpt %d (%s, page %s):",
				i+1, sc.Chunk.Meta.FileName, pageOrNA(sc.Chunk.Meta.PageLabel))
			parts = append(parts, "", header, sc.Chunk.Text)
		}
	} else {
		parts = append(parts, "", "No filing excerpts were retrieved for this question.")
	}

	prompt := strings.Join(parts, "\n")

	// Rough truncation so oversized evidence never blows the model input.
	maxChars := b.maxContextTokens * 4
	if len(prompt) > maxChars {
		prompt = truncateAtRune(prompt, maxChars) + "\n\n[Context truncated]"
	}
	return prompt
}

// truncateAtRune cuts s to at most max bytes without splitting a rune.
func truncateAtRune(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

// CitationBlock renders the deterministic source list appended after an
// answer: distinct (file, page) pairs in first-seen retrieval rank order.
func CitationBlock(evidence []vectorindex.ScoredChunk) string {
	if len(evidence) == 0 {
		return ""
	}

	seen := make(map[string]bool)
	var lines []string
	for _, sc := range evidence {
		key := sc.Chunk.Meta.FileName + "|" + sc.Chunk.Meta.PageLabel
		if seen[key] {
			continue
		}
		seen[key] = true
		lines = append(lines, fmt.Sprintf("- %s (Page %s)",
			sc.Chunk.Meta.FileName, pageOrNA(sc.Chunk.Meta.PageLabel)))
	}
	return "\n\nSources:\n" + strings.Join(lines, "\n")
}

func pageOrNA(label string) string {
	if label == "" {
		return "N/A"
	}
	return label
}
