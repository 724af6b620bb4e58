package main

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/filingchat/cli/internal/vectorindex"
)

var showSourcesFlag bool

var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Answer a single question and print a retrieval audit",
	Long: `Answers one question non-interactively, streaming the answer to
stdout, then prints the retrieved chunks with their similarity scores so
retrieval quality can be inspected.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().BoolVar(&showSourcesFlag, "sources", true, "print the retrieved chunks after the answer")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	question := strings.Join(args, " ")

	engine, cleanup, err := newEngine(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := engine.Bind(ctx); err != nil {
		return err
	}

	stream, err := engine.Ask(ctx, question)
	if err != nil {
		return err
	}

	var streamErr error
	for token := range stream {
		fmt.Fprint(cmd.OutOrStdout(), token.Content)
		if token.Err != nil {
			streamErr = token.Err
		}
	}
	fmt.Fprintln(cmd.OutOrStdout())

	if showSourcesFlag {
		printEvidence(cmd, engine.Evidence())
	}
	return streamErr
}

// printEvidence lists the retrieval result behind the answer: rank, score,
// source location and a short preview for each chunk.
func printEvidence(cmd *cobra.Command, evidence []vectorindex.ScoredChunk) {
	if len(evidence) == 0 {
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\nRetrieved %d chunk(s):\n", len(evidence))
	for i, sc := range evidence {
		fmt.Fprintf(cmd.OutOrStdout(), "%d. score=%.4f  %s (Page %s)\n   %s\n",
			i+1, sc.Score, sc.Chunk.Meta.FileName, sc.Chunk.Meta.PageLabel,
			previewText(sc.Chunk.Text, 200))
	}
}

// previewText flattens whitespace and cuts to at most max bytes on a rune
// boundary.
func previewText(text string, max int) string {
	preview := strings.Join(strings.Fields(text), " ")
	if len(preview) <= max {
		return preview
	}
	for max > 0 && !utf8.RuneStart(preview[max]) {
		max--
	}
	return preview[:max] + "..."
}
