package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/filingchat/cli/internal/documents"
	"github.com/filingchat/cli/internal/ingest"
)

var rebuildFlag bool

var ingestCmd = &cobra.Command{
	Use:   "ingest [data-dir]",
	Short: "Index PDF filings into the vector collection",
	Long: `Parses, chunks and embeds every PDF under the data directory.
Documents whose content is already indexed are skipped; pass --rebuild to
drop the collection and index everything from scratch.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().BoolVar(&rebuildFlag, "rebuild", false, "drop the collection and reindex all documents")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	dataDir := cfg.DataDir
	if len(args) > 0 {
		dataDir = args[0]
	}

	index, err := buildIndex(ctx)
	if err != nil {
		return fmt.Errorf("failed to open index: %w", err)
	}
	defer index.Close()

	provider, err := buildProvider()
	if err != nil {
		return err
	}
	parser, err := buildParser()
	if err != nil {
		return err
	}
	chunker := documents.NewChunker(cfg.Chunking.MaxChunkChars)

	pipeline := ingest.NewPipeline(parser, chunker, provider, index, cfg.Collection, logger)
	summary, err := pipeline.Run(ctx, dataDir, ingest.Options{Rebuild: rebuildFlag})
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}

	cmd.Printf("Indexed %d document(s) (%d chunks), skipped %d, failed %d\n",
		summary.Files, summary.Chunks, summary.Skipped, summary.Failed)
	return nil
}
