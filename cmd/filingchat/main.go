package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/filingchat/cli/config"
	"github.com/filingchat/cli/internal/documents"
	"github.com/filingchat/cli/internal/embeddings"
	"github.com/filingchat/cli/internal/llm"
	"github.com/filingchat/cli/internal/vectorindex"
)

var (
	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "filingchat",
	Short: "Question answering over PDF financial filings",
	Long: `filingchat indexes PDF financial filings into a local vector
collection and answers questions about them with page-level citations.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Missing .env is fine; the environment may already be set.
		_ = godotenv.Load()

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		logger, err = buildLogger()
		if err != nil {
			return fmt.Errorf("failed to build logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var verbose bool

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func buildLogger() (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	zcfg.OutputPaths = []string{"stderr"}
	if verbose {
		zcfg = zap.NewDevelopmentConfig()
	}
	return zcfg.Build()
}

// buildIndex selects the vector storage backend from configuration.
func buildIndex(ctx context.Context) (vectorindex.Index, error) {
	switch cfg.Storage.Backend {
	case "", "sqlite":
		return vectorindex.NewSQLiteIndex(cfg.Storage.Path)
	case "postgres":
		return vectorindex.NewPostgresIndex(ctx, cfg.Storage.PostgresURL)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// buildProvider selects the embedding backend from configuration.
func buildProvider() (embeddings.Provider, error) {
	switch cfg.Embeddings.Backend {
	case "", "ollama":
		return embeddings.NewOllamaProvider(cfg.Embeddings.BaseURL, cfg.Embeddings.Model), nil
	case "openai":
		return embeddings.NewOpenAIProvider(embeddings.OpenAIConfig{
			BaseURL: cfg.Embeddings.BaseURL,
			Model:   cfg.Embeddings.Model,
			APIKey:  os.Getenv(cfg.Embeddings.APIKeyEnv),
		})
	default:
		return nil, fmt.Errorf("unknown embeddings backend %q", cfg.Embeddings.Backend)
	}
}

// buildLLM selects the language model backend from configuration.
func buildLLM() (llm.Client, error) {
	switch cfg.LLM.Backend {
	case "", "ollama":
		return llm.NewOllamaClient(cfg.LLM.BaseURL, cfg.LLM.Model), nil
	case "openai":
		return llm.NewOpenAIClient(llm.OpenAIConfig{
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
			APIKey:  os.Getenv(cfg.LLM.APIKeyEnv),
		})
	default:
		return nil, fmt.Errorf("unknown llm backend %q", cfg.LLM.Backend)
	}
}

// buildParser selects between the hosted parse service and local extraction.
func buildParser() (documents.Parser, error) {
	switch cfg.Parser.Backend {
	case "", "local":
		return documents.NewFitzParser(), nil
	case "service":
		return documents.NewServiceParser(documents.ServiceParserConfig{
			BaseURL:    cfg.Parser.BaseURL,
			APIKey:     os.Getenv(cfg.Parser.APIKeyEnv),
			Timeout:    time.Duration(cfg.Parser.TimeoutSecs) * time.Second,
			MaxRetries: uint(cfg.Parser.MaxRetries),
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown parser backend %q", cfg.Parser.Backend)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
