package main

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/filingchat/cli/internal/chat"
	"github.com/filingchat/cli/internal/tui"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open an interactive chat session over the indexed filings",
	RunE:  runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

// newEngine assembles an answering engine from configuration.
func newEngine(cmd *cobra.Command) (*chat.Engine, func(), error) {
	ctx := cmd.Context()

	index, err := buildIndex(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open index: %w", err)
	}
	provider, err := buildProvider()
	if err != nil {
		index.Close()
		return nil, nil, err
	}
	client, err := buildLLM()
	if err != nil {
		index.Close()
		return nil, nil, err
	}

	engine := chat.NewEngine(chat.Config{
		Index:        index,
		Provider:     provider,
		LLM:          client,
		Collection:   cfg.Collection,
		TopK:         cfg.Chat.TopK,
		Persona:      cfg.Chat.Persona,
		MemoryBudget: cfg.Chat.MemoryTokenBudget,
		TurnTimeout:  time.Duration(cfg.Chat.TurnTimeoutSecs) * time.Second,
		Logger:       logger,
	})
	cleanup := func() {
		engine.Close()
		index.Close()
	}
	return engine, cleanup, nil
}

func runChat(cmd *cobra.Command, args []string) error {
	engine, cleanup, err := newEngine(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	model := tui.New(cmd.Context(), engine)
	program := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("chat session failed: %w", err)
	}
	return nil
}
