// Package chat runs grounded, conversational answering sessions: retrieval
// of filing evidence, a grounding instruction, streamed generation and a
// citation block, with a bounded conversation memory per session.
package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/filingchat/cli/internal/embeddings"
	"github.com/filingchat/cli/internal/llm"
	"github.com/filingchat/cli/internal/rag"
	"github.com/filingchat/cli/internal/vectorindex"
)

// State is the session lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateAnswering
	StateClosed
)

// StartupError reports a failed session bind: missing collection or an
// unreachable embedding provider. The session stays open for retry.
type StartupError struct {
	Err error
}

func (e *StartupError) Error() string { return fmt.Sprintf("startup failed: %v", e.Err) }
func (e *StartupError) Unwrap() error { return e.Err }

// GenerationError reports a language-model failure for one turn. Partial
// tokens already emitted are kept; the turn is not recorded in memory.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string { return fmt.Sprintf("generation failed: %v", e.Err) }
func (e *GenerationError) Unwrap() error { return e.Err }

// Config wires an answering engine. Every dependency is constructed by the
// caller and injected; the engine holds no ambient global state.
type Config struct {
	Index        vectorindex.Index
	Provider     embeddings.Provider
	LLM          llm.Client
	Collection   string
	TopK         int
	Persona      string
	MemoryBudget int
	TurnTimeout  time.Duration
	Logger       *zap.Logger
}

// Engine answers one question at a time for a single session.
type Engine struct {
	index       vectorindex.Index
	provider    embeddings.Provider
	llm         llm.Client
	retriever   *rag.Retriever
	prompts     *PromptBuilder
	memory      *Memory
	collection  string
	turnTimeout time.Duration
	logger      *zap.Logger

	mu           sync.Mutex
	state        State
	lastEvidence []vectorindex.ScoredChunk
}

// NewEngine creates an engine in the UNINITIALIZED state.
func NewEngine(cfg Config) *Engine {
	if cfg.TurnTimeout == 0 {
		cfg.TurnTimeout = 2 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Engine{
		index:       cfg.Index,
		provider:    cfg.Provider,
		llm:         cfg.LLM,
		retriever:   rag.NewRetriever(cfg.Index, cfg.Provider, cfg.Collection, cfg.TopK),
		prompts:     NewPromptBuilder(cfg.Persona, 2000),
		memory:      NewMemory(cfg.MemoryBudget),
		collection:  cfg.Collection,
		turnTimeout: cfg.TurnTimeout,
		logger:      cfg.Logger,
		state:       StateUninitialized,
	}
}

// State returns the current session state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Bind verifies the collection exists and the embedding provider responds,
// then moves the session to READY. On failure the session remains
// UNINITIALIZED and Bind can be retried.
func (e *Engine) Bind(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateClosed {
		return &StartupError{Err: fmt.Errorf("session is closed")}
	}

	stats, err := e.index.Stats(ctx, e.collection)
	if err != nil {
		return &StartupError{Err: err}
	}
	if _, err := e.provider.Embed(ctx, "readiness probe"); err != nil {
		return &StartupError{Err: fmt.Errorf("embedding provider unreachable: %w", err)}
	}

	e.logger.Info("session bound",
		zap.String("collection", stats.Collection),
		zap.Int("chunks", stats.Chunks),
		zap.String("provider", stats.Provider))
	e.state = StateReady
	return nil
}

// Ask answers one question. Evidence retrieval happens synchronously; the
// returned channel then streams answer tokens followed by one final token
// carrying the citation block. The caller must drain the channel; a new
// question is refused until the stream finishes.
func (e *Engine) Ask(ctx context.Context, question string) (<-chan llm.StreamToken, error) {
	e.mu.Lock()
	switch e.state {
	case StateUninitialized:
		e.mu.Unlock()
		return nil, fmt.Errorf("session is not bound")
	case StateAnswering:
		e.mu.Unlock()
		return nil, fmt.Errorf("a previous answer is still streaming")
	case StateClosed:
		e.mu.Unlock()
		return nil, fmt.Errorf("session is closed")
	}
	e.state = StateAnswering
	e.mu.Unlock()

	turnCtx, cancel := context.WithTimeout(ctx, e.turnTimeout)

	evidence, err := e.retriever.Retrieve(turnCtx, e.retrievalQuery(question))
	if err != nil {
		cancel()
		e.finishTurn(nil)
		return nil, err
	}

	e.mu.Lock()
	e.lastEvidence = evidence
	e.mu.Unlock()

	messages := e.buildMessages(evidence, question)
	stream, err := e.llm.ChatStream(turnCtx, messages)
	if err != nil {
		cancel()
		e.finishTurn(nil)
		return nil, &GenerationError{Err: err}
	}

	out := make(chan llm.StreamToken, 64)
	go func() {
		defer close(out)
		defer cancel()

		var answer strings.Builder
		for token := range stream {
			if token.Err != nil {
				e.logger.Warn("generation failed mid-stream", zap.Error(token.Err))
				out <- llm.StreamToken{
					Content: "\n\n[Error: answer interrupted]",
					Done:    true,
					Err:     &GenerationError{Err: token.Err},
				}
				e.finishTurn(nil)
				return
			}
			if token.Content != "" {
				answer.WriteString(token.Content)
				out <- llm.StreamToken{Content: token.Content}
			}
			if token.Done {
				break
			}
		}

		out <- llm.StreamToken{Content: CitationBlock(evidence), Done: true}
		e.finishTurn(&completedTurn{question: question, answer: answer.String()})
	}()
	return out, nil
}

// completedTurn carries a successful exchange into memory.
type completedTurn struct {
	question string
	answer   string
}

// finishTurn returns to READY; a non-nil turn is recorded in memory, a nil
// turn (failed generation) leaves memory untouched. A session closed while
// the answer was still streaming records nothing.
func (e *Engine) finishTurn(turn *completedTurn) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateClosed {
		return
	}
	if turn != nil {
		e.memory.Add("user", turn.question)
		e.memory.Add("assistant", turn.answer)
	}
	if e.state == StateAnswering {
		e.state = StateReady
	}
}

// retrievalQuery folds recent conversation context into the search query so
// follow-up questions retrieve against their full meaning.
func (e *Engine) retrievalQuery(question string) string {
	window := e.memory.Window()
	if len(window) == 0 {
		return question
	}
	var parts []string
	for _, msg := range window {
		parts = append(parts, msg.Content)
	}
	parts = append(parts, question)
	return strings.Join(parts, "\n")
}

// buildMessages assembles system instruction, memory window and question.
func (e *Engine) buildMessages(evidence []vectorindex.ScoredChunk, question string) []llm.Message {
	messages := []llm.Message{{Role: "system", Content: e.prompts.System(evidence)}}
	messages = append(messages, e.memory.Window()...)
	messages = append(messages, llm.Message{Role: "user", Content: question})
	return messages
}

// Evidence returns the retrieval result behind the most recent answer, kept
// available for audit even when generation failed.
func (e *Engine) Evidence() []vectorindex.ScoredChunk {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]vectorindex.ScoredChunk, len(e.lastEvidence))
	copy(out, e.lastEvidence)
	return out
}

// Transcript returns the session's full conversation history.
func (e *Engine) Transcript() []Turn {
	return e.memory.Transcript()
}

// Close ends the session. The conversation memory dies with it.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = StateClosed
	e.memory = NewMemory(0)
	e.lastEvidence = nil
}
