package chat

import (
	"sync"

	"github.com/filingchat/cli/internal/llm"
)

// Turn is one recorded exchange entry.
type Turn struct {
	Role    string
	Content string
}

// Memory holds a session's conversation history. The full transcript is
// kept; the token budget only shapes what is sent to the language model,
// evicting the oldest turns first.
type Memory struct {
	mu          sync.Mutex
	turns       []Turn
	tokenBudget int
}

// DefaultTokenBudget matches a few thousand tokens of recent context.
const DefaultTokenBudget = 3000

// NewMemory creates a bounded conversation memory.
func NewMemory(tokenBudget int) *Memory {
	if tokenBudget <= 0 {
		tokenBudget = DefaultTokenBudget
	}
	return &Memory{tokenBudget: tokenBudget}
}

// Add appends a turn to the transcript.
func (m *Memory) Add(role, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, Turn{Role: role, Content: content})
}

// Transcript returns the full, unevicted history.
func (m *Memory) Transcript() []Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Turn, len(m.turns))
	copy(out, m.turns)
	return out
}

// Window returns the newest turns that fit the token budget, oldest first,
// for inclusion in the model input.
func (m *Memory) Window() []llm.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	used := 0
	start := len(m.turns)
	for i := len(m.turns) - 1; i >= 0; i-- {
		cost := estimateTokens(m.turns[i].Content)
		if used+cost > m.tokenBudget {
			break
		}
		used += cost
		start = i
	}

	window := make([]llm.Message, 0, len(m.turns)-start)
	for _, turn := range m.turns[start:] {
		window = append(window, llm.Message{Role: turn.Role, Content: turn.Content})
	}
	return window
}

// estimateTokens approximates token count as chars/4.
func estimateTokens(text string) int {
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}
