// Package llm streams chat completions from a language model backend.
package llm

import "context"

// Message is one chat turn sent to the model.
type Message struct {
	Role    string
	Content string
}

// StreamToken is one increment of a streamed answer. A token with Done set
// is the last one on the channel; Err is non-nil when the stream failed
// after it started.
type StreamToken struct {
	Content string
	Done    bool
	Err     error
}

// Client generates streamed chat completions.
type Client interface {
	// ChatStream sends the conversation and returns a channel of tokens.
	// The channel is closed after the Done token. Errors before any token
	// is produced are returned directly.
	ChatStream(ctx context.Context, messages []Message) (<-chan StreamToken, error)
}
