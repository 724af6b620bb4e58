package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filingchat/cli/internal/documents"
	"github.com/filingchat/cli/internal/llm"
	"github.com/filingchat/cli/internal/vectorindex"
)

type fakeProvider struct {
	embedErr error
}

func (f *fakeProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, f.embedErr
}

func (f *fakeProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, f.embedErr
}

func (f *fakeProvider) Identity() string { return "fake/embedder" }
func (f *fakeProvider) Dimension() int   { return 3 }

type fakeIndex struct {
	vectorindex.Index

	statsErr error
	results  []vectorindex.ScoredChunk
	queryErr error
}

func (f *fakeIndex) Stats(ctx context.Context, collection string) (*vectorindex.Stats, error) {
	if f.statsErr != nil {
		return nil, f.statsErr
	}
	return &vectorindex.Stats{Collection: collection, Chunks: 10, Provider: "fake/embedder", Dimension: 3}, nil
}

func (f *fakeIndex) Query(ctx context.Context, collection string, vector []float32, providerID string, topK int) ([]vectorindex.ScoredChunk, error) {
	return f.results, f.queryErr
}

type fakeLLM struct {
	tokens    []llm.StreamToken
	streamErr error
	gotMsgs   []llm.Message
}

func (f *fakeLLM) ChatStream(ctx context.Context, messages []llm.Message) (<-chan llm.StreamToken, error) {
	f.gotMsgs = messages
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	ch := make(chan llm.StreamToken, len(f.tokens))
	for _, tok := range f.tokens {
		ch <- tok
	}
	close(ch)
	return ch, nil
}

func testEvidence() []vectorindex.ScoredChunk {
	return []vectorindex.ScoredChunk{
		{
			Chunk: documents.Chunk{
				Text: "Revenue was $394.3 billion.",
				Meta: documents.ChunkMeta{FileName: "AAPL_2022.pdf", PageLabel: "14"},
			},
			Score: 0.91,
		},
	}
}

func newTestEngine(index *fakeIndex, provider *fakeProvider, client llm.Client) *Engine {
	return NewEngine(Config{
		Index:       index,
		Provider:    provider,
		LLM:         client,
		Collection:  "filings",
		TopK:        5,
		TurnTimeout: 5 * time.Second,
	})
}

func drain(t *testing.T, stream <-chan llm.StreamToken) (string, error) {
	t.Helper()
	var answer string
	var streamErr error
	for token := range stream {
		answer += token.Content
		if token.Err != nil {
			streamErr = token.Err
		}
	}
	return answer, streamErr
}

func TestAskBeforeBind(t *testing.T) {
	e := newTestEngine(&fakeIndex{}, &fakeProvider{}, &fakeLLM{})
	_, err := e.Ask(context.Background(), "q")
	assert.Error(t, err)
}

func TestBindMissingCollection(t *testing.T) {
	index := &fakeIndex{statsErr: &vectorindex.CollectionNotFoundError{Collection: "filings"}}
	e := newTestEngine(index, &fakeProvider{}, &fakeLLM{})

	err := e.Bind(context.Background())
	var startup *StartupError
	require.ErrorAs(t, err, &startup)
	assert.Equal(t, StateUninitialized, e.State())

	// The session stays open; a later bind succeeds.
	index.statsErr = nil
	require.NoError(t, e.Bind(context.Background()))
	assert.Equal(t, StateReady, e.State())
}

func TestBindProviderUnreachable(t *testing.T) {
	provider := &fakeProvider{embedErr: errors.New("connection refused")}
	e := newTestEngine(&fakeIndex{}, provider, &fakeLLM{})

	err := e.Bind(context.Background())
	var startup *StartupError
	require.ErrorAs(t, err, &startup)
}

func TestAskStreamsAnswerWithCitations(t *testing.T) {
	client := &fakeLLM{tokens: []llm.StreamToken{
		{Content: "Revenue was "},
		{Content: "$394.3 billion."},
		{Done: true},
	}}
	e := newTestEngine(&fakeIndex{results: testEvidence()}, &fakeProvider{}, client)
	require.NoError(t, e.Bind(context.Background()))

	stream, err := e.Ask(context.Background(), "What was revenue?")
	require.NoError(t, err)

	answer, streamErr := drain(t, stream)
	require.NoError(t, streamErr)
	assert.Contains(t, answer, "Revenue was $394.3 billion.")
	assert.Contains(t, answer, "Sources:")
	assert.Contains(t, answer, "AAPL_2022.pdf (Page 14)")
	assert.Equal(t, StateReady, e.State())

	// System instruction first, question last.
	require.NotEmpty(t, client.gotMsgs)
	assert.Equal(t, "system", client.gotMsgs[0].Role)
	assert.Equal(t, "What was revenue?", client.gotMsgs[len(client.gotMsgs)-1].Content)

	// The resolved exchange lands in memory without the citation block.
	transcript := e.Transcript()
	require.Len(t, transcript, 2)
	assert.Equal(t, "user", transcript[0].Role)
	assert.Equal(t, "assistant", transcript[1].Role)
	assert.NotContains(t, transcript[1].Content, "Sources:")
}

func TestAskGenerationFailureKeepsMemoryClean(t *testing.T) {
	client := &fakeLLM{tokens: []llm.StreamToken{
		{Content: "Revenue was "},
		{Err: errors.New("model overloaded")},
	}}
	e := newTestEngine(&fakeIndex{results: testEvidence()}, &fakeProvider{}, client)
	require.NoError(t, e.Bind(context.Background()))

	stream, err := e.Ask(context.Background(), "What was revenue?")
	require.NoError(t, err)

	answer, streamErr := drain(t, stream)
	var genErr *GenerationError
	require.ErrorAs(t, streamErr, &genErr)
	assert.Contains(t, answer, "Revenue was ") // partial tokens kept
	assert.Empty(t, e.Transcript())
	assert.Equal(t, StateReady, e.State())
}

func TestAskStartFailure(t *testing.T) {
	client := &fakeLLM{streamErr: errors.New("bad gateway")}
	e := newTestEngine(&fakeIndex{results: testEvidence()}, &fakeProvider{}, client)
	require.NoError(t, e.Bind(context.Background()))

	_, err := e.Ask(context.Background(), "q")
	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, StateReady, e.State())
}

func TestAskRetrievalFailure(t *testing.T) {
	mismatch := &vectorindex.EmbeddingMismatchError{Collection: "filings"}
	e := newTestEngine(&fakeIndex{queryErr: mismatch}, &fakeProvider{}, &fakeLLM{})
	require.NoError(t, e.Bind(context.Background()))

	_, err := e.Ask(context.Background(), "q")
	var got *vectorindex.EmbeddingMismatchError
	require.ErrorAs(t, err, &got)
	assert.Equal(t, StateReady, e.State())
}

func TestEvidenceAvailableAfterAsk(t *testing.T) {
	client := &fakeLLM{tokens: []llm.StreamToken{{Content: "x"}, {Done: true}}}
	e := newTestEngine(&fakeIndex{results: testEvidence()}, &fakeProvider{}, client)
	require.NoError(t, e.Bind(context.Background()))

	stream, err := e.Ask(context.Background(), "q")
	require.NoError(t, err)
	drain(t, stream)

	evidence := e.Evidence()
	require.Len(t, evidence, 1)
	assert.Equal(t, "AAPL_2022.pdf", evidence[0].Chunk.Meta.FileName)
}

func TestMemoryFlowsIntoFollowupContext(t *testing.T) {
	client := &fakeLLM{tokens: []llm.StreamToken{{Content: "answer one"}, {Done: true}}}
	e := newTestEngine(&fakeIndex{results: testEvidence()}, &fakeProvider{}, client)
	require.NoError(t, e.Bind(context.Background()))

	stream, err := e.Ask(context.Background(), "first question")
	require.NoError(t, err)
	drain(t, stream)

	stream, err = e.Ask(context.Background(), "and the year before?")
	require.NoError(t, err)
	drain(t, stream)

	// system + prior user turn + prior assistant turn + new question
	require.Len(t, client.gotMsgs, 4)
	assert.Equal(t, "first question", client.gotMsgs[1].Content)
	assert.Equal(t, "answer one", client.gotMsgs[2].Content)
}

// gatedLLM holds its stream back until the gate closes, so a test can act
// while an answer is still in flight.
type gatedLLM struct {
	gate chan struct{}
}

func (f *gatedLLM) ChatStream(ctx context.Context, messages []llm.Message) (<-chan llm.StreamToken, error) {
	ch := make(chan llm.StreamToken, 2)
	go func() {
		<-f.gate
		ch <- llm.StreamToken{Content: "late answer"}
		ch <- llm.StreamToken{Done: true}
		close(ch)
	}()
	return ch, nil
}

func TestCloseMidStreamRecordsNothing(t *testing.T) {
	gate := make(chan struct{})
	e := newTestEngine(&fakeIndex{results: testEvidence()}, &fakeProvider{}, &gatedLLM{gate: gate})
	require.NoError(t, e.Bind(context.Background()))

	stream, err := e.Ask(context.Background(), "What was revenue?")
	require.NoError(t, err)

	e.Close()
	close(gate)
	drain(t, stream)

	assert.Equal(t, StateClosed, e.State())
	assert.Empty(t, e.Transcript())
}

func TestClosedEngineRefusesWork(t *testing.T) {
	e := newTestEngine(&fakeIndex{}, &fakeProvider{}, &fakeLLM{})
	require.NoError(t, e.Bind(context.Background()))
	e.Close()

	assert.Equal(t, StateClosed, e.State())
	_, err := e.Ask(context.Background(), "q")
	assert.Error(t, err)

	var startup *StartupError
	assert.ErrorAs(t, e.Bind(context.Background()), &startup)
}
