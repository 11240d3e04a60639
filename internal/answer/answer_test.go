package answer

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	ragerrors "github.com/Aman-CERP/groundedrag/internal/errors"
	"github.com/Aman-CERP/groundedrag/internal/intent"
	"github.com/Aman-CERP/groundedrag/internal/retrieval"
)

type fakeLLM struct {
	prompts []string
	out     string
	err     error
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return f.out, ctx.Err()
}

func newAnswerer(t *testing.T, llm LLM, opts ...Option) *Answerer {
	t.Helper()
	a, err := NewAnswerer(llm, nil, opts...)
	require.NoError(t, err)
	return a
}

// =============================================================================
// Answer
// =============================================================================

func TestAnswer_RefusesWithoutEvidence(t *testing.T) {
	tests := []struct {
		name   string
		chunks []Chunk
	}{
		{"nil", nil},
		{"empty", []Chunk{}},
		{"blank", []Chunk{{Text: ""}, {Text: "  \n\t "}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := &fakeLLM{out: "should not be used"}
			a := newAnswerer(t, llm)

			resp, err := a.Answer(context.Background(), Request{Query: "q", RetrievedChunks: tt.chunks})

			require.NoError(t, err)
			assert.Equal(t, RefusalMessage, resp.Summary)
			assert.True(t, resp.Refused())
			assert.Empty(t, llm.prompts, "LLM must not be called")
		})
	}
}

func TestAnswer_BuildsGroundedPrompt(t *testing.T) {
	// Given: chunks with padding and a blank entry, and a disadvantages question
	llm := &fakeLLM{out: "  - Intermittent at night\n"}
	a := newAnswerer(t, llm)
	req := Request{
		Query:           "What are the drawbacks of solar power?",
		RetrievedChunks: []Chunk{{Text: "  Solar is intermittent.  "}, {Text: " "}, {Text: "Panels need space."}},
		SummaryLength:   50,
	}

	// When: answering
	resp, err := a.Answer(context.Background(), req)

	// Then: the answer is trimmed and the prompt carries every grounding part
	require.NoError(t, err)
	assert.Equal(t, "- Intermittent at night", resp.Summary)

	require.Len(t, llm.prompts, 1)
	p := llm.prompts[0]
	assert.Contains(t, p, "User Question:\nWhat are the drawbacks of solar power?")
	assert.Contains(t, p, "Context:\nSolar is intermittent.\n\nPanels need space.\n")
	assert.Contains(t, p, "Answering Instructions:\nList the disadvantages or negative aspects.")
	assert.Contains(t, p, "Maximum length: 50 words")
	assert.Contains(t, p, RefusalMessage)
	assert.True(t, strings.HasSuffix(p, "Final Answer:\n"))
}

func TestAnswer_DefaultSummaryLength(t *testing.T) {
	llm := &fakeLLM{out: "ok"}
	a := newAnswerer(t, llm)

	_, err := a.Answer(context.Background(), Request{Query: "q", RetrievedChunks: TextChunks([]string{"x"})})

	require.NoError(t, err)
	assert.Contains(t, llm.prompts[0], "Maximum length: 200 words")

	llm2 := &fakeLLM{out: "ok"}
	_, err = newAnswerer(t, llm2, WithSummaryLength(80)).Answer(context.Background(),
		Request{Query: "q", RetrievedChunks: TextChunks([]string{"x"})})
	require.NoError(t, err)
	assert.Contains(t, llm2.prompts[0], "Maximum length: 80 words")
}

func TestAnswer_NormalizesModelRefusals(t *testing.T) {
	for _, out := range []string{"", "   ", "No relevant information found.", "Sorry, there is NO RELEVANT INFORMATION here"} {
		t.Run(out, func(t *testing.T) {
			a := newAnswerer(t, &fakeLLM{out: out})
			resp, err := a.Answer(context.Background(), Request{Query: "q", RetrievedChunks: TextChunks([]string{"x"})})
			require.NoError(t, err)
			assert.Equal(t, RefusalMessage, resp.Summary)
		})
	}
}

func TestAnswer_LLMFailureIsCollaboratorFailure(t *testing.T) {
	boom := errors.New("rate limited")
	a := newAnswerer(t, &fakeLLM{err: boom})

	resp, err := a.Answer(context.Background(), Request{Query: "q", RetrievedChunks: TextChunks([]string{"x"})})

	require.Error(t, err)
	assert.Empty(t, resp.Summary)
	assert.NotContains(t, err.Error(), "Error generating response")
	f, ok := ragerrors.AsCollaboratorFailure(err)
	require.True(t, ok)
	assert.Equal(t, ragerrors.CollaboratorLLM, f.Collaborator)
	assert.ErrorIs(t, err, boom)
}

func TestAnswer_TimeoutApplied(t *testing.T) {
	slow := llmFunc(func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	a := newAnswerer(t, slow, WithTimeout(10*time.Millisecond))

	_, err := a.Answer(context.Background(), Request{Query: "q", RetrievedChunks: TextChunks([]string{"x"})})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAnswer_RejectsNegativeSummaryLength(t *testing.T) {
	a := newAnswerer(t, &fakeLLM{out: "x"})
	_, err := a.Answer(context.Background(), Request{Query: "q", SummaryLength: -1})
	assert.Equal(t, ragerrors.CategoryValidation, ragerrors.GetCategory(err))
}

func TestAnswer_UsesClassifier(t *testing.T) {
	llm := &fakeLLM{out: "answer"}
	a, err := NewAnswerer(llm, intent.NewCachedClassifier(intent.KeywordClassifier{}, 8))
	require.NoError(t, err)

	_, err = a.Answer(context.Background(), Request{Query: "Compare wind and solar", RetrievedChunks: TextChunks([]string{"x"})})

	require.NoError(t, err)
	assert.Contains(t, llm.prompts[0], "Provide a comparison.")
}

func TestNewAnswerer_NilLLM(t *testing.T) {
	_, err := NewAnswerer(nil, nil)
	assert.ErrorIs(t, err, ErrNilDependency)
}

// =============================================================================
// Chunk JSON
// =============================================================================

func TestRequest_DecodesMixedChunkShapes(t *testing.T) {
	body := `{"query":"q","retrieved_chunks":["plain",{"text":"object"},{"id":"no text"},null,{"text":null},7],"summary_length":30}`

	var req Request
	require.NoError(t, json.Unmarshal([]byte(body), &req))

	assert.Equal(t, "q", req.Query)
	assert.Equal(t, 30, req.SummaryLength)
	assert.Equal(t, []Chunk{{"plain"}, {"object"}, {""}, {""}, {""}, {"7"}}, req.RetrievedChunks)
}

func TestChunk_RejectsArray(t *testing.T) {
	var c Chunk
	assert.Error(t, json.Unmarshal([]byte(`["a"]`), &c))
}

func TestResponse_JSONShape(t *testing.T) {
	data, err := json.Marshal(Response{Summary: "s"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"summary":"s"}`, string(data))
}

// =============================================================================
// ChatLLM
// =============================================================================

type fakeModel struct {
	messages []llms.MessageContent
	opts     llms.CallOptions
	resp     *llms.ContentResponse
	err      error
}

func (f *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	for _, o := range options {
		o(&f.opts)
	}
	return f.resp, f.err
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func TestChatLLM_Generate(t *testing.T) {
	m := &fakeModel{resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "grounded"}}}}
	c := NewChatLLM(m, 0)

	out, err := c.Generate(context.Background(), "prompt text")

	require.NoError(t, err)
	assert.Equal(t, "grounded", out)
	require.Len(t, m.messages, 1)
	assert.Equal(t, llms.ChatMessageTypeHuman, m.messages[0].Role)
	assert.Equal(t, []llms.ContentPart{llms.TextPart("prompt text")}, m.messages[0].Parts)
	assert.InDelta(t, 0.0, m.opts.Temperature, 0)
}

func TestChatLLM_NoChoices(t *testing.T) {
	c := NewChatLLM(&fakeModel{resp: &llms.ContentResponse{}}, 0.2)
	out, err := c.Generate(context.Background(), "p")
	require.NoError(t, err)
	assert.Empty(t, out)
}

// =============================================================================
// Pipeline
// =============================================================================

type llmFunc func(ctx context.Context, prompt string) (string, error)

func (f llmFunc) Generate(ctx context.Context, prompt string) (string, error) { return f(ctx, prompt) }

type fakeRetriever struct {
	req    retrieval.Request
	chunks []string
	err    error
}

func (f *fakeRetriever) Retrieve(_ context.Context, req retrieval.Request) ([]string, error) {
	f.req = req
	return f.chunks, f.err
}

func TestPipeline_Ask(t *testing.T) {
	// Given: a retriever with one chunk
	r := &fakeRetriever{chunks: []string{"Paris is the capital of France."}}
	llm := &fakeLLM{out: "Paris."}
	p, err := NewPipeline(r, newAnswerer(t, llm))
	require.NoError(t, err)

	// When: asking a scoped question
	resp, err := p.Ask(context.Background(), "Capital of France?", "doc1", 20)

	// Then: the scope reaches retrieval and the chunk reaches the prompt
	require.NoError(t, err)
	assert.Equal(t, "Paris.", resp.Summary)
	assert.Equal(t, retrieval.Request{Query: "Capital of France?", DocID: "doc1"}, r.req)
	assert.Contains(t, llm.prompts[0], "Paris is the capital of France.")
	assert.Contains(t, llm.prompts[0], "Maximum length: 20 words")
}

func TestPipeline_EmptyRetrievalRefuses(t *testing.T) {
	llm := &fakeLLM{out: "made up"}
	p, err := NewPipeline(&fakeRetriever{chunks: []string{}}, newAnswerer(t, llm))
	require.NoError(t, err)

	resp, err := p.Ask(context.Background(), "q", "", 0)

	require.NoError(t, err)
	assert.Equal(t, RefusalMessage, resp.Summary)
	assert.Empty(t, llm.prompts)
}

func TestPipeline_RetrievalErrorPropagates(t *testing.T) {
	fail := ragerrors.NewCollaboratorFailure(ragerrors.CollaboratorDense, "query", errors.New("down"))
	p, err := NewPipeline(&fakeRetriever{err: fail}, newAnswerer(t, &fakeLLM{}))
	require.NoError(t, err)

	_, err = p.Ask(context.Background(), "q", "", 0)

	assert.ErrorIs(t, err, fail)
}
