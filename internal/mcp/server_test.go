package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/groundedrag/internal/answer"
	"github.com/Aman-CERP/groundedrag/internal/embed"
	ragerrors "github.com/Aman-CERP/groundedrag/internal/errors"
	"github.com/Aman-CERP/groundedrag/internal/retrieval"
	"github.com/Aman-CERP/groundedrag/internal/telemetry"
)

type mockRetriever struct {
	mu     sync.Mutex
	got    []retrieval.Request
	chunks []string
	err    error
}

func (m *mockRetriever) Retrieve(_ context.Context, req retrieval.Request) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.got = append(m.got, req)
	return m.chunks, m.err
}

type mockAsker struct {
	resp   answer.Response
	err    error
	docID  string
	length int
}

func (m *mockAsker) Ask(_ context.Context, _ string, docID string, summaryLength int) (answer.Response, error) {
	m.docID, m.length = docID, summaryLength
	return m.resp, m.err
}

type countOf int

func (c countOf) Count() int { return int(c) }

func newServer(t *testing.T, r Retriever, a Asker, opts Options) *Server {
	t.Helper()
	srv, err := NewServer(r, a, opts)
	require.NoError(t, err)
	return srv
}

func TestNewServer_RequiresRetriever(t *testing.T) {
	_, err := NewServer(nil, nil, Options{})
	assert.Error(t, err)
}

func TestServer_ListTools(t *testing.T) {
	// Given: a server with and without an asker
	full := newServer(t, &mockRetriever{}, &mockAsker{}, Options{})
	bare := newServer(t, &mockRetriever{}, nil, Options{})

	// Then: answer is only listed when it can be served
	names := func(ts []ToolInfo) []string {
		out := make([]string, 0, len(ts))
		for _, t := range ts {
			out = append(out, t.Name)
		}
		return out
	}
	assert.Equal(t, []string{ToolRetrieve, ToolAnswer, ToolStatus}, names(full.ListTools()))
	assert.Equal(t, []string{ToolRetrieve, ToolStatus}, names(bare.ListTools()))
	assert.NotNil(t, full.MCPServer())
}

func TestRetrieveTool_ForwardsArguments(t *testing.T) {
	// Given: a retriever with two chunks
	r := &mockRetriever{chunks: []string{"Paris is the capital of France.", "Lyon is in France."}}
	srv := newServer(t, r, nil, Options{})

	// When: calling retrieve with JSON-decoded arguments
	out, err := srv.CallTool(context.Background(), ToolRetrieve, map[string]any{
		"query":        "What is the capital of France?",
		"doc_id":       "france",
		"top_k":        float64(8),
		"rerank_top_k": float64(2),
	})

	// Then: the request is forwarded and the chunks returned in order
	require.NoError(t, err)
	assert.Equal(t, RetrieveOutput{Chunks: r.chunks}, out)
	require.Len(t, r.got, 1)
	assert.Equal(t, retrieval.Request{
		Query: "What is the capital of France?", DocID: "france", TopK: 8, RerankTopK: 2,
	}, r.got[0])
}

func TestRetrieveTool_MissingQuery(t *testing.T) {
	r := &mockRetriever{}
	srv := newServer(t, r, nil, Options{})

	for _, args := range []map[string]any{{}, {"query": 42}} {
		_, err := srv.CallTool(context.Background(), ToolRetrieve, args)

		var mcpErr *MCPError
		require.ErrorAs(t, err, &mcpErr)
		assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
	}
	assert.Empty(t, r.got, "retriever is not called without a string query")
}

func TestRetrieveTool_BlankQueryReturnsNoChunks(t *testing.T) {
	// Given: a retriever that finds nothing for a blank query
	r := &mockRetriever{chunks: []string{}}
	srv := newServer(t, r, nil, Options{})

	// When: calling retrieve with whitespace
	out, err := srv.CallTool(context.Background(), ToolRetrieve, map[string]any{"query": "   "})

	// Then: the empty result is returned rather than an error
	require.NoError(t, err)
	assert.Equal(t, RetrieveOutput{Chunks: []string{}}, out)
	require.Len(t, r.got, 1)
	assert.Equal(t, "   ", r.got[0].Query)
}

func TestRetrieveTool_CollaboratorFailure(t *testing.T) {
	// Given: a retriever whose reranker failed
	r := &mockRetriever{err: ragerrors.NewCollaboratorFailure(ragerrors.CollaboratorReranker, "rerank",
		ragerrors.NetworkError("connection refused", nil))}
	srv := newServer(t, r, nil, Options{})

	// When: calling retrieve
	_, err := srv.CallTool(context.Background(), ToolRetrieve, map[string]any{"query": "q"})

	// Then: the failure names the collaborator
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeCollaboratorFailed, mcpErr.Code)
	assert.Equal(t, "reranker", mcpErr.Collaborator)
}

func TestAnswerTool(t *testing.T) {
	// Given: an asker returning a grounded answer
	a := &mockAsker{resp: answer.Response{Summary: "Paris."}}
	srv := newServer(t, &mockRetriever{}, a, Options{})

	// When: calling answer
	out, err := srv.CallTool(context.Background(), ToolAnswer, map[string]any{
		"query": "capital?", "doc_id": "france", "summary_length": float64(50),
	})

	// Then: the summary is returned and arguments forwarded
	require.NoError(t, err)
	assert.Equal(t, AnswerOutput{Summary: "Paris."}, out)
	assert.Equal(t, "france", a.docID)
	assert.Equal(t, 50, a.length)
}

func TestAnswerTool_Refusal(t *testing.T) {
	a := &mockAsker{resp: answer.Response{Summary: answer.RefusalMessage}}
	srv := newServer(t, &mockRetriever{}, a, Options{})

	out, err := srv.CallTool(context.Background(), ToolAnswer, map[string]any{"query": "unknown?"})

	require.NoError(t, err)
	assert.Equal(t, AnswerOutput{Summary: answer.RefusalMessage, Refused: true}, out)
}

func TestAnswerTool_NotRegisteredWithoutAsker(t *testing.T) {
	srv := newServer(t, &mockRetriever{}, nil, Options{})

	_, err := srv.CallTool(context.Background(), ToolAnswer, map[string]any{"query": "q"})

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeMethodNotFound, mcpErr.Code)
}

func TestCallTool_UnknownTool(t *testing.T) {
	srv := newServer(t, &mockRetriever{}, nil, Options{})

	_, err := srv.CallTool(context.Background(), "search", nil)

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeMethodNotFound, mcpErr.Code)
	assert.Contains(t, mcpErr.Message, "search")
}

func TestStatusTool(t *testing.T) {
	// Given: a static embedder, counted indexes and some activity
	activity := telemetry.NewActivity(10, 5)
	activity.Record(telemetry.QueryEvent{Query: "solar power", Results: 3})
	activity.Record(telemetry.QueryEvent{Query: "zeppelin", Results: 0})
	srv := newServer(t, &mockRetriever{}, nil, Options{
		Embedder: embed.NewStaticEmbedder(),
		Dense:    countOf(12),
		Lexical:  countOf(11),
		Reranker: "http",
		Activity: activity,
	})

	// When: calling status
	out, err := srv.CallTool(context.Background(), ToolStatus, nil)

	// Then: every collaborator is described
	require.NoError(t, err)
	st, ok := out.(*StatusOutput)
	require.True(t, ok)
	assert.Equal(t, "static", st.Embedder.Model)
	assert.True(t, st.Embedder.IsFallback)
	assert.Equal(t, embed.NewStaticEmbedder().Dimensions(), st.Embedder.Dimensions)
	assert.Equal(t, IndexStats{DenseChunks: 12, LexicalEnabled: true, LexicalChunks: 11}, st.Indexes)
	assert.Equal(t, "http", st.Reranker)
	require.NotNil(t, st.Activity)
	assert.Equal(t, int64(2), st.Activity.TotalQueries)
	assert.Equal(t, int64(1), st.Activity.EmptyResults)
}

func TestStatusTool_Minimal(t *testing.T) {
	srv := newServer(t, &mockRetriever{}, nil, Options{})

	out, err := srv.CallTool(context.Background(), ToolStatus, nil)

	require.NoError(t, err)
	st := out.(*StatusOutput)
	assert.Equal(t, "none", st.Embedder.Model)
	assert.Equal(t, "noop", st.Reranker)
	assert.Equal(t, -1, st.Indexes.DenseChunks)
	assert.False(t, st.Indexes.LexicalEnabled)
	assert.Nil(t, st.Activity)
}

func TestActivityJSON(t *testing.T) {
	activity := telemetry.NewActivity(10, 5)
	activity.Record(telemetry.QueryEvent{Query: "wind turbines", Results: 0})
	srv := newServer(t, &mockRetriever{}, nil, Options{Activity: activity})

	data, err := srv.ActivityJSON()
	require.NoError(t, err)

	var snap telemetry.ActivitySnapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, int64(1), snap.TotalQueries)
	assert.Equal(t, []string{"wind turbines"}, snap.RecentEmpty)

	_, err = newServer(t, &mockRetriever{}, nil, Options{}).ActivityJSON()
	assert.Error(t, err)
}

func TestServe_UnknownTransport(t *testing.T) {
	srv := newServer(t, &mockRetriever{}, nil, Options{})
	assert.Error(t, srv.Serve(context.Background(), "sse"))
}

func TestServer_ConcurrentCalls(t *testing.T) {
	r := &mockRetriever{chunks: []string{"a"}}
	srv := newServer(t, r, nil, Options{})

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := srv.CallTool(context.Background(), ToolRetrieve, map[string]any{"query": "q"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Len(t, r.got, 20)
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"validation", ragerrors.ValidationError("top_k must not be negative", nil), ErrCodeInvalidParams},
		{"empty query", ragerrors.New(ragerrors.ErrCodeQueryEmpty, "query is empty", nil), ErrCodeInvalidParams},
		{"network", ragerrors.NetworkError("dial failed", nil), ErrCodeTimeout},
		{"deadline", context.DeadlineExceeded, ErrCodeTimeout},
		{"canceled", context.Canceled, ErrCodeTimeout},
		{"file", ragerrors.New(ragerrors.ErrCodeFileNotFound, "missing", nil), ErrCodeFileNotFound},
		{"corrupt", ragerrors.New(ragerrors.ErrCodeCorruptIndex, "bad index", nil), ErrCodeIndexNotFound},
		{"config", ragerrors.ConfigError("bad", nil), ErrCodeInternalError},
		{"collaborator", ragerrors.NewCollaboratorFailure(ragerrors.CollaboratorLLM, "generate", errors.New("x")), ErrCodeCollaboratorFailed},
		{"tool", ErrToolNotFound, ErrCodeMethodNotFound},
		{"plain", errors.New("boom"), ErrCodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			require.NotNil(t, got)
			assert.Equal(t, tt.code, got.Code)
		})
	}

	assert.Nil(t, MapError(nil))
}

func TestMapError_IncludesSuggestion(t *testing.T) {
	err := ragerrors.ConfigError("unknown lexical backend", nil).WithSuggestion("use sqlite, bleve or none")

	got := MapError(err)

	assert.Equal(t, "unknown lexical backend use sqlite, bleve or none", got.Message)
}
