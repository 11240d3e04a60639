package retrieval

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/groundedrag/internal/config"
	"github.com/Aman-CERP/groundedrag/internal/dense"
	"github.com/Aman-CERP/groundedrag/internal/embed"
	ragerrors "github.com/Aman-CERP/groundedrag/internal/errors"
	"github.com/Aman-CERP/groundedrag/internal/lexical"
	"github.com/Aman-CERP/groundedrag/internal/rerank"
	"github.com/Aman-CERP/groundedrag/internal/telemetry"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeEmbedder struct {
	mu    sync.Mutex
	modes []embed.Mode
	texts []string
	err   error
	short bool
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string, mode embed.Mode) ([][]float32, error) {
	f.mu.Lock()
	f.modes = append(f.modes, mode)
	f.texts = append(f.texts, texts...)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.short {
		return [][]float32{}, nil
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}
func (f *fakeEmbedder) Dimensions() int   { return 3 }
func (f *fakeEmbedder) ModelName() string { return "fake" }
func (f *fakeEmbedder) Close() error      { return nil }

type fakeDense struct {
	mu      sync.Mutex
	queries []dense.Query
	resp    *dense.QueryResponse
	err     error
}

func (f *fakeDense) Query(_ context.Context, q dense.Query) (*dense.QueryResponse, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()
	return f.resp, f.err
}

type fakeLexical struct {
	mu    sync.Mutex
	topKs []int
	query string
	hits  []lexical.Hit
	err   error
}

func (f *fakeLexical) Search(_ context.Context, query string, topK int) ([]lexical.Hit, error) {
	f.mu.Lock()
	f.topKs = append(f.topKs, topK)
	f.query = query
	f.mu.Unlock()
	return f.hits, f.err
}

type fakeReranker struct {
	calls     atomic.Int32
	documents []string
	topN      int
	results   []rerank.Result
	useInput  bool
	err       error
}

func (f *fakeReranker) Rerank(_ context.Context, _ string, documents []string, topN int) ([]rerank.Result, error) {
	f.calls.Add(1)
	f.documents = documents
	f.topN = topN
	if f.err != nil {
		return nil, f.err
	}
	if f.useInput {
		out := make([]rerank.Result, len(documents))
		for i, d := range documents {
			out[i] = rerank.Result{Index: i, Document: rerank.Document{Text: d}}
		}
		return out, nil
	}
	return f.results, nil
}
func (f *fakeReranker) Close() error { return nil }

func match(id, text string) dense.Match {
	return dense.Match{ID: id, Metadata: map[string]any{dense.MetaText: text}}
}

func newRetriever(t *testing.T, e embed.Embedder, d dense.Index, rr rerank.Reranker, opts ...Option) *Retriever {
	t.Helper()
	r, err := NewRetriever(e, d, rr, opts...)
	require.NoError(t, err)
	return r
}

// =============================================================================
// Construction
// =============================================================================

func TestNewRetriever_NilDependencies(t *testing.T) {
	e, d, rr := &fakeEmbedder{}, &fakeDense{}, &fakeReranker{}

	_, err := NewRetriever(nil, d, rr)
	assert.ErrorIs(t, err, ErrNilDependency)
	_, err = NewRetriever(e, nil, rr)
	assert.ErrorIs(t, err, ErrNilDependency)
	_, err = NewRetriever(e, d, nil)
	assert.ErrorIs(t, err, ErrNilDependency)

	r, err := NewRetriever(e, d, rr)
	require.NoError(t, err)
	assert.False(t, r.HasLexical())
	assert.Equal(t, DefaultConfig(), r.Config())
}

// =============================================================================
// Retrieve
// =============================================================================

func TestRetrieve_ScopedDenseOnly(t *testing.T) {
	// Given: a dense hit scoped to doc1, no lexical index, a reranker echoing it
	e := &fakeEmbedder{}
	d := &fakeDense{resp: &dense.QueryResponse{Matches: []dense.Match{match("1", "Paris is the capital of France.")}}}
	rr := &fakeReranker{results: []rerank.Result{{Document: rerank.Document{Text: "Paris is the capital of France."}}}}
	r := newRetriever(t, e, d, rr)

	// When: retrieving with doc_id
	got, err := r.Retrieve(context.Background(), Request{Query: "What is the capital of France?", DocID: "doc1", RerankTopK: 5})

	// Then: the chunk comes back and the dense call used the fixed contract
	require.NoError(t, err)
	assert.Equal(t, []string{"Paris is the capital of France."}, got)

	require.Len(t, d.queries, 1)
	q := d.queries[0]
	assert.Equal(t, DefaultDenseOverFetch, q.TopK)
	assert.True(t, q.IncludeMetadata)
	assert.Equal(t, map[string]string{"doc_id": "doc1"}, q.Filter)
	assert.Equal(t, []embed.Mode{embed.ModeQuery}, e.modes)
	assert.Equal(t, []string{"What is the capital of France?"}, e.texts)
	assert.Equal(t, 5, rr.topN)
}

func TestRetrieve_NoDocIDMeansNoFilter(t *testing.T) {
	d := &fakeDense{resp: &dense.QueryResponse{Matches: []dense.Match{match("1", "x")}}}
	r := newRetriever(t, &fakeEmbedder{}, d, &fakeReranker{useInput: true})

	_, err := r.Retrieve(context.Background(), Request{Query: "q"})

	require.NoError(t, err)
	assert.Nil(t, d.queries[0].Filter)
}

func TestRetrieve_HybridMergeLexicalWins(t *testing.T) {
	// Given: dense and lexical hits overlapping on id "b"
	d := &fakeDense{resp: &dense.QueryResponse{Matches: []dense.Match{match("a", "dense a"), match("b", "dense b")}}}
	lex := &fakeLexical{hits: []lexical.Hit{{ID: "b", Text: "lexical b"}, {ID: "c", Text: "lexical c"}}}
	rr := &fakeReranker{useInput: true}
	r := newRetriever(t, &fakeEmbedder{}, d, rr, WithLexical(lex), WithConfig(Config{RerankTopK: 10}))

	// When: retrieving
	got, err := r.Retrieve(context.Background(), Request{Query: "raw query"})

	// Then: the reranker sees the merged set and lexical text replaces dense
	require.NoError(t, err)
	assert.Equal(t, []string{"dense a", "lexical b", "lexical c"}, rr.documents)
	assert.Equal(t, rr.documents, got)
	assert.Equal(t, []int{DefaultLexicalOverFetch}, lex.topKs)
	assert.Equal(t, "raw query", lex.query)
}

func TestRetrieve_KeepsRerankerOrderAndTruncates(t *testing.T) {
	d := &fakeDense{resp: &dense.QueryResponse{Matches: []dense.Match{match("a", "a"), match("b", "b"), match("c", "c")}}}
	rr := &fakeReranker{results: []rerank.Result{
		{Index: 2, Score: 0.1, Document: rerank.Document{Text: "c"}},
		{Index: 0, Score: 0.9, Document: rerank.Document{Text: "a"}},
		{Index: 1, Score: 0.5, Document: rerank.Document{Text: "b"}},
	}}
	r := newRetriever(t, &fakeEmbedder{}, d, rr)

	got, err := r.Retrieve(context.Background(), Request{Query: "q", RerankTopK: 2})

	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a"}, got, "reranker order is kept, not re-sorted by score")
}

func TestRetrieve_EmptyCandidatesSkipReranker(t *testing.T) {
	tests := []struct {
		name string
		resp *dense.QueryResponse
	}{
		{"nil response", nil},
		{"nil matches", &dense.QueryResponse{}},
		{"matches without text", &dense.QueryResponse{Matches: []dense.Match{
			{ID: "1"},
			{ID: "2", Metadata: map[string]any{"text": 42}},
			{ID: "3", Metadata: map[string]any{"doc_id": "d"}},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := &fakeReranker{useInput: true}
			lex := &fakeLexical{}
			r := newRetriever(t, &fakeEmbedder{}, &fakeDense{resp: tt.resp}, rr, WithLexical(lex))

			got, err := r.Retrieve(context.Background(), Request{Query: "q"})

			require.NoError(t, err)
			assert.NotNil(t, got)
			assert.Empty(t, got)
			assert.Equal(t, int32(0), rr.calls.Load())
		})
	}
}

func TestRetrieve_CollaboratorFailures(t *testing.T) {
	boom := errors.New("boom")
	okDense := func() *fakeDense {
		return &fakeDense{resp: &dense.QueryResponse{Matches: []dense.Match{match("1", "t")}}}
	}

	tests := []struct {
		name string
		e    *fakeEmbedder
		d    *fakeDense
		lex  *fakeLexical
		rr   *fakeReranker
		want ragerrors.Collaborator
	}{
		{"embedder", &fakeEmbedder{err: boom}, okDense(), &fakeLexical{}, &fakeReranker{useInput: true}, ragerrors.CollaboratorEmbedder},
		{"embedder short", &fakeEmbedder{short: true}, okDense(), &fakeLexical{}, &fakeReranker{useInput: true}, ragerrors.CollaboratorEmbedder},
		{"dense", &fakeEmbedder{}, &fakeDense{err: boom}, &fakeLexical{}, &fakeReranker{useInput: true}, ragerrors.CollaboratorDense},
		{"lexical", &fakeEmbedder{}, okDense(), &fakeLexical{err: boom}, &fakeReranker{useInput: true}, ragerrors.CollaboratorLexical},
		{"reranker", &fakeEmbedder{}, okDense(), &fakeLexical{}, &fakeReranker{err: boom}, ragerrors.CollaboratorReranker},
	}

	for _, sequential := range []bool{false, true} {
		for _, tt := range tests {
			name := tt.name
			if sequential {
				name += " sequential"
			}
			t.Run(name, func(t *testing.T) {
				cfg := DefaultConfig()
				cfg.Sequential = sequential
				m := telemetry.NewMetrics()
				r := newRetriever(t, tt.e, tt.d, tt.rr, WithLexical(tt.lex), WithConfig(cfg), WithMetrics(m))

				_, err := r.Retrieve(context.Background(), Request{Query: "q"})

				require.Error(t, err)
				f, ok := ragerrors.AsCollaboratorFailure(err)
				require.True(t, ok, "error should be a CollaboratorFailure: %v", err)
				assert.Equal(t, tt.want, f.Collaborator)
				assert.ErrorIs(t, err, &ragerrors.CollaboratorFailure{Collaborator: tt.want})
				if tt.name != "embedder short" {
					assert.ErrorIs(t, err, boom)
				}
			})
		}
	}
}

func TestRetrieve_ContextCancellationForwarded(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := &fakeDense{err: context.Canceled}
	r := newRetriever(t, &fakeEmbedder{}, d, &fakeReranker{useInput: true})

	_, err := r.Retrieve(ctx, Request{Query: "q"})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetrieve_BlankQueryIsEmpty(t *testing.T) {
	// Given: collaborators that would return evidence for any query
	e := &fakeEmbedder{}
	d := &fakeDense{resp: &dense.QueryResponse{Matches: []dense.Match{match("a#0", "dense a")}}}
	l := &fakeLexical{hits: []lexical.Hit{{ID: "b#0", Text: "lexical b"}}}
	rr := &fakeReranker{useInput: true}
	r := newRetriever(t, e, d, rr, WithLexical(l))

	for _, q := range []string{"", "   ", "\n\t"} {
		// When: retrieving with a blank query
		chunks, err := r.Retrieve(context.Background(), Request{Query: q})

		// Then: the result is empty, not an error
		require.NoError(t, err)
		assert.NotNil(t, chunks)
		assert.Empty(t, chunks)
	}

	// And: no collaborator was reached
	assert.Empty(t, e.texts)
	assert.Empty(t, d.queries)
	assert.Empty(t, l.topKs)
	assert.Zero(t, rr.calls.Load())
}

func TestRetrieve_Validation(t *testing.T) {
	r := newRetriever(t, &fakeEmbedder{}, &fakeDense{}, &fakeReranker{})

	_, err := r.Retrieve(context.Background(), Request{Query: "q", RerankTopK: -1})
	assert.Equal(t, ragerrors.CategoryValidation, ragerrors.GetCategory(err))

	_, err = r.Retrieve(context.Background(), Request{Query: "   ", TopK: -1})
	assert.Equal(t, ragerrors.CategoryValidation, ragerrors.GetCategory(err))
}

func TestRetrieve_QueryModeFromConfig(t *testing.T) {
	e := &fakeEmbedder{}
	cfg := DefaultConfig()
	cfg.QueryMode = embed.ModeDocument
	cfg.DenseOverFetch = 7
	d := &fakeDense{resp: &dense.QueryResponse{}}
	r := newRetriever(t, e, d, &fakeReranker{}, WithConfig(cfg))

	_, err := r.Retrieve(context.Background(), Request{Query: "q", TopK: 3})

	require.NoError(t, err)
	assert.Equal(t, []embed.Mode{embed.ModeDocument}, e.modes)
	assert.Equal(t, 7, d.queries[0].TopK, "over-fetch does not follow request top_k")
}

func TestRetrieve_RecordsMetricsAndActivity(t *testing.T) {
	m := telemetry.NewMetrics()
	a := telemetry.NewActivity(10, 10)
	d := &fakeDense{resp: &dense.QueryResponse{Matches: []dense.Match{match("1", "t")}}}
	r := newRetriever(t, &fakeEmbedder{}, d, &fakeReranker{useInput: true}, WithMetrics(m), WithActivity(a))

	_, err := r.Retrieve(context.Background(), Request{Query: "solar power"})
	require.NoError(t, err)

	snap := a.Snapshot()
	assert.Equal(t, int64(1), snap.TotalQueries)
	assert.Equal(t, int64(0), snap.EmptyResults)

	count, err := testutil.GatherAndCount(registry(t, m), telemetry.MetricRetrieveTotal)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRetrieve_ConcurrentCallsShareNoState(t *testing.T) {
	d := &fakeDense{resp: &dense.QueryResponse{Matches: []dense.Match{match("1", "one"), match("2", "two")}}}
	lex := &fakeLexical{hits: []lexical.Hit{{ID: "3", Text: "three"}}}
	r := newRetriever(t, &fakeEmbedder{}, d, rerank.NoOpReranker{}, WithLexical(lex))

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := r.Retrieve(context.Background(), Request{Query: "q"})
			if err == nil && len(got) != 3 {
				err = errors.New("unexpected result size")
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

// branchGate lets the dense branch finish only once the lexical branch
// has started, which requires the two to run concurrently.
type branchGate struct {
	lexicalStarted chan struct{}
}

func (g *branchGate) Query(ctx context.Context, _ dense.Query) (*dense.QueryResponse, error) {
	select {
	case <-g.lexicalStarted:
		return &dense.QueryResponse{Matches: []dense.Match{match("a", "dense a")}}, nil
	case <-time.After(2 * time.Second):
		return nil, errors.New("lexical branch never started")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *branchGate) Search(context.Context, string, int) ([]lexical.Hit, error) {
	close(g.lexicalStarted)
	return []lexical.Hit{{ID: "b", Text: "lexical b"}}, nil
}

func TestRetrieve_PartialConfigStaysConcurrent(t *testing.T) {
	// Given: a config literal that sets only one field
	gate := &branchGate{lexicalStarted: make(chan struct{})}
	r := newRetriever(t, &fakeEmbedder{}, gate, &fakeReranker{useInput: true},
		WithLexical(gate), WithConfig(Config{RerankTopK: 10}))
	assert.False(t, r.Config().Sequential)

	// When: retrieving
	got, err := r.Retrieve(context.Background(), Request{Query: "q"})

	// Then: both branches ran side by side and were merged
	require.NoError(t, err)
	assert.Equal(t, []string{"dense a", "lexical b"}, got)
}

func TestConfigFrom(t *testing.T) {
	cfg, err := ConfigFrom(config.RetrievalConfig{RerankTopK: 3, QueryMode: "document", Sequential: true})
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.RerankTopK)
	assert.Equal(t, DefaultDenseOverFetch, cfg.DenseOverFetch)
	assert.Equal(t, embed.ModeDocument, cfg.QueryMode)
	assert.True(t, cfg.Sequential)

	_, err = ConfigFrom(config.RetrievalConfig{QueryMode: "passage"})
	assert.Error(t, err)
}
