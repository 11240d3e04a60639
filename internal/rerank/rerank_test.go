package rerank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/groundedrag/internal/config"
	ragerrors "github.com/Aman-CERP/groundedrag/internal/errors"
)

func testConfig(endpoint string) HTTPConfig {
	cfg := DefaultHTTPConfig()
	cfg.Endpoint = endpoint
	cfg.Retry.InitialDelay = time.Millisecond
	cfg.Retry.Jitter = false
	return cfg
}

func TestNoOpReranker_KeepsOrderAndTruncates(t *testing.T) {
	// Given: three documents
	docs := []string{"a", "b", "c"}

	// When: reranking with topN 2
	got, err := NoOpReranker{}.Rerank(context.Background(), "q", docs, 2)

	// Then: the first two come back in input order
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, Texts(got))
	assert.Equal(t, 0, got[0].Index)
	assert.Greater(t, got[0].Score, got[1].Score)

	all, err := NoOpReranker{}.Rerank(context.Background(), "q", docs, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestHTTPReranker_SendsRequestAndKeepsServiceOrder(t *testing.T) {
	var got rerankRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rerank", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"results":[
			{"index":2,"relevance_score":0.9,"document":{"text":"gamma"}},
			{"index":0,"relevance_score":0.4,"document":{"text":"alpha"}}
		]}`))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL + "/")
	cfg.APIKey = "secret"
	r := NewHTTPReranker(cfg)
	defer func() { _ = r.Close() }()

	results, err := r.Rerank(context.Background(), "which?", []string{"alpha", "beta", "gamma"}, 2)

	require.NoError(t, err)
	assert.Equal(t, []string{"gamma", "alpha"}, Texts(results))
	assert.Equal(t, 2, results[0].Index)
	assert.InDelta(t, 0.9, results[0].Score, 1e-9)

	assert.Equal(t, DefaultModel, got.Model)
	assert.Equal(t, "which?", got.Query)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, got.Documents)
	assert.Equal(t, 2, got.TopN)
	assert.True(t, got.ReturnDocuments)
}

func TestHTTPReranker_ResolvesTextByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"index":1,"score":0.7},{"index":0,"score":0.1}]}`))
	}))
	defer srv.Close()

	r := NewHTTPReranker(testConfig(srv.URL))
	results, err := r.Rerank(context.Background(), "q", []string{"first", "second"}, 0)

	require.NoError(t, err)
	assert.Equal(t, []string{"second", "first"}, Texts(results))
	assert.InDelta(t, 0.7, results[0].Score, 1e-9)
}

func TestHTTPReranker_TruncatesOverlongResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"index":0},{"index":1},{"index":2}]}`))
	}))
	defer srv.Close()

	r := NewHTTPReranker(testConfig(srv.URL))
	results, err := r.Rerank(context.Background(), "q", []string{"a", "b", "c"}, 1)

	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, Texts(results))
}

func TestHTTPReranker_RejectsOutOfRangeIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"index":5}]}`))
	}))
	defer srv.Close()

	r := NewHTTPReranker(testConfig(srv.URL))
	_, err := r.Rerank(context.Background(), "q", []string{"a"}, 1)

	require.Error(t, err)
	assert.Equal(t, ragerrors.ErrCodeRerankFailed, ragerrors.GetCode(err))
}

func TestHTTPReranker_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"results":[{"index":0,"relevance_score":1}]}`))
	}))
	defer srv.Close()

	r := NewHTTPReranker(testConfig(srv.URL))
	results, err := r.Rerank(context.Background(), "q", []string{"only"}, 1)

	require.NoError(t, err)
	assert.Equal(t, []string{"only"}, Texts(results))
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPReranker_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "bad model", http.StatusBadRequest)
	}))
	defer srv.Close()

	r := NewHTTPReranker(testConfig(srv.URL))
	_, err := r.Rerank(context.Background(), "q", []string{"a"}, 1)

	require.Error(t, err)
	assert.Equal(t, ragerrors.ErrCodeUpstreamStatus, ragerrors.GetCode(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPReranker_CircuitOpensAfterFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Breaker = ragerrors.NewCircuitBreaker("test", ragerrors.WithMaxFailures(2), ragerrors.WithResetTimeout(time.Hour))
	r := NewHTTPReranker(cfg)

	for range 2 {
		_, err := r.Rerank(context.Background(), "q", []string{"a"}, 1)
		require.Error(t, err)
	}
	_, err := r.Rerank(context.Background(), "q", []string{"a"}, 1)

	assert.ErrorIs(t, err, ragerrors.ErrCircuitOpen)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPReranker_EmptyInputAndClosed(t *testing.T) {
	r := NewHTTPReranker(testConfig("http://127.0.0.1:1"))

	results, err := r.Rerank(context.Background(), "q", nil, 5)
	require.NoError(t, err)
	assert.Empty(t, results)

	require.NoError(t, r.Close())
	_, err = r.Rerank(context.Background(), "q", []string{"a"}, 1)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestHTTPReranker_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewHTTPReranker(testConfig(srv.URL))
	_, err := r.Rerank(ctx, "q", []string{"a"}, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew(t *testing.T) {
	r, err := New(config.RerankerConfig{Provider: "noop"})
	require.NoError(t, err)
	assert.IsType(t, NoOpReranker{}, r)

	r, err = New(config.RerankerConfig{Provider: "http", Endpoint: "http://localhost:9", Timeout: "2s", RateLimit: 5})
	require.NoError(t, err)
	h, ok := r.(*HTTPReranker)
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, h.cfg.Timeout)
	assert.NotNil(t, h.limiter)
	assert.Equal(t, DefaultModel, h.cfg.Model)

	_, err = New(config.RerankerConfig{Provider: "cohere"})
	require.Error(t, err)
	assert.Equal(t, ragerrors.CategoryConfig, ragerrors.GetCategory(err))
}
