package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	ragerrors "github.com/Aman-CERP/groundedrag/internal/errors"
)

// HTTP reranker defaults.
const (
	DefaultEndpoint = "http://localhost:8787"
	DefaultModel    = "bge-reranker-v2-m3"
	DefaultTimeout  = 10 * time.Second
)

// HTTPConfig configures an HTTPReranker.
type HTTPConfig struct {
	// Endpoint is the service base URL; requests go to {Endpoint}/rerank.
	Endpoint string
	Model    string
	// APIKey is sent as a bearer token when set.
	APIKey  string
	Timeout time.Duration

	// RateLimit caps requests per second. Zero disables limiting.
	RateLimit float64

	Retry   ragerrors.RetryConfig
	Breaker *ragerrors.CircuitBreaker
}

// DefaultHTTPConfig returns the default reranker client configuration.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Endpoint: DefaultEndpoint,
		Model:    DefaultModel,
		Timeout:  DefaultTimeout,
		Retry:    ragerrors.DefaultRetryConfig(),
	}
}

// HTTPReranker calls a Cohere/Jina/TEI style /rerank endpoint.
type HTTPReranker struct {
	client  *http.Client
	cfg     HTTPConfig
	limiter *rate.Limiter
	breaker *ragerrors.CircuitBreaker

	mu     sync.RWMutex
	closed bool
}

var _ Reranker = (*HTTPReranker)(nil)

// NewHTTPReranker creates a client. No request is made until Rerank.
func NewHTTPReranker(cfg HTTPConfig) *HTTPReranker {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	r := &HTTPReranker{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		cfg:     cfg,
		breaker: cfg.Breaker,
	}
	if cfg.RateLimit > 0 {
		burst := max(1, int(cfg.RateLimit))
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	if r.breaker == nil {
		r.breaker = ragerrors.NewCircuitBreaker("reranker")
	}

	slog.Debug("reranker_created",
		slog.String("endpoint", cfg.Endpoint),
		slog.String("model", cfg.Model),
		slog.Duration("timeout", cfg.Timeout),
		slog.Float64("rate_limit", cfg.RateLimit))
	return r
}

type rerankRequest struct {
	Model           string   `json:"model,omitempty"`
	Query           string   `json:"query"`
	Documents       []string `json:"documents"`
	TopN            int      `json:"top_n,omitempty"`
	ReturnDocuments bool     `json:"return_documents"`
}

type rerankResponse struct {
	Results []struct {
		Index          int      `json:"index"`
		RelevanceScore *float64 `json:"relevance_score"`
		Score          *float64 `json:"score"`
		Document       *struct {
			Text string `json:"text"`
		} `json:"document"`
	} `json:"results"`
}

// Rerank posts the documents to the service and returns its ordering.
// Results without a document body get their text from the request.
func (r *HTTPReranker) Rerank(ctx context.Context, query string, documents []string, topN int) ([]Result, error) {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if len(documents) == 0 {
		return []Result{}, nil
	}

	body, err := json.Marshal(rerankRequest{
		Model:           r.cfg.Model,
		Query:           query,
		Documents:       documents,
		TopN:            topN,
		ReturnDocuments: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	start := time.Now()
	results, err := ragerrors.RetryWithResult(ctx, r.cfg.Retry, func() ([]Result, error) {
		return ragerrors.Through(r.breaker, func() ([]Result, error) {
			return r.do(ctx, body, documents)
		})
	})
	if err != nil {
		return nil, err
	}

	if topN > 0 && len(results) > topN {
		results = results[:topN]
	}

	slog.Debug("rerank_complete",
		slog.Int("documents", len(documents)),
		slog.Int("results", len(results)),
		slog.Duration("duration", time.Since(start)))
	return results, nil
}

func (r *HTTPReranker) do(ctx context.Context, body []byte, documents []string) ([]Result, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, r.cfg.Endpoint+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ragerrors.NetworkError("rerank request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, ragerrors.UpstreamStatusError("reranker", resp.StatusCode, string(msg))
	}

	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, ragerrors.New(ragerrors.ErrCodeRerankFailed, "failed to decode rerank response", err)
	}

	results := make([]Result, 0, len(parsed.Results))
	for _, item := range parsed.Results {
		if item.Index < 0 || item.Index >= len(documents) {
			return nil, ragerrors.New(ragerrors.ErrCodeRerankFailed,
				fmt.Sprintf("rerank result index %d out of range [0, %d)", item.Index, len(documents)), nil)
		}
		res := Result{Index: item.Index, Document: Document{Text: documents[item.Index]}}
		if item.Document != nil && item.Document.Text != "" {
			res.Document.Text = item.Document.Text
		}
		switch {
		case item.RelevanceScore != nil:
			res.Score = *item.RelevanceScore
		case item.Score != nil:
			res.Score = *item.Score
		}
		results = append(results, res)
	}
	return results, nil
}

// Close releases idle connections.
func (r *HTTPReranker) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if t, ok := r.client.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
	return nil
}
