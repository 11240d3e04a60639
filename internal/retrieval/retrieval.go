// Package retrieval runs hybrid retrieval: embed the query, search the
// dense and lexical indexes, merge the candidates and rerank them.
//
// The orchestrator holds no per-request state and never retries; retry
// and rate limiting belong to the collaborator clients.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/groundedrag/internal/dense"
	"github.com/Aman-CERP/groundedrag/internal/embed"
	ragerrors "github.com/Aman-CERP/groundedrag/internal/errors"
	"github.com/Aman-CERP/groundedrag/internal/fusion"
	"github.com/Aman-CERP/groundedrag/internal/lexical"
	"github.com/Aman-CERP/groundedrag/internal/rerank"
	"github.com/Aman-CERP/groundedrag/internal/telemetry"
)

// ErrNilDependency is returned when a required collaborator is nil.
var ErrNilDependency = errors.New("nil dependency")

// Request is one retrieval call. Zero TopK and RerankTopK take the
// configured defaults. RerankTopK <= TopK is expected but not enforced.
type Request struct {
	Query      string
	DocID      string
	TopK       int
	RerankTopK int
}

// Retriever orchestrates the collaborators. Safe for concurrent use.
type Retriever struct {
	embedder embed.Embedder
	dense    dense.Index
	lexical  lexical.Index
	reranker rerank.Reranker

	cfg      Config
	metrics  *telemetry.Metrics
	activity *telemetry.Activity
	logger   *slog.Logger
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithLexical enables the lexical branch. A nil index keeps retrieval
// dense-only.
func WithLexical(idx lexical.Index) Option {
	return func(r *Retriever) {
		r.lexical = idx
	}
}

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(r *Retriever) {
		r.cfg = cfg.withDefaults()
	}
}

// WithMetrics records Prometheus metrics for each call.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Retriever) {
		r.metrics = m
	}
}

// WithActivity records each call in a local activity log.
func WithActivity(a *telemetry.Activity) Option {
	return func(r *Retriever) {
		r.activity = a
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Retriever) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRetriever creates a Retriever. The embedder, dense index and
// reranker are required.
func NewRetriever(embedder embed.Embedder, denseIdx dense.Index, reranker rerank.Reranker, opts ...Option) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrNilDependency)
	}
	if denseIdx == nil {
		return nil, fmt.Errorf("%w: dense index is required", ErrNilDependency)
	}
	if reranker == nil {
		return nil, fmt.Errorf("%w: reranker is required", ErrNilDependency)
	}

	r := &Retriever{
		embedder: embedder,
		dense:    denseIdx,
		reranker: reranker,
		cfg:      DefaultConfig(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Config returns the effective configuration.
func (r *Retriever) Config() Config {
	return r.cfg
}

// HasLexical reports whether the lexical branch is enabled.
func (r *Retriever) HasLexical() bool {
	return r.lexical != nil
}

// Retrieve returns at most RerankTopK chunk texts, most relevant first.
// No candidates is not an error: the result is an empty slice and the
// reranker is not called. A blank query has no candidates and reaches
// no collaborator. Collaborator errors are returned as
// *errors.CollaboratorFailure.
func (r *Retriever) Retrieve(ctx context.Context, req Request) (chunks []string, err error) {
	start := time.Now()

	req, err = r.normalize(req)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Query) == "" {
		chunks = []string{}
		r.finish(req, chunks, nil, time.Since(start))
		return chunks, nil
	}

	ctx, span := telemetry.StartSpan(ctx, "retrieval.retrieve",
		attribute.Bool("scoped", req.DocID != ""),
		attribute.Int("top_k", req.TopK),
		attribute.Int("rerank_top_k", req.RerankTopK))
	defer func() {
		telemetry.EndSpan(span, err)
		r.finish(req, chunks, err, time.Since(start))
	}()

	denseCands, lexCands, err := r.gather(ctx, req)
	if err != nil {
		return nil, err
	}

	merged := fusion.Merge(denseCands, lexCands)
	r.metrics.ObserveCandidates(len(merged))
	r.logger.Debug("candidates_merged",
		slog.Int("dense", len(denseCands)),
		slog.Int("lexical", len(lexCands)),
		slog.Int("merged", len(merged)))

	if len(merged) == 0 {
		return []string{}, nil
	}

	return r.rerank(ctx, req, merged)
}

func (r *Retriever) normalize(req Request) (Request, error) {
	if req.TopK < 0 || req.RerankTopK < 0 {
		return req, ragerrors.ValidationError(
			fmt.Sprintf("top_k and rerank_top_k must be non-negative, got %d and %d", req.TopK, req.RerankTopK), nil)
	}
	if req.TopK == 0 {
		req.TopK = r.cfg.TopK
	}
	if req.RerankTopK == 0 {
		req.RerankTopK = r.cfg.RerankTopK
	}
	return req, nil
}

// gather runs the dense and lexical branches. The embed call precedes
// the dense query; the lexical search does not wait for it.
func (r *Retriever) gather(ctx context.Context, req Request) (denseCands, lexCands []fusion.Candidate, err error) {
	if r.cfg.Sequential {
		if denseCands, err = r.searchDense(ctx, req); err != nil {
			return nil, nil, err
		}
		if lexCands, err = r.searchLexical(ctx, req); err != nil {
			return nil, nil, err
		}
		return denseCands, lexCands, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var gerr error
		denseCands, gerr = r.searchDense(gctx, req)
		return gerr
	})
	g.Go(func() error {
		var gerr error
		lexCands, gerr = r.searchLexical(gctx, req)
		return gerr
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return denseCands, lexCands, nil
}

func (r *Retriever) searchDense(ctx context.Context, req Request) ([]fusion.Candidate, error) {
	vec, err := r.embedQuery(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	q := dense.Query{
		Vector:          vec,
		TopK:            r.cfg.DenseOverFetch,
		IncludeMetadata: true,
	}
	if req.DocID != "" {
		q.Filter = map[string]string{dense.MetaDocID: req.DocID}
	}

	ctx, span := telemetry.StartSpan(ctx, "dense_index.query", attribute.Int("top_k", q.TopK))
	resp, err := r.dense.Query(ctx, q)
	telemetry.EndSpan(span, err)
	if err != nil {
		return nil, r.failure(ragerrors.CollaboratorDense, "query", err)
	}
	if resp == nil {
		return []fusion.Candidate{}, nil
	}

	cands := make([]fusion.Candidate, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		if text, ok := m.Text(); ok {
			cands = append(cands, fusion.Candidate{ID: m.ID, Text: text})
		}
	}
	return cands, nil
}

func (r *Retriever) embedQuery(ctx context.Context, query string) ([]float32, error) {
	ctx, span := telemetry.StartSpan(ctx, "embedder.embed", attribute.String("mode", string(r.cfg.QueryMode)))
	vecs, err := r.embedder.Embed(ctx, []string{query}, r.cfg.QueryMode)
	if err == nil && len(vecs) != 1 {
		err = fmt.Errorf("expected 1 vector, got %d", len(vecs))
	}
	telemetry.EndSpan(span, err)
	if err != nil {
		return nil, r.failure(ragerrors.CollaboratorEmbedder, "embed", err)
	}
	return vecs[0], nil
}

func (r *Retriever) searchLexical(ctx context.Context, req Request) ([]fusion.Candidate, error) {
	if r.lexical == nil {
		return []fusion.Candidate{}, nil
	}

	ctx, span := telemetry.StartSpan(ctx, "lexical_index.search", attribute.Int("top_k", r.cfg.LexicalOverFetch))
	hits, err := r.lexical.Search(ctx, req.Query, r.cfg.LexicalOverFetch)
	telemetry.EndSpan(span, err)
	if err != nil {
		return nil, r.failure(ragerrors.CollaboratorLexical, "search", err)
	}

	cands := make([]fusion.Candidate, 0, len(hits))
	for _, h := range hits {
		cands = append(cands, fusion.Candidate{ID: h.ID, Text: h.Text})
	}
	return cands, nil
}

func (r *Retriever) rerank(ctx context.Context, req Request, merged []string) ([]string, error) {
	ctx, span := telemetry.StartSpan(ctx, "reranker.rerank",
		attribute.Int("documents", len(merged)),
		attribute.Int("top_n", req.RerankTopK))
	results, err := r.reranker.Rerank(ctx, req.Query, merged, req.RerankTopK)
	telemetry.EndSpan(span, err)
	if err != nil {
		return nil, r.failure(ragerrors.CollaboratorReranker, "rerank", err)
	}

	if len(results) > req.RerankTopK {
		results = results[:req.RerankTopK]
	}
	return rerank.Texts(results), nil
}

func (r *Retriever) failure(c ragerrors.Collaborator, op string, err error) error {
	r.metrics.IncCollaboratorFailure(string(c))
	r.logger.Warn("collaborator_failed",
		slog.String("collaborator", string(c)),
		slog.String("op", op),
		slog.String("error", err.Error()))
	return ragerrors.NewCollaboratorFailure(c, op, err)
}

func (r *Retriever) finish(req Request, chunks []string, err error, d time.Duration) {
	outcome := telemetry.OutcomeOK
	switch {
	case err != nil:
		outcome = telemetry.OutcomeError
	case len(chunks) == 0:
		outcome = telemetry.OutcomeEmpty
	}
	r.metrics.ObserveRetrieve(outcome, d)
	r.activity.Record(telemetry.QueryEvent{
		Query:   req.Query,
		DocID:   req.DocID,
		Results: len(chunks),
		Latency: d,
		Err:     err,
	})

	r.logger.Info("retrieve",
		slog.String("outcome", outcome),
		slog.Bool("scoped", req.DocID != ""),
		slog.Int("top_k", req.TopK),
		slog.Int("rerank_top_k", req.RerankTopK),
		slog.Int("chunks", len(chunks)),
		slog.Duration("duration", d))
}
