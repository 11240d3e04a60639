package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Aman-CERP/groundedrag/internal/answer"
	"github.com/Aman-CERP/groundedrag/internal/config"
	"github.com/Aman-CERP/groundedrag/internal/dense"
	"github.com/Aman-CERP/groundedrag/internal/embed"
	"github.com/Aman-CERP/groundedrag/internal/ingest"
	"github.com/Aman-CERP/groundedrag/internal/intent"
	"github.com/Aman-CERP/groundedrag/internal/lexical"
	"github.com/Aman-CERP/groundedrag/internal/rerank"
	"github.com/Aman-CERP/groundedrag/internal/retrieval"
	"github.com/Aman-CERP/groundedrag/internal/telemetry"
)

// Activity log sizes for long-running servers.
const (
	activityTerms = 200
	activityEmpty = 50
)

// app holds the collaborators built from configuration. Commands build
// one app, use it, and close it; nothing here is a package global.
type app struct {
	root string
	cfg  *config.Config

	embedder embed.Embedder
	dense    dense.Store
	lexical  lexical.Store
	reranker rerank.Reranker

	retriever *retrieval.Retriever
	answerer  *answer.Answerer
	pipeline  *answer.Pipeline

	metrics  *telemetry.Metrics
	activity *telemetry.Activity
	registry *prometheus.Registry
	logger   *slog.Logger
}

// appOptions selects the optional parts of an app.
type appOptions struct {
	// withLLM builds the answerer and pipeline.
	withLLM bool
}

// loadConfig resolves the project root and loads its configuration.
func loadConfig(dir string) (string, *config.Config, error) {
	if dir == "" {
		dir = "."
	}
	root, err := config.FindProjectRoot(dir)
	if err != nil {
		return "", nil, err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return "", nil, err
	}
	return root, cfg, nil
}

// newApp wires every collaborator for the project rooted at root.
func newApp(ctx context.Context, root string, cfg *config.Config, opts appOptions) (*app, error) {
	a := &app{
		root:     root,
		cfg:      cfg,
		metrics:  telemetry.NewMetrics(),
		activity: telemetry.NewActivity(activityTerms, activityEmpty),
		registry: prometheus.NewRegistry(),
		logger:   slog.Default(),
	}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	var err error

	if err := a.metrics.Register(a.registry); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	if err := a.registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("failed to register go collector: %w", err)
	}

	if a.embedder, err = embed.NewEmbedder(cfg.Embeddings); err != nil {
		return nil, err
	}
	if a.dense, err = dense.Open(ctx, cfg.Dense, root, a.embedder.Dimensions()); err != nil {
		return nil, err
	}
	if a.lexical, err = lexical.Open(cfg.Lexical, root); err != nil {
		return nil, err
	}
	if a.reranker, err = rerank.New(cfg.Reranker); err != nil {
		return nil, err
	}

	rcfg, err := retrieval.ConfigFrom(cfg.Retrieval)
	if err != nil {
		return nil, err
	}
	retrieverOpts := []retrieval.Option{
		retrieval.WithConfig(rcfg),
		retrieval.WithMetrics(a.metrics),
		retrieval.WithActivity(a.activity),
		retrieval.WithLogger(a.logger),
	}
	if a.lexical != nil {
		retrieverOpts = append(retrieverOpts, retrieval.WithLexical(a.lexical))
	}
	if a.retriever, err = retrieval.NewRetriever(a.embedder, a.dense, a.reranker, retrieverOpts...); err != nil {
		return nil, err
	}

	if !opts.withLLM {
		ok = true
		return a, nil
	}

	llm, err := answer.NewOpenAILLM(answer.OpenAIConfig{
		BaseURL:     cfg.Answer.BaseURL,
		Model:       cfg.Answer.Model,
		Token:       os.Getenv(cfg.Answer.APIKeyEnv),
		Temperature: cfg.Answer.Temperature,
	})
	if err != nil {
		return nil, err
	}
	classifier := intent.NewCachedClassifier(intent.KeywordClassifier{}, cfg.Answer.IntentCacheSize)
	if a.answerer, err = answer.NewAnswerer(llm, classifier,
		answer.WithSummaryLength(cfg.Answer.SummaryLength),
		answer.WithTimeout(config.ParseDuration(cfg.Answer.Timeout, 0)),
		answer.WithMetrics(a.metrics),
		answer.WithLogger(a.logger),
	); err != nil {
		return nil, err
	}
	if a.pipeline, err = answer.NewPipeline(a.retriever, a.answerer); err != nil {
		return nil, err
	}
	ok = true
	return a, nil
}

// newIngestor builds an Ingestor writing to the app's indexes.
func (a *app) newIngestor() (*ingest.Ingestor, error) {
	opts := []ingest.Option{
		ingest.WithChunker(ingest.NewChunker(a.cfg.Ingest.ChunkSize, a.cfg.Ingest.ChunkOverlap)),
		ingest.WithLockDir(config.DataDir(a.root)),
		ingest.WithLogger(a.logger),
	}
	if a.lexical != nil {
		opts = append(opts, ingest.WithLexical(a.lexical))
	}
	return ingest.NewIngestor(a.embedder, a.dense, opts...)
}

// Close releases every collaborator that was opened.
func (a *app) Close() error {
	var errs []error
	if a.reranker != nil {
		errs = append(errs, a.reranker.Close())
	}
	if a.lexical != nil {
		errs = append(errs, a.lexical.Close())
	}
	if a.dense != nil {
		errs = append(errs, a.dense.Close())
	}
	if a.embedder != nil {
		errs = append(errs, a.embedder.Close())
	}
	return errors.Join(errs...)
}
