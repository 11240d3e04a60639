package embed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAIConfig configures an OpenAI-compatible embedding endpoint.
type OpenAIConfig struct {
	// BaseURL is empty for api.openai.com.
	BaseURL string
	Model   string
	// Token is the API key. Local servers accept any value.
	Token      string
	Dimensions int
	BatchSize  int
}

// OpenAIEmbedder embeds through langchaingo's OpenAI client.
// ModeQuery uses EmbedQuery, ModeDocument uses EmbedDocuments.
type OpenAIEmbedder struct {
	embedder embeddings.Embedder
	model    string
	logger   *slog.Logger

	mu   sync.RWMutex
	dims int
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates the langchaingo client and embedder.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("openai embedder: model is required")
	}
	token := cfg.Token
	if token == "" {
		token = "none"
	}

	opts := []openai.Option{
		openai.WithToken(token),
		openai.WithEmbeddingModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("openai embedder: %w", err)
	}

	batch := cfg.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	emb, err := embeddings.NewEmbedder(client,
		embeddings.WithStripNewLines(true),
		embeddings.WithBatchSize(batch),
	)
	if err != nil {
		return nil, fmt.Errorf("openai embedder: %w", err)
	}

	return newOpenAIEmbedder(emb, cfg.Model, cfg.Dimensions), nil
}

func newOpenAIEmbedder(emb embeddings.Embedder, model string, dims int) *OpenAIEmbedder {
	return &OpenAIEmbedder{
		embedder: emb,
		model:    model,
		dims:     dims,
		logger:   slog.Default().With("component", "openai-embedder"),
	}
}

// Embed returns one vector per text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string, mode Mode) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	var (
		vectors [][]float32
		err     error
	)
	if mode == ModeQuery {
		vectors = make([][]float32, len(texts))
		for i, t := range texts {
			vectors[i], err = e.embedder.EmbedQuery(ctx, t)
			if err != nil {
				break
			}
		}
	} else {
		vectors, err = e.embedder.EmbedDocuments(ctx, texts)
	}
	if err != nil {
		e.logger.Debug("embedding_failed", slog.Int("count", len(texts)), slog.String("error", err.Error()))
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d inputs", len(vectors), len(texts))
	}

	e.mu.Lock()
	if e.dims == 0 && len(vectors[0]) > 0 {
		e.dims = len(vectors[0])
	}
	e.mu.Unlock()
	return vectors, nil
}

// Dimensions returns the configured or detected dimension.
func (e *OpenAIEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dims
}

// ModelName returns the embedding model.
func (e *OpenAIEmbedder) ModelName() string {
	return e.model
}

// Close is a no-op; the langchaingo client holds no resources.
func (e *OpenAIEmbedder) Close() error {
	return nil
}
