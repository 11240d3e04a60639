package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	ragerrors "github.com/Aman-CERP/groundedrag/internal/errors"
)

const (
	// DefaultOllamaHost is the default Ollama API endpoint.
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel is an asymmetric model that expects a query
	// instruction in front of search queries.
	DefaultOllamaModel = "qwen3-embedding:0.6b"

	// DefaultQueryInstruction is prepended to texts embedded in ModeQuery.
	DefaultQueryInstruction = "Instruct: Given a question, retrieve passages that answer the question\nQuery: "
)

// OllamaConfig configures the Ollama embedder.
type OllamaConfig struct {
	Host  string
	Model string

	// QueryInstruction is prepended in ModeQuery. Document mode sends raw text.
	QueryInstruction string

	// Dimensions overrides detection from the first response (0 = detect).
	Dimensions int

	BatchSize int
	Timeout   time.Duration
	Retry     ragerrors.RetryConfig
}

// DefaultOllamaConfig returns defaults for a local Ollama.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		Host:             DefaultOllamaHost,
		Model:            DefaultOllamaModel,
		QueryInstruction: DefaultQueryInstruction,
		BatchSize:        DefaultBatchSize,
		Timeout:          DefaultTimeout,
		Retry:            ragerrors.DefaultRetryConfig(),
	}
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

// OllamaEmbedder generates embeddings with Ollama's /api/embed endpoint.
type OllamaEmbedder struct {
	client *http.Client
	config OllamaConfig

	mu     sync.RWMutex
	dims   int
	closed bool
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder creates an Ollama embedder. No request is made until
// the first Embed call.
func NewOllamaEmbedder(cfg OllamaConfig) *OllamaEmbedder {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &OllamaEmbedder{
		// Per-request deadlines come from the context, see doEmbed.
		client: &http.Client{Transport: &http.Transport{
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     30 * time.Second,
		}},
		config: cfg,
		dims:   cfg.Dimensions,
	}
}

// Embed embeds texts in batches. In ModeQuery every text gets the query
// instruction prefix.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string, mode Mode) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	inputs := make([]string, len(texts))
	for i, t := range texts {
		inputs[i] = e.prepare(t, mode)
	}

	results := make([][]float32, 0, len(inputs))
	for start := 0; start < len(inputs); start += e.config.BatchSize {
		end := min(start+e.config.BatchSize, len(inputs))
		batch := inputs[start:end]

		vectors, err := ragerrors.RetryWithResult(ctx, e.config.Retry, func() ([][]float32, error) {
			return e.doEmbed(ctx, batch)
		})
		if err != nil {
			return nil, fmt.Errorf("ollama embed batch %d-%d: %w", start, end, err)
		}
		if len(vectors) != len(batch) {
			return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(vectors), len(batch))
		}
		results = append(results, vectors...)
	}

	e.mu.Lock()
	if e.dims == 0 && len(results) > 0 {
		e.dims = len(results[0])
	}
	e.mu.Unlock()

	return results, nil
}

func (e *OllamaEmbedder) prepare(text string, mode Mode) string {
	if mode == ModeQuery && e.config.QueryInstruction != "" {
		return e.config.QueryInstruction + text
	}
	return text
}

func (e *OllamaEmbedder) doEmbed(ctx context.Context, inputs []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	body, err := json.Marshal(ollamaEmbedRequest{Model: e.config.Model, Input: inputs})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ragerrors.NetworkError("ollama request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, ragerrors.UpstreamStatusError("ollama", resp.StatusCode, string(msg))
	}

	var decoded ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode ollama response: %w", err)
	}

	vectors := make([][]float32, len(decoded.Embeddings))
	for i, emb := range decoded.Embeddings {
		vectors[i] = toFloat32(emb)
	}
	return vectors, nil
}

// Dimensions returns the configured or detected dimension, 0 before the
// first successful call when not configured.
func (e *OllamaEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dims
}

// ModelName returns the Ollama model name.
func (e *OllamaEmbedder) ModelName() string {
	return e.config.Model
}

// Close releases idle connections.
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.client.CloseIdleConnections()
	return nil
}
