package embed

import (
	"fmt"
	"os"
	"strings"

	"github.com/Aman-CERP/groundedrag/internal/config"
	ragerrors "github.com/Aman-CERP/groundedrag/internal/errors"
)

// Provider names accepted in embeddings.provider.
const (
	ProviderStatic = "static"
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// NewEmbedder builds the configured embedder, wrapped in a CachedEmbedder
// unless cache_size is 0.
func NewEmbedder(cfg config.EmbeddingsConfig) (Embedder, error) {
	var (
		inner Embedder
		err   error
	)

	switch strings.ToLower(cfg.Provider) {
	case ProviderStatic, "":
		inner = NewStaticEmbedder()
	case ProviderOllama:
		ocfg := DefaultOllamaConfig()
		if cfg.Host != "" {
			ocfg.Host = cfg.Host
		}
		if cfg.Model != "" {
			ocfg.Model = cfg.Model
		}
		ocfg.QueryInstruction = cfg.QueryInstruction
		ocfg.Dimensions = cfg.Dimensions
		ocfg.Timeout = config.ParseDuration(cfg.Timeout, DefaultTimeout)
		inner = NewOllamaEmbedder(ocfg)
	case ProviderOpenAI:
		inner, err = NewOpenAIEmbedder(OpenAIConfig{
			BaseURL:    cfg.Host,
			Model:      cfg.Model,
			Token:      os.Getenv(cfg.APIKeyEnv),
			Dimensions: cfg.Dimensions,
		})
		if err != nil {
			return nil, ragerrors.ConfigError("failed to create openai embedder", err)
		}
	default:
		return nil, ragerrors.ConfigError(fmt.Sprintf("unknown embeddings provider %q", cfg.Provider), nil).
			WithSuggestion("use static, ollama or openai")
	}

	if cfg.CacheSize == 0 {
		return inner, nil
	}
	return NewCachedEmbedder(inner, cfg.CacheSize), nil
}
