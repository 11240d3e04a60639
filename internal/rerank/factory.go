package rerank

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Aman-CERP/groundedrag/internal/config"
	ragerrors "github.com/Aman-CERP/groundedrag/internal/errors"
)

// Provider names accepted in reranker.provider.
const (
	ProviderHTTP = "http"
	ProviderNoOp = "noop"
)

// New builds the configured reranker.
func New(cfg config.RerankerConfig) (Reranker, error) {
	switch strings.ToLower(cfg.Provider) {
	case ProviderNoOp, "":
		return NoOpReranker{}, nil
	case ProviderHTTP:
		hc := DefaultHTTPConfig()
		hc.Endpoint = cfg.Endpoint
		hc.Model = cfg.Model
		hc.Timeout = config.ParseDuration(cfg.Timeout, DefaultTimeout)
		hc.RateLimit = cfg.RateLimit
		hc.Retry.MaxRetries = cfg.MaxRetries
		if cfg.APIKeyEnv != "" {
			hc.APIKey = os.Getenv(cfg.APIKeyEnv)
		}
		hc.Breaker = ragerrors.NewCircuitBreaker("reranker",
			ragerrors.WithMaxFailures(5),
			ragerrors.WithResetTimeout(30*time.Second))
		return NewHTTPReranker(hc), nil
	default:
		return nil, ragerrors.ConfigError(fmt.Sprintf("unknown reranker provider %q", cfg.Provider), nil).
			WithSuggestion("use http or noop")
	}
}
