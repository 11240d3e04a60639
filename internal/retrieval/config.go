package retrieval

import (
	"github.com/Aman-CERP/groundedrag/internal/config"
	"github.com/Aman-CERP/groundedrag/internal/embed"
)

// Defaults for Request and Config.
const (
	DefaultTopK             = 10
	DefaultRerankTopK       = 5
	DefaultDenseOverFetch   = 30
	DefaultLexicalOverFetch = 20
)

// Config tunes the orchestrator. The over-fetch counts are independent of
// the request's TopK.
type Config struct {
	TopK             int
	RerankTopK       int
	DenseOverFetch   int
	LexicalOverFetch int
	QueryMode        embed.Mode
	// Sequential runs the lexical branch after the dense branch instead
	// of concurrently.
	Sequential bool
}

// DefaultConfig returns the stock retrieval settings.
func DefaultConfig() Config {
	return Config{
		TopK:             DefaultTopK,
		RerankTopK:       DefaultRerankTopK,
		DenseOverFetch:   DefaultDenseOverFetch,
		LexicalOverFetch: DefaultLexicalOverFetch,
		QueryMode:        embed.ModeQuery,
	}
}

// ConfigFrom converts the file configuration. Zero values keep defaults.
func ConfigFrom(rc config.RetrievalConfig) (Config, error) {
	cfg := DefaultConfig()
	if rc.TopK > 0 {
		cfg.TopK = rc.TopK
	}
	if rc.RerankTopK > 0 {
		cfg.RerankTopK = rc.RerankTopK
	}
	if rc.DenseOverFetch > 0 {
		cfg.DenseOverFetch = rc.DenseOverFetch
	}
	if rc.LexicalOverFetch > 0 {
		cfg.LexicalOverFetch = rc.LexicalOverFetch
	}
	mode, err := embed.ParseMode(rc.QueryMode)
	if err != nil {
		return Config{}, err
	}
	cfg.QueryMode = mode
	cfg.Sequential = rc.Sequential
	return cfg, nil
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TopK <= 0 {
		c.TopK = d.TopK
	}
	if c.RerankTopK <= 0 {
		c.RerankTopK = d.RerankTopK
	}
	if c.DenseOverFetch <= 0 {
		c.DenseOverFetch = d.DenseOverFetch
	}
	if c.LexicalOverFetch <= 0 {
		c.LexicalOverFetch = d.LexicalOverFetch
	}
	if c.QueryMode == "" {
		c.QueryMode = d.QueryMode
	}
	return c
}
