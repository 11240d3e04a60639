package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// ProjectConfigName is the per-project configuration file.
	ProjectConfigName = ".groundedrag.yaml"

	// DataDirName holds local index files under the project root.
	DataDirName = ".groundedrag"

	envPrefix = "GROUNDEDRAG_"
)

// Config represents the complete groundedrag configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Retrieval  RetrievalConfig  `yaml:"retrieval" json:"retrieval"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Dense      DenseConfig      `yaml:"dense" json:"dense"`
	Lexical    LexicalConfig    `yaml:"lexical" json:"lexical"`
	Reranker   RerankerConfig   `yaml:"reranker" json:"reranker"`
	Answer     AnswerConfig     `yaml:"answer" json:"answer"`
	Ingest     IngestConfig     `yaml:"ingest" json:"ingest"`
	Server     ServerConfig     `yaml:"server" json:"server"`
}

// RetrievalConfig configures the hybrid retrieval pipeline.
// The over-fetch counts are independent of top_k: the dense and lexical
// indexes are asked for a wide candidate net that the reranker narrows.
type RetrievalConfig struct {
	// TopK is the default final result count carried on a request (default 10).
	TopK int `yaml:"top_k" json:"top_k"`

	// RerankTopK is the default number of chunks kept after reranking (default 5).
	RerankTopK int `yaml:"rerank_top_k" json:"rerank_top_k"`

	// DenseOverFetch is the candidate count requested from the dense index (default 30).
	DenseOverFetch int `yaml:"dense_over_fetch" json:"dense_over_fetch"`

	// LexicalOverFetch is the candidate count requested from the lexical index (default 20).
	LexicalOverFetch int `yaml:"lexical_over_fetch" json:"lexical_over_fetch"`

	// QueryMode is the embedding mode used for queries: "query" or "document".
	QueryMode string `yaml:"query_mode" json:"query_mode"`

	// Sequential disables concurrent dense/lexical searches.
	Sequential bool `yaml:"sequential" json:"sequential"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is one of "static", "ollama", "openai".
	Provider string `yaml:"provider" json:"provider"`
	Model    string `yaml:"model" json:"model"`
	// Host is the Ollama endpoint or the OpenAI-compatible base URL.
	Host string `yaml:"host" json:"host"`
	// APIKeyEnv names the environment variable that holds the API key.
	APIKeyEnv string `yaml:"api_key_env" json:"api_key_env"`
	// QueryInstruction is prepended to queries in query mode (Ollama only).
	QueryInstruction string `yaml:"query_instruction" json:"query_instruction"`
	Dimensions       int    `yaml:"dimensions" json:"dimensions"`
	// CacheSize is the number of cached vectors (0 disables the cache).
	CacheSize int    `yaml:"cache_size" json:"cache_size"`
	Timeout   string `yaml:"timeout" json:"timeout"`
}

// DenseConfig configures the dense vector index.
type DenseConfig struct {
	// Backend is "hnsw" (local file) or "pgvector".
	Backend string `yaml:"backend" json:"backend"`
	// Path is the HNSW index file, relative to the data directory.
	Path string `yaml:"path" json:"path"`
	// DSN is the PostgreSQL connection string for pgvector.
	DSN   string `yaml:"dsn" json:"dsn"`
	Table string `yaml:"table" json:"table"`
}

// LexicalConfig configures the optional lexical index.
type LexicalConfig struct {
	// Backend is "sqlite" (FTS5), "bleve", or "none".
	Backend string `yaml:"backend" json:"backend"`
	// Path is relative to the data directory.
	Path string `yaml:"path" json:"path"`
}

// RerankerConfig configures the cross-encoder reranker.
type RerankerConfig struct {
	// Provider is "http" or "noop".
	Provider  string `yaml:"provider" json:"provider"`
	Endpoint  string `yaml:"endpoint" json:"endpoint"`
	Model     string `yaml:"model" json:"model"`
	APIKeyEnv string `yaml:"api_key_env" json:"api_key_env"`
	Timeout   string `yaml:"timeout" json:"timeout"`
	// RateLimit is the maximum requests per second (0 = unlimited).
	RateLimit  float64 `yaml:"rate_limit" json:"rate_limit"`
	MaxRetries int     `yaml:"max_retries" json:"max_retries"`
}

// AnswerConfig configures the grounded answering LLM.
type AnswerConfig struct {
	BaseURL       string  `yaml:"base_url" json:"base_url"`
	Model         string  `yaml:"model" json:"model"`
	APIKeyEnv     string  `yaml:"api_key_env" json:"api_key_env"`
	Temperature   float64 `yaml:"temperature" json:"temperature"`
	SummaryLength int     `yaml:"summary_length" json:"summary_length"`
	Timeout       string  `yaml:"timeout" json:"timeout"`
	// IntentCacheSize bounds the intent classifier cache.
	IntentCacheSize int `yaml:"intent_cache_size" json:"intent_cache_size"`
}

// IngestConfig configures document chunking for the ingest command.
type IngestConfig struct {
	ChunkSize    int `yaml:"chunk_size" json:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap" json:"chunk_overlap"`
}

// ServerConfig configures the MCP and HTTP surfaces.
type ServerConfig struct {
	// Transport is "stdio" (MCP) or "http" (REST API).
	Transport string `yaml:"transport" json:"transport"`
	HTTPAddr  string `yaml:"http_addr" json:"http_addr"`
	LogLevel  string `yaml:"log_level" json:"log_level"`
	// RateLimit is the HTTP requests per second allowed per client IP (0 = unlimited).
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit"`
}

// NewConfig creates a Config with defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Retrieval: RetrievalConfig{
			TopK:             10,
			RerankTopK:       5,
			DenseOverFetch:   30,
			LexicalOverFetch: 20,
			QueryMode:        "query",
		},
		Embeddings: EmbeddingsConfig{
			Provider:         "static",
			Model:            "qwen3-embedding:0.6b",
			APIKeyEnv:        "OPENAI_API_KEY",
			QueryInstruction: "Instruct: Given a question, retrieve passages that answer the question\nQuery: ",
			CacheSize:        1000,
			Timeout:          "60s",
		},
		Dense: DenseConfig{
			Backend: "hnsw",
			Path:    "vectors.hnsw",
			Table:   "chunks",
		},
		Lexical: LexicalConfig{
			Backend: "sqlite",
			Path:    "lexical.db",
		},
		Reranker: RerankerConfig{
			Provider:   "noop",
			Endpoint:   "http://localhost:8787",
			Model:      "bge-reranker-v2-m3",
			APIKeyEnv:  "RERANKER_API_KEY",
			Timeout:    "10s",
			MaxRetries: 2,
		},
		Answer: AnswerConfig{
			Model:           "gpt-4.1-mini",
			APIKeyEnv:       "OPENAI_API_KEY",
			Temperature:     0.0,
			SummaryLength:   200,
			Timeout:         "60s",
			IntentCacheSize: 512,
		},
		Ingest: IngestConfig{
			ChunkSize:    1500,
			ChunkOverlap: 200,
		},
		Server: ServerConfig{
			Transport: "stdio",
			HTTPAddr:  "127.0.0.1:8765",
			LogLevel:  "info",
		},
	}
}

// GetUserConfigPath returns the path to the user configuration file:
// $XDG_CONFIG_HOME/groundedrag/config.yaml or ~/.config/groundedrag/config.yaml.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "groundedrag", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "groundedrag", "config.yaml")
	}
	return filepath.Join(home, ".config", "groundedrag", "config.yaml")
}

// Load loads configuration for the project rooted at dir.
// Precedence, lowest first:
//  1. Hardcoded defaults
//  2. User config (~/.config/groundedrag/config.yaml)
//  3. Project config (.groundedrag.yaml in dir)
//  4. Environment variables (GROUNDEDRAG_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userPath := GetUserConfigPath(); fileExists(userPath) {
		if err := cfg.loadYAML(userPath); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	if projectPath := filepath.Join(dir, ProjectConfigName); fileExists(projectPath) {
		if err := cfg.loadYAML(projectPath); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadYAML parses path and merges its non-zero values into c.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	r, o := &c.Retrieval, other.Retrieval
	setInt(&r.TopK, o.TopK)
	setInt(&r.RerankTopK, o.RerankTopK)
	setInt(&r.DenseOverFetch, o.DenseOverFetch)
	setInt(&r.LexicalOverFetch, o.LexicalOverFetch)
	setString(&r.QueryMode, o.QueryMode)
	if o.Sequential {
		r.Sequential = true
	}

	e, oe := &c.Embeddings, other.Embeddings
	setString(&e.Provider, oe.Provider)
	setString(&e.Model, oe.Model)
	setString(&e.Host, oe.Host)
	setString(&e.APIKeyEnv, oe.APIKeyEnv)
	setString(&e.QueryInstruction, oe.QueryInstruction)
	setInt(&e.Dimensions, oe.Dimensions)
	setInt(&e.CacheSize, oe.CacheSize)
	setString(&e.Timeout, oe.Timeout)

	setString(&c.Dense.Backend, other.Dense.Backend)
	setString(&c.Dense.Path, other.Dense.Path)
	setString(&c.Dense.DSN, other.Dense.DSN)
	setString(&c.Dense.Table, other.Dense.Table)

	setString(&c.Lexical.Backend, other.Lexical.Backend)
	setString(&c.Lexical.Path, other.Lexical.Path)

	rr, or := &c.Reranker, other.Reranker
	setString(&rr.Provider, or.Provider)
	setString(&rr.Endpoint, or.Endpoint)
	setString(&rr.Model, or.Model)
	setString(&rr.APIKeyEnv, or.APIKeyEnv)
	setString(&rr.Timeout, or.Timeout)
	if or.RateLimit != 0 {
		rr.RateLimit = or.RateLimit
	}
	setInt(&rr.MaxRetries, or.MaxRetries)

	a, oa := &c.Answer, other.Answer
	setString(&a.BaseURL, oa.BaseURL)
	setString(&a.Model, oa.Model)
	setString(&a.APIKeyEnv, oa.APIKeyEnv)
	// 0 is the default temperature, so only non-zero values are merged
	if oa.Temperature != 0 {
		a.Temperature = oa.Temperature
	}
	setInt(&a.SummaryLength, oa.SummaryLength)
	setString(&a.Timeout, oa.Timeout)
	setInt(&a.IntentCacheSize, oa.IntentCacheSize)

	setInt(&c.Ingest.ChunkSize, other.Ingest.ChunkSize)
	setInt(&c.Ingest.ChunkOverlap, other.Ingest.ChunkOverlap)

	setString(&c.Server.Transport, other.Server.Transport)
	setString(&c.Server.HTTPAddr, other.Server.HTTPAddr)
	setString(&c.Server.LogLevel, other.Server.LogLevel)
	if other.Server.RateLimit != 0 {
		c.Server.RateLimit = other.Server.RateLimit
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

// applyEnvOverrides applies GROUNDEDRAG_* environment variable overrides.
// Numeric overrides that fail to parse are ignored.
func (c *Config) applyEnvOverrides() {
	envInt := func(name string, dst *int) {
		if v := os.Getenv(envPrefix + name); v != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}
	envString := func(name string, dst *string) {
		if v := os.Getenv(envPrefix + name); v != "" {
			*dst = v
		}
	}

	envInt("TOP_K", &c.Retrieval.TopK)
	envInt("RERANK_TOP_K", &c.Retrieval.RerankTopK)
	envInt("DENSE_OVER_FETCH", &c.Retrieval.DenseOverFetch)
	envInt("LEXICAL_OVER_FETCH", &c.Retrieval.LexicalOverFetch)
	envString("QUERY_MODE", &c.Retrieval.QueryMode)

	envString("EMBEDDER", &c.Embeddings.Provider)
	envString("EMBEDDINGS_MODEL", &c.Embeddings.Model)
	envString("EMBEDDINGS_HOST", &c.Embeddings.Host)

	envString("DENSE_BACKEND", &c.Dense.Backend)
	envString("DENSE_DSN", &c.Dense.DSN)
	envString("LEXICAL_BACKEND", &c.Lexical.Backend)

	envString("RERANKER", &c.Reranker.Provider)
	envString("RERANKER_ENDPOINT", &c.Reranker.Endpoint)
	envString("RERANKER_MODEL", &c.Reranker.Model)

	envString("ANSWER_MODEL", &c.Answer.Model)
	envString("ANSWER_BASE_URL", &c.Answer.BaseURL)
	// Explicit zero is allowed here, unlike in YAML merging
	if v := os.Getenv(envPrefix + "ANSWER_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			c.Answer.Temperature = f
		}
	}

	envString("TRANSPORT", &c.Server.Transport)
	envString("HTTP_ADDR", &c.Server.HTTPAddr)
	envString("LOG_LEVEL", &c.Server.LogLevel)
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	r := c.Retrieval
	if r.TopK < 0 {
		return fmt.Errorf("retrieval.top_k must be non-negative, got %d", r.TopK)
	}
	if r.RerankTopK <= 0 {
		return fmt.Errorf("retrieval.rerank_top_k must be positive, got %d", r.RerankTopK)
	}
	if r.DenseOverFetch <= 0 {
		return fmt.Errorf("retrieval.dense_over_fetch must be positive, got %d", r.DenseOverFetch)
	}
	if r.LexicalOverFetch <= 0 {
		return fmt.Errorf("retrieval.lexical_over_fetch must be positive, got %d", r.LexicalOverFetch)
	}
	if err := oneOf("retrieval.query_mode", r.QueryMode, "query", "document"); err != nil {
		return err
	}

	if err := oneOf("embeddings.provider", c.Embeddings.Provider, "static", "ollama", "openai"); err != nil {
		return err
	}
	if c.Embeddings.CacheSize < 0 {
		return fmt.Errorf("embeddings.cache_size must be non-negative, got %d", c.Embeddings.CacheSize)
	}
	if err := oneOf("dense.backend", c.Dense.Backend, "hnsw", "pgvector"); err != nil {
		return err
	}
	if c.Dense.Backend == "pgvector" && c.Dense.DSN == "" {
		return fmt.Errorf("dense.dsn is required for the pgvector backend")
	}
	if err := oneOf("lexical.backend", c.Lexical.Backend, "sqlite", "bleve", "none"); err != nil {
		return err
	}
	if err := oneOf("reranker.provider", c.Reranker.Provider, "http", "noop"); err != nil {
		return err
	}
	if c.Reranker.Provider == "http" && c.Reranker.Endpoint == "" {
		return fmt.Errorf("reranker.endpoint is required for the http provider")
	}
	if c.Reranker.RateLimit < 0 {
		return fmt.Errorf("reranker.rate_limit must be non-negative, got %f", c.Reranker.RateLimit)
	}

	if c.Answer.Temperature < 0 || c.Answer.Temperature > 2 {
		return fmt.Errorf("answer.temperature must be between 0 and 2, got %f", c.Answer.Temperature)
	}
	if c.Answer.SummaryLength <= 0 {
		return fmt.Errorf("answer.summary_length must be positive, got %d", c.Answer.SummaryLength)
	}

	if c.Ingest.ChunkSize <= 0 {
		return fmt.Errorf("ingest.chunk_size must be positive, got %d", c.Ingest.ChunkSize)
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("ingest.chunk_overlap must be in [0, chunk_size), got %d", c.Ingest.ChunkOverlap)
	}

	for name, d := range map[string]string{
		"embeddings.timeout": c.Embeddings.Timeout,
		"reranker.timeout":   c.Reranker.Timeout,
		"answer.timeout":     c.Answer.Timeout,
	} {
		if d == "" {
			continue
		}
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("%s is not a valid duration: %q", name, d)
		}
	}

	if err := oneOf("server.transport", c.Server.Transport, "stdio", "http"); err != nil {
		return err
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must be non-negative, got %f", c.Server.RateLimit)
	}
	return oneOf("server.log_level", c.Server.LogLevel, "debug", "info", "warn", "error")
}

func oneOf(field, value string, allowed ...string) error {
	v := strings.ToLower(value)
	for _, a := range allowed {
		if v == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", field, strings.Join(allowed, ", "), value)
}

// ParseDuration parses s, returning def when s is empty or invalid.
func ParseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// DataDir returns the local index directory for a project root.
func DataDir(root string) string {
	return filepath.Join(root, DataDirName)
}

// ResolvePath resolves p against the project data directory unless absolute.
func ResolvePath(root, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(DataDir(root), p)
}

// FindProjectRoot walks up from startDir looking for .git or a project
// config file. Returns the absolute startDir when neither is found.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	current := absDir
	for {
		if dirExists(filepath.Join(current, ".git")) || fileExists(filepath.Join(current, ProjectConfigName)) {
			return current, nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return absDir, nil
		}
		current = parent
	}
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
