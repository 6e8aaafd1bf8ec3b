// Package config loads service configuration from the environment.
//
// A .env file in the working directory is read first when present; real
// environment variables take precedence over it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/dshills/highlight-search/internal/embedder"
	"github.com/dshills/highlight-search/internal/logging"
	"github.com/dshills/highlight-search/internal/storage"
	"github.com/dshills/highlight-search/pkg/types"
)

// Config holds every setting the binaries read
type Config struct {
	// Index storage
	StorageBackend string
	IndexPath      string
	IndexDSN       string

	// Source-of-truth database
	SourceDriver string
	SourceDSN    string

	// Embedding provider
	EmbeddingProvider string
	OpenAIAPIKey      string
	EmbeddingModel    string
	EmbeddingBaseURL  string
	EmbeddingCache    int
	EmbeddingRPS      float64
	EmbeddingTimeout  time.Duration
	BatchSize         int
	BatchDelay        time.Duration
	QueryTimeout      time.Duration

	// Background embedding queue
	QueueCapacity int
	QueueWorkers  int

	// Query engine
	MinSimilarity      float64
	SemanticCandidates int

	// Backfill
	PageSize      int
	BackfillTypes []types.EntityType

	// Surfaces
	HTTPAddr        string
	ShutdownTimeout time.Duration
	MCPCallerUserID string
	AdminUserIDs    []string // callers allowed on the /index maintenance routes

	LogLevel  string
	LogFormat string
}

// Load reads .env (if present) and the environment
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function and validates it
func FromEnv(getenv func(string) string) (*Config, error) {
	e := env{getenv: getenv}

	cfg := &Config{
		StorageBackend: strings.ToLower(e.orDefault("HS_STORAGE_BACKEND", storage.BackendSQLite)),
		IndexPath:      e.orDefault("HS_INDEX_PATH", "highlight-search.db"),
		IndexDSN:       e.orDefault("HS_INDEX_DSN", ""),

		SourceDriver: e.orDefault("HS_SOURCE_DRIVER", storage.DriverName),
		SourceDSN:    e.orDefault("HS_SOURCE_DSN", ""),

		EmbeddingProvider: strings.ToLower(e.orDefault("HS_EMBEDDING_PROVIDER", embedder.ProviderOpenAI)),
		OpenAIAPIKey:      e.orDefault("OPENAI_API_KEY", ""),
		EmbeddingModel:    e.orDefault("HS_EMBEDDING_MODEL", ""),
		EmbeddingBaseURL:  e.orDefault("HS_EMBEDDING_BASE_URL", ""),
		EmbeddingCache:    e.intOr("HS_EMBEDDING_CACHE_SIZE", 10000),
		EmbeddingRPS:      e.floatOr("HS_EMBEDDING_RPS", 0),
		EmbeddingTimeout:  e.durationOr("HS_EMBEDDING_TIMEOUT", 30*time.Second),
		BatchSize:         e.intOr("HS_EMBEDDING_BATCH_SIZE", embedder.DefaultBatchSize),
		BatchDelay:        e.durationOr("HS_EMBEDDING_BATCH_DELAY", embedder.DefaultBatchDelay),
		QueryTimeout:      e.durationOr("HS_QUERY_EMBED_TIMEOUT", embedder.DefaultQueryTimeout),

		QueueCapacity: e.intOr("HS_QUEUE_CAPACITY", 1024),
		QueueWorkers:  e.intOr("HS_QUEUE_WORKERS", 2),

		MinSimilarity:      e.floatOr("HS_MIN_SIMILARITY", 0.2),
		SemanticCandidates: e.intOr("HS_SEMANTIC_CANDIDATES", 200),

		PageSize: e.intOr("HS_BACKFILL_PAGE_SIZE", 100),

		HTTPAddr:        e.orDefault("HS_HTTP_ADDR", ":8080"),
		ShutdownTimeout: e.durationOr("HS_SHUTDOWN_TIMEOUT", 10*time.Second),
		MCPCallerUserID: e.orDefault("HS_MCP_CALLER_USER_ID", ""),

		LogLevel:  e.orDefault("HS_LOG_LEVEL", "info"),
		LogFormat: e.orDefault("HS_LOG_FORMAT", "text"),
	}

	if raw := e.orDefault("HS_BACKFILL_TYPES", ""); raw != "" {
		list, err := types.ParseEntityTypes(raw)
		if err != nil {
			e.fail("HS_BACKFILL_TYPES", err)
		}
		cfg.BackfillTypes = list
	}

	for _, id := range strings.Split(e.orDefault("HS_ADMIN_USER_IDS", ""), ",") {
		if id = strings.TrimSpace(id); id != "" {
			cfg.AdminUserIDs = append(cfg.AdminUserIDs, id)
		}
	}

	if len(e.errs) > 0 {
		return nil, e.errs[0]
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enumerated settings and required combinations
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case storage.BackendSQLite:
		if c.IndexPath == "" {
			return fmt.Errorf("HS_INDEX_PATH is required for the sqlite backend")
		}
	case storage.BackendPostgres:
		if c.IndexDSN == "" {
			return fmt.Errorf("HS_INDEX_DSN is required for the postgres backend")
		}
	default:
		return fmt.Errorf("HS_STORAGE_BACKEND: unknown backend %q (allowed: sqlite, postgres)", c.StorageBackend)
	}

	switch c.EmbeddingProvider {
	case embedder.ProviderOpenAI, embedder.ProviderLocal, embedder.ProviderNone:
	default:
		return fmt.Errorf("HS_EMBEDDING_PROVIDER: unknown provider %q (allowed: openai, local, none)", c.EmbeddingProvider)
	}

	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("HS_LOG_LEVEL: %w", err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("HS_LOG_FORMAT: unknown format %q (allowed: text, json)", c.LogFormat)
	}
	if c.MinSimilarity < 0 || c.MinSimilarity > 1 {
		return fmt.Errorf("HS_MIN_SIMILARITY must be within [0, 1], got %v", c.MinSimilarity)
	}
	return nil
}

// Storage returns the index storage settings
func (c *Config) Storage() storage.Config {
	return storage.Config{Backend: c.StorageBackend, Path: c.IndexPath, DSN: c.IndexDSN}
}

// Embedder returns the provider settings
func (c *Config) Embedder() embedder.Config {
	return embedder.Config{
		Provider:          c.EmbeddingProvider,
		APIKey:            c.OpenAIAPIKey,
		Model:             c.EmbeddingModel,
		BaseURL:           c.EmbeddingBaseURL,
		CacheSize:         c.EmbeddingCache,
		RequestsPerSecond: c.EmbeddingRPS,
		Timeout:           c.EmbeddingTimeout,
	}
}

// Logging returns the logger settings
func (c *Config) Logging() logging.Options {
	return logging.Options{Level: c.LogLevel, Format: c.LogFormat}
}

// env reads typed values and collects parse errors
type env struct {
	getenv func(string) string
	errs   []error
}

func (e *env) fail(key string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
}

func (e *env) orDefault(key, def string) string {
	if v := strings.TrimSpace(e.getenv(key)); v != "" {
		return v
	}
	return def
}

func (e *env) intOr(key string, def int) int {
	v := e.orDefault(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return n
}

func (e *env) floatOr(key string, def float64) float64 {
	v := e.orDefault(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return f
}

func (e *env) durationOr(key string, def time.Duration) time.Duration {
	v := e.orDefault(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return d
}
