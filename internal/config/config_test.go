package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/highlight-search/pkg/types"
)

func lookup(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv(lookup(nil))
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.StorageBackend)
	assert.Equal(t, "highlight-search.db", cfg.IndexPath)
	assert.Equal(t, "openai", cfg.EmbeddingProvider)
	assert.Equal(t, 20, cfg.BatchSize)
	assert.Equal(t, 100*time.Millisecond, cfg.BatchDelay)
	assert.Equal(t, 1024, cfg.QueueCapacity)
	assert.InDelta(t, 0.2, cfg.MinSimilarity, 1e-9)
	assert.Equal(t, 200, cfg.SemanticCandidates)
	assert.Equal(t, 100, cfg.PageSize)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Empty(t, cfg.BackfillTypes)
	assert.Empty(t, cfg.AdminUserIDs)
}

func TestFromEnv_Overrides(t *testing.T) {
	cfg, err := FromEnv(lookup(map[string]string{
		"HS_STORAGE_BACKEND":       "Postgres",
		"HS_INDEX_DSN":             "postgres://localhost/index",
		"HS_EMBEDDING_PROVIDER":    "local",
		"HS_EMBEDDING_BATCH_DELAY": "250ms",
		"HS_QUEUE_WORKERS":         " 4 ",
		"HS_MIN_SIMILARITY":        "0.35",
		"HS_BACKFILL_TYPES":        "comment, highlight",
		"HS_LOG_FORMAT":            "json",
		"HS_ADMIN_USER_IDS":        "ops, alice ,",
	}))
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.StorageBackend)
	assert.Equal(t, "postgres://localhost/index", cfg.Storage().DSN)
	assert.Equal(t, "local", cfg.Embedder().Provider)
	assert.Equal(t, 250*time.Millisecond, cfg.BatchDelay)
	assert.Equal(t, 4, cfg.QueueWorkers)
	assert.InDelta(t, 0.35, cfg.MinSimilarity, 1e-9)
	assert.Equal(t, []types.EntityType{types.EntityComment, types.EntityHighlight}, cfg.BackfillTypes)
	assert.Equal(t, "json", cfg.Logging().Format)
	assert.Equal(t, []string{"ops", "alice"}, cfg.AdminUserIDs)
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"backend", map[string]string{"HS_STORAGE_BACKEND": "mysql"}, "HS_STORAGE_BACKEND"},
		{"postgres without dsn", map[string]string{"HS_STORAGE_BACKEND": "postgres"}, "HS_INDEX_DSN"},
		{"provider", map[string]string{"HS_EMBEDDING_PROVIDER": "cohere"}, "HS_EMBEDDING_PROVIDER"},
		{"int", map[string]string{"HS_QUEUE_CAPACITY": "lots"}, "HS_QUEUE_CAPACITY"},
		{"duration", map[string]string{"HS_QUERY_EMBED_TIMEOUT": "5"}, "HS_QUERY_EMBED_TIMEOUT"},
		{"similarity", map[string]string{"HS_MIN_SIMILARITY": "1.5"}, "HS_MIN_SIMILARITY"},
		{"types", map[string]string{"HS_BACKFILL_TYPES": "bookmark,note"}, "HS_BACKFILL_TYPES"},
		{"log level", map[string]string{"HS_LOG_LEVEL": "verbose"}, "HS_LOG_LEVEL"},
		{"log format", map[string]string{"HS_LOG_FORMAT": "xml"}, "HS_LOG_FORMAT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromEnv(lookup(tt.env))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("HS_HTTP_ADDR=:9999\nHS_LOG_LEVEL=debug\n"), 0o600))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	t.Setenv("HS_LOG_LEVEL", "warn")
	t.Setenv("HS_HTTP_ADDR", "")
	require.NoError(t, os.Unsetenv("HS_HTTP_ADDR"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.HTTPAddr, "read from .env")
	assert.Equal(t, "warn", cfg.LogLevel, "environment wins over .env")
}
