package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cmdcenter/memorylane/internal/config"
)

func TestLoadConfig_DefaultHostIsLocalhost(t *testing.T) {
	_ = os.Unsetenv("MEMLANE_HOST")
	cfg := config.LoadConfig()
	assert.Equal(t, "127.0.0.1", cfg.Server.Host,
		"Default host must be 127.0.0.1 for security")
}

func TestLoadConfig_CanOverrideHost(t *testing.T) {
	t.Setenv("MEMLANE_HOST", "0.0.0.0")
	cfg := config.LoadConfig()
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
}

func TestLoadConfig_Defaults(t *testing.T) {
	for _, key := range []string{
		"MEMLANE_STORAGE_BACKEND", "MEMLANE_LLM_PROVIDER", "MEMLANE_CHUNK_SIZE",
		"MEMLANE_DUPLICATE_THRESHOLD", "MEMLANE_CALL_TIMEOUT", "MEMLANE_RETRIEVAL_LIMIT",
		"MEMLANE_EMBEDDING_PROVIDER",
	} {
		_ = os.Unsetenv(key)
	}

	cfg := config.LoadConfig()

	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, "ollama", cfg.LLM.Provider)
	assert.Equal(t, "ollama", cfg.LLM.EmbeddingProvider, "embedding provider follows the LLM provider")
	assert.Equal(t, 15, cfg.Extraction.ChunkSize)
	assert.Equal(t, 0.9, cfg.Extraction.DuplicateThreshold)
	assert.Equal(t, 30*time.Second, cfg.Extraction.CallTimeout)
	assert.Equal(t, 5, cfg.Retrieval.Limit)
	assert.Equal(t, 0.50, cfg.Retrieval.SemanticThreshold)
	assert.Equal(t, 0.40, cfg.Retrieval.EntitySemanticThreshold)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("MEMLANE_STORAGE_BACKEND", "postgres")
	t.Setenv("MEMLANE_POSTGRES_DSN", "postgres://localhost/memlane")
	t.Setenv("MEMLANE_CHUNK_SIZE", "20")
	t.Setenv("MEMLANE_DUPLICATE_THRESHOLD", "0.85")
	t.Setenv("MEMLANE_CALL_TIMEOUT", "45s")
	t.Setenv("MEMLANE_KEEP_UNEMBEDDED", "yes")

	cfg := config.LoadConfig()

	assert.Equal(t, "postgres", cfg.Storage.Backend)
	assert.Equal(t, "postgres://localhost/memlane", cfg.Storage.PostgresDSN)
	assert.Equal(t, 20, cfg.Extraction.ChunkSize)
	assert.Equal(t, 0.85, cfg.Extraction.DuplicateThreshold)
	assert.Equal(t, 45*time.Second, cfg.Extraction.CallTimeout)
	assert.True(t, cfg.Extraction.KeepUnembedded)
}

func TestLoadConfig_UnparseableValuesFallBack(t *testing.T) {
	t.Setenv("MEMLANE_CHUNK_SIZE", "a lot")
	t.Setenv("MEMLANE_DUPLICATE_THRESHOLD", "high")
	t.Setenv("MEMLANE_CALL_TIMEOUT", "soonish")

	cfg := config.LoadConfig()

	assert.Equal(t, 15, cfg.Extraction.ChunkSize)
	assert.Equal(t, 0.9, cfg.Extraction.DuplicateThreshold)
	assert.Equal(t, 30*time.Second, cfg.Extraction.CallTimeout)
}

func TestLoadConfig_AnthropicEmbeddingFallback(t *testing.T) {
	t.Setenv("MEMLANE_LLM_PROVIDER", "anthropic")
	_ = os.Unsetenv("MEMLANE_EMBEDDING_PROVIDER")

	cfg := config.LoadConfig()
	assert.Equal(t, "ollama", cfg.LLM.EmbeddingProvider,
		"anthropic has no embedding endpoint; embeddings fall back to ollama")
}
