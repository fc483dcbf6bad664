// Package config provides configuration management for Memory Lane.
// It loads settings from environment variables with the MEMLANE_ prefix
// and provides sensible defaults for all configuration options.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration settings for the Memory Lane daemon and
// import tooling.
type Config struct {
	Server     ServerConfig
	Storage    StorageConfig
	LLM        LLMConfig
	Extraction ExtractionConfig
	Retrieval  RetrievalConfig
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port int    // Server port (default: 6380)
	Host string // Server host (default: 127.0.0.1)

	// RateLimit is requests per second allowed per server, with RateBurst
	// headroom. Zero disables limiting.
	RateLimit float64
	RateBurst int
}

// StorageConfig contains database configuration.
type StorageConfig struct {
	Backend     string // Storage backend: sqlite, postgres (default: sqlite)
	SQLitePath  string // SQLite database file path (default: ./data/memorylane.db)
	PostgresDSN string // Postgres connection string, required for the postgres backend
}

// LLMConfig contains extraction-model and embedding provider configuration.
type LLMConfig struct {
	Provider             string // LLM provider: ollama, openai, anthropic (default: ollama)
	OllamaURL            string // Ollama API URL (default: http://localhost:11434)
	OllamaModel          string // Ollama model for extraction (default: qwen2.5:7b)
	OllamaEmbeddingModel string // Ollama model for embeddings (default: nomic-embed-text)
	OpenAIAPIKey         string // OpenAI API key
	OpenAIModel          string // OpenAI extraction model (default: gpt-4o-mini)
	OpenAIEmbeddingModel string // OpenAI embedding model (default: text-embedding-3-small)
	OpenAIBaseURL        string // Override for OpenAI-compatible endpoints
	AnthropicAPIKey      string // Anthropic API key
	AnthropicModel       string // Anthropic extraction model (default: claude-haiku-4-5-20251001)

	// EmbeddingProvider selects who serves embeddings; Anthropic has no
	// embedding endpoint, so anthropic deployments pair with ollama or
	// openai here (default: same as Provider, ollama when anthropic).
	EmbeddingProvider string
}

// ExtractionConfig tunes the memory extraction pipeline.
type ExtractionConfig struct {
	ChunkSize          int           // Turns per extraction chunk (default: 15)
	DuplicateThreshold float64       // Cosine similarity for duplicate merge (default: 0.9)
	CallTimeout        time.Duration // Per model/embedding call deadline (default: 30s)
	KeepUnembedded     bool          // Store candidates pending embedding on embed failure (default: false)
}

// RetrievalConfig tunes ranked retrieval.
type RetrievalConfig struct {
	Limit                   int     // Max results per query (default: 5)
	SemanticThreshold       float64 // General semantic bar (default: 0.50)
	EntitySemanticThreshold float64 // Bar when the query matched an entity (default: 0.40)
}

// LoadConfig loads configuration from environment variables with sensible
// defaults. All environment variables use the MEMLANE_ prefix.
func LoadConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:      getEnvInt("MEMLANE_PORT", 6380),
			Host:      getEnv("MEMLANE_HOST", "127.0.0.1"),
			RateLimit: getEnvFloat("MEMLANE_RATE_LIMIT", 20),
			RateBurst: getEnvInt("MEMLANE_RATE_BURST", 40),
		},
		Storage: StorageConfig{
			Backend:     getEnv("MEMLANE_STORAGE_BACKEND", "sqlite"),
			SQLitePath:  getEnv("MEMLANE_SQLITE_PATH", "./data/memorylane.db"),
			PostgresDSN: getEnv("MEMLANE_POSTGRES_DSN", ""),
		},
		LLM: LLMConfig{
			Provider:             getEnv("MEMLANE_LLM_PROVIDER", "ollama"),
			OllamaURL:            getEnv("MEMLANE_OLLAMA_URL", "http://localhost:11434"),
			OllamaModel:          getEnv("MEMLANE_OLLAMA_MODEL", "qwen2.5:7b"),
			OllamaEmbeddingModel: getEnv("MEMLANE_EMBEDDING_MODEL", "nomic-embed-text"),
			OpenAIAPIKey:         getEnv("MEMLANE_OPENAI_API_KEY", ""),
			OpenAIModel:          getEnv("MEMLANE_OPENAI_MODEL", "gpt-4o-mini"),
			OpenAIEmbeddingModel: getEnv("MEMLANE_OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
			OpenAIBaseURL:        getEnv("MEMLANE_OPENAI_BASE_URL", ""),
			AnthropicAPIKey:      getEnv("MEMLANE_ANTHROPIC_API_KEY", ""),
			AnthropicModel:       getEnv("MEMLANE_ANTHROPIC_MODEL", "claude-haiku-4-5-20251001"),
			EmbeddingProvider:    getEnv("MEMLANE_EMBEDDING_PROVIDER", ""),
		},
		Extraction: ExtractionConfig{
			ChunkSize:          getEnvInt("MEMLANE_CHUNK_SIZE", 15),
			DuplicateThreshold: getEnvFloat("MEMLANE_DUPLICATE_THRESHOLD", 0.9),
			CallTimeout:        getEnvDuration("MEMLANE_CALL_TIMEOUT", 30*time.Second),
			KeepUnembedded:     getEnvBool("MEMLANE_KEEP_UNEMBEDDED", false),
		},
		Retrieval: RetrievalConfig{
			Limit:                   getEnvInt("MEMLANE_RETRIEVAL_LIMIT", 5),
			SemanticThreshold:       getEnvFloat("MEMLANE_SEMANTIC_THRESHOLD", 0.50),
			EntitySemanticThreshold: getEnvFloat("MEMLANE_ENTITY_SEMANTIC_THRESHOLD", 0.40),
		},
	}

	if cfg.LLM.EmbeddingProvider == "" {
		if cfg.LLM.Provider == "anthropic" {
			// Anthropic exposes no embedding endpoint.
			cfg.LLM.EmbeddingProvider = "ollama"
		} else {
			cfg.LLM.EmbeddingProvider = cfg.LLM.Provider
		}
	}
	return cfg
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value. An unparseable value falls back to the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default
// value. An unparseable value falls back to the default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default
// value. It recognizes "true", "1", "yes" and "false", "0", "no"
// (case-insensitive). An unparseable value falls back to the default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable (Go duration
// syntax, e.g. "45s") or returns a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
