package llm

import (
	"fmt"
	"time"
)

// ProviderConfig selects and configures an LLM provider.
type ProviderConfig struct {
	Provider string // "ollama", "openai", "anthropic"
	APIKey   string
	Model    string
	BaseURL  string
	Timeout  time.Duration
}

// NewTextGenerator creates the appropriate TextGenerator for the provider.
func NewTextGenerator(cfg ProviderConfig) (TextGenerator, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIClient(OpenAIConfig{
			APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL, Timeout: cfg.Timeout,
		}), nil
	case "anthropic":
		return NewAnthropicClient(AnthropicConfig{
			APIKey: cfg.APIKey, Model: cfg.Model, Timeout: cfg.Timeout,
		}), nil
	case "ollama", "":
		return NewOllamaClient(OllamaConfig{
			BaseURL: cfg.BaseURL, Model: cfg.Model, Timeout: cfg.Timeout,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}
}

// NewEmbeddingGenerator creates the appropriate EmbeddingGenerator.
// Returns (nil, nil) for providers without an embedding endpoint (Anthropic);
// callers run in degraded entity-only mode or pair a second provider.
func NewEmbeddingGenerator(cfg ProviderConfig) (EmbeddingGenerator, error) {
	switch cfg.Provider {
	case "openai":
		model := cfg.Model
		if model == "" {
			model = "text-embedding-3-small"
		}
		return NewOpenAIEmbeddingClient(OpenAIEmbeddingConfig{
			APIKey: cfg.APIKey, Model: model, BaseURL: cfg.BaseURL, Timeout: cfg.Timeout,
		}), nil
	case "ollama", "":
		model := cfg.Model
		if model == "" {
			model = "nomic-embed-text"
		}
		return NewOllamaClient(OllamaConfig{
			BaseURL: cfg.BaseURL, Model: model, Timeout: cfg.Timeout,
		}), nil
	case "anthropic":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %q", cfg.Provider)
	}
}
