// memlaned is the Memory Lane daemon: it serves the extraction, retrieval
// and import APIs over HTTP plus a WebSocket event stream.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cmdcenter/memorylane/internal/config"
	"github.com/cmdcenter/memorylane/internal/embedding"
	"github.com/cmdcenter/memorylane/internal/engine"
	"github.com/cmdcenter/memorylane/internal/importer"
	"github.com/cmdcenter/memorylane/internal/llm"
	"github.com/cmdcenter/memorylane/internal/server"
	"github.com/cmdcenter/memorylane/internal/storage"
	"github.com/cmdcenter/memorylane/internal/storage/postgres"
	"github.com/cmdcenter/memorylane/internal/storage/sqlite"
)

// backend is the slice of storage each engine component consumes.
type backend struct {
	memories storage.MemoryStore
	entities storage.EntityStore
	close    func() error
}

func openBackend(cfg *config.Config) (*backend, error) {
	switch cfg.Storage.Backend {
	case "postgres":
		store, err := postgres.NewStore(cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return &backend{memories: store.Memories(), entities: store.Entities(), close: store.Close}, nil
	default:
		if dir := filepath.Dir(cfg.Storage.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
		store, err := sqlite.NewStore(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &backend{memories: store.Memories(), entities: store.Entities(), close: store.Close}, nil
	}
}

func textProviderConfig(cfg *config.Config) llm.ProviderConfig {
	pc := llm.ProviderConfig{Provider: cfg.LLM.Provider, Timeout: cfg.Extraction.CallTimeout}
	switch cfg.LLM.Provider {
	case "openai":
		pc.APIKey = cfg.LLM.OpenAIAPIKey
		pc.Model = cfg.LLM.OpenAIModel
		pc.BaseURL = cfg.LLM.OpenAIBaseURL
	case "anthropic":
		pc.APIKey = cfg.LLM.AnthropicAPIKey
		pc.Model = cfg.LLM.AnthropicModel
	default:
		pc.Model = cfg.LLM.OllamaModel
		pc.BaseURL = cfg.LLM.OllamaURL
	}
	return pc
}

func embeddingProviderConfig(cfg *config.Config) llm.ProviderConfig {
	pc := llm.ProviderConfig{Provider: cfg.LLM.EmbeddingProvider, Timeout: cfg.Extraction.CallTimeout}
	switch cfg.LLM.EmbeddingProvider {
	case "openai":
		pc.APIKey = cfg.LLM.OpenAIAPIKey
		pc.Model = cfg.LLM.OpenAIEmbeddingModel
		pc.BaseURL = cfg.LLM.OpenAIBaseURL
	default:
		pc.Model = cfg.LLM.OllamaEmbeddingModel
		pc.BaseURL = cfg.LLM.OllamaURL
	}
	return pc
}

func main() {
	cfg := config.LoadConfig()

	store, err := openBackend(cfg)
	if err != nil {
		log.Fatalf("Failed to open %s storage: %v", cfg.Storage.Backend, err)
	}
	defer store.close()

	generator, err := llm.NewTextGenerator(textProviderConfig(cfg))
	if err != nil {
		log.Fatalf("Failed to build LLM client: %v", err)
	}
	embedGen, err := llm.NewEmbeddingGenerator(embeddingProviderConfig(cfg))
	if err != nil {
		log.Fatalf("Failed to build embedding client: %v", err)
	}
	embeddingModel := "none (entity-only retrieval)"
	if embedGen != nil {
		embeddingModel = embedGen.GetModel()
	} else {
		log.Println("No embedding provider configured; retrieval runs degraded")
	}
	embedder := embedding.NewService(embedGen)

	resolver := engine.NewEntityResolver(store.entities)
	extractor, err := engine.NewExtractor(store.memories, resolver, generator, embedder, engine.ExtractorConfig{
		ChunkSize:          cfg.Extraction.ChunkSize,
		DuplicateThreshold: cfg.Extraction.DuplicateThreshold,
		CallTimeout:        cfg.Extraction.CallTimeout,
		KeepUnembedded:     cfg.Extraction.KeepUnembedded,
	})
	if err != nil {
		log.Fatalf("Failed to build extractor: %v", err)
	}
	retriever := engine.NewRetriever(store.memories, resolver, embedder, engine.RetrievalConfig{
		Limit:                   cfg.Retrieval.Limit,
		SemanticThreshold:       cfg.Retrieval.SemanticThreshold,
		EntitySemanticThreshold: cfg.Retrieval.EntitySemanticThreshold,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr, _, err := server.Start(ctx, cfg, server.Deps{
		Retriever: retriever,
		Extractor: extractor,
		Resolver:  resolver,
		Importer:  importer.NewTranscriptImporter(extractor),
		Memories:  store.memories,
		Entities:  store.entities,
	})
	if err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
	log.Printf("Memory Lane daemon running at http://%s (model %s, embeddings %s)",
		addr, generator.GetModel(), embeddingModel)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")
	cancel()
	time.Sleep(1 * time.Second)
}
