// Command memlane-import runs transcript ingestion from the command line:
// it parses session files, extracts memories and stores them, without
// needing the daemon.
package main

import (
	"context"
	"flag"
	"fmt"
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
	"github.com/cmdcenter/memorylane/internal/storage/sqlite"
)

var (
	dirFlag     = flag.String("dir", "", "Directory of transcript files to import")
	fileFlag    = flag.String("file", "", "Single transcript file to import")
	dbFlag      = flag.String("db", "", "SQLite database path (overrides config)")
	timeoutFlag = flag.Duration("timeout", 0, "Overall import deadline (0 means none)")
	verbose     = flag.Bool("verbose", false, "Log per-file progress")
)

func main() {
	flag.Parse()

	if (*dirFlag == "") == (*fileFlag == "") {
		fmt.Fprintln(os.Stderr, "exactly one of -dir or -file is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.LoadConfig()
	if *dbFlag != "" {
		cfg.Storage.SQLitePath = *dbFlag
	}

	if dir := filepath.Dir(cfg.Storage.SQLitePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("Failed to create data directory: %v", err)
		}
	}
	store, err := sqlite.NewStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer store.Close()

	generator, err := llm.NewTextGenerator(llm.ProviderConfig{
		Provider: cfg.LLM.Provider,
		APIKey:   providerAPIKey(cfg),
		Model:    providerModel(cfg),
		BaseURL:  providerBaseURL(cfg),
		Timeout:  cfg.Extraction.CallTimeout,
	})
	if err != nil {
		log.Fatalf("Failed to build LLM client: %v", err)
	}
	embedGen, err := llm.NewEmbeddingGenerator(llm.ProviderConfig{
		Provider: cfg.LLM.EmbeddingProvider,
		APIKey:   cfg.LLM.OpenAIAPIKey,
		Model:    embeddingModel(cfg),
		BaseURL:  embeddingBaseURL(cfg),
		Timeout:  cfg.Extraction.CallTimeout,
	})
	if err != nil {
		log.Fatalf("Failed to build embedding client: %v", err)
	}

	resolver := engine.NewEntityResolver(store.Entities())
	extractor, err := engine.NewExtractor(store.Memories(), resolver, generator,
		embedding.NewService(embedGen), engine.ExtractorConfig{
			ChunkSize:          cfg.Extraction.ChunkSize,
			DuplicateThreshold: cfg.Extraction.DuplicateThreshold,
			CallTimeout:        cfg.Extraction.CallTimeout,
			KeepUnembedded:     cfg.Extraction.KeepUnembedded,
		})
	if err != nil {
		log.Fatalf("Failed to build extractor: %v", err)
	}
	imp := importer.NewTranscriptImporter(extractor)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if *timeoutFlag > 0 {
		ctx, cancel = context.WithTimeout(ctx, *timeoutFlag)
		defer cancel()
	}

	if *fileFlag != "" {
		summary, err := imp.ImportFile(ctx, *fileFlag)
		if err != nil {
			log.Fatalf("Import failed: %v", err)
		}
		fmt.Printf("Imported %s: %d created, %d merged (%d chunks, %d skipped)\n",
			*fileFlag, summary.Created, summary.Merged, summary.ChunksProcessed, summary.ChunksSkipped)
		return
	}

	jobID, err := imp.StartImport(ctx, *dirFlag)
	if err != nil {
		log.Fatalf("Import failed to start: %v", err)
	}

	done := imp.JobDone(jobID)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for finished := false; !finished; {
		select {
		case <-done:
			finished = true
		case <-ticker.C:
			if !*verbose {
				continue
			}
			if progress, ok := imp.GetJobProgress(jobID); ok && progress.CurrentFile != "" {
				log.Printf("Importing %s (%d/%d files)",
					progress.CurrentFile, progress.FilesProcessed, progress.FilesFound)
			}
		}
	}

	result := imp.GetJobResult(jobID)
	if result == nil {
		log.Fatal("Import finished without a result")
	}
	fmt.Printf("Imported %d/%d files in %s: %d memories created, %d merged, %d files failed\n",
		result.FilesProcessed, result.FilesFound, result.Duration.Round(time.Millisecond),
		result.MemoriesCreated, result.MemoriesMerged, result.FilesFailed)
	for _, importErr := range result.Errors {
		fmt.Fprintln(os.Stderr, "  "+importErr)
	}
	if result.FilesFailed > 0 && result.FilesProcessed == 0 {
		os.Exit(1)
	}
}

func providerAPIKey(cfg *config.Config) string {
	switch cfg.LLM.Provider {
	case "openai":
		return cfg.LLM.OpenAIAPIKey
	case "anthropic":
		return cfg.LLM.AnthropicAPIKey
	}
	return ""
}

func providerModel(cfg *config.Config) string {
	switch cfg.LLM.Provider {
	case "openai":
		return cfg.LLM.OpenAIModel
	case "anthropic":
		return cfg.LLM.AnthropicModel
	}
	return cfg.LLM.OllamaModel
}

func providerBaseURL(cfg *config.Config) string {
	if cfg.LLM.Provider == "openai" {
		return cfg.LLM.OpenAIBaseURL
	}
	return cfg.LLM.OllamaURL
}

func embeddingModel(cfg *config.Config) string {
	if cfg.LLM.EmbeddingProvider == "openai" {
		return cfg.LLM.OpenAIEmbeddingModel
	}
	return cfg.LLM.OllamaEmbeddingModel
}

func embeddingBaseURL(cfg *config.Config) string {
	if cfg.LLM.EmbeddingProvider == "openai" {
		return cfg.LLM.OpenAIBaseURL
	}
	return cfg.LLM.OllamaURL
}
