package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"

	"github.com/cmdcenter/memorylane/internal/embedding"
	"github.com/cmdcenter/memorylane/internal/llm"
	"github.com/cmdcenter/memorylane/internal/storage"
	"github.com/cmdcenter/memorylane/pkg/types"
)

// Extraction defaults.
const (
	DefaultDuplicateThreshold = 0.9
	DefaultCallTimeout        = 30 * time.Second
)

// ExtractorConfig tunes the extraction pipeline. Zero values take defaults.
type ExtractorConfig struct {
	// ChunkSize is the fixed window of turns per extraction chunk.
	ChunkSize int

	// DuplicateThreshold is the cosine similarity at or above which a new
	// candidate is merged into an existing memory instead of stored.
	DuplicateThreshold float64

	// CallTimeout bounds each extraction-model and embedding call.
	CallTimeout time.Duration

	// KeepUnembedded stores candidates whose embedding call failed with
	// EmbeddingPending set for later backfill, instead of dropping them.
	// Such memories bypass duplicate detection until backfilled.
	KeepUnembedded bool
}

func (c ExtractorConfig) withDefaults() ExtractorConfig {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.DuplicateThreshold <= 0 {
		c.DuplicateThreshold = DefaultDuplicateThreshold
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	return c
}

// Extractor derives durable memories from conversation transcripts. Chunks
// are processed sequentially within one session, so a memory created by
// chunk N is visible to chunk N+1's duplicate check.
type Extractor struct {
	memories  storage.MemoryStore
	resolver  *EntityResolver
	generator llm.TextGenerator
	embedder  *embedding.Service
	sessions  *ristretto.Cache
	cfg       ExtractorConfig
}

// NewExtractor creates an extractor with explicit dependencies. The session
// cache memoizes processed transcripts by content hash; a session whose
// content changed is extracted again.
func NewExtractor(memories storage.MemoryStore, resolver *EntityResolver, generator llm.TextGenerator, embedder *embedding.Service, cfg ExtractorConfig) (*Extractor, error) {
	sessions, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session cache: %w", err)
	}

	return &Extractor{
		memories:  memories,
		resolver:  resolver,
		generator: generator,
		embedder:  embedder,
		sessions:  sessions,
		cfg:       cfg.withDefaults(),
	}, nil
}

// ChunkResult is the outcome of extracting one chunk.
type ChunkResult struct {
	// Created holds memories stored for the first time by this chunk.
	Created []types.Memory

	// Merged holds the ids of existing memories that absorbed a duplicate
	// candidate from this chunk.
	Merged []string

	// Skipped holds candidates dropped with a reason (invalid shape,
	// embedding failure, entity trouble that lost only the link).
	Skipped []llm.SkippedCandidate

	// ParseFailed marks a chunk whose model response was not parseable;
	// such a chunk contributes zero candidates.
	ParseFailed bool
}

// SessionSummary aggregates extraction across a whole transcript.
type SessionSummary struct {
	ChunksProcessed int
	ChunksSkipped   int
	Created         int
	Merged          int

	// AlreadyProcessed marks a session whose content hash matched a prior
	// run; nothing was re-extracted.
	AlreadyProcessed bool
}

// ProgressFunc receives per-chunk progress during ExtractSession.
type ProgressFunc func(chunkIndex, chunkCount int, result *ChunkResult)

// ExtractFromChunk runs the extraction model over one chunk of turns and
// persists the resulting candidates. A malformed model response yields zero
// candidates, not an error; per-candidate failures are absorbed into
// Skipped. Only whole-call failures (model unreachable, timeout, storage
// down) return an error.
func (e *Extractor) ExtractFromChunk(ctx context.Context, turns []Turn) (*ChunkResult, error) {
	const op = "extractor.ExtractFromChunk"

	result := &ChunkResult{}
	chunkText := FormatChunk(turns)
	if chunkText == "" {
		return result, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	response, err := e.generator.Complete(callCtx, llm.MemoryExtractionPrompt(chunkText))
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, wrapErr(KindTimeout, op, err)
		}
		return nil, fmt.Errorf("%s: extraction model call failed: %w", op, err)
	}

	candidates, skipped, err := llm.ParseMemoryCandidates(response)
	result.Skipped = append(result.Skipped, skipped...)
	if err != nil {
		log.Printf("Extractor: unparseable model response, treating chunk as empty: %v", err)
		result.ParseFailed = true
		return result, nil
	}

	for _, candidate := range candidates {
		if err := e.processCandidate(ctx, candidate, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// processCandidate scores, embeds, deduplicates, and persists one candidate.
// Candidate-local failures land in result.Skipped; only fatal storage or
// timeout errors propagate.
func (e *Extractor) processCandidate(ctx context.Context, candidate llm.MemoryCandidate, result *ChunkResult) error {
	const op = "extractor.processCandidate"

	memType := types.MemoryType(candidate.Type)
	confidence := AdjustConfidence(candidate.ConfidenceScore, memType, candidate.Content)
	now := time.Now().UTC()

	embedCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	vector, embedErr := e.embedder.Embed(embedCtx, candidate.Content)
	cancel()
	if embedErr != nil {
		if errors.Is(embedErr, context.DeadlineExceeded) {
			return wrapErr(KindTimeout, op, embedErr)
		}
		if !e.cfg.KeepUnembedded {
			log.Printf("Extractor: dropping candidate %q, embedding failed: %v", candidate.Title, embedErr)
			result.Skipped = append(result.Skipped, llm.SkippedCandidate{
				Title:  candidate.Title,
				Reason: "embedding unavailable",
			})
			return nil
		}
		vector = nil
	}

	// Duplicate check against everything already embedded. Skipped entirely
	// for a candidate kept without an embedding.
	if vector != nil {
		existing, err := e.memories.ScanEmbedded(ctx)
		if err != nil {
			return wrapErr(KindStorageUnavailable, op, err)
		}
		for i := range existing {
			if embedding.Similarity(vector, existing[i].Embedding) >= e.cfg.DuplicateThreshold {
				merge := storage.ObservationMerge{
					ConfidenceScore: confidence,
					SourceExcerpt:   candidate.SourceExcerpt,
					ObservedAt:      now,
				}
				if err := e.memories.MergeObservation(ctx, existing[i].ID, merge); err != nil {
					return wrapErr(KindStorageUnavailable, op, err)
				}
				result.Merged = append(result.Merged, existing[i].ID)
				return nil
			}
		}
	}

	memory := types.Memory{
		ID:               uuid.NewString(),
		Type:             memType,
		Category:         candidate.Category,
		Title:            candidate.Title,
		Content:          candidate.Content,
		SourceExcerpt:    candidate.SourceExcerpt,
		Embedding:        vector,
		EmbeddingPending: vector == nil,
		ConfidenceScore:  confidence,
		Reasoning:        candidate.Reasoning,
		TimesObserved:    1,
		FirstObservedAt:  now,
		LastObservedAt:   now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if candidate.SourceExcerpt != "" {
		memory.Evidence = []string{candidate.SourceExcerpt}
	}

	// A failed entity resolution loses only that link, never the memory.
	for _, ref := range candidate.RelatedEntities {
		entityType, name := parseEntityRef(ref)
		if name == "" {
			continue
		}
		entity, err := e.resolver.FindOrCreate(ctx, name, entityType)
		if err != nil {
			if IsKind(err, KindStorageUnavailable) {
				return err
			}
			log.Printf("Extractor: storing %q without entity link %q: %v", candidate.Title, ref, err)
			continue
		}
		memory.RelatedEntityIDs = append(memory.RelatedEntityIDs, entity.ID)
	}

	if err := e.memories.Insert(ctx, &memory); err != nil {
		return wrapErr(KindStorageUnavailable, op, err)
	}
	for _, entityID := range memory.RelatedEntityIDs {
		e.resolver.RecordOccurrence(ctx, entityID, memory.ID, candidate.SourceExcerpt)
	}

	result.Created = append(result.Created, memory)
	return nil
}

// ExtractSession chunks a whole transcript and extracts each chunk in order.
// A session key already processed with identical content is skipped; changed
// content invalidates the memoization and re-extracts. Chunk-local parse
// failures are counted as skipped chunks, not errors.
func (e *Extractor) ExtractSession(ctx context.Context, sessionKey string, turns []Turn, onProgress ProgressFunc) (*SessionSummary, error) {
	summary := &SessionSummary{}

	contentHash := hashTurns(turns)
	if sessionKey != "" {
		if prev, ok := e.sessions.Get(sessionKey); ok && prev == contentHash {
			summary.AlreadyProcessed = true
			return summary, nil
		}
	}

	chunks := ChunkTurns(turns, e.cfg.ChunkSize)
	for i, chunk := range chunks {
		result, err := e.ExtractFromChunk(ctx, chunk)
		if err != nil {
			return summary, err
		}

		if result.ParseFailed {
			summary.ChunksSkipped++
		} else {
			summary.ChunksProcessed++
		}
		summary.Created += len(result.Created)
		summary.Merged += len(result.Merged)

		if onProgress != nil {
			onProgress(i, len(chunks), result)
		}
	}

	if sessionKey != "" {
		e.sessions.Set(sessionKey, contentHash, 1)
		e.sessions.Wait()
	}
	return summary, nil
}

// BackfillEmbeddings embeds up to limit memories stored with
// EmbeddingPending and clears the flag. Returns how many were backfilled.
// Memories whose embedding still fails stay pending for the next run.
func (e *Extractor) BackfillEmbeddings(ctx context.Context, limit int) (int, error) {
	const op = "extractor.BackfillEmbeddings"

	pending, err := e.memories.ListPendingEmbedding(ctx, limit)
	if err != nil {
		return 0, wrapErr(KindStorageUnavailable, op, err)
	}

	done := 0
	for i := range pending {
		embedCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		vector, err := e.embedder.Embed(embedCtx, pending[i].Content)
		cancel()
		if err != nil {
			log.Printf("Extractor: backfill embed failed for memory %s: %v", pending[i].ID, err)
			continue
		}

		pending[i].Embedding = vector
		pending[i].EmbeddingPending = false
		pending[i].UpdatedAt = time.Now().UTC()
		if err := e.memories.Update(ctx, &pending[i]); err != nil {
			return done, wrapErr(KindStorageUnavailable, op, err)
		}
		done++
	}
	return done, nil
}

// parseEntityRef splits a "kind:Name" entity reference from the extraction
// model. An unprefixed or unknown-kind reference defaults to person, the most
// common mention in conversation.
func parseEntityRef(ref string) (types.EntityType, string) {
	ref = strings.TrimSpace(ref)
	if kind, name, ok := strings.Cut(ref, ":"); ok {
		entityType := types.EntityType(strings.ToLower(strings.TrimSpace(kind)))
		if entityType.Valid() {
			return entityType, strings.TrimSpace(name)
		}
	}
	return types.EntityPerson, ref
}

func hashTurns(turns []Turn) string {
	h := sha256.New()
	for _, t := range turns {
		h.Write([]byte(t.Role))
		h.Write([]byte{0})
		h.Write([]byte(t.Content))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
