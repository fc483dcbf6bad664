package engine

import (
	"context"
	"errors"
	"log"
	"slices"
	"time"

	"github.com/cmdcenter/memorylane/internal/embedding"
	"github.com/cmdcenter/memorylane/internal/storage"
	"github.com/cmdcenter/memorylane/pkg/types"
)

// Retrieval defaults. The thresholds are hand-tuned inheritances, kept
// configurable rather than treated as ground truth.
const (
	DefaultRetrievalLimit = 5

	// DefaultSemanticThreshold applies to general queries.
	DefaultSemanticThreshold = 0.50

	// DefaultEntitySemanticThreshold applies when the query matched at least
	// one known entity; confirmed context justifies a looser semantic bar.
	DefaultEntitySemanticThreshold = 0.40

	// entityMatchScore is the boolean-presence score for the entity path.
	// No partial credit for overlap count.
	entityMatchScore = 1.0

	// Feedback adjustment: net feedback scaled by step, bounded symmetrically.
	feedbackStep = 0.02
	feedbackCap  = 0.1

	// vectorCandidateFactor oversizes the database-side nearest-neighbour
	// fetch relative to the result limit, leaving headroom for candidates
	// that fall below the threshold or lose on the type boost.
	vectorCandidateFactor = 10
)

// RetrievalConfig tunes one retrieval call. Zero values take defaults.
type RetrievalConfig struct {
	Limit                   int
	SemanticThreshold       float64
	EntitySemanticThreshold float64
}

func (c RetrievalConfig) withDefaults() RetrievalConfig {
	if c.Limit <= 0 {
		c.Limit = DefaultRetrievalLimit
	}
	if c.SemanticThreshold <= 0 {
		c.SemanticThreshold = DefaultSemanticThreshold
	}
	if c.EntitySemanticThreshold <= 0 {
		c.EntitySemanticThreshold = DefaultEntitySemanticThreshold
	}
	return c
}

// RankedMemory is one retrieval result with its score breakdown.
type RankedMemory struct {
	Memory types.Memory `json:"memory"`

	// FinalScore is max(entity match, similarity) + type boost + feedback.
	FinalScore float64 `json:"final_score"`

	// EntityMatch marks a hit through the entity path.
	EntityMatch bool `json:"entity_match"`

	// Similarity is the cosine similarity from the semantic path, 0 when the
	// memory was found through the entity path only.
	Similarity float64 `json:"similarity"`

	TypeBoost          float64 `json:"type_boost"`
	FeedbackAdjustment float64 `json:"feedback_adjustment"`
}

// RetrievalResult is the outcome of one retrieval call.
type RetrievalResult struct {
	Results []RankedMemory `json:"results"`

	// Degraded marks a call where the embedding provider was unavailable and
	// only the entity path contributed. Never silently omitted.
	Degraded bool `json:"degraded"`

	// MatchedEntities are the known entities recognized in the query.
	MatchedEntities []types.Entity `json:"matched_entities,omitempty"`
}

// Retriever answers free-text queries over the memory store with dual-path
// ranking: entity overlap and semantic similarity. Construction takes every
// collaborator explicitly so tests can substitute fakes.
type Retriever struct {
	memories storage.MemoryStore
	resolver *EntityResolver
	embedder *embedding.Service
	vector   storage.VectorSearcher
	cfg      RetrievalConfig
}

// NewRetriever creates a retriever. When the memory store also implements
// storage.VectorSearcher (the pgvector backend), nearest-neighbour search
// runs in the database instead of a full scan.
func NewRetriever(memories storage.MemoryStore, resolver *EntityResolver, embedder *embedding.Service, cfg RetrievalConfig) *Retriever {
	r := &Retriever{
		memories: memories,
		resolver: resolver,
		embedder: embedder,
		cfg:      cfg.withDefaults(),
	}
	if vs, ok := memories.(storage.VectorSearcher); ok {
		r.vector = vs
	}
	return r
}

// Retrieve runs the dual-path retrieval for a query. hints are explicit
// entity names the caller already knows are relevant; they join the entities
// recognized in the query text. Recall bookkeeping for every returned memory
// happens synchronously before the call returns.
func (r *Retriever) Retrieve(ctx context.Context, query string, hints []string) (*RetrievalResult, error) {
	const op = "retriever.Retrieve"

	result := &RetrievalResult{}

	matched, err := r.resolveQueryEntities(ctx, query, hints)
	if err != nil {
		return nil, err
	}
	result.MatchedEntities = matched

	// Candidates keyed by memory id; a memory found by both paths keeps both
	// scores and the final max picks the stronger one.
	candidates := make(map[string]*RankedMemory)

	if len(matched) > 0 {
		entityIDs := make([]string, len(matched))
		for i := range matched {
			entityIDs[i] = matched[i].ID
		}
		byEntity, err := r.memories.ByEntityIDs(ctx, entityIDs)
		if err != nil {
			return nil, wrapErr(KindStorageUnavailable, op, err)
		}
		for i := range byEntity {
			candidates[byEntity[i].ID] = &RankedMemory{
				Memory:      byEntity[i],
				EntityMatch: true,
			}
		}
	}

	threshold := r.cfg.SemanticThreshold
	if len(matched) > 0 {
		threshold = r.cfg.EntitySemanticThreshold
	}

	queryVector, err := r.embedder.Embed(ctx, query)
	switch {
	case err == nil:
		if err := r.semanticPath(ctx, queryVector, threshold, candidates); err != nil {
			return nil, err
		}
	case errors.Is(err, embedding.ErrUnavailable):
		log.Printf("Retriever: embedding unavailable, entity path only: %v", err)
		result.Degraded = true
	case errors.Is(err, context.DeadlineExceeded):
		return nil, wrapErr(KindTimeout, op, err)
	default:
		return nil, wrapErr(KindEmbeddingUnavailable, op, err)
	}

	ranked := make([]RankedMemory, 0, len(candidates))
	for _, c := range candidates {
		c.TypeBoost = c.Memory.Type.Boost()
		c.FeedbackAdjustment = feedbackAdjustment(c.Memory.NetFeedback())

		base := c.Similarity
		if c.EntityMatch {
			base = entityMatchScore
		}
		c.FinalScore = base + c.TypeBoost + c.FeedbackAdjustment
		ranked = append(ranked, *c)
	}

	slices.SortFunc(ranked, compareRanked)
	if len(ranked) > r.cfg.Limit {
		ranked = ranked[:r.cfg.Limit]
	}

	// Synchronous recall bookkeeping; feedback attribution depends on it, so
	// a failure here fails the call rather than silently losing attribution.
	for i := range ranked {
		if err := r.memories.RecordRecall(ctx, ranked[i].Memory.ID, query); err != nil {
			return nil, wrapErr(KindStorageUnavailable, op, err)
		}
		ranked[i].Memory.RecallCount++
	}

	result.Results = ranked
	return result, nil
}

// SubmitFeedback records one human signal about a recalled memory and bumps
// the matching counter. A plain increment; the UI debounces double-submits.
func (r *Retriever) SubmitFeedback(ctx context.Context, memoryID string, polarity types.FeedbackPolarity, sessionID, queryText string) error {
	const op = "retriever.SubmitFeedback"

	event := &types.FeedbackEvent{
		MemoryID:  memoryID,
		SessionID: sessionID,
		QueryText: queryText,
		Polarity:  polarity,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.memories.AddFeedback(ctx, event); err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidInput) {
			return err
		}
		return wrapErr(KindStorageUnavailable, op, err)
	}
	return nil
}

// resolveQueryEntities unions entities recognized in the query text with
// explicitly hinted names. Hints that resolve to nothing are ignored.
func (r *Retriever) resolveQueryEntities(ctx context.Context, query string, hints []string) ([]types.Entity, error) {
	matched, err := r.resolver.RecognizeInText(ctx, query)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(matched))
	for i := range matched {
		seen[matched[i].ID] = true
	}

	for _, hint := range hints {
		entity, err := r.lookupHint(ctx, hint)
		if err != nil {
			return nil, err
		}
		if entity != nil && !seen[entity.ID] {
			seen[entity.ID] = true
			matched = append(matched, *entity)
		}
	}
	return matched, nil
}

func (r *Retriever) lookupHint(ctx context.Context, hint string) (*types.Entity, error) {
	const op = "retriever.lookupHint"

	for _, entityType := range types.ValidEntityTypes {
		entity, err := r.resolver.entities.FindByName(ctx, hint, entityType)
		if err == nil {
			return entity, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, wrapErr(KindStorageUnavailable, op, err)
		}
	}
	return nil, nil
}

// semanticPath scores embedded memories against the query vector and folds
// those at or above the threshold into the candidate set.
func (r *Retriever) semanticPath(ctx context.Context, queryVector []float32, threshold float64, candidates map[string]*RankedMemory) error {
	const op = "retriever.semanticPath"

	var embedded []types.Memory
	var err error
	if r.vector != nil {
		embedded, err = r.vector.NearestByEmbedding(ctx, queryVector, r.cfg.Limit*vectorCandidateFactor)
	} else {
		embedded, err = r.memories.ScanEmbedded(ctx)
	}
	if err != nil {
		return wrapErr(KindStorageUnavailable, op, err)
	}

	for i := range embedded {
		similarity := embedding.Similarity(queryVector, embedded[i].Embedding)
		if similarity < threshold {
			continue
		}
		if existing, ok := candidates[embedded[i].ID]; ok {
			existing.Similarity = similarity
			continue
		}
		candidates[embedded[i].ID] = &RankedMemory{
			Memory:     embedded[i],
			Similarity: similarity,
		}
	}
	return nil
}

// feedbackAdjustment maps net feedback onto a small bounded score delta,
// symmetric for positive and negative signal.
func feedbackAdjustment(net int) float64 {
	adj := float64(net) * feedbackStep
	if adj > feedbackCap {
		return feedbackCap
	}
	if adj < -feedbackCap {
		return -feedbackCap
	}
	return adj
}

// compareRanked orders by final score descending, then more recent
// last-observed, then higher confidence.
func compareRanked(a, b RankedMemory) int {
	if a.FinalScore != b.FinalScore {
		if a.FinalScore > b.FinalScore {
			return -1
		}
		return 1
	}
	if !a.Memory.LastObservedAt.Equal(b.Memory.LastObservedAt) {
		if a.Memory.LastObservedAt.After(b.Memory.LastObservedAt) {
			return -1
		}
		return 1
	}
	if a.Memory.ConfidenceScore != b.Memory.ConfidenceScore {
		if a.Memory.ConfidenceScore > b.Memory.ConfidenceScore {
			return -1
		}
		return 1
	}
	return 0
}
