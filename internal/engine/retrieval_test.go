package engine

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/cmdcenter/memorylane/internal/embedding"
	"github.com/cmdcenter/memorylane/internal/storage/sqlite"
	"github.com/cmdcenter/memorylane/pkg/types"
)

func newTestRetriever(store *sqlite.Store, emb *mappedEmbedder, cfg RetrievalConfig) *Retriever {
	return NewRetriever(store.Memories(), NewEntityResolver(store.Entities()), newTestService(emb), cfg)
}

// TestRetrieve_Ordering verifies results come back sorted by final score
// descending.
func TestRetrieve_Ordering(t *testing.T) {
	ctx := context.Background()
	store := newTestBackend(t)
	now := time.Now().UTC()

	// Query vector [1,0]; memory vectors are unit vectors with chosen cosine.
	high := insertEmbeddedMemory(t, store, types.TypeGap, "alpha", []float32{0.85, 0.52678}, now)
	low := insertEmbeddedMemory(t, store, types.TypeGap, "beta", []float32{0.55, 0.83516}, now)
	mid := insertEmbeddedMemory(t, store, types.TypeGap, "gamma", []float32{0.65, 0.75994}, now)

	emb := &mappedEmbedder{vectors: map[string][]float32{"project direction": {1, 0}}}
	retriever := newTestRetriever(store, emb, RetrievalConfig{})

	result, err := retriever.Retrieve(ctx, "project direction", nil)
	if err != nil {
		t.Fatalf("retrieve failed: %v", err)
	}
	if result.Degraded {
		t.Fatal("unexpected degraded mode")
	}
	if len(result.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(result.Results))
	}

	wantOrder := []string{high.ID, mid.ID, low.ID}
	for i, want := range wantOrder {
		if result.Results[i].Memory.ID != want {
			t.Errorf("position %d: expected %s, got %s", i, want, result.Results[i].Memory.ID)
		}
	}

	// Scores are similarity + the low-tier type boost.
	if math.Abs(result.Results[0].FinalScore-0.90) > 0.01 {
		t.Errorf("expected top score near 0.90, got %f", result.Results[0].FinalScore)
	}
	if math.Abs(result.Results[2].FinalScore-0.60) > 0.01 {
		t.Errorf("expected bottom score near 0.60, got %f", result.Results[2].FinalScore)
	}
}

// TestRetrieve_TieBreaks verifies equal scores order by recency, then by
// confidence.
func TestRetrieve_TieBreaks(t *testing.T) {
	ctx := context.Background()
	store := newTestBackend(t)
	now := time.Now().UTC()

	older := insertEmbeddedMemory(t, store, types.TypeGap, "older", []float32{1, 0}, now.Add(-48*time.Hour))
	newer := insertEmbeddedMemory(t, store, types.TypeGap, "newer", []float32{1, 0}, now)

	emb := &mappedEmbedder{vectors: map[string][]float32{"anything": {1, 0}}}
	retriever := newTestRetriever(store, emb, RetrievalConfig{})

	result, err := retriever.Retrieve(ctx, "anything", nil)
	if err != nil {
		t.Fatalf("retrieve failed: %v", err)
	}
	if len(result.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(result.Results))
	}
	if result.Results[0].Memory.ID != newer.ID {
		t.Errorf("expected more recent memory first, got %s", result.Results[0].Memory.Title)
	}
	if result.Results[1].Memory.ID != older.ID {
		t.Errorf("expected older memory second, got %s", result.Results[1].Memory.Title)
	}
}

// TestRetrieve_Limit verifies truncation to the configured limit.
func TestRetrieve_Limit(t *testing.T) {
	ctx := context.Background()
	store := newTestBackend(t)
	now := time.Now().UTC()
	for i := 0; i < 8; i++ {
		insertEmbeddedMemory(t, store, types.TypeGap, "memory", []float32{1, 0}, now.Add(time.Duration(i)*time.Minute))
	}

	emb := &mappedEmbedder{vectors: map[string][]float32{"anything": {1, 0}}}
	retriever := newTestRetriever(store, emb, RetrievalConfig{})

	result, err := retriever.Retrieve(ctx, "anything", nil)
	if err != nil {
		t.Fatalf("retrieve failed: %v", err)
	}
	if len(result.Results) != DefaultRetrievalLimit {
		t.Errorf("expected default limit %d, got %d", DefaultRetrievalLimit, len(result.Results))
	}
}

// TestRetrieve_Degraded verifies an unavailable embedding provider degrades
// to the entity path instead of failing.
func TestRetrieve_Degraded(t *testing.T) {
	ctx := context.Background()
	store := newTestBackend(t)
	resolver := NewEntityResolver(store.Entities())

	atlas, err := resolver.FindOrCreate(ctx, "Atlas", types.EntityProject)
	if err != nil {
		t.Fatalf("entity create failed: %v", err)
	}
	memoryID := insertPlainMemory(t, store, "atlas status")
	resolver.RecordOccurrence(ctx, atlas.ID, memoryID, "")

	// No embedding generator configured at all.
	retriever := NewRetriever(store.Memories(), resolver, embedding.NewService(nil), RetrievalConfig{})

	result, err := retriever.Retrieve(ctx, "how is Atlas doing?", nil)
	if err != nil {
		t.Fatalf("degraded retrieve failed: %v", err)
	}
	if !result.Degraded {
		t.Error("expected degraded flag")
	}
	if len(result.Results) != 1 {
		t.Fatalf("expected entity-path result, got %d", len(result.Results))
	}
	top := result.Results[0]
	if top.Memory.ID != memoryID || !top.EntityMatch {
		t.Errorf("expected entity match on %s, got %+v", memoryID, top)
	}
	// Entity presence scores 1.0 plus the medium-tier boost.
	if math.Abs(top.FinalScore-1.10) > 0.0001 {
		t.Errorf("expected final score 1.10, got %f", top.FinalScore)
	}
}

// TestRetrieve_ThresholdSensitivity verifies the looser semantic bar applies
// only when the query matched a known entity.
func TestRetrieve_ThresholdSensitivity(t *testing.T) {
	ctx := context.Background()
	store := newTestBackend(t)
	resolver := NewEntityResolver(store.Entities())
	if _, err := resolver.FindOrCreate(ctx, "Atlas", types.EntityProject); err != nil {
		t.Fatalf("entity create failed: %v", err)
	}

	// Similarity with the query vector is 0.45: below the general 0.50
	// threshold, above the entity-confirmed 0.40 one.
	borderline := insertEmbeddedMemory(t, store, types.TypeGap, "release cadence", []float32{0.45, 0.89303}, time.Now().UTC())

	emb := &mappedEmbedder{vectors: map[string][]float32{
		"how should we structure the rollout":       {1, 0},
		"how should we structure the Atlas rollout": {1, 0},
	}}
	retriever := newTestRetriever(store, emb, RetrievalConfig{})

	plain, err := retriever.Retrieve(ctx, "how should we structure the rollout", nil)
	if err != nil {
		t.Fatalf("plain retrieve failed: %v", err)
	}
	for _, r := range plain.Results {
		if r.Memory.ID == borderline.ID {
			t.Error("borderline memory should miss the general threshold")
		}
	}

	confirmed, err := retriever.Retrieve(ctx, "how should we structure the Atlas rollout", nil)
	if err != nil {
		t.Fatalf("entity-confirmed retrieve failed: %v", err)
	}
	found := false
	for _, r := range confirmed.Results {
		if r.Memory.ID == borderline.ID {
			found = true
			if r.EntityMatch {
				t.Error("borderline memory is not linked to the entity")
			}
		}
	}
	if !found {
		t.Error("borderline memory should pass the entity-confirmed threshold")
	}
}

// TestRetrieve_RecordsRecall verifies synchronous recall bookkeeping.
func TestRetrieve_RecordsRecall(t *testing.T) {
	ctx := context.Background()
	store := newTestBackend(t)
	memory := insertEmbeddedMemory(t, store, types.TypeGap, "recallable", []float32{1, 0}, time.Now().UTC())

	emb := &mappedEmbedder{vectors: map[string][]float32{"anything": {1, 0}}}
	retriever := newTestRetriever(store, emb, RetrievalConfig{})

	result, err := retriever.Retrieve(ctx, "anything", nil)
	if err != nil {
		t.Fatalf("retrieve failed: %v", err)
	}
	if len(result.Results) != 1 || result.Results[0].Memory.RecallCount != 1 {
		t.Fatalf("expected returned copy to reflect the recall, got %+v", result.Results)
	}

	stored, err := store.Memories().Get(ctx, memory.ID)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if stored.RecallCount != 1 {
		t.Errorf("expected recall count 1, got %d", stored.RecallCount)
	}
}

// TestSubmitFeedback_Monotonic verifies repeated feedback is a plain
// increment on the matching counter only.
func TestSubmitFeedback_Monotonic(t *testing.T) {
	ctx := context.Background()
	store := newTestBackend(t)
	memoryID := insertPlainMemory(t, store, "feedback target")
	retriever := newTestRetriever(store, &mappedEmbedder{}, RetrievalConfig{})

	for i := 0; i < 3; i++ {
		if err := retriever.SubmitFeedback(ctx, memoryID, types.FeedbackPositive, "s1", "query"); err != nil {
			t.Fatalf("feedback %d failed: %v", i, err)
		}
	}

	stored, err := store.Memories().Get(ctx, memoryID)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if stored.PositiveFeedback != 3 {
		t.Errorf("expected positiveFeedback 3, got %d", stored.PositiveFeedback)
	}
	if stored.NegativeFeedback != 0 {
		t.Errorf("expected negativeFeedback unchanged, got %d", stored.NegativeFeedback)
	}
}

// TestFeedbackAdjustment verifies the bounded symmetric mapping.
func TestFeedbackAdjustment(t *testing.T) {
	tests := []struct {
		net      int
		expected float64
	}{
		{0, 0},
		{3, 0.06},
		{5, 0.1},
		{10, 0.1},
		{-3, -0.06},
		{-10, -0.1},
	}
	for _, tt := range tests {
		if got := feedbackAdjustment(tt.net); math.Abs(got-tt.expected) > 0.0001 {
			t.Errorf("net %d: expected %f, got %f", tt.net, tt.expected, got)
		}
	}
}

// TestRetrieve_EndToEnd ingests a commitment and recalls it by meaning: the
// stored memory must surface in the top results with the type boost applied.
func TestRetrieve_EndToEnd(t *testing.T) {
	ctx := context.Background()
	store := newTestBackend(t)

	emb := &mappedEmbedder{vectors: map[string][]float32{
		"User requires TypeScript for all new backend services": {1, 0.1},
		"what language should I use for a new service":          {0.95, 0.15},
	}}
	gen := &scriptedGenerator{responses: []string{commitmentJSON}}
	extractor := newTestExtractor(t, store, gen, emb, ExtractorConfig{})

	chunkResult, err := extractor.ExtractFromChunk(ctx, commitmentTurns)
	if err != nil {
		t.Fatalf("extraction failed: %v", err)
	}
	if len(chunkResult.Created) == 0 {
		t.Fatal("expected a commitment memory")
	}
	created := chunkResult.Created[0]
	if created.Type != types.TypeCommitment || created.ConfidenceScore <= 0.7 {
		t.Fatalf("unexpected memory: type=%s confidence=%f", created.Type, created.ConfidenceScore)
	}

	retriever := newTestRetriever(store, emb, RetrievalConfig{})
	result, err := retriever.Retrieve(ctx, "what language should I use for a new service", nil)
	if err != nil {
		t.Fatalf("retrieve failed: %v", err)
	}

	var hit *RankedMemory
	for i := range result.Results {
		if result.Results[i].Memory.ID == created.ID {
			hit = &result.Results[i]
		}
	}
	if hit == nil {
		t.Fatal("commitment memory not in top results")
	}
	// The high-tier boost must lift the score above raw similarity.
	if hit.TypeBoost != 0.15 {
		t.Errorf("expected commitment boost 0.15, got %f", hit.TypeBoost)
	}
	if hit.FinalScore <= hit.Similarity {
		t.Errorf("expected boosted score, got final=%f similarity=%f", hit.FinalScore, hit.Similarity)
	}
}
