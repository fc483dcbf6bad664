package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/cmdcenter/memorylane/internal/embedding"
	"github.com/cmdcenter/memorylane/internal/storage/sqlite"
	"github.com/cmdcenter/memorylane/pkg/types"
)

// scriptedGenerator plays back canned model responses in order, repeating the
// last one when the script runs out.
type scriptedGenerator struct {
	responses []string
	calls     int
	err       error
}

func (g *scriptedGenerator) Complete(ctx context.Context, prompt string) (string, error) {
	g.calls++
	if g.err != nil {
		return "", g.err
	}
	if len(g.responses) == 0 {
		return "[]", nil
	}
	i := g.calls - 1
	if i >= len(g.responses) {
		i = len(g.responses) - 1
	}
	return g.responses[i], nil
}

func (g *scriptedGenerator) GetModel() string { return "scripted" }

// mappedEmbedder returns a fixed vector per exact text and a shared fallback
// vector for anything unmapped. Identical texts always embed identically, so
// duplicate detection behaves deterministically.
type mappedEmbedder struct {
	vectors  map[string][]float32
	fallback []float32
	err      error
	calls    int
}

func (e *mappedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	if e.fallback != nil {
		return e.fallback, nil
	}
	return []float32{0, 0, 1}, nil
}

func (e *mappedEmbedder) GetModel() string { return "mapped" }

func newTestService(e *mappedEmbedder) *embedding.Service {
	return embedding.NewService(e)
}

func newTestExtractor(t *testing.T, store *sqlite.Store, gen *scriptedGenerator, emb *mappedEmbedder, cfg ExtractorConfig) *Extractor {
	t.Helper()
	extractor, err := NewExtractor(store.Memories(), NewEntityResolver(store.Entities()), gen, newTestService(emb), cfg)
	if err != nil {
		t.Fatalf("failed to create extractor: %v", err)
	}
	return extractor
}

// insertPlainMemory stores a minimal memory row directly and returns its id.
func insertPlainMemory(t *testing.T, store *sqlite.Store, title string) string {
	t.Helper()
	now := time.Now().UTC()
	memory := &types.Memory{
		ID:              uuid.NewString(),
		Type:            types.TypeLearning,
		Title:           title,
		Content:         "content for " + title,
		ConfidenceScore: 0.5,
		TimesObserved:   1,
		FirstObservedAt: now,
		LastObservedAt:  now,
	}
	if err := store.Memories().Insert(context.Background(), memory); err != nil {
		t.Fatalf("failed to insert memory: %v", err)
	}
	return memory.ID
}

// insertEmbeddedMemory stores a memory with a given type and embedding.
func insertEmbeddedMemory(t *testing.T, store *sqlite.Store, memType types.MemoryType, content string, vector []float32, observedAt time.Time) *types.Memory {
	t.Helper()
	memory := &types.Memory{
		ID:              uuid.NewString(),
		Type:            memType,
		Title:           content,
		Content:         content,
		Embedding:       vector,
		ConfidenceScore: 0.6,
		TimesObserved:   1,
		FirstObservedAt: observedAt,
		LastObservedAt:  observedAt,
	}
	if err := store.Memories().Insert(context.Background(), memory); err != nil {
		t.Fatalf("failed to insert embedded memory: %v", err)
	}
	return memory
}

var errEmbedderDown = errors.New("connection refused")
