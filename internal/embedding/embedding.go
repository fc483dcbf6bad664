// Package embedding wraps an LLM embedding generator behind the contract the
// engine relies on: single and atomic batch embedding, plus cosine similarity
// with a zero-vector guard.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/cmdcenter/memorylane/internal/llm"
)

// ErrUnavailable signals that the embedding endpoint cannot be reached.
// Callers treat it as retryable; the retrieval engine falls back to the
// entity-only path instead of blocking.
var ErrUnavailable = errors.New("embedding model unavailable")

// Provider is the embedding contract consumed by the engine.
type Provider interface {
	// Embed returns the vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedMany embeds texts preserving input order. The batch is atomic: a
	// failure on any item fails the whole call with no partial results.
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
}

// Service implements Provider over an llm.EmbeddingGenerator. A nil
// generator yields a Service whose calls return ErrUnavailable, which is how
// Anthropic-only configurations run in degraded mode.
type Service struct {
	generator llm.EmbeddingGenerator
}

// NewService wraps the given generator. generator may be nil.
func NewService(generator llm.EmbeddingGenerator) *Service {
	return &Service{generator: generator}
}

// Available reports whether an embedding generator is configured.
func (s *Service) Available() bool {
	return s.generator != nil
}

// Embed returns the vector for a single text.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.generator == nil {
		return nil, ErrUnavailable
	}
	vector, err := s.generator.Embed(ctx, text)
	if err != nil {
		// Deadline and cancellation pass through unchanged so callers can
		// apply timeout-specific retry policy.
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: empty vector", ErrUnavailable)
	}
	return vector, nil
}

// EmbedMany embeds texts in order. Any single failure fails the whole batch;
// callers retry the batch rather than reconciling partial results.
func (s *Service) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if s.generator == nil {
		return nil, ErrUnavailable
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vector, err := s.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("batch item %d: %w", i, err)
		}
		vectors[i] = vector
	}
	return vectors, nil
}

var _ Provider = (*Service)(nil)

// Similarity computes the cosine similarity dot(a,b)/(|a||b|). It returns 0
// when either vector has zero magnitude or the dimensions differ, never an
// error; retrieval scoring treats incomparable vectors as unrelated.
func Similarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
