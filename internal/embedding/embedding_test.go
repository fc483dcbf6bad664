package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
)

// fakeGenerator returns a fixed-dimension vector derived from the text
// length, or an error for texts containing "fail".
type fakeGenerator struct {
	calls int
}

func (f *fakeGenerator) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls++
	if text == "fail" {
		return nil, fmt.Errorf("connection refused")
	}
	return []float32{float32(len(text)), 1, 0}, nil
}

func (f *fakeGenerator) GetModel() string { return "fake" }

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical unit vectors", []float32{1, 0, 0}, []float32{1, 0, 0}, 1.0},
		{"orthogonal", []float32{1, 0, 0}, []float32{0, 1, 0}, 0.0},
		{"opposite", []float32{1, 0, 0}, []float32{-1, 0, 0}, -1.0},
		{"scale invariant", []float32{2, 0, 0}, []float32{5, 0, 0}, 1.0},
		{"zero vector left", []float32{0, 0, 0}, []float32{1, 2, 3}, 0.0},
		{"zero vector right", []float32{1, 2, 3}, []float32{0, 0, 0}, 0.0},
		{"both zero", []float32{0, 0}, []float32{0, 0}, 0.0},
		{"empty", nil, []float32{1}, 0.0},
		{"dimension mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Similarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Similarity() = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestSimilaritySymmetric(t *testing.T) {
	a := []float32{0.3, -0.7, 0.2, 0.9}
	b := []float32{-0.1, 0.4, 0.8, 0.5}
	if got, rev := Similarity(a, b), Similarity(b, a); math.Abs(got-rev) > 1e-12 {
		t.Errorf("Similarity not symmetric: %f vs %f", got, rev)
	}
}

func TestServiceEmbed(t *testing.T) {
	svc := NewService(&fakeGenerator{})

	vector, err := svc.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed() failed: %v", err)
	}
	if len(vector) != 3 || vector[0] != 5 {
		t.Errorf("Embed() = %v", vector)
	}

	if _, err := svc.Embed(context.Background(), "fail"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Embed(fail) error: got %v, want ErrUnavailable", err)
	}
}

func TestServiceNilGenerator(t *testing.T) {
	svc := NewService(nil)
	if svc.Available() {
		t.Error("Available() = true for nil generator")
	}
	if _, err := svc.Embed(context.Background(), "x"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Embed() error: got %v, want ErrUnavailable", err)
	}
	if _, err := svc.EmbedMany(context.Background(), []string{"x"}); !errors.Is(err, ErrUnavailable) {
		t.Errorf("EmbedMany() error: got %v, want ErrUnavailable", err)
	}
}

func TestEmbedManyPreservesOrder(t *testing.T) {
	svc := NewService(&fakeGenerator{})

	vectors, err := svc.EmbedMany(context.Background(), []string{"a", "ab", "abc"})
	if err != nil {
		t.Fatalf("EmbedMany() failed: %v", err)
	}
	if len(vectors) != 3 {
		t.Fatalf("EmbedMany(): got %d vectors, want 3", len(vectors))
	}
	for i, wantLen := range []float32{1, 2, 3} {
		if vectors[i][0] != wantLen {
			t.Errorf("vectors[%d][0] = %f, want %f", i, vectors[i][0], wantLen)
		}
	}
}

func TestEmbedManyAtomicFailure(t *testing.T) {
	gen := &fakeGenerator{}
	svc := NewService(gen)

	vectors, err := svc.EmbedMany(context.Background(), []string{"ok", "fail", "unreached"})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("EmbedMany() error: got %v, want ErrUnavailable", err)
	}
	if vectors != nil {
		t.Errorf("EmbedMany() returned partial results: %v", vectors)
	}
	// Stops at the failing item rather than continuing the batch.
	if gen.calls != 2 {
		t.Errorf("generator calls: got %d, want 2", gen.calls)
	}
}
