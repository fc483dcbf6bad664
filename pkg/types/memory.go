package types

import (
	"fmt"
	"time"
)

// Memory represents a single durably stored memory extracted from a
// conversation. Memories are never deleted by normal operation; they are
// merged on re-derivation and updated on recall and feedback.
type Memory struct {
	// Core identification fields
	ID       string     `json:"id"`                 // Unique identifier
	Type     MemoryType `json:"type"`               // One of the fixed memory types
	Category string     `json:"category,omitempty"` // Optional free-text slug
	Title    string     `json:"title"`              // Short label
	Content  string     `json:"content"`            // Full text body

	// Evidence
	SourceExcerpt string   `json:"source_excerpt,omitempty"` // Verbatim text the memory was derived from
	Evidence      []string `json:"evidence,omitempty"`       // Excerpts accumulated across duplicate merges

	// Embedding over Content. Nil when not yet computed; EmbeddingPending
	// marks a memory explicitly stored without one for later batch backfill.
	Embedding        []float32 `json:"embedding,omitempty"`
	EmbeddingPending bool      `json:"embedding_pending,omitempty"`

	// RelatedEntityIDs is the set of entity ids mentioned in this memory,
	// materialized from the entity_occurrences join records.
	RelatedEntityIDs []string `json:"related_entity_ids,omitempty"`

	// Extraction signals
	ConfidenceScore float64 `json:"confidence_score"`    // In [0,1]
	Reasoning       string  `json:"reasoning,omitempty"` // Model's explanation, optional

	// Observation tracking
	TimesObserved   int       `json:"times_observed"`    // >= 1; incremented on duplicate merge
	FirstObservedAt time.Time `json:"first_observed_at"` // When first derived
	LastObservedAt  time.Time `json:"last_observed_at"`  // When last re-derived

	// Recall and feedback counters. Monotonically non-decreasing.
	RecallCount      int `json:"recall_count"`
	PositiveFeedback int `json:"positive_feedback"`
	NegativeFeedback int `json:"negative_feedback"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the Memory's invariants.
func (m *Memory) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("memory id is required")
	}
	if !m.Type.Valid() {
		return fmt.Errorf("invalid memory type: %q", m.Type)
	}
	if m.Content == "" {
		return fmt.Errorf("memory content is required")
	}
	if m.ConfidenceScore < 0 || m.ConfidenceScore > 1 {
		return fmt.Errorf("confidence score %f out of range [0,1]", m.ConfidenceScore)
	}
	if m.TimesObserved < 1 {
		return fmt.Errorf("times observed must be >= 1, got %d", m.TimesObserved)
	}
	if m.RecallCount < 0 || m.PositiveFeedback < 0 || m.NegativeFeedback < 0 {
		return fmt.Errorf("counters must be non-negative")
	}
	return nil
}

// NetFeedback returns positive minus negative feedback.
func (m *Memory) NetFeedback() int {
	return m.PositiveFeedback - m.NegativeFeedback
}
