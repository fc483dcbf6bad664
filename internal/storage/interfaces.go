// Package storage provides composable storage interfaces for the Memory Lane
// core. The retrieval engine and extractor consume these interfaces only;
// concrete backends live in the sqlite and postgres subpackages.
package storage

import (
	"context"
	"time"

	"github.com/cmdcenter/memorylane/pkg/types"
)

// MemoryStore provides persistence for Memory records and the counter
// updates the retrieval engine performs on recall and feedback.
type MemoryStore interface {
	// Insert persists a new memory. The memory must pass Validate.
	Insert(ctx context.Context, memory *types.Memory) error

	// Get retrieves a memory by ID, with its related entity ids populated.
	// Returns ErrNotFound if the memory doesn't exist.
	Get(ctx context.Context, id string) (*types.Memory, error)

	// Update replaces the mutable fields of an existing memory.
	// Returns ErrNotFound if the memory doesn't exist.
	Update(ctx context.Context, memory *types.Memory) error

	// List retrieves memories matching the filter, newest first.
	List(ctx context.Context, filter MemoryFilter) ([]types.Memory, error)

	// ScanEmbedded returns every memory that has a stored embedding.
	// Used for the brute-force similarity scan at retrieval and the
	// duplicate check at extraction.
	ScanEmbedded(ctx context.Context) ([]types.Memory, error)

	// ListPendingEmbedding returns memories stored with embedding_pending set,
	// for batch backfill.
	ListPendingEmbedding(ctx context.Context, limit int) ([]types.Memory, error)

	// ByEntityIDs returns all memories linked (via entity occurrences) to any
	// of the given entity ids.
	ByEntityIDs(ctx context.Context, entityIDs []string) ([]types.Memory, error)

	// MergeObservation applies a duplicate merge to an existing memory:
	// increments times_observed, updates last_observed_at, raises the stored
	// confidence to max(stored, merge.ConfidenceScore), and appends
	// merge.SourceExcerpt to the evidence list.
	// Returns ErrNotFound if the memory doesn't exist.
	MergeObservation(ctx context.Context, id string, merge ObservationMerge) error

	// RecordRecall atomically increments recall_count and records that the
	// memory was surfaced for the given query. The increment happens at the
	// storage layer (recall_count = recall_count + 1), not read-modify-write.
	RecordRecall(ctx context.Context, id string, queryText string) error

	// AddFeedback appends a feedback event and atomically increments the
	// matching counter on the memory.
	// Returns ErrNotFound if the memory doesn't exist.
	AddFeedback(ctx context.Context, event *types.FeedbackEvent) error

	// DeleteWhere hard-deletes memories matching the cleanup filter and
	// returns the number of rows removed. Occurrences cascade.
	DeleteWhere(ctx context.Context, filter CleanupFilter) (int, error)

	// Close releases any resources held by the store.
	Close() error
}

// EntityStore provides persistence for Entity records and their occurrence
// join rows, keyed by the unique-slug constraint.
type EntityStore interface {
	// Insert persists a new entity. Returns ErrSlugTaken when another entity
	// already holds the slug; callers use this as the de-facto concurrency
	// control for racing findOrCreate calls.
	Insert(ctx context.Context, entity *types.Entity) error

	// Update replaces the mutable fields of an existing entity.
	// Returns ErrNotFound if the entity doesn't exist.
	Update(ctx context.Context, entity *types.Entity) error

	// Get retrieves an entity by ID.
	// Returns ErrNotFound if the entity doesn't exist.
	Get(ctx context.Context, id string) (*types.Entity, error)

	// GetBySlug retrieves an entity by its unique slug.
	// Returns ErrNotFound if no entity holds the slug.
	GetBySlug(ctx context.Context, slug string) (*types.Entity, error)

	// FindByName performs an exact case-insensitive canonical-name match
	// first, then a case-insensitive alias-set membership match. When
	// entityType is non-empty, matches are filtered by type.
	// Returns ErrNotFound when nothing matches.
	FindByName(ctx context.Context, name string, entityType types.EntityType) (*types.Entity, error)

	// List returns all entities. Used for query-time entity recognition;
	// the entity table is expected to stay small (hundreds, not millions).
	List(ctx context.Context) ([]types.Entity, error)

	// AddOccurrence records that an entity was mentioned in a memory.
	AddOccurrence(ctx context.Context, occ *types.EntityOccurrence) error

	// OccurrencesByEntity returns all occurrence rows for the entity.
	OccurrencesByEntity(ctx context.Context, entityID string) ([]types.EntityOccurrence, error)

	// RepointOccurrences moves all occurrence rows from one entity to
	// another. Used by entity merge, which repoints before deleting the
	// loser so a crash cannot orphan occurrences.
	RepointOccurrences(ctx context.Context, fromEntityID, toEntityID string) error

	// Delete hard-deletes an entity. Its occurrence rows cascade.
	// Returns ErrNotFound if the entity doesn't exist.
	Delete(ctx context.Context, id string) error

	// Close releases any resources held by the store.
	Close() error
}

// VectorSearcher is an optional MemoryStore capability. Backends that can
// rank by embedding distance in the database (pgvector) implement it; the
// retrieval engine type-asserts for it and falls back to ScanEmbedded when
// absent.
type VectorSearcher interface {
	// NearestByEmbedding returns up to limit embedded memories ordered by
	// ascending cosine distance from the query vector.
	NearestByEmbedding(ctx context.Context, vector []float32, limit int) ([]types.Memory, error)
}

// ObservationMerge carries the fields applied by a duplicate merge.
type ObservationMerge struct {
	// ConfidenceScore from the newly derived candidate. The stored score is
	// raised to max(stored, this), never lowered.
	ConfidenceScore float64

	// SourceExcerpt from the newly derived candidate, appended to evidence.
	SourceExcerpt string

	// ObservedAt becomes the memory's last_observed_at.
	ObservedAt time.Time
}

// MemoryFilter narrows List queries.
type MemoryFilter struct {
	// Types restricts results to the given memory types. Empty means all.
	Types []types.MemoryType

	// Category restricts results to an exact category slug.
	Category string

	// Since / Until bound last_observed_at. Zero values are unconstrained.
	Since time.Time
	Until time.Time

	// TextContains performs a case-insensitive substring match over title
	// and content.
	TextContains string

	// Limit caps the number of results. Zero means the default (100).
	Limit int
}

// CleanupFilter selects old, low-confidence, never-recalled memories for the
// explicit cleanup operation.
type CleanupFilter struct {
	// LastObservedBefore is the cutoff; memories observed at or after it are kept.
	LastObservedBefore time.Time

	// MaxConfidence keeps any memory with confidence above this bound.
	MaxConfidence float64

	// OnlyNeverRecalled restricts deletion to memories with recall_count == 0.
	OnlyNeverRecalled bool
}
