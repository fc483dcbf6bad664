package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/cmdcenter/memorylane/internal/storage"
	"github.com/cmdcenter/memorylane/pkg/types"
)

// MemoryStore implements storage.MemoryStore using PostgreSQL. When the
// pgvector extension is present it also satisfies storage.VectorSearcher.
type MemoryStore struct {
	db                *sql.DB
	pgvectorAvailable bool
}

// Close releases the shared connection pool.
func (s *MemoryStore) Close() error { return s.db.Close() }

const memoryColumns = `
	id, type, category, title, content, source_excerpt, evidence,
	embedding, embedding_dim, embedding_pending,
	confidence_score, reasoning,
	times_observed, first_observed_at, last_observed_at,
	recall_count, positive_feedback, negative_feedback,
	created_at, updated_at`

// memoryColumnsQualified is the same list prefixed with the memories table,
// for queries that join entity_occurrences, which shares the id and
// created_at column names.
const memoryColumnsQualified = `
	memories.id, memories.type, memories.category, memories.title,
	memories.content, memories.source_excerpt, memories.evidence,
	memories.embedding, memories.embedding_dim, memories.embedding_pending,
	memories.confidence_score, memories.reasoning,
	memories.times_observed, memories.first_observed_at, memories.last_observed_at,
	memories.recall_count, memories.positive_feedback, memories.negative_feedback,
	memories.created_at, memories.updated_at`

// Insert persists a new memory. When pgvector is available the embedding is
// written to both the BYTEA column and the vector column.
func (s *MemoryStore) Insert(ctx context.Context, memory *types.Memory) error {
	if memory == nil {
		return storage.ErrInvalidInput
	}
	if err := memory.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	now := time.Now().UTC()
	if memory.CreatedAt.IsZero() {
		memory.CreatedAt = now
	}
	memory.UpdatedAt = now

	evidenceJSON, err := marshalStrings(memory.Evidence)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal evidence: %w", err)
	}

	var embeddingBytes []byte
	if len(memory.Embedding) > 0 {
		embeddingBytes = serializeEmbedding(memory.Embedding)
	}

	query := `
		INSERT INTO memories (
			id, type, category, title, content, source_excerpt, evidence,
			embedding, embedding_dim, embedding_pending,
			confidence_score, reasoning,
			times_observed, first_observed_at, last_observed_at,
			recall_count, positive_feedback, negative_feedback,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`

	_, err = s.db.ExecContext(ctx, query,
		memory.ID,
		string(memory.Type),
		nullableString(memory.Category),
		memory.Title,
		memory.Content,
		nullableString(memory.SourceExcerpt),
		nullableBytes(evidenceJSON),
		embeddingBytes,
		len(memory.Embedding),
		memory.EmbeddingPending,
		memory.ConfidenceScore,
		nullableString(memory.Reasoning),
		memory.TimesObserved,
		memory.FirstObservedAt.UTC(),
		memory.LastObservedAt.UTC(),
		memory.RecallCount,
		memory.PositiveFeedback,
		memory.NegativeFeedback,
		memory.CreatedAt,
		memory.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to insert memory: %w", err)
	}

	s.storeVector(ctx, memory.ID, memory.Embedding)
	return nil
}

// storeVector mirrors the embedding into the pgvector column. Failures are
// logged and not fatal; the BYTEA copy remains authoritative.
func (s *MemoryStore) storeVector(ctx context.Context, id string, embedding []float32) {
	if !s.pgvectorAvailable || len(embedding) == 0 {
		return
	}
	vec := pgvector.NewVector(embedding)
	if _, err := s.db.ExecContext(ctx,
		"UPDATE memories SET embedding_vec = $1 WHERE id = $2", vec, id); err != nil {
		log.Printf("postgres: failed to store embedding_vec for %s: %v", id, err)
	}
}

// Get retrieves a memory by ID with its related entity ids populated.
func (s *MemoryStore) Get(ctx context.Context, id string) (*types.Memory, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx,
		"SELECT"+memoryColumns+" FROM memories WHERE id = $1", id)

	memory, err := scanMemory(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: failed to get memory: %w", err)
	}

	if err := s.attachEntityIDs(ctx, []*types.Memory{memory}); err != nil {
		return nil, err
	}
	return memory, nil
}

// Update replaces the mutable fields of an existing memory.
func (s *MemoryStore) Update(ctx context.Context, memory *types.Memory) error {
	if memory == nil {
		return storage.ErrInvalidInput
	}
	if err := memory.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	evidenceJSON, err := marshalStrings(memory.Evidence)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal evidence: %w", err)
	}

	var embeddingBytes []byte
	if len(memory.Embedding) > 0 {
		embeddingBytes = serializeEmbedding(memory.Embedding)
	}

	query := `
		UPDATE memories SET
			type = $1, category = $2, title = $3, content = $4,
			source_excerpt = $5, evidence = $6,
			embedding = $7, embedding_dim = $8, embedding_pending = $9,
			confidence_score = $10, reasoning = $11,
			times_observed = $12, first_observed_at = $13, last_observed_at = $14,
			updated_at = $15
		WHERE id = $16
	`

	result, err := s.db.ExecContext(ctx, query,
		string(memory.Type),
		nullableString(memory.Category),
		memory.Title,
		memory.Content,
		nullableString(memory.SourceExcerpt),
		nullableBytes(evidenceJSON),
		embeddingBytes,
		len(memory.Embedding),
		memory.EmbeddingPending,
		memory.ConfidenceScore,
		nullableString(memory.Reasoning),
		memory.TimesObserved,
		memory.FirstObservedAt.UTC(),
		memory.LastObservedAt.UTC(),
		time.Now().UTC(),
		memory.ID,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to update memory: %w", err)
	}
	if err := requireRowAffected(result); err != nil {
		return err
	}

	s.storeVector(ctx, memory.ID, memory.Embedding)
	return nil
}

// List retrieves memories matching the filter, newest first by last_observed_at.
func (s *MemoryStore) List(ctx context.Context, filter storage.MemoryFilter) ([]types.Memory, error) {
	var conditions []string
	var args []interface{}

	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(filter.Types) > 0 {
		placeholders := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			placeholders[i] = arg(string(t))
		}
		conditions = append(conditions, "type IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.Category != "" {
		conditions = append(conditions, "category = "+arg(filter.Category))
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "last_observed_at >= "+arg(filter.Since.UTC()))
	}
	if !filter.Until.IsZero() {
		conditions = append(conditions, "last_observed_at <= "+arg(filter.Until.UTC()))
	}
	if filter.TextContains != "" {
		pattern := "%" + filter.TextContains + "%"
		conditions = append(conditions,
			"(title ILIKE "+arg(pattern)+" OR content ILIKE "+arg(pattern)+")")
	}

	query := "SELECT" + memoryColumns + " FROM memories"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY last_observed_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT " + arg(limit)

	return s.queryMemories(ctx, query, args...)
}

// ScanEmbedded returns every memory that has a stored embedding.
func (s *MemoryStore) ScanEmbedded(ctx context.Context) ([]types.Memory, error) {
	return s.queryMemories(ctx,
		"SELECT"+memoryColumns+" FROM memories WHERE embedding IS NOT NULL AND embedding_dim > 0")
}

// ListPendingEmbedding returns memories awaiting embedding backfill.
func (s *MemoryStore) ListPendingEmbedding(ctx context.Context, limit int) ([]types.Memory, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryMemories(ctx,
		"SELECT"+memoryColumns+" FROM memories WHERE embedding_pending ORDER BY created_at LIMIT $1", limit)
}

// ByEntityIDs returns all memories linked via occurrences to any of the given entities.
func (s *MemoryStore) ByEntityIDs(ctx context.Context, entityIDs []string) ([]types.Memory, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(entityIDs))
	args := make([]interface{}, len(entityIDs))
	for i, id := range entityIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	query := "SELECT DISTINCT" + memoryColumnsQualified + ` FROM memories
		JOIN entity_occurrences ON entity_occurrences.memory_id = memories.id
		WHERE entity_occurrences.entity_id IN (` + strings.Join(placeholders, ", ") + ")"

	return s.queryMemories(ctx, query, args...)
}

// NearestByEmbedding returns up to limit embedded memories ordered by cosine
// distance, computed in the database by pgvector. Callers must check for the
// storage.VectorSearcher capability; when pgvector is unavailable this falls
// back to ScanEmbedded.
func (s *MemoryStore) NearestByEmbedding(ctx context.Context, vector []float32, limit int) ([]types.Memory, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: query vector is required", storage.ErrInvalidInput)
	}
	if !s.pgvectorAvailable {
		return s.ScanEmbedded(ctx)
	}
	if limit <= 0 {
		limit = 100
	}

	vec := pgvector.NewVector(vector)
	query := "SELECT" + memoryColumns + ` FROM memories
		WHERE embedding_vec IS NOT NULL
		ORDER BY embedding_vec <=> $1
		LIMIT $2`

	memories, err := s.queryMemories(ctx, query, vec, limit)
	if err != nil {
		// Older rows may predate the vector column; degrade to the full scan.
		log.Printf("postgres: vector query failed, falling back to full scan: %v", err)
		return s.ScanEmbedded(ctx)
	}
	return memories, nil
}

// MergeObservation applies a duplicate merge to an existing memory. The
// counter bump and confidence raise happen in SQL so concurrent merges
// cannot lose updates.
func (s *MemoryStore) MergeObservation(ctx context.Context, id string, merge storage.ObservationMerge) error {
	if id == "" {
		return fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: failed to begin merge transaction: %w", err)
	}
	defer tx.Rollback()

	var evidenceJSON sql.NullString
	if err := tx.QueryRowContext(ctx,
		"SELECT evidence FROM memories WHERE id = $1 FOR UPDATE", id).Scan(&evidenceJSON); err != nil {
		if err == sql.ErrNoRows {
			return storage.ErrNotFound
		}
		return fmt.Errorf("postgres: failed to load evidence: %w", err)
	}

	evidence, err := unmarshalStrings(evidenceJSON)
	if err != nil {
		return fmt.Errorf("postgres: failed to parse evidence: %w", err)
	}
	if merge.SourceExcerpt != "" {
		evidence = append(evidence, merge.SourceExcerpt)
	}
	updatedEvidence, err := marshalStrings(evidence)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal evidence: %w", err)
	}

	observedAt := merge.ObservedAt
	if observedAt.IsZero() {
		observedAt = time.Now()
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE memories SET
			times_observed = times_observed + 1,
			last_observed_at = $1,
			confidence_score = GREATEST(confidence_score, $2),
			evidence = $3,
			updated_at = NOW()
		WHERE id = $4
	`, observedAt.UTC(), merge.ConfidenceScore, nullableBytes(updatedEvidence), id)
	if err != nil {
		return fmt.Errorf("postgres: failed to merge observation: %w", err)
	}
	if err := requireRowAffected(result); err != nil {
		return err
	}

	return tx.Commit()
}

// RecordRecall atomically increments recall_count and records the surfacing
// query for later feedback attribution.
func (s *MemoryStore) RecordRecall(ctx context.Context, id string, queryText string) error {
	if id == "" {
		return fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: failed to begin recall transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		"UPDATE memories SET recall_count = recall_count + 1, updated_at = NOW() WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("postgres: failed to increment recall count: %w", err)
	}
	if err := requireRowAffected(result); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO recalls (memory_id, query_text) VALUES ($1, $2)", id, queryText); err != nil {
		return fmt.Errorf("postgres: failed to record recall: %w", err)
	}

	return tx.Commit()
}

// AddFeedback appends a feedback event and bumps the matching counter.
func (s *MemoryStore) AddFeedback(ctx context.Context, event *types.FeedbackEvent) error {
	if event == nil || event.MemoryID == "" {
		return fmt.Errorf("%w: feedback event with memory ID is required", storage.ErrInvalidInput)
	}
	if !event.Polarity.Valid() {
		return fmt.Errorf("%w: invalid feedback polarity %q", storage.ErrInvalidInput, event.Polarity)
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	column := "positive_feedback"
	if event.Polarity == types.FeedbackNegative {
		column = "negative_feedback"
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: failed to begin feedback transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		"UPDATE memories SET "+column+" = "+column+" + 1, updated_at = NOW() WHERE id = $1",
		event.MemoryID)
	if err != nil {
		return fmt.Errorf("postgres: failed to increment feedback counter: %w", err)
	}
	if err := requireRowAffected(result); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO feedback_events (id, memory_id, session_id, query_text, polarity, score, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, event.ID, event.MemoryID, nullableString(event.SessionID), nullableString(event.QueryText),
		string(event.Polarity), event.Score, event.CreatedAt); err != nil {
		return fmt.Errorf("postgres: failed to record feedback event: %w", err)
	}

	return tx.Commit()
}

// DeleteWhere hard-deletes memories matching the cleanup filter.
func (s *MemoryStore) DeleteWhere(ctx context.Context, filter storage.CleanupFilter) (int, error) {
	if filter.LastObservedBefore.IsZero() {
		return 0, fmt.Errorf("%w: cleanup cutoff is required", storage.ErrInvalidInput)
	}

	query := "DELETE FROM memories WHERE last_observed_at < $1 AND confidence_score <= $2"
	args := []interface{}{filter.LastObservedBefore.UTC(), filter.MaxConfidence}
	if filter.OnlyNeverRecalled {
		query += " AND recall_count = 0"
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to delete memories: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to count deleted memories: %w", err)
	}
	return int(affected), nil
}

func (s *MemoryStore) queryMemories(ctx context.Context, query string, args ...interface{}) ([]types.Memory, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query memories: %w", err)
	}
	defer rows.Close()

	var memories []types.Memory
	for rows.Next() {
		memory, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan memory: %w", err)
		}
		memories = append(memories, *memory)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: failed to iterate memories: %w", err)
	}

	refs := make([]*types.Memory, 0, len(memories))
	for i := range memories {
		refs = append(refs, &memories[i])
	}
	if err := s.attachEntityIDs(ctx, refs); err != nil {
		return nil, err
	}
	return memories, nil
}

// attachEntityIDs populates RelatedEntityIDs from the occurrence join table
// in a single batched query.
func (s *MemoryStore) attachEntityIDs(ctx context.Context, memories []*types.Memory) error {
	if len(memories) == 0 {
		return nil
	}

	byID := make(map[string]*types.Memory, len(memories))
	placeholders := make([]string, 0, len(memories))
	args := make([]interface{}, 0, len(memories))
	for _, m := range memories {
		byID[m.ID] = m
		args = append(args, m.ID)
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}

	query := "SELECT memory_id, entity_id FROM entity_occurrences WHERE memory_id IN (" +
		strings.Join(placeholders, ", ") + ") ORDER BY created_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: failed to query occurrences: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var memoryID, entityID string
		if err := rows.Scan(&memoryID, &entityID); err != nil {
			return fmt.Errorf("postgres: failed to scan occurrence: %w", err)
		}
		if m, ok := byID[memoryID]; ok && !containsString(m.RelatedEntityIDs, entityID) {
			m.RelatedEntityIDs = append(m.RelatedEntityIDs, entityID)
		}
	}
	return rows.Err()
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMemory(row rowScanner) (*types.Memory, error) {
	var (
		memory                       types.Memory
		memType                      string
		category, excerpt, reasoning sql.NullString
		evidenceJSON                 sql.NullString
		embeddingBytes               []byte
		embeddingDim                 int
	)

	err := row.Scan(
		&memory.ID, &memType, &category, &memory.Title, &memory.Content,
		&excerpt, &evidenceJSON,
		&embeddingBytes, &embeddingDim, &memory.EmbeddingPending,
		&memory.ConfidenceScore, &reasoning,
		&memory.TimesObserved, &memory.FirstObservedAt, &memory.LastObservedAt,
		&memory.RecallCount, &memory.PositiveFeedback, &memory.NegativeFeedback,
		&memory.CreatedAt, &memory.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	memory.Type = types.MemoryType(memType)
	memory.Category = category.String
	memory.SourceExcerpt = excerpt.String
	memory.Reasoning = reasoning.String

	memory.Evidence, err = unmarshalStrings(evidenceJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to parse evidence: %w", err)
	}

	if len(embeddingBytes) > 0 && embeddingDim > 0 {
		memory.Embedding, err = deserializeEmbedding(embeddingBytes, embeddingDim)
		if err != nil {
			return nil, err
		}
	}

	return &memory, nil
}

func marshalStrings(values []string) ([]byte, error) {
	if len(values) == 0 {
		return nil, nil
	}
	return json.Marshal(values)
}

func unmarshalStrings(column sql.NullString) ([]string, error) {
	if !column.Valid || column.String == "" {
		return nil, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(column.String), &values); err != nil {
		return nil, err
	}
	return values, nil
}

func requireRowAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullableBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
