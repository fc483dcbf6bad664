package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/cmdcenter/memorylane/internal/storage"
	"github.com/cmdcenter/memorylane/pkg/types"
)

// EntityStore implements storage.EntityStore using PostgreSQL.
type EntityStore struct {
	db *sql.DB
}

// Close releases the shared connection pool.
func (s *EntityStore) Close() error { return s.db.Close() }

const entityColumns = `
	id, slug, type, canonical_name, aliases,
	linked_contact_id, linked_project_id, metadata,
	created_at, updated_at`

// Insert persists a new entity. A unique violation on the slug column maps to
// storage.ErrSlugTaken so callers can fall back to re-lookup-then-retry.
func (s *EntityStore) Insert(ctx context.Context, entity *types.Entity) error {
	if entity == nil {
		return storage.ErrInvalidInput
	}
	if err := entity.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	now := time.Now().UTC()
	if entity.CreatedAt.IsZero() {
		entity.CreatedAt = now
	}
	entity.UpdatedAt = now

	aliasesJSON, metadataJSON, err := marshalEntityJSON(entity)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entities (
			id, slug, type, canonical_name, aliases,
			linked_contact_id, linked_project_id, metadata,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		entity.ID,
		entity.Slug,
		string(entity.Type),
		entity.CanonicalName,
		nullableBytes(aliasesJSON),
		nullableString(entity.LinkedContactID),
		nullableString(entity.LinkedProjectID),
		nullableBytes(metadataJSON),
		entity.CreatedAt,
		entity.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: slug %q", storage.ErrSlugTaken, entity.Slug)
		}
		return fmt.Errorf("postgres: failed to insert entity: %w", err)
	}

	return nil
}

// Update replaces the mutable fields of an existing entity.
func (s *EntityStore) Update(ctx context.Context, entity *types.Entity) error {
	if entity == nil {
		return storage.ErrInvalidInput
	}
	if err := entity.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	aliasesJSON, metadataJSON, err := marshalEntityJSON(entity)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE entities SET
			slug = $1, type = $2, canonical_name = $3, aliases = $4,
			linked_contact_id = $5, linked_project_id = $6, metadata = $7,
			updated_at = $8
		WHERE id = $9
	`,
		entity.Slug,
		string(entity.Type),
		entity.CanonicalName,
		nullableBytes(aliasesJSON),
		nullableString(entity.LinkedContactID),
		nullableString(entity.LinkedProjectID),
		nullableBytes(metadataJSON),
		time.Now().UTC(),
		entity.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: slug %q", storage.ErrSlugTaken, entity.Slug)
		}
		return fmt.Errorf("postgres: failed to update entity: %w", err)
	}

	return requireRowAffected(result)
}

// Get retrieves an entity by ID.
func (s *EntityStore) Get(ctx context.Context, id string) (*types.Entity, error) {
	return s.entityBy(ctx, "id", id)
}

// GetBySlug retrieves an entity by its unique slug.
func (s *EntityStore) GetBySlug(ctx context.Context, slug string) (*types.Entity, error) {
	return s.entityBy(ctx, "slug", slug)
}

func (s *EntityStore) entityBy(ctx context.Context, column, value string) (*types.Entity, error) {
	if value == "" {
		return nil, fmt.Errorf("%w: entity %s is required", storage.ErrInvalidInput, column)
	}

	row := s.db.QueryRowContext(ctx,
		"SELECT"+entityColumns+" FROM entities WHERE "+column+" = $1", value)

	entity, err := scanEntity(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: failed to get entity: %w", err)
	}
	return entity, nil
}

// FindByName performs an exact case-insensitive canonical-name match first,
// then a case-insensitive alias-set membership match done in Go.
func (s *EntityStore) FindByName(ctx context.Context, name string, entityType types.EntityType) (*types.Entity, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: entity name is required", storage.ErrInvalidInput)
	}

	query := "SELECT" + entityColumns + " FROM entities WHERE LOWER(canonical_name) = LOWER($1)"
	args := []interface{}{name}
	if entityType != "" {
		query += " AND type = $2"
		args = append(args, string(entityType))
	}

	row := s.db.QueryRowContext(ctx, query, args...)
	entity, err := scanEntity(row)
	if err == nil {
		return entity, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("postgres: failed to find entity by name: %w", err)
	}

	candidates, err := s.listEntities(ctx, entityType)
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		if candidates[i].HasAlias(name) {
			return &candidates[i], nil
		}
	}

	return nil, storage.ErrNotFound
}

// List returns all entities.
func (s *EntityStore) List(ctx context.Context) ([]types.Entity, error) {
	return s.listEntities(ctx, "")
}

func (s *EntityStore) listEntities(ctx context.Context, entityType types.EntityType) ([]types.Entity, error) {
	query := "SELECT" + entityColumns + " FROM entities"
	var args []interface{}
	if entityType != "" {
		query += " WHERE type = $1"
		args = append(args, string(entityType))
	}
	query += " ORDER BY canonical_name"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list entities: %w", err)
	}
	defer rows.Close()

	var entities []types.Entity
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan entity: %w", err)
		}
		entities = append(entities, *entity)
	}
	return entities, rows.Err()
}

// AddOccurrence records that an entity was mentioned in a memory.
func (s *EntityStore) AddOccurrence(ctx context.Context, occ *types.EntityOccurrence) error {
	if occ == nil || occ.EntityID == "" || occ.MemoryID == "" {
		return fmt.Errorf("%w: occurrence needs entity and memory ids", storage.ErrInvalidInput)
	}
	if occ.ID == "" {
		occ.ID = uuid.NewString()
	}
	if occ.CreatedAt.IsZero() {
		occ.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entity_occurrences (id, entity_id, memory_id, context, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, occ.ID, occ.EntityID, occ.MemoryID, nullableString(occ.Context), occ.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: failed to add occurrence: %w", err)
	}
	return nil
}

// OccurrencesByEntity returns all occurrence rows for the entity.
func (s *EntityStore) OccurrencesByEntity(ctx context.Context, entityID string) ([]types.EntityOccurrence, error) {
	if entityID == "" {
		return nil, fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_id, memory_id, context, created_at
		FROM entity_occurrences WHERE entity_id = $1 ORDER BY created_at
	`, entityID)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query occurrences: %w", err)
	}
	defer rows.Close()

	var occurrences []types.EntityOccurrence
	for rows.Next() {
		var occ types.EntityOccurrence
		var context sql.NullString
		if err := rows.Scan(&occ.ID, &occ.EntityID, &occ.MemoryID, &context, &occ.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan occurrence: %w", err)
		}
		occ.Context = context.String
		occurrences = append(occurrences, occ)
	}
	return occurrences, rows.Err()
}

// RepointOccurrences moves all occurrence rows from one entity to another.
func (s *EntityStore) RepointOccurrences(ctx context.Context, fromEntityID, toEntityID string) error {
	if fromEntityID == "" || toEntityID == "" {
		return fmt.Errorf("%w: both entity ids are required", storage.ErrInvalidInput)
	}

	_, err := s.db.ExecContext(ctx,
		"UPDATE entity_occurrences SET entity_id = $1 WHERE entity_id = $2", toEntityID, fromEntityID)
	if err != nil {
		return fmt.Errorf("postgres: failed to repoint occurrences: %w", err)
	}
	return nil
}

// Delete hard-deletes an entity; its occurrence rows cascade.
func (s *EntityStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}

	result, err := s.db.ExecContext(ctx, "DELETE FROM entities WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("postgres: failed to delete entity: %w", err)
	}
	return requireRowAffected(result)
}

func scanEntity(row rowScanner) (*types.Entity, error) {
	var (
		entity                       types.Entity
		entityType                   string
		aliasesJSON, metadataJSON    sql.NullString
		linkedContact, linkedProject sql.NullString
	)

	err := row.Scan(
		&entity.ID, &entity.Slug, &entityType, &entity.CanonicalName, &aliasesJSON,
		&linkedContact, &linkedProject, &metadataJSON,
		&entity.CreatedAt, &entity.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	entity.Type = types.EntityType(entityType)
	entity.LinkedContactID = linkedContact.String
	entity.LinkedProjectID = linkedProject.String

	entity.Aliases, err = unmarshalStrings(aliasesJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to parse aliases: %w", err)
	}

	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &entity.Metadata); err != nil {
			return nil, fmt.Errorf("failed to parse metadata: %w", err)
		}
	}

	return &entity, nil
}

func marshalEntityJSON(entity *types.Entity) (aliases, metadata []byte, err error) {
	aliases, err = marshalStrings(entity.Aliases)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal aliases: %w", err)
	}
	if entity.Metadata != nil {
		metadata, err = json.Marshal(entity.Metadata)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}
	return aliases, metadata, nil
}

// isUniqueViolation reports whether err is a PostgreSQL unique_violation
// (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
