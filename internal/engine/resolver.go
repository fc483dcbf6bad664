package engine

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cmdcenter/memorylane/internal/storage"
	"github.com/cmdcenter/memorylane/pkg/types"
)

// minRecognizableName is the shortest entity name matched inside free query
// text. Shorter names produce too many false substring hits.
const minRecognizableName = 3

// EntityResolver canonicalizes raw entity names into Entity records. The
// storage layer's unique-slug constraint is the de-facto concurrency control:
// a losing racer falls back to a fresh lookup before retrying creation once.
type EntityResolver struct {
	entities storage.EntityStore
}

// NewEntityResolver creates an entity resolver over the given store.
func NewEntityResolver(entities storage.EntityStore) *EntityResolver {
	return &EntityResolver{entities: entities}
}

// FindOrCreate resolves a raw name to an existing entity of the given type,
// or creates one. A hit through an alias or a different spelling records the
// raw name as a new alias. On a slug collision it re-looks-up and retries
// creation once with a type-suffixed slug before failing.
func (r *EntityResolver) FindOrCreate(ctx context.Context, name string, entityType types.EntityType) (*types.Entity, error) {
	const op = "resolver.FindOrCreate"

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, wrapErr(KindEntityResolutionFailed, op, errors.New("empty entity name"))
	}
	if !entityType.Valid() {
		return nil, wrapErr(KindEntityResolutionFailed, op, errors.New("invalid entity type "+string(entityType)))
	}

	existing, err := r.entities.FindByName(ctx, name, entityType)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, wrapErr(KindStorageUnavailable, op, err)
	}

	now := time.Now().UTC()
	entity := &types.Entity{
		ID:            uuid.NewString(),
		Slug:          Slugify(name),
		Type:          entityType,
		CanonicalName: name,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err = r.entities.Insert(ctx, entity)
	if err == nil {
		return entity, nil
	}
	if !errors.Is(err, storage.ErrSlugTaken) {
		return nil, wrapErr(KindStorageUnavailable, op, err)
	}

	// Lost a create race, or a differently-spelled name collapsed to the same
	// slug. Re-lookup by slug; a same-type holder absorbs the raw name as an
	// alias, a different-type holder forces one retry with a suffixed slug.
	holder, lookupErr := r.entities.GetBySlug(ctx, entity.Slug)
	if lookupErr != nil {
		return nil, wrapErr(KindEntitySlugCollision, op, lookupErr)
	}
	if holder.Type == entityType {
		if holder.AddAlias(name) {
			holder.UpdatedAt = time.Now().UTC()
			if updateErr := r.entities.Update(ctx, holder); updateErr != nil {
				return nil, wrapErr(KindStorageUnavailable, op, updateErr)
			}
		}
		return holder, nil
	}

	entity.Slug = Slugify(name + " " + string(entityType))
	if retryErr := r.entities.Insert(ctx, entity); retryErr != nil {
		return nil, wrapErr(KindEntityResolutionFailed, op, retryErr)
	}
	return entity, nil
}

// Merge folds mergeID into keepID: both must exist and share a type, the
// merged entity's canonical name and aliases join the keeper's alias set,
// occurrence rows are repointed before the loser is deleted so a crash cannot
// orphan them.
func (r *EntityResolver) Merge(ctx context.Context, keepID, mergeID string) (*types.Entity, error) {
	const op = "resolver.Merge"

	if keepID == mergeID {
		return nil, wrapErr(KindTypeMismatch, op, errors.New("cannot merge an entity into itself"))
	}

	keep, err := r.entities.Get(ctx, keepID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		return nil, wrapErr(KindStorageUnavailable, op, err)
	}
	merge, err := r.entities.Get(ctx, mergeID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		return nil, wrapErr(KindStorageUnavailable, op, err)
	}

	if keep.Type != merge.Type {
		return nil, wrapErr(KindTypeMismatch, op,
			errors.New("cannot merge "+string(merge.Type)+" into "+string(keep.Type)))
	}

	changed := keep.AddAlias(merge.CanonicalName)
	for _, alias := range merge.Aliases {
		if keep.AddAlias(alias) {
			changed = true
		}
	}
	if changed {
		keep.UpdatedAt = time.Now().UTC()
		if err := r.entities.Update(ctx, keep); err != nil {
			return nil, wrapErr(KindStorageUnavailable, op, err)
		}
	}

	if err := r.entities.RepointOccurrences(ctx, mergeID, keepID); err != nil {
		return nil, wrapErr(KindStorageUnavailable, op, err)
	}
	if err := r.entities.Delete(ctx, mergeID); err != nil {
		return nil, wrapErr(KindStorageUnavailable, op, err)
	}

	return keep, nil
}

// RecognizeInText returns every known entity whose canonical name or alias
// appears in the text, case-insensitively. Used to detect entity mentions in
// free-text retrieval queries. The entity table is expected to stay small, so
// a full list-and-scan is acceptable.
func (r *EntityResolver) RecognizeInText(ctx context.Context, text string) ([]types.Entity, error) {
	const op = "resolver.RecognizeInText"

	entities, err := r.entities.List(ctx)
	if err != nil {
		return nil, wrapErr(KindStorageUnavailable, op, err)
	}

	lower := strings.ToLower(text)
	var matched []types.Entity
	for _, e := range entities {
		if nameAppears(lower, e.CanonicalName) {
			matched = append(matched, e)
			continue
		}
		for _, alias := range e.Aliases {
			if nameAppears(lower, alias) {
				matched = append(matched, e)
				break
			}
		}
	}
	return matched, nil
}

// RecordOccurrence links an entity mention to the memory it occurred in.
// Failures are logged, not propagated: occurrence rows are derived data and
// must not fail an extraction that already persisted the memory.
func (r *EntityResolver) RecordOccurrence(ctx context.Context, entityID, memoryID, mentionContext string) {
	occ := &types.EntityOccurrence{
		ID:        uuid.NewString(),
		EntityID:  entityID,
		MemoryID:  memoryID,
		Context:   mentionContext,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.entities.AddOccurrence(ctx, occ); err != nil {
		log.Printf("Resolver: failed to record occurrence of entity %s in memory %s: %v", entityID, memoryID, err)
	}
}

func nameAppears(lowerText, name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	if len(name) < minRecognizableName {
		return false
	}
	return strings.Contains(lowerText, name)
}
