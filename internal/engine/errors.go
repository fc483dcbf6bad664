package engine

import (
	"errors"
	"fmt"
)

// Kind classifies engine failures so callers can apply different retry
// policy (immediate retry for timeouts, backoff for unavailability,
// no retry for type mismatches).
type Kind string

// Error kinds surfaced by the engine.
const (
	// KindEmbeddingUnavailable means the embedding provider is unreachable or
	// its model is not loaded. Retrieval degrades to the entity-only path;
	// extraction drops the affected candidate.
	KindEmbeddingUnavailable Kind = "embedding_unavailable"

	// KindExtractionParseError means the model response was not parseable as
	// the expected JSON array. Treated as zero candidates for that chunk.
	KindExtractionParseError Kind = "extraction_parse_error"

	// KindEntitySlugCollision is a transient race on entity creation,
	// resolved by re-lookup-then-retry-once.
	KindEntitySlugCollision Kind = "entity_slug_collision"

	// KindEntityResolutionFailed means the retry after a slug collision also
	// failed. The candidate memory is stored without that entity link.
	KindEntityResolutionFailed Kind = "entity_resolution_failed"

	// KindTypeMismatch means an entity merge was requested across
	// incompatible types. Surfaced directly, no recovery attempted.
	KindTypeMismatch Kind = "type_mismatch"

	// KindStorageUnavailable means the underlying store is unreachable.
	// Fatal for the calling operation.
	KindStorageUnavailable Kind = "storage_unavailable"

	// KindTimeout means an extraction-model or embedding call exceeded its
	// deadline. Retryable immediately, unlike unavailability.
	KindTimeout Kind = "timeout"
)

// Error carries a Kind and the failing operation alongside the underlying
// cause, so callers can branch on taxonomy instead of matching message text.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is (or wraps) an engine Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

func wrapErr(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}
