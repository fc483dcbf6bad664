package engine

import (
	"context"
	"time"

	"github.com/cmdcenter/memorylane/internal/storage"
)

// Cleanup defaults: old, low-confidence, never-recalled memories.
const (
	DefaultCleanupAge           = 90 * 24 * time.Hour
	DefaultCleanupMaxConfidence = 0.3
)

// CleanupOptions selects memories for the explicit, infrequent cleanup pass.
// Zero values take defaults.
type CleanupOptions struct {
	// OlderThan keeps anything observed within this window.
	OlderThan time.Duration

	// MaxConfidence keeps anything with confidence above this bound.
	MaxConfidence float64

	// IncludeRecalled also deletes memories that have been recalled at least
	// once. Off by default; a recalled memory has proven some value.
	IncludeRecalled bool
}

// Cleanup hard-deletes memories that are old, low-confidence, and (unless
// opted out) never recalled. Returns the number of memories removed. This is
// the only way memories leave the store during normal operation.
func Cleanup(ctx context.Context, memories storage.MemoryStore, opts CleanupOptions) (int, error) {
	const op = "engine.Cleanup"

	if opts.OlderThan <= 0 {
		opts.OlderThan = DefaultCleanupAge
	}
	if opts.MaxConfidence <= 0 {
		opts.MaxConfidence = DefaultCleanupMaxConfidence
	}

	filter := storage.CleanupFilter{
		LastObservedBefore: time.Now().UTC().Add(-opts.OlderThan),
		MaxConfidence:      opts.MaxConfidence,
		OnlyNeverRecalled:  !opts.IncludeRecalled,
	}

	deleted, err := memories.DeleteWhere(ctx, filter)
	if err != nil {
		return 0, wrapErr(KindStorageUnavailable, op, err)
	}
	return deleted, nil
}
