package types

import (
	"fmt"
	"strings"
	"time"
)

// Entity represents a canonicalized reference to a person, project, business,
// or location, with an alias set that resolves alternative spellings back to
// the canonical record.
type Entity struct {
	// Core identification fields
	ID            string     `json:"id"`             // Unique identifier
	Slug          string     `json:"slug"`           // URL-safe, unique across all entities
	Type          EntityType `json:"type"`           // One of the fixed entity types
	CanonicalName string     `json:"canonical_name"` // Preferred display name

	// Aliases are alternative strings that resolve to this entity.
	// Deduplicated case-insensitively.
	Aliases []string `json:"aliases,omitempty"`

	// Optional cross-references to external collaborator records.
	// Opaque ids, not owned by this core.
	LinkedContactID string `json:"linked_contact_id,omitempty"`
	LinkedProjectID string `json:"linked_project_id,omitempty"`

	// Metadata is an open key-value bag.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the Entity's invariants.
func (e *Entity) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("entity id is required")
	}
	if e.Slug == "" {
		return fmt.Errorf("entity slug is required")
	}
	if !e.Type.Valid() {
		return fmt.Errorf("invalid entity type: %q", e.Type)
	}
	if e.CanonicalName == "" {
		return fmt.Errorf("entity canonical name is required")
	}
	return nil
}

// Matches reports whether name equals the canonical name or any alias,
// case-insensitively.
func (e *Entity) Matches(name string) bool {
	if strings.EqualFold(e.CanonicalName, name) {
		return true
	}
	return e.HasAlias(name)
}

// HasAlias reports whether name is already present in the alias set,
// case-insensitively.
func (e *Entity) HasAlias(name string) bool {
	for _, a := range e.Aliases {
		if strings.EqualFold(a, name) {
			return true
		}
	}
	return false
}

// AddAlias appends name to the alias set unless an equal alias (or the
// canonical name itself) is already present. Returns true if added.
func (e *Entity) AddAlias(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(e.CanonicalName, name) || e.HasAlias(name) {
		return false
	}
	e.Aliases = append(e.Aliases, name)
	return true
}

// EntityOccurrence is the join record linking an entity mention to the memory
// it occurred in. It has no ownership beyond its two parents and is deleted
// when either parent is deleted.
type EntityOccurrence struct {
	ID        string    `json:"id"`
	EntityID  string    `json:"entity_id"`
	MemoryID  string    `json:"memory_id"`
	Context   string    `json:"context,omitempty"` // Free text around the mention
	CreatedAt time.Time `json:"created_at"`
}

// FeedbackEvent records a single human feedback submission about a recalled
// memory. The counters on the Memory are the contractual state; events are
// kept for auditability.
type FeedbackEvent struct {
	ID        string           `json:"id"`
	MemoryID  string           `json:"memory_id"`
	SessionID string           `json:"session_id,omitempty"`
	QueryText string           `json:"query_text,omitempty"`
	Polarity  FeedbackPolarity `json:"polarity"`
	Score     float64          `json:"score,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}
