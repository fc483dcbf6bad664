// Package types defines the core data structures for the Memory Lane system.
// These types represent extracted memories, canonical entities, and the
// join/feedback records that connect them.
package types

// MemoryType classifies the purpose/nature of an extracted memory.
type MemoryType string

// Memory type constants. Each type carries a priority tier and a numeric
// ranking boost (see Tier and Boost).
const (
	TypeCorrection   MemoryType = "correction"    // The user corrected a prior assumption or output
	TypeDecision     MemoryType = "decision"      // An explicit choice was made
	TypeCommitment   MemoryType = "commitment"    // A promise or standing instruction going forward
	TypeInsight      MemoryType = "insight"       // A non-obvious realization worth keeping
	TypeLearning     MemoryType = "learning"      // Something learned about the user or their work
	TypeConfidence   MemoryType = "confidence"    // A statement of certainty or preference strength
	TypePatternSeed  MemoryType = "pattern_seed"  // A possible recurring pattern, not yet confirmed
	TypeCrossAgent   MemoryType = "cross_agent"   // Information relevant across assistant sessions
	TypeWorkflowNote MemoryType = "workflow_note" // How the user likes work to be done
	TypeGap          MemoryType = "gap"           // A known unknown or missing piece of context
)

// PriorityTier groups memory types by how aggressively they should surface.
type PriorityTier string

// Priority tier constants
const (
	TierHigh   PriorityTier = "high"
	TierMedium PriorityTier = "medium"
	TierLow    PriorityTier = "low"
)

// typeProfile holds the fixed per-type ranking parameters.
type typeProfile struct {
	tier  PriorityTier
	boost float64
}

// typeProfiles is the fixed table of memory types, their priority tiers and
// ranking boosts. The same table drives confidence adjustment at extraction
// time and the type boost at retrieval time.
var typeProfiles = map[MemoryType]typeProfile{
	TypeCorrection:   {TierHigh, 0.15},
	TypeDecision:     {TierHigh, 0.15},
	TypeCommitment:   {TierHigh, 0.15},
	TypeInsight:      {TierMedium, 0.10},
	TypeLearning:     {TierMedium, 0.10},
	TypeConfidence:   {TierMedium, 0.10},
	TypePatternSeed:  {TierLow, 0.05},
	TypeCrossAgent:   {TierLow, 0.05},
	TypeWorkflowNote: {TierLow, 0.05},
	TypeGap:          {TierLow, 0.05},
}

// ValidMemoryTypes is a slice of all valid memory types for validation and
// prompt construction, in priority order.
var ValidMemoryTypes = []MemoryType{
	TypeCorrection,
	TypeDecision,
	TypeCommitment,
	TypeInsight,
	TypeLearning,
	TypeConfidence,
	TypePatternSeed,
	TypeCrossAgent,
	TypeWorkflowNote,
	TypeGap,
}

// Valid reports whether t is one of the fixed memory types.
func (t MemoryType) Valid() bool {
	_, ok := typeProfiles[t]
	return ok
}

// Tier returns the priority tier for the memory type.
// Unknown types map to TierLow.
func (t MemoryType) Tier() PriorityTier {
	if p, ok := typeProfiles[t]; ok {
		return p.tier
	}
	return TierLow
}

// Boost returns the fixed ranking boost for the memory type.
// Unknown types get no boost.
func (t MemoryType) Boost() float64 {
	if p, ok := typeProfiles[t]; ok {
		return p.boost
	}
	return 0
}

// EntityType classifies a canonical entity.
type EntityType string

// Entity type constants
const (
	EntityPerson   EntityType = "person"
	EntityProject  EntityType = "project"
	EntityBusiness EntityType = "business"
	EntityLocation EntityType = "location"
)

// ValidEntityTypes is a slice of all valid entity types for validation.
var ValidEntityTypes = []EntityType{
	EntityPerson,
	EntityProject,
	EntityBusiness,
	EntityLocation,
}

// Valid reports whether t is one of the fixed entity types.
func (t EntityType) Valid() bool {
	switch t {
	case EntityPerson, EntityProject, EntityBusiness, EntityLocation:
		return true
	}
	return false
}

// FeedbackPolarity is a human signal about whether a recalled memory was useful.
type FeedbackPolarity string

// Feedback polarity constants
const (
	FeedbackPositive FeedbackPolarity = "positive"
	FeedbackNegative FeedbackPolarity = "negative"
)

// Valid reports whether p is a recognized polarity.
func (p FeedbackPolarity) Valid() bool {
	return p == FeedbackPositive || p == FeedbackNegative
}
