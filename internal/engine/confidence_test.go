package engine

import (
	"math"
	"testing"

	"github.com/cmdcenter/memorylane/pkg/types"
)

// TestAdjustConfidence_ClampsToUnitRange verifies boosts can never push a
// score past 1.0 or below 0.
func TestAdjustConfidence_ClampsToUnitRange(t *testing.T) {
	// 0.95 base + 0.15 high-priority boost + 0.1 strong signal = 1.20 raw
	score := AdjustConfidence(95, types.TypeCommitment, "Always use TypeScript for new services")
	if score != 1.0 {
		t.Errorf("expected clamp to 1.0, got %f", score)
	}

	// 0.05 base + 0.05 low boost - 0.1 hedging = 0.0 raw
	score = AdjustConfidence(5, types.TypeGap, "maybe this matters, unsure")
	if score < 0 {
		t.Errorf("expected clamp at 0, got %f", score)
	}

	// Pathological inputs still land in [0,1].
	for _, raw := range []float64{-50, 0, 100, 500} {
		score = AdjustConfidence(raw, types.TypeCorrection, "never do this again, critical")
		if score < 0 || score > 1 {
			t.Errorf("raw %f: score %f out of [0,1]", raw, score)
		}
	}
}

// TestAdjustConfidence_TypeBoosts verifies the per-tier boost is applied.
func TestAdjustConfidence_TypeBoosts(t *testing.T) {
	// Neutral content, no signal words.
	tests := []struct {
		memType  types.MemoryType
		expected float64
	}{
		{types.TypeCorrection, 0.65},
		{types.TypeDecision, 0.65},
		{types.TypeCommitment, 0.65},
		{types.TypeInsight, 0.60},
		{types.TypeLearning, 0.60},
		{types.TypeConfidence, 0.60},
		{types.TypePatternSeed, 0.55},
		{types.TypeCrossAgent, 0.55},
		{types.TypeWorkflowNote, 0.55},
		{types.TypeGap, 0.55},
	}
	for _, tt := range tests {
		score := AdjustConfidence(50, tt.memType, "prefers dark roast")
		if math.Abs(score-tt.expected) > 0.0001 {
			t.Errorf("%s: expected %f, got %f", tt.memType, tt.expected, score)
		}
	}
}

// TestAdjustConfidence_SignalWords verifies the strong-signal bonus and
// hedging penalty, including case-insensitivity.
func TestAdjustConfidence_SignalWords(t *testing.T) {
	base := AdjustConfidence(50, types.TypeGap, "prefers dark roast")

	strong := AdjustConfidence(50, types.TypeGap, "It is CRITICAL to ship on Friday")
	if math.Abs(strong-(base+0.1)) > 0.0001 {
		t.Errorf("strong signal: expected %f, got %f", base+0.1, strong)
	}

	hedged := AdjustConfidence(50, types.TypeGap, "Perhaps we should revisit this")
	if math.Abs(hedged-(base-0.1)) > 0.0001 {
		t.Errorf("hedging: expected %f, got %f", base-0.1, hedged)
	}

	// Both present: bonus and penalty cancel.
	both := AdjustConfidence(50, types.TypeGap, "it might be important")
	if math.Abs(both-base) > 0.0001 {
		t.Errorf("mixed signals: expected %f, got %f", base, both)
	}
}
