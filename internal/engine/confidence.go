package engine

import (
	"strings"

	"github.com/cmdcenter/memorylane/pkg/types"
)

// strongSignalWords mark high-certainty statements; their presence raises a
// candidate's confidence. Matched as case-insensitive substrings.
var strongSignalWords = []string{
	"always", "never", "must", "critical", "important",
	"exactly", "perfect", "wrong", "incorrect",
}

// hedgingWords mark uncertain statements; their presence lowers confidence.
var hedgingWords = []string{
	"maybe", "perhaps", "might", "could", "unsure",
}

const (
	strongSignalBonus = 0.1
	hedgingPenalty    = 0.1
)

// AdjustConfidence converts a model-reported confidence (0-100 scale) into
// the stored [0,1] score: rescale, add the memory type's fixed boost, add a
// bonus for high-certainty wording, subtract a penalty for hedging wording,
// then clamp.
func AdjustConfidence(rawScore float64, memType types.MemoryType, content string) float64 {
	score := rawScore / 100.0
	score += memType.Boost()

	lower := strings.ToLower(content)
	if containsAny(lower, strongSignalWords) {
		score += strongSignalBonus
	}
	if containsAny(lower, hedgingWords) {
		score -= hedgingPenalty
	}

	return clamp01(score)
}

func containsAny(lower string, words []string) bool {
	for _, w := range words {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
