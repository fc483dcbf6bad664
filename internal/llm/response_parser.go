package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cmdcenter/memorylane/pkg/types"
)

// MemoryCandidate is one candidate memory as returned by the extraction
// prompt. ConfidenceScore is on the model's 0-100 scale; the engine rescales
// and adjusts it before storage.
type MemoryCandidate struct {
	Type            string   `json:"type"`
	Category        string   `json:"category"`
	Title           string   `json:"title"`
	Content         string   `json:"content"`
	SourceExcerpt   string   `json:"sourceExcerpt"`
	RelatedEntities []string `json:"relatedEntities"`
	ConfidenceScore float64  `json:"confidenceScore"`
	Reasoning       string   `json:"reasoning"`
}

// SkippedCandidate records one candidate dropped during parsing, with the
// reason, so callers can log what the model produced that was unusable.
type SkippedCandidate struct {
	Title  string
	Reason string
}

// extractJSONArray extracts the first well-formed JSON array from text that
// may contain extra prose. Models add explanations before/after the JSON
// despite instructions; bracket matching is string- and escape-aware so
// brackets inside string values don't confuse the scan.
func extractJSONArray(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "[")
	if start == -1 {
		return text // no array found, let the parser fail with a useful error
	}

	depth := 0
	inString := false
	escape := false

	for i := start; i < len(text); i++ {
		char := text[i]

		if escape {
			escape = false
			continue
		}
		if char == '\\' {
			escape = true
			continue
		}
		if char == '"' {
			inString = !inString
			continue
		}

		if !inString {
			switch char {
			case '[':
				depth++
			case ']':
				depth--
				if depth == 0 {
					return text[start : i+1]
				}
			}
		}
	}

	return text // unbalanced, let the parser fail
}

// ParseMemoryCandidates parses the extraction response and filters out
// invalid entries. A candidate with an unknown type, missing content, or a
// confidence outside [0,100] is skipped rather than failing the batch; the
// error return is reserved for malformed JSON.
func ParseMemoryCandidates(response string) ([]MemoryCandidate, []SkippedCandidate, error) {
	cleanJSON := extractJSONArray(response)

	var raw []MemoryCandidate
	if err := json.Unmarshal([]byte(cleanJSON), &raw); err != nil {
		return nil, nil, fmt.Errorf("failed to parse extraction JSON: %w", err)
	}

	var valid []MemoryCandidate
	var skipped []SkippedCandidate
	for _, candidate := range raw {
		if !types.MemoryType(candidate.Type).Valid() {
			skipped = append(skipped, SkippedCandidate{
				Title:  candidate.Title,
				Reason: fmt.Sprintf("unknown memory type %q", candidate.Type),
			})
			continue
		}
		if strings.TrimSpace(candidate.Content) == "" {
			skipped = append(skipped, SkippedCandidate{
				Title:  candidate.Title,
				Reason: "empty content",
			})
			continue
		}
		if candidate.ConfidenceScore < 0 || candidate.ConfidenceScore > 100 {
			skipped = append(skipped, SkippedCandidate{
				Title:  candidate.Title,
				Reason: fmt.Sprintf("confidence %v outside [0,100]", candidate.ConfidenceScore),
			})
			continue
		}
		valid = append(valid, candidate)
	}

	return valid, skipped, nil
}
