// Package llm provides LLM provider clients for memory extraction and text
// embedding, a strict JSON-only extraction prompt, and the response parser
// that recovers candidate memories from imperfect model output.
package llm

import (
	"fmt"

	"github.com/cmdcenter/memorylane/pkg/types"
)

// memoryTypeDescriptions maps each memory type to a brief prompt description.
var memoryTypeDescriptions = map[types.MemoryType]string{
	types.TypeCorrection:   "User corrected the assistant or themselves (HIGH priority)",
	types.TypeDecision:     "A decision was made or confirmed (HIGH priority)",
	types.TypeCommitment:   "A commitment, rule, or standing instruction was stated (HIGH priority)",
	types.TypeInsight:      "A non-obvious realization about the user or their work (MEDIUM priority)",
	types.TypeLearning:     "Something new was learned or explained (MEDIUM priority)",
	types.TypeConfidence:   "Expression of certainty or doubt about an approach (MEDIUM priority)",
	types.TypePatternSeed:  "A possible recurring behavior, not yet confirmed (LOW priority)",
	types.TypeCrossAgent:   "Information relevant across different assistants or tools (LOW priority)",
	types.TypeWorkflowNote: "An observation about how the user works (LOW priority)",
	types.TypeGap:          "A gap in knowledge or missing context was revealed (LOW priority)",
}

// promptTypeOrder fixes the listing order so prompts are deterministic.
var promptTypeOrder = []types.MemoryType{
	types.TypeCorrection,
	types.TypeDecision,
	types.TypeCommitment,
	types.TypeInsight,
	types.TypeLearning,
	types.TypeConfidence,
	types.TypePatternSeed,
	types.TypeCrossAgent,
	types.TypeWorkflowNote,
	types.TypeGap,
}

// MemoryExtractionPrompt generates a strict JSON-only prompt asking the model
// to identify candidate memories in a conversation chunk. An empty array is a
// valid response for chunks with nothing noteworthy.
func MemoryExtractionPrompt(chunk string) string {
	typeList := ""
	for _, t := range promptTypeOrder {
		typeList += fmt.Sprintf("- %s: %s\n", t, memoryTypeDescriptions[t])
	}

	return fmt.Sprintf(`TASK: Extract memories worth keeping from a conversation chunk.
OUTPUT: ONLY a valid JSON array. NO markdown. NO code blocks. NO backticks. NO explanations.

A memory is a durable fact about the user worth recalling in future sessions.
EXTRACTION TRIGGERS (extract when you see):
- Corrections ("no, actually...", "that's wrong")
- Strong sentiment words (always, never, must, critical, important)
- Repeated requests or recurring topics
- Explicit preferences, decisions, or commitments

MEMORY TYPES (ONLY these 10):
%s
REQUIRED JSON STRUCTURE:
Your response MUST start with [ and end with ]
Each element MUST have: type, category, title, content, sourceExcerpt, relatedEntities, confidenceScore, reasoning

Example structure (EXACT FORMAT REQUIRED):
[
  {"type":"commitment","category":"engineering","title":"Always use TypeScript","content":"User requires TypeScript for all new backend services","sourceExcerpt":"Always use TypeScript for new backend services","relatedEntities":["project:TypeScript"],"confidenceScore":90,"reasoning":"explicit standing instruction"}
]

VALIDATION (STRICT):
1. Start with [ - End with ]
2. Each element is an object with exactly the 8 fields above
3. type EXACTLY one of the 10 listed types
4. relatedEntities is an array of entity names (may be empty), each prefixed with its kind and a colon; kinds: person, project, business, location (example: "person:Sarah Chen")
5. confidenceScore is an integer 0-100
6. No null values, no trailing commas, valid JSON syntax
7. Return [] if nothing is worth remembering

CONVERSATION CHUNK:
%s

RESPOND WITH ONLY THE JSON ARRAY (nothing else):`, typeList, chunk)
}
