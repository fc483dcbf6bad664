package llm

import (
	"strings"
	"testing"
)

func TestParseMemoryCandidatesCleanJSON(t *testing.T) {
	response := `[
		{"type":"commitment","category":"engineering","title":"Always use TypeScript",
		 "content":"User requires TypeScript for new backend services",
		 "sourceExcerpt":"Always use TypeScript","relatedEntities":["TypeScript"],
		 "confidenceScore":90,"reasoning":"explicit instruction"},
		{"type":"insight","category":"personal","title":"Prefers mornings",
		 "content":"User schedules deep work in the morning",
		 "sourceExcerpt":"","relatedEntities":[],"confidenceScore":60,"reasoning":"observed"}
	]`

	candidates, skipped, err := ParseMemoryCandidates(response)
	if err != nil {
		t.Fatalf("ParseMemoryCandidates() failed: %v", err)
	}
	if len(skipped) != 0 {
		t.Errorf("skipped: got %v, want none", skipped)
	}
	if len(candidates) != 2 {
		t.Fatalf("candidates: got %d, want 2", len(candidates))
	}
	if candidates[0].Type != "commitment" || candidates[0].ConfidenceScore != 90 {
		t.Errorf("first candidate: got %+v", candidates[0])
	}
	if len(candidates[0].RelatedEntities) != 1 || candidates[0].RelatedEntities[0] != "TypeScript" {
		t.Errorf("RelatedEntities: got %v", candidates[0].RelatedEntities)
	}
}

func TestParseMemoryCandidatesWithSurroundingProse(t *testing.T) {
	response := "Here are the memories I found:\n```json\n" +
		`[{"type":"decision","category":"","title":"Chose Postgres",` +
		`"content":"Team decided on Postgres","sourceExcerpt":"let's go with postgres",` +
		`"relatedEntities":[],"confidenceScore":85,"reasoning":"explicit decision"}]` +
		"\n```\nLet me know if you need more."

	candidates, _, err := ParseMemoryCandidates(response)
	if err != nil {
		t.Fatalf("ParseMemoryCandidates() failed: %v", err)
	}
	if len(candidates) != 1 || candidates[0].Title != "Chose Postgres" {
		t.Errorf("candidates: got %+v", candidates)
	}
}

func TestParseMemoryCandidatesEmptyArray(t *testing.T) {
	candidates, skipped, err := ParseMemoryCandidates("[]")
	if err != nil {
		t.Fatalf("ParseMemoryCandidates() failed: %v", err)
	}
	if len(candidates) != 0 || len(skipped) != 0 {
		t.Errorf("got %d candidates, %d skipped; want 0, 0", len(candidates), len(skipped))
	}
}

func TestParseMemoryCandidatesFiltersInvalid(t *testing.T) {
	response := `[
		{"type":"prophecy","title":"Bad type","content":"something","confidenceScore":50},
		{"type":"decision","title":"No content","content":"   ","confidenceScore":50},
		{"type":"decision","title":"Bad confidence","content":"something","confidenceScore":150},
		{"type":"learning","title":"Good","content":"User learned Go generics","confidenceScore":70}
	]`

	candidates, skipped, err := ParseMemoryCandidates(response)
	if err != nil {
		t.Fatalf("ParseMemoryCandidates() failed: %v", err)
	}
	if len(candidates) != 1 || candidates[0].Title != "Good" {
		t.Fatalf("candidates: got %+v, want just the valid one", candidates)
	}
	if len(skipped) != 3 {
		t.Fatalf("skipped: got %d, want 3", len(skipped))
	}
	reasons := make([]string, 0, len(skipped))
	for _, s := range skipped {
		reasons = append(reasons, s.Reason)
	}
	joined := strings.Join(reasons, "; ")
	for _, want := range []string{"unknown memory type", "empty content", "outside [0,100]"} {
		if !strings.Contains(joined, want) {
			t.Errorf("skip reasons %q missing %q", joined, want)
		}
	}
}

func TestParseMemoryCandidatesMalformedJSON(t *testing.T) {
	if _, _, err := ParseMemoryCandidates("I couldn't find any memories, sorry!"); err == nil {
		t.Error("expected error for prose-only response, got nil")
	}
	if _, _, err := ParseMemoryCandidates(`[{"type":"decision","content":`); err == nil {
		t.Error("expected error for truncated JSON, got nil")
	}
}

func TestExtractJSONArrayBracketMatching(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "brackets inside strings are ignored",
			input: `noise [{"title":"uses [x] notation","content":"a]b"}] trailer`,
			want:  `[{"title":"uses [x] notation","content":"a]b"}]`,
		},
		{
			name:  "escaped quotes inside strings",
			input: `[{"title":"said \"always\" twice"}]`,
			want:  `[{"title":"said \"always\" twice"}]`,
		},
		{
			name:  "nested arrays",
			input: `answer: [{"relatedEntities":["a","b"]}]`,
			want:  `[{"relatedEntities":["a","b"]}]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractJSONArray(tt.input); got != tt.want {
				t.Errorf("extractJSONArray() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMemoryExtractionPromptMentionsAllTypes(t *testing.T) {
	prompt := MemoryExtractionPrompt("User: hello")

	for _, typeName := range []string{
		"correction", "decision", "commitment", "insight", "learning",
		"confidence", "pattern_seed", "cross_agent", "workflow_note", "gap",
	} {
		if !strings.Contains(prompt, typeName) {
			t.Errorf("prompt missing memory type %q", typeName)
		}
	}
	if !strings.Contains(prompt, "User: hello") {
		t.Error("prompt missing the conversation chunk")
	}
	if !strings.Contains(prompt, "JSON array") {
		t.Error("prompt missing JSON array instruction")
	}
}
