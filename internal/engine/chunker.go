package engine

import (
	"strings"
)

// DefaultChunkSize is the fixed window of consecutive turns per extraction
// chunk. Windows are non-overlapping and in original order; a boundary may
// split a logical exchange, which is accepted as a simplification.
const DefaultChunkSize = 15

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one utterance in a conversation transcript.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChunkTurns splits a transcript into fixed-size non-overlapping windows of
// consecutive turns. The final window may be shorter. size <= 0 falls back to
// DefaultChunkSize.
func ChunkTurns(turns []Turn, size int) [][]Turn {
	if size <= 0 {
		size = DefaultChunkSize
	}

	var chunks [][]Turn
	for start := 0; start < len(turns); start += size {
		end := start + size
		if end > len(turns) {
			end = len(turns)
		}
		chunks = append(chunks, turns[start:end])
	}
	return chunks
}

// FormatChunk renders a chunk as a single text block labelling each turn by
// role, the form the extraction prompt embeds.
func FormatChunk(turns []Turn) string {
	var b strings.Builder
	for _, t := range turns {
		content := strings.TrimSpace(t.Content)
		if content == "" {
			continue
		}
		label := "User"
		if strings.EqualFold(t.Role, RoleAssistant) {
			label = "Assistant"
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(content)
	}
	return b.String()
}
