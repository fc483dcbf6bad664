// Package importer parses conversation transcript files and feeds them to the
// memory extractor. Transcripts are plain text with optional YAML frontmatter
// and turns labelled "User:" / "Assistant:".
package importer

import (
	"bufio"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cmdcenter/memorylane/internal/engine"
)

// ParsedTranscript is a single transcript file ready for extraction.
type ParsedTranscript struct {
	// Path is the absolute filesystem path to the file.
	Path string

	// RelativePath is the path relative to the import root; it doubles as the
	// session key for extraction memoization.
	RelativePath string

	// Title from frontmatter, or the filename.
	Title string

	// SessionID from frontmatter, optional.
	SessionID string

	// Agent names the assistant the conversation was held with, optional.
	Agent string

	// Frontmatter holds the raw parsed YAML key/value pairs.
	Frontmatter map[string]interface{}

	// Turns is the parsed conversation in original order.
	Turns []engine.Turn

	// Timestamp is from the frontmatter "date" field, or zero if absent.
	Timestamp time.Time
}

// SessionKey identifies this transcript for extraction memoization.
func (p *ParsedTranscript) SessionKey() string {
	if p.SessionID != "" {
		return p.SessionID
	}
	return p.RelativePath
}

// ParseTranscript parses one transcript file's content. The relative path
// names the session when frontmatter carries no session id.
func ParseTranscript(content []byte, absolutePath, relativePath string) (*ParsedTranscript, error) {
	fm, body, err := splitFrontmatter(string(content))
	if err != nil {
		return nil, fmt.Errorf("frontmatter parse error in %s: %w", relativePath, err)
	}

	turns := parseTurns(body)
	if len(turns) == 0 {
		return nil, fmt.Errorf("no conversation turns found in %s", relativePath)
	}

	parsed := &ParsedTranscript{
		Path:         absolutePath,
		RelativePath: relativePath,
		Title:        extractString(fm, "title", titleFromPath(relativePath)),
		SessionID:    extractString(fm, "session_id", ""),
		Agent:        extractString(fm, "agent", ""),
		Frontmatter:  fm,
		Turns:        turns,
		Timestamp:    extractTimestamp(fm),
	}
	return parsed, nil
}

// splitFrontmatter separates YAML frontmatter (between --- delimiters) from
// the transcript body. Returns an empty map and the full text when no
// frontmatter is found.
func splitFrontmatter(text string) (map[string]interface{}, string, error) {
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return map[string]interface{}{}, text, nil
	}

	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			end = i
			break
		}
	}
	if end == -1 {
		return map[string]interface{}{}, text, nil
	}

	fm := map[string]interface{}{}
	raw := strings.Join(lines[1:end], "\n")
	if strings.TrimSpace(raw) != "" {
		if err := yaml.Unmarshal([]byte(raw), &fm); err != nil {
			return nil, "", err
		}
	}

	body := strings.Join(lines[end+1:], "\n")
	return fm, body, nil
}

// parseTurns reads "User:" / "Assistant:" labelled turns. Unlabelled lines
// continue the current turn; text before the first label is ignored.
func parseTurns(body string) []engine.Turn {
	var turns []engine.Turn
	var current *engine.Turn
	var buf strings.Builder

	flush := func() {
		if current != nil {
			current.Content = strings.TrimSpace(buf.String())
			if current.Content != "" {
				turns = append(turns, *current)
			}
		}
		buf.Reset()
	}

	for _, line := range strings.Split(body, "\n") {
		if role, rest, ok := turnLabel(line); ok {
			flush()
			current = &engine.Turn{Role: role}
			buf.WriteString(rest)
			continue
		}
		if current != nil {
			buf.WriteByte('\n')
			buf.WriteString(line)
		}
	}
	flush()
	return turns
}

// turnLabel matches a "User:" or "Assistant:" prefix, case-insensitively.
func turnLabel(line string) (role, rest string, ok bool) {
	trimmed := strings.TrimSpace(line)
	lower := strings.ToLower(trimmed)
	switch {
	case strings.HasPrefix(lower, "user:"):
		return engine.RoleUser, strings.TrimSpace(trimmed[len("user:"):]), true
	case strings.HasPrefix(lower, "assistant:"):
		return engine.RoleAssistant, strings.TrimSpace(trimmed[len("assistant:"):]), true
	}
	return "", "", false
}

func titleFromPath(relativePath string) string {
	base := relativePath
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.LastIndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	return base
}

func extractString(fm map[string]interface{}, key, fallback string) string {
	if v, ok := fm[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return fallback
}

func extractTimestamp(fm map[string]interface{}) time.Time {
	v, ok := fm["date"]
	if !ok {
		return time.Time{}
	}
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed
			}
		}
	}
	return time.Time{}
}
