package continuity

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"
)

// MemorySearchTool is the host tool whose persisted results are enriched
// with archive recall.
const MemorySearchTool = "memory_search"

const (
	enrichMaxEntries   = 5
	enrichSnippetLimit = 700
)

// archiveResult is one synthesized entry spliced into a memory_search
// payload.
type archiveResult struct {
	ID      string  `json:"id"`
	Path    string  `json:"path"`
	Snippet string  `json:"snippet"`
	Source  string  `json:"source"`
	Score   float32 `json:"score"`
}

// enrichToolResult splices cached archive retrieval into a thin
// memory_search result. It is strictly synchronous: the only inputs are the
// message and the cache populated earlier in the turn. Returns the modified
// message and whether anything changed.
func enrichToolResult(msg Message, cached []ScoredExchange, filter *NoiseFilter, archiveDir string) (Message, bool) {
	text := msg.Text()
	if strings.TrimSpace(text) == "" || len(cached) == 0 {
		return msg, false
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return msg, false
	}
	results, ok := payload["results"].([]any)
	if !ok {
		return msg, false
	}
	if len(results) >= 2 {
		return msg, false
	}

	survivors := filter.Filter(cached)
	if len(survivors) == 0 {
		return msg, false
	}
	if len(survivors) > enrichMaxEntries {
		survivors = survivors[:enrichMaxEntries]
	}
	sortChronological(survivors)

	for _, ex := range survivors {
		results = append(results, archiveResult{
			ID:      fmt.Sprintf("archive_%s_%d", ex.Date, ex.Index),
			Path:    path.Join(archiveDir, ex.Date+".json"),
			Snippet: truncateRunes(ex.Combined, enrichSnippetLimit),
			Source:  "conversation-archive",
			Score:   1 - ex.Distance,
		})
	}
	payload["results"] = results

	modified, err := json.Marshal(payload)
	if err != nil {
		return msg, false
	}

	var b strings.Builder
	b.WriteString("You remember these conversations with this user:\n")
	for _, ex := range survivors {
		if ex.UserText != "" {
			fmt.Fprintf(&b, "- They told you: %q\n", truncateRunes(ex.UserText, recallTextLimit))
		}
		if ex.AgentText != "" {
			fmt.Fprintf(&b, "  You said: %q\n", truncateRunes(ex.AgentText, recallTextLimit))
		}
	}
	b.WriteString("Speak from this memory naturally when answering.\n\n")
	b.Write(modified)

	msg.Content = TextContent(b.String())
	return msg, true
}
