package continuity

import (
	"encoding/json"
	"strings"
	"testing"
)

func cachedExchanges() []ScoredExchange {
	return []ScoredExchange{
		{
			Exchange: Exchange{
				Date: "2025-06-01", Index: 0,
				UserText:  "I love sourdough",
				AgentText: "Great bake!",
				Combined:  "[2025-06-01 09:00]\nUser: I love sourdough\nAgent: Great bake!",
			},
			Distance: 0.2,
		},
	}
}

func TestEnrichThinResult(t *testing.T) {
	msg := Message{Role: RoleTool, ToolName: MemorySearchTool, Content: TextContent(`{"results": []}`)}
	out, changed := enrichToolResult(msg, cachedExchanges(), NewNoiseFilter(NoiseConfig{}), "archive")
	if !changed {
		t.Fatal("expected enrichment")
	}
	text := out.Text()
	if !strings.HasPrefix(text, "You remember these conversations with this user:") {
		t.Errorf("missing recall header: %q", text)
	}
	if !strings.Contains(text, `"I love sourdough"`) || !strings.Contains(text, `"Great bake!"`) {
		t.Errorf("cached texts missing: %q", text)
	}
	if !strings.Contains(text, "Speak from this memory naturally when answering.") {
		t.Errorf("missing trailer: %q", text)
	}

	// The tail must still be valid JSON with the synthesized entry.
	jsonPart := text[strings.Index(text, "{"):]
	var payload struct {
		Results []archiveResult `json:"results"`
	}
	if err := json.Unmarshal([]byte(jsonPart), &payload); err != nil {
		t.Fatalf("modified payload not JSON: %v", err)
	}
	if len(payload.Results) != 1 {
		t.Fatalf("expected 1 synthesized entry, got %d", len(payload.Results))
	}
	r := payload.Results[0]
	if r.ID != "archive_2025-06-01_0" || r.Source != "conversation-archive" {
		t.Errorf("unexpected entry: %+v", r)
	}
	if r.Path != "archive/2025-06-01.json" {
		t.Errorf("unexpected path %q", r.Path)
	}
	if diff := float64(r.Score) - 0.8; diff < -1e-6 || diff > 1e-6 {
		t.Errorf("score = %v, want 1-distance = 0.8", r.Score)
	}
}

func TestEnrichSkipsRichResults(t *testing.T) {
	msg := Message{Content: TextContent(`{"results": [{"id":"a"},{"id":"b"}]}`)}
	if _, changed := enrichToolResult(msg, cachedExchanges(), NewNoiseFilter(NoiseConfig{}), "archive"); changed {
		t.Error("two or more results must pass through untouched")
	}
}

func TestEnrichToleratesBadPayload(t *testing.T) {
	filter := NewNoiseFilter(NoiseConfig{})
	for _, body := range []string{"", "not json", `{"other": 1}`, `{"results": "nope"}`} {
		msg := Message{Content: TextContent(body)}
		if _, changed := enrichToolResult(msg, cachedExchanges(), filter, "archive"); changed {
			t.Errorf("payload %q must pass through untouched", body)
		}
	}
}

func TestEnrichWithoutCache(t *testing.T) {
	msg := Message{Content: TextContent(`{"results": []}`)}
	if _, changed := enrichToolResult(msg, nil, NewNoiseFilter(NoiseConfig{}), "archive"); changed {
		t.Error("no cache means no enrichment")
	}
}

func TestEnrichFiltersNoise(t *testing.T) {
	noisy := []ScoredExchange{{
		Exchange: Exchange{
			Date: "2025-06-01", Index: 0,
			UserText:  "do you remember my recipe?",
			AgentText: "I don't have any information about that",
		},
	}}
	msg := Message{Content: TextContent(`{"results": []}`)}
	if _, changed := enrichToolResult(msg, noisy, NewNoiseFilter(NoiseConfig{}), "archive"); changed {
		t.Error("noise-only cache must not enrich")
	}
}
