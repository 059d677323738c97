package continuity

import (
	"encoding/json"
	"testing"
)

func TestContentTextExtraction(t *testing.T) {
	if got := TextContent("plain").Text(); got != "plain" {
		t.Errorf("plain text: %q", got)
	}
	c := PartsContent([]Part{
		{Type: "text", Text: "first "},
		{Type: "image"},
		{Type: "text", Content: "second"},
	})
	if got := c.Text(); got != "first second" {
		t.Errorf("parts extraction: %q", got)
	}
	if !PartsContent(nil).IsEmpty() {
		// nil parts means an empty structured body
		t.Error("expected empty")
	}
}

func TestContentJSONRoundTrip(t *testing.T) {
	var m Message
	if err := json.Unmarshal([]byte(`{"role":"user","content":"hello"}`), &m); err != nil {
		t.Fatalf("string body: %v", err)
	}
	if m.Text() != "hello" {
		t.Errorf("string body text: %q", m.Text())
	}

	if err := json.Unmarshal([]byte(`{"role":"user","content":[{"type":"text","text":"a"},{"text":"b"}]}`), &m); err != nil {
		t.Fatalf("parts body: %v", err)
	}
	if m.Text() != "ab" {
		t.Errorf("parts body text: %q", m.Text())
	}

	out, err := json.Marshal(m.Content)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Content
	if err := json.Unmarshal(out, &back); err != nil {
		t.Fatalf("unmarshal round trip: %v", err)
	}
	if back.Text() != "ab" {
		t.Errorf("round trip text: %q", back.Text())
	}
}
