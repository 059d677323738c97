package continuity

import (
	"encoding/json"
	"strings"
)

// Content is a message body that hosts deliver either as a plain string or
// as a list of typed parts. The zero value is an empty text body.
type Content struct {
	text  string
	parts []Part
}

// TextContent wraps a plain string body.
func TextContent(s string) Content {
	return Content{text: s}
}

// PartsContent wraps a structured multi-part body.
func PartsContent(parts []Part) Content {
	return Content{parts: parts}
}

// Text extracts the plain text of the body. For a multi-part body the text
// fields are concatenated in order; parts without text fall back to their
// content field.
func (c Content) Text() string {
	if c.parts == nil {
		return c.text
	}
	var b strings.Builder
	for _, p := range c.parts {
		switch {
		case p.Text != "":
			b.WriteString(p.Text)
		case p.Content != "":
			b.WriteString(p.Content)
		}
	}
	return b.String()
}

// Parts returns the structured parts, or nil for a plain string body.
func (c Content) Parts() []Part {
	return c.parts
}

// IsEmpty reports whether the body carries no text at all.
func (c Content) IsEmpty() bool {
	return c.Text() == ""
}

// UnmarshalJSON accepts either a JSON string or an array of part objects.
func (c *Content) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var parts []Part
		if err := json.Unmarshal(data, &parts); err != nil {
			return err
		}
		*c = Content{parts: parts}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*c = Content{text: s}
	return nil
}

// MarshalJSON emits the original shape: a string for plain bodies, an array
// for multi-part bodies.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.parts != nil {
		return json.Marshal(c.parts)
	}
	return json.Marshal(c.text)
}
