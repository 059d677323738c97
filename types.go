package continuity

import (
	"encoding/json"
	"time"
)

// --- Domain types ---

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
	RoleFunction  Role = "function"
)

// Part is one element of a structured message body. Hosts differ in which
// field carries the text, so extraction checks Text first, then Content.
type Part struct {
	Type    string `json:"type,omitempty"`
	Text    string `json:"text,omitempty"`
	Content string `json:"content,omitempty"`
}

// ToolCall is a tool invocation attached to an assistant message.
type ToolCall struct {
	ID   string          `json:"id,omitempty"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Message is a single conversation message as delivered by the host runtime.
// Timestamp may be zero when the host does not stamp messages; the archiver
// substitutes the current time.
type Message struct {
	Role       Role           `json:"role"`
	Content    Content        `json:"content"`
	Timestamp  time.Time      `json:"timestamp,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
	ToolParams map[string]any `json:"tool_params,omitempty"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
}

// Text returns the plain text of the message body.
func (m Message) Text() string {
	return m.Content.Text()
}

// IsToolRelated reports whether the message is a tool/function result or an
// assistant message carrying tool calls. Used to pick the compaction strategy.
func (m Message) IsToolRelated() bool {
	return m.Role == RoleTool || m.Role == RoleFunction || len(m.ToolCalls) > 0
}

// Exchange is a paired (user, agent) turn, the unit of indexing. Either side
// may be empty when the stream had an orphan user message or a leading
// assistant message.
type Exchange struct {
	ID        string `json:"id"`
	Date      string `json:"date"` // YYYY-MM-DD
	Index     int    `json:"exchange_index"`
	UserText  string `json:"user_text"`
	AgentText string `json:"agent_text"`
	Combined  string `json:"combined"`
	CreatedAt int64  `json:"created_at"` // Unix seconds
}

// ScoredExchange is an Exchange annotated with retrieval scores.
// Distance is the vector distance (lower is more similar); RRF and Composite
// are populated by the hybrid searcher, where higher is better.
type ScoredExchange struct {
	Exchange
	Distance  float32 `json:"distance"`
	RRF       float32 `json:"rrf"`
	Composite float32 `json:"composite"`
}

// StoreStats summarizes the contents of an exchange store.
type StoreStats struct {
	Exchanges int `json:"exchanges"`
	Dates     int `json:"dates"`
}
