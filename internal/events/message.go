// Package events implements the NDJSON Event Translator (C5): it consumes
// best-effort byte chunks from an agent's stdout, reassembles newline-
// delimited JSON messages, and republishes a typed stream of UI events.
//
// Grounded structurally on the protocol package's tagged-envelope pattern
// (a Type discriminator plus per-kind optional fields) and on
// cmd/runner/main.go's bufio.Scanner line-buffering loop over a PTY,
// generalized here from a sentinel-delimited exec protocol into a
// persistent per-session NDJSON stream with stateful translation.
package events

// AgentMessageType is the top-level "type" discriminator of a message
// emitted by the agent process (spec.md §4.5).
type AgentMessageType string

const (
	AgentSystem    AgentMessageType = "system"
	AgentAssistant AgentMessageType = "assistant"
	AgentUser      AgentMessageType = "user"
	AgentResult    AgentMessageType = "result"
)

// ContentBlockType discriminates entries of a nested message.content array.
type ContentBlockType string

const (
	BlockText       ContentBlockType = "text"
	BlockThinking   ContentBlockType = "thinking"
	BlockToolUse    ContentBlockType = "tool_use"
	BlockToolResult ContentBlockType = "tool_result"
)

// ContentBlock is one entry of the nested assistant message.content form.
type ContentBlock struct {
	Type      ContentBlockType `json:"type"`
	Text      string           `json:"text,omitempty"`
	ID        string           `json:"id,omitempty"`
	Name      string           `json:"name,omitempty"`
	Input     map[string]any   `json:"input,omitempty"`
	ToolUseID string           `json:"tool_use_id,omitempty"`
	Content   string           `json:"content,omitempty"`
	IsError   bool             `json:"is_error,omitempty"`
}

// NestedMessage is the inner "message" object carried by some assistant
// envelopes (spec.md §4.5 "nested form").
type NestedMessage struct {
	Content []ContentBlock `json:"content,omitempty"`
}

// AgentMessage is the flat superset of every shape the translator accepts.
// Unused fields for a given type/subtype combination are simply zero.
type AgentMessage struct {
	Type    AgentMessageType `json:"type"`
	Subtype string           `json:"subtype,omitempty"`

	// system/init
	SessionID string   `json:"session_id,omitempty"`
	Tools     []string `json:"tools,omitempty"`
	Model     string   `json:"model,omitempty"`
	Cwd       string   `json:"cwd,omitempty"`

	// assistant/text, assistant/thinking (flat form)
	Text string `json:"text,omitempty"`

	// assistant/tool_use (flat form)
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// user/tool_result (flat form)
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`

	// nested form
	Message *NestedMessage `json:"message,omitempty"`

	// result
	CostUSD    float64 `json:"cost_usd,omitempty"`
	DurationMs int64   `json:"duration_ms,omitempty"`
	NumTurns   int     `json:"num_turns,omitempty"`
}
