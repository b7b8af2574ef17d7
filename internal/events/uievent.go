package events

// UIEventKind discriminates the translator's output stream
// (spec.md §4.5 "Output").
type UIEventKind string

const (
	EventSessionStarted UIEventKind = "session_started"
	EventTextBlock      UIEventKind = "text_block"
	EventThinkingBlock  UIEventKind = "thinking_block"

	EventFileWriteStart UIEventKind = "file_write_start"
	EventFileWriteChunk UIEventKind = "file_write_chunk"
	EventFileWriteEnd   UIEventKind = "file_write_end"

	EventFileEditStart UIEventKind = "file_edit_start"
	EventFileEditDiff  UIEventKind = "file_edit_diff"
	EventFileEditEnd   UIEventKind = "file_edit_end"

	EventCommandStart  UIEventKind = "command_start"
	EventCommandOutput UIEventKind = "command_output"
	EventCommandEnd    UIEventKind = "command_end"

	EventToolStart UIEventKind = "tool_start"
	EventToolEnd   UIEventKind = "tool_end"

	EventArtifactDetected UIEventKind = "artifact_detected"
	EventArtifactReady    UIEventKind = "artifact_ready"

	EventUsage        UIEventKind = "usage"
	EventMessageEnd   UIEventKind = "message_end"
	EventSessionEnded UIEventKind = "session_ended"
	EventError        UIEventKind = "error"
	EventRawOutput    UIEventKind = "raw_output"
)

// Activity is the translator's coarse state machine (spec.md §4.5).
type Activity string

const (
	ActivityIdle      Activity = "idle"
	ActivityThinking  Activity = "thinking"
	ActivityWriting   Activity = "writing"
	ActivityEditing   Activity = "editing"
	ActivityExecuting Activity = "executing"
	ActivityArtifact  Activity = "artifact"
	ActivityError     Activity = "error"
)

// UIEvent is one item of the translator's output stream. Fields not
// applicable to Kind are left zero; this mirrors the small discriminated-
// union shape spec.md §9 asks for ("prefer per-field typed access over
// string-keyed lookups").
type UIEvent struct {
	Kind UIEventKind `json:"kind"`

	// session_started
	WorkspacePath string `json:"workspacePath,omitempty"`
	Model         string `json:"model,omitempty"`
	Tools         []string `json:"tools,omitempty"`

	// text_block / thinking_block
	Text string `json:"text,omitempty"`

	// file_write_*, file_edit_*
	Path  string `json:"path,omitempty"`
	Chunk string `json:"chunk,omitempty"`
	Diff  string `json:"diff,omitempty"`

	// command_*
	Command    string `json:"command,omitempty"`
	Output     string `json:"output,omitempty"`
	Stream     string `json:"stream,omitempty"` // stdout | stderr
	ExitCode   int    `json:"exitCode,omitempty"`

	// tool_start / tool_end (generic, non-specialised tools only)
	ToolName string `json:"toolName,omitempty"`
	ToolID   string `json:"toolId,omitempty"`

	// artifact_detected / artifact_ready
	ArtifactURL  string `json:"artifactUrl,omitempty"`
	ArtifactType string `json:"artifactType,omitempty"`

	// usage
	InputTokens  int     `json:"inputTokens,omitempty"`
	OutputTokens int     `json:"outputTokens,omitempty"`
	CostUSD      float64 `json:"costUsd,omitempty"`

	// session_ended
	Reason string `json:"reason,omitempty"`

	// error
	Error string `json:"error,omitempty"`

	// raw_output
	Raw string `json:"raw,omitempty"`
}
