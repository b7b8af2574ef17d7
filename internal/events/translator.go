package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// toolCategory is the tool-name classification used by translation rule 4.
type toolCategory string

const (
	categoryWrite toolCategory = "write"
	categoryEdit  toolCategory = "edit"
	categoryExec  toolCategory = "exec"
	categoryOther toolCategory = "other"
)

func classifyTool(name string) toolCategory {
	lower := strings.ToLower(name)
	if strings.Contains(lower, "todo") {
		return categoryOther
	}
	switch {
	case strings.Contains(lower, "write") || strings.Contains(lower, "create"):
		return categoryWrite
	case strings.Contains(lower, "edit") || strings.Contains(lower, "replace"):
		return categoryEdit
	case strings.Contains(lower, "bash") || strings.Contains(lower, "shell") || strings.Contains(lower, "run") || strings.Contains(lower, "exec"):
		return categoryExec
	default:
		return categoryOther
	}
}

// activeTool tracks an in-flight tool_use awaiting its tool_result.
type activeTool struct {
	name     string
	category toolCategory
	input    map[string]any
}

// Sink receives translated UI events in emission order.
type Sink func(UIEvent)

// Translator holds the per-session mutable state for framing, thinking
// coalescing, turn tracking, and tool deduplication (spec.md §4.5, §9
// "Translator state is per-session and accessed only from the PTY reader
// task" — callers are expected to invoke Feed from a single goroutine).
type Translator struct {
	mu sync.Mutex

	sink Sink

	lineBuf bytes.Buffer

	thinkingOpen bool
	turnHasText  bool

	active map[string]*activeTool // tool_use id -> info
	seen   map[string]bool        // tool_use ids ever seen, for dedup

	activity Activity
}

// NewTranslator constructs a Translator that publishes to sink.
func NewTranslator(sink Sink) *Translator {
	return &Translator{
		sink:     sink,
		active:   make(map[string]*activeTool),
		seen:     make(map[string]bool),
		activity: ActivityIdle,
	}
}

func (t *Translator) emit(e UIEvent) {
	if t.sink != nil {
		t.sink(e)
	}
}

// BeginTurn marks the start of a new turn (spec.md §4.5 rule 3: "a new
// turn begins when a human/user input arrives"). Callers invoke this when
// they write human input to the agent's stdin.
func (t *Translator) BeginTurn() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.turnHasText = false
}

// Feed appends a chunk of raw agent stdout, extracting and translating
// every complete line it contains. Incomplete trailing text remains
// buffered for the next call (rule 1).
func (t *Translator) Feed(chunk []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lineBuf.Write(chunk)
	for {
		data := t.lineBuf.Bytes()
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		line := data[:idx]
		t.lineBuf.Next(idx + 1)
		t.handleLine(line)
	}
}

func (t *Translator) handleLine(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(bytes.TrimSpace(line)) == 0 {
		return
	}

	var msg AgentMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		// rule 1: malformed/non-JSON lines are discarded silently.
		return
	}
	t.handleMessage(&msg)
}

func (t *Translator) handleMessage(msg *AgentMessage) {
	switch msg.Type {
	case AgentSystem:
		t.handleSystem(msg)
	case AgentAssistant:
		t.handleAssistant(msg)
	case AgentUser:
		t.handleUser(msg)
	case AgentResult:
		t.handleResult(msg)
	}
}

func (t *Translator) handleSystem(msg *AgentMessage) {
	if msg.Subtype != "init" && msg.Subtype != "" {
		return
	}
	t.emit(UIEvent{
		Kind:          EventSessionStarted,
		WorkspacePath: msg.Cwd,
		Model:         msg.Model,
		Tools:         msg.Tools,
	})
}

func (t *Translator) handleAssistant(msg *AgentMessage) {
	if msg.Message != nil && len(msg.Message.Content) > 0 {
		for i := range msg.Message.Content {
			t.handleContentBlock(&msg.Message.Content[i])
		}
		return
	}

	switch msg.Subtype {
	case "text":
		t.closeThinking()
		t.emitText(msg.Text)
	case "thinking":
		t.openThinking(msg.Text)
	case "tool_use":
		t.handleToolUse(msg.ID, msg.Name, msg.Input)
	}
}

func (t *Translator) handleContentBlock(b *ContentBlock) {
	switch b.Type {
	case BlockText:
		t.closeThinking()
		t.emitText(b.Text)
	case BlockThinking:
		t.openThinking(b.Text)
	case BlockToolUse:
		t.handleToolUse(b.ID, b.Name, b.Input)
	case BlockToolResult:
		t.handleToolResult(b.ToolUseID, b.Content, b.IsError)
	}
}

func (t *Translator) handleUser(msg *AgentMessage) {
	if msg.Message != nil && len(msg.Message.Content) > 0 {
		for i := range msg.Message.Content {
			if msg.Message.Content[i].Type == BlockToolResult {
				b := msg.Message.Content[i]
				t.handleToolResult(b.ToolUseID, b.Content, b.IsError)
			}
		}
		return
	}
	if msg.Subtype == "tool_result" {
		t.handleToolResult(msg.ToolUseID, msg.Content, msg.IsError)
	}
}

func (t *Translator) emitText(text string) {
	t.turnHasText = true
	t.activity = ActivityIdle
	t.emit(UIEvent{Kind: EventTextBlock, Text: text})
}

// openThinking implements rule 2 (thinking coalescing): a thinking event
// opens a block; subsequent thinking events append.
func (t *Translator) openThinking(text string) {
	t.activity = ActivityThinking
	t.thinkingOpen = true
	t.emit(UIEvent{Kind: EventThinkingBlock, Text: text})
}

func (t *Translator) closeThinking() {
	t.thinkingOpen = false
}

// handleToolUse implements rules 3 (synthetic narration), 4 (tool
// specialisation), and 5 (dedup-by-id).
func (t *Translator) handleToolUse(id, name string, input map[string]any) {
	t.closeThinking()

	if t.seen[id] {
		return // rule 5: repeat id dropped
	}
	t.seen[id] = true

	category := classifyTool(name)
	t.active[id] = &activeTool{name: name, category: category, input: input}

	if !t.turnHasText {
		t.emitText(synthesizeNarration(name, input))
	}

	switch category {
	case categoryWrite:
		t.activity = ActivityWriting
		t.emit(UIEvent{Kind: EventFileWriteStart, Path: inputPath(input), ToolID: id})
	case categoryEdit:
		t.activity = ActivityEditing
		t.emit(UIEvent{Kind: EventFileEditStart, Path: inputPath(input), ToolID: id})
	case categoryExec:
		t.activity = ActivityExecuting
		t.emit(UIEvent{Kind: EventCommandStart, Command: inputCommand(input), ToolID: id})
	default:
		t.emit(UIEvent{Kind: EventToolStart, ToolName: name, ToolID: id})
	}
}

// handleToolResult implements rule 5 (id must be active to be honoured)
// and rule 6 (artifact detection on exec results).
func (t *Translator) handleToolResult(id, content string, isError bool) {
	info, ok := t.active[id]
	if !ok {
		return
	}
	delete(t.active, id)

	switch info.category {
	case categoryWrite:
		if content != "" {
			t.emit(UIEvent{Kind: EventFileWriteChunk, Path: inputPath(info.input), Chunk: content, ToolID: id})
		}
		t.emit(UIEvent{Kind: EventFileWriteEnd, Path: inputPath(info.input), ToolID: id})
	case categoryEdit:
		if content != "" {
			t.emit(UIEvent{Kind: EventFileEditDiff, Path: inputPath(info.input), Diff: content, ToolID: id})
		}
		t.emit(UIEvent{Kind: EventFileEditEnd, Path: inputPath(info.input), ToolID: id})
	case categoryExec:
		exitCode := 0
		if isError {
			exitCode = 1
		}
		if content != "" {
			t.emit(UIEvent{Kind: EventCommandOutput, Output: content, Stream: "stdout", ToolID: id})
		}
		t.emit(UIEvent{Kind: EventCommandEnd, ExitCode: exitCode, ToolID: id})
		t.detectArtifact(inputCommand(info.input), content)
	default:
		t.emit(UIEvent{Kind: EventToolEnd, ToolName: info.name, ToolID: id})
	}
	t.activity = ActivityIdle
}

// detectArtifact implements rule 6: scan an exec result for well-known
// "listening" / local-URL patterns and, on match, emit a detected/ready
// pair with a heuristic artifact type.
var (
	listeningRe = regexp.MustCompile(`(?i)listening on (?:port\s+)?(\d{2,5})`)
	localURLRe  = regexp.MustCompile(`https?://(?:localhost|127\.0\.0\.1)(?::(\d{2,5}))?\S*`)
)

func (t *Translator) detectArtifact(command, output string) {
	var url string
	if m := localURLRe.FindString(output); m != "" {
		url = m
	} else if m := listeningRe.FindStringSubmatch(output); len(m) == 2 {
		url = fmt.Sprintf("http://localhost:%s", m[1])
	} else {
		return
	}

	artifactType := "generic-web-app"
	lowerCmd := strings.ToLower(command)
	if strings.Contains(lowerCmd, "react") || strings.Contains(lowerCmd, "vite") || strings.Contains(lowerCmd, "npm") || strings.Contains(lowerCmd, "yarn") {
		artifactType = "react-app"
	}

	t.activity = ActivityArtifact
	t.emit(UIEvent{Kind: EventArtifactDetected, ArtifactURL: url})
	t.emit(UIEvent{Kind: EventArtifactReady, ArtifactURL: url, ArtifactType: artifactType})
}

// handleResult implements rule 7 (termination).
func (t *Translator) handleResult(msg *AgentMessage) {
	t.closeThinking()
	t.emit(UIEvent{Kind: EventMessageEnd})

	reason := "user"
	if msg.IsError || msg.Subtype == "error" {
		reason = "error"
		t.activity = ActivityError
	} else {
		t.activity = ActivityIdle
	}

	t.emit(UIEvent{Kind: EventSessionEnded, Reason: reason})
}

func synthesizeNarration(name string, input map[string]any) string {
	switch classifyTool(name) {
	case categoryWrite:
		return fmt.Sprintf("I'll create %s.", inputPath(input))
	case categoryEdit:
		return fmt.Sprintf("I'll edit %s.", inputPath(input))
	case categoryExec:
		return fmt.Sprintf("I'll run `%s`.", inputCommand(input))
	default:
		return fmt.Sprintf("I'll use %s.", name)
	}
}

func inputPath(input map[string]any) string {
	for _, key := range []string{"path", "file_path", "filePath"} {
		if v, ok := input[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

func inputCommand(input map[string]any) string {
	for _, key := range []string{"command", "cmd"} {
		if v, ok := input[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}
