package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectEvents(t *testing.T, lines ...string) []UIEvent {
	t.Helper()
	var got []UIEvent
	tr := NewTranslator(func(e UIEvent) { got = append(got, e) })
	for _, l := range lines {
		tr.Feed([]byte(l + "\n"))
	}
	return got
}

func TestScenarioS5NDJSONTranslation(t *testing.T) {
	events := collectEvents(t,
		`{"type":"system","subtype":"init","session_id":"S","tools":["bash"],"model":"m","cwd":"/w"}`,
		`{"type":"assistant","subtype":"tool_use","id":"t1","name":"bash","input":{"command":"echo hi"}}`,
		`{"type":"user","subtype":"tool_result","tool_use_id":"t1","content":"hi\n","is_error":false}`,
		`{"type":"result","is_error":false,"cost_usd":0.01,"duration_ms":100,"num_turns":1}`,
	)

	require.Len(t, events, 7)
	assert.Equal(t, EventSessionStarted, events[0].Kind)
	assert.Equal(t, "/w", events[0].WorkspacePath)
	assert.Equal(t, "m", events[0].Model)

	assert.Equal(t, EventTextBlock, events[1].Kind) // synthetic narration

	assert.Equal(t, EventCommandStart, events[2].Kind)
	assert.Equal(t, "echo hi", events[2].Command)

	assert.Equal(t, EventCommandOutput, events[3].Kind)
	assert.Equal(t, "hi\n", events[3].Output)

	assert.Equal(t, EventCommandEnd, events[4].Kind)
	assert.Equal(t, 0, events[4].ExitCode)

	assert.Equal(t, EventMessageEnd, events[5].Kind)

	assert.Equal(t, EventSessionEnded, events[6].Kind)
	assert.Equal(t, "user", events[6].Reason)
}

func TestMalformedLinesDiscarded(t *testing.T) {
	events := collectEvents(t,
		`not json at all`,
		`{"type":"assistant","subtype":"text","text":"hello"}`,
		`{malformed`,
	)
	require.Len(t, events, 1)
	assert.Equal(t, EventTextBlock, events[0].Kind)
	assert.Equal(t, "hello", events[0].Text)
}

func TestThinkingCoalescingAndClose(t *testing.T) {
	events := collectEvents(t,
		`{"type":"assistant","subtype":"thinking","text":"step one"}`,
		`{"type":"assistant","subtype":"thinking","text":"step two"}`,
		`{"type":"assistant","subtype":"text","text":"done"}`,
	)
	require.Len(t, events, 3)
	assert.Equal(t, EventThinkingBlock, events[0].Kind)
	assert.Equal(t, EventThinkingBlock, events[1].Kind)
	assert.Equal(t, EventTextBlock, events[2].Kind)
}

func TestToolUseDedup(t *testing.T) {
	events := collectEvents(t,
		`{"type":"assistant","subtype":"text","text":"starting"}`,
		`{"type":"assistant","subtype":"tool_use","id":"dup1","name":"Write","input":{"path":"a.txt"}}`,
		`{"type":"assistant","subtype":"tool_use","id":"dup1","name":"Write","input":{"path":"a.txt"}}`,
	)
	// text + one file_write_start only; the repeat id is dropped (rule 5).
	require.Len(t, events, 2)
	assert.Equal(t, EventFileWriteStart, events[1].Kind)
}

func TestToolResultIgnoredWhenIDNotActive(t *testing.T) {
	events := collectEvents(t,
		`{"type":"user","subtype":"tool_result","tool_use_id":"ghost","content":"x"}`,
	)
	assert.Len(t, events, 0)
}

func TestSpecialisedToolsSuppressGenericEvents(t *testing.T) {
	events := collectEvents(t,
		`{"type":"assistant","subtype":"tool_use","id":"w1","name":"Write","input":{"path":"a.txt"}}`,
		`{"type":"user","subtype":"tool_result","tool_use_id":"w1","content":"ok"}`,
	)
	for _, e := range events {
		assert.NotEqual(t, EventToolStart, e.Kind)
		assert.NotEqual(t, EventToolEnd, e.Kind)
	}
}

func TestGenericToolEmitsStartEnd(t *testing.T) {
	events := collectEvents(t,
		`{"type":"assistant","subtype":"text","text":"ok"}`,
		`{"type":"assistant","subtype":"tool_use","id":"g1","name":"WebSearch","input":{}}`,
		`{"type":"user","subtype":"tool_result","tool_use_id":"g1","content":"results"}`,
	)
	require.Len(t, events, 3)
	assert.Equal(t, EventToolStart, events[1].Kind)
	assert.Equal(t, EventToolEnd, events[2].Kind)
}

func TestArtifactDetectionOnExecResult(t *testing.T) {
	events := collectEvents(t,
		`{"type":"assistant","subtype":"text","text":"starting server"}`,
		`{"type":"assistant","subtype":"tool_use","id":"e1","name":"Bash","input":{"command":"npm run dev"}}`,
		`{"type":"user","subtype":"tool_result","tool_use_id":"e1","content":"Server listening on port 3000"}`,
	)
	var kinds []UIEventKind
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}
	assert.Contains(t, kinds, EventArtifactDetected)
	assert.Contains(t, kinds, EventArtifactReady)
}

func TestIncompleteLineBuffered(t *testing.T) {
	var got []UIEvent
	tr := NewTranslator(func(e UIEvent) { got = append(got, e) })
	tr.Feed([]byte(`{"type":"assistant","subtype":"text",`))
	assert.Len(t, got, 0)
	tr.Feed([]byte(`"text":"hi"}` + "\n"))
	require.Len(t, got, 1)
	assert.Equal(t, "hi", got[0].Text)
}

func TestBeginTurnResetsNarrationSuppression(t *testing.T) {
	tr := NewTranslator(nil)
	var got []UIEvent
	tr.sink = func(e UIEvent) { got = append(got, e) }

	tr.Feed([]byte(`{"type":"assistant","subtype":"text","text":"hi"}` + "\n"))
	tr.BeginTurn()
	tr.Feed([]byte(`{"type":"assistant","subtype":"tool_use","id":"t2","name":"Bash","input":{"command":"ls"}}` + "\n"))

	// after BeginTurn, turnHasText resets, so the tool_use synthesises
	// narration again even though text was already emitted once before.
	require.Len(t, got, 3)
	assert.Equal(t, EventTextBlock, got[1].Kind)
	assert.Equal(t, EventCommandStart, got[2].Kind)
}
