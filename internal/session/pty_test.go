package session

import (
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agenticode/agenticoded/internal/events"
)

func newTestPTYSession() *ptySession {
	return newPTYSession("s1", nil, &exec.Cmd{}, nil)
}

func TestAppendLinesBuffersCompleteLinesOnly(t *testing.T) {
	ps := newTestPTYSession()
	ps.appendLines([]byte("line one\nline two\npart"))
	assert.Equal(t, []string{"line one", "line two"}, ps.Tail())

	ps.appendLines([]byte("ial\nline three\n"))
	assert.Equal(t, []string{"line one", "line two", "partial", "line three"}, ps.Tail())
}

func TestAppendLinesBoundsBufferAtMax(t *testing.T) {
	ps := newTestPTYSession()
	for i := 0; i < maxBufferedLines+20; i++ {
		ps.appendLines([]byte("x\n"))
	}
	assert.Len(t, ps.Tail(), maxBufferedLines)
}

func TestFeedRawHeuristicDetectsIdlePrompt(t *testing.T) {
	ps := newTestPTYSession()
	ps.activity = events.ActivityThinking
	ps.feedRawHeuristic([]byte("some output\nuser@host:~$ "))
	assert.Equal(t, events.ActivityIdle, ps.currentActivity())
}

func TestFeedRawHeuristicIgnoresNonPromptOutput(t *testing.T) {
	ps := newTestPTYSession()
	ps.activity = events.ActivityThinking
	ps.feedRawHeuristic([]byte("still working on it...\n"))
	assert.Equal(t, events.ActivityThinking, ps.currentActivity())
}

func TestActivityForEventMapsKindsToActivities(t *testing.T) {
	cases := []struct {
		kind events.UIEventKind
		want events.Activity
	}{
		{events.EventThinkingBlock, events.ActivityThinking},
		{events.EventFileWriteChunk, events.ActivityWriting},
		{events.EventFileEditDiff, events.ActivityEditing},
		{events.EventCommandOutput, events.ActivityExecuting},
		{events.EventArtifactReady, events.ActivityArtifact},
		{events.EventError, events.ActivityError},
		{events.EventCommandEnd, events.ActivityIdle},
	}
	for _, tc := range cases {
		got := activityForEvent(events.UIEvent{Kind: tc.kind}, events.ActivityIdle)
		assert.Equal(t, tc.want, got, tc.kind)
	}
}

func TestActivityForEventPreservesPriorOnUnrelatedKind(t *testing.T) {
	got := activityForEvent(events.UIEvent{Kind: events.EventUsage}, events.ActivityWriting)
	assert.Equal(t, events.ActivityWriting, got)
}

func TestDispatchEventDropsSlowSubscriberOnOverflow(t *testing.T) {
	ps := newTestPTYSession()
	ch := ps.subscribeEvents("slow")

	for i := 0; i < eventQueueDepth+10; i++ {
		ps.dispatchEvent(events.UIEvent{Kind: events.EventTextBlock})
	}

	_, open := <-ch
	if open {
		// drain until closed; either way the subscriber must eventually
		// stop receiving once its queue has been dropped.
		for range ch {
		}
	}

	ps.eventMu.Lock()
	_, stillTracked := ps.eventSubs["slow"]
	ps.eventMu.Unlock()
	assert.False(t, stillTracked)
}

func TestBroadcastRawDropsSlowSubscriberOnOverflow(t *testing.T) {
	ps := newTestPTYSession()
	_ = ps.subscribeRaw("slow")

	for i := 0; i < rawQueueDepth+10; i++ {
		ps.broadcastRaw([]byte("x"))
	}

	ps.rawMu.Lock()
	_, stillTracked := ps.rawSubs["slow"]
	ps.rawMu.Unlock()
	assert.False(t, stillTracked)
}

func TestSubscribeAndUnsubscribeRaw(t *testing.T) {
	ps := newTestPTYSession()
	ch := ps.subscribeRaw("a")
	ps.broadcastRaw([]byte("hi"))
	assert.Equal(t, []byte("hi"), <-ch)

	ps.unsubscribeRaw("a")
	_, open := <-ch
	assert.False(t, open)
}
