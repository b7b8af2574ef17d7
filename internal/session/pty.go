package session

import (
	"os"
	"os/exec"
	"regexp"
	"sync"

	"github.com/creack/pty"

	"github.com/agenticode/agenticoded/internal/events"
	"github.com/agenticode/agenticoded/internal/sandbox"
)

// maxBufferedLines bounds the rolling admin output buffer at N=100
// non-empty lines, per spec.md §3 "Rolling output buffer".
const maxBufferedLines = 100

// rawQueueDepth bounds each raw-terminal subscriber's outbound queue;
// overflow drops the subscriber rather than blocking the PTY reader,
// per spec.md §5 "Backpressure".
const rawQueueDepth = 256

// eventQueueDepth is the equivalent bound for structured-event subscribers.
const eventQueueDepth = 256

// ptySession is the live, in-memory state bound to one running session's
// PTY: the process handle, the rolling line buffer, the coarse activity
// heuristic, the NDJSON translator, and the raw/structured subscriber
// fan-outs. Exactly one reader goroutine drains the PTY and feeds all of
// these, per spec.md §4.8 step 8 ("a reader is attached exactly once per
// PTY").
type ptySession struct {
	sessionID   string
	ptmx        *os.File
	cmd         *exec.Cmd
	sandboxUser *sandbox.User

	mu     sync.Mutex
	lines  []string
	partial []byte

	activityMu sync.Mutex
	activity   events.Activity

	translator *events.Translator

	rawMu   sync.Mutex
	rawSubs map[string]chan []byte

	eventMu   sync.Mutex
	eventSubs map[string]chan events.UIEvent

	exited chan struct{}
}

func newPTYSession(sessionID string, ptmx *os.File, cmd *exec.Cmd, sandboxUser *sandbox.User) *ptySession {
	ps := &ptySession{
		sessionID:   sessionID,
		ptmx:        ptmx,
		cmd:         cmd,
		sandboxUser: sandboxUser,
		rawSubs:     make(map[string]chan []byte),
		eventSubs:   make(map[string]chan events.UIEvent),
		activity:    events.ActivityIdle,
		exited:      make(chan struct{}),
	}
	ps.translator = events.NewTranslator(ps.dispatchEvent)
	return ps
}

// dispatchEvent is the translator's sink: it updates the coarse activity
// heuristic from the structured event stream and fans the event out to
// every subscriber, dropping any subscriber whose queue is full.
func (ps *ptySession) dispatchEvent(ev events.UIEvent) {
	ps.activityMu.Lock()
	ps.activity = activityForEvent(ev, ps.activity)
	ps.activityMu.Unlock()

	ps.eventMu.Lock()
	defer ps.eventMu.Unlock()
	for id, ch := range ps.eventSubs {
		select {
		case ch <- ev:
		default:
			close(ch)
			delete(ps.eventSubs, id)
		}
	}
}

func activityForEvent(ev events.UIEvent, prior events.Activity) events.Activity {
	switch ev.Kind {
	case events.EventThinkingBlock:
		return events.ActivityThinking
	case events.EventFileWriteStart, events.EventFileWriteChunk:
		return events.ActivityWriting
	case events.EventFileEditStart, events.EventFileEditDiff:
		return events.ActivityEditing
	case events.EventCommandStart, events.EventCommandOutput:
		return events.ActivityExecuting
	case events.EventArtifactDetected, events.EventArtifactReady:
		return events.ActivityArtifact
	case events.EventError:
		return events.ActivityError
	case events.EventFileWriteEnd, events.EventFileEditEnd, events.EventCommandEnd, events.EventMessageEnd:
		return events.ActivityIdle
	default:
		return prior
	}
}

// idlePromptRe matches a bare shell prompt, the simplest "nothing is
// happening" signal available straight from raw bytes, independent of
// whatever the NDJSON translator manages to parse.
var idlePromptRe = regexp.MustCompile(`[$#]\s*$`)

// feedRawHeuristic updates the coarse activity purely from raw PTY text,
// per spec.md §4.8 step 8(b) ("a simple 'current activity' heuristic
// updated from keyword patterns"). This runs independently of the
// translator so a raw-terminal-only session still exposes some signal.
func (ps *ptySession) feedRawHeuristic(chunk []byte) {
	trimmed := chunk
	if len(trimmed) > 256 {
		trimmed = trimmed[len(trimmed)-256:]
	}
	if idlePromptRe.Match(trimmed) {
		ps.activityMu.Lock()
		ps.activity = events.ActivityIdle
		ps.activityMu.Unlock()
	}
}

func (ps *ptySession) currentActivity() events.Activity {
	ps.activityMu.Lock()
	defer ps.activityMu.Unlock()
	return ps.activity
}

// appendLines splits chunk on newlines and appends any complete lines to
// the rolling buffer, keeping only the most recent maxBufferedLines
// non-empty ones. Incomplete trailing text is buffered for the next chunk.
func (ps *ptySession) appendLines(chunk []byte) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	data := append(ps.partial, chunk...)
	start := 0
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' {
			line := string(data[start:i])
			start = i + 1
			if line == "" {
				continue
			}
			ps.lines = append(ps.lines, line)
			if len(ps.lines) > maxBufferedLines {
				ps.lines = ps.lines[len(ps.lines)-maxBufferedLines:]
			}
		}
	}
	ps.partial = append([]byte(nil), data[start:]...)
}

// Tail returns a snapshot of the rolling buffer.
func (ps *ptySession) Tail() []string {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	out := make([]string, len(ps.lines))
	copy(out, ps.lines)
	return out
}

func (ps *ptySession) broadcastRaw(chunk []byte) {
	ps.rawMu.Lock()
	defer ps.rawMu.Unlock()
	for id, ch := range ps.rawSubs {
		cp := append([]byte(nil), chunk...)
		select {
		case ch <- cp:
		default:
			close(ch)
			delete(ps.rawSubs, id)
		}
	}
}

func (ps *ptySession) subscribeRaw(id string) <-chan []byte {
	ps.rawMu.Lock()
	defer ps.rawMu.Unlock()
	ch := make(chan []byte, rawQueueDepth)
	ps.rawSubs[id] = ch
	return ch
}

func (ps *ptySession) unsubscribeRaw(id string) {
	ps.rawMu.Lock()
	defer ps.rawMu.Unlock()
	if ch, ok := ps.rawSubs[id]; ok {
		close(ch)
		delete(ps.rawSubs, id)
	}
}

func (ps *ptySession) subscribeEvents(id string) <-chan events.UIEvent {
	ps.eventMu.Lock()
	defer ps.eventMu.Unlock()
	ch := make(chan events.UIEvent, eventQueueDepth)
	ps.eventSubs[id] = ch
	return ch
}

func (ps *ptySession) unsubscribeEvents(id string) {
	ps.eventMu.Lock()
	defer ps.eventMu.Unlock()
	if ch, ok := ps.eventSubs[id]; ok {
		close(ch)
		delete(ps.eventSubs, id)
	}
}

// pump is the single PTY reader, started once per session. It fans
// output into the rolling buffer, the raw heuristic, the raw-terminal
// subscribers, and the NDJSON translator, then closes exited when the
// PTY read loop ends (process exit or I/O error).
func (ps *ptySession) pump() {
	defer close(ps.exited)
	buf := make([]byte, 32*1024)
	for {
		n, err := ps.ptmx.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			ps.appendLines(chunk)
			ps.feedRawHeuristic(chunk)
			ps.broadcastRaw(chunk)
			ps.translator.Feed(chunk)
		}
		if err != nil {
			return
		}
	}
}

// spawnPTY starts name/args under a PTY sized per spec.md §4.8 step 7
// (cols=120, rows=40). Grounded on cmd/runner/main.go's runServer, which
// starts the shell the same way: exec.Command + pty.Start + pty.Setsize.
func spawnPTY(name string, args []string, env []string, dir string) (*os.File, *exec.Cmd, error) {
	cmd := exec.Command(name, args...)
	cmd.Env = env
	cmd.Dir = dir

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, nil, err
	}
	pty.Setsize(ptmx, &pty.Winsize{Rows: 40, Cols: 120})
	return ptmx, cmd, nil
}
