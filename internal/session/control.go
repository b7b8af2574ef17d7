package session

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/agenticode/agenticoded/internal/apierr"
	"github.com/agenticode/agenticoded/internal/store"
)

// lookupPTY returns the live ptySession for id, or an apierr NotFound if the
// session isn't currently running on this process.
func (m *Manager) lookupPTY(id string) (*ptySession, error) {
	m.ptysMu.Lock()
	ps, ok := m.ptys[id]
	m.ptysMu.Unlock()
	if !ok {
		return nil, apierr.New(apierr.NotFound, "session is not running")
	}
	return ps, nil
}

// Write sends input bytes to the session's PTY and refreshes its last
// activity timestamp, per spec.md §4.8 "Write."
func (m *Manager) Write(id string, data []byte) error {
	lock := m.sessionLock(id)
	lock.Lock()
	defer lock.Unlock()

	ps, err := m.lookupPTY(id)
	if err != nil {
		return err
	}
	if _, err := ps.ptmx.Write(data); err != nil {
		return fmt.Errorf("%w: %v", apierr.New(apierr.IOError, "writing to pty failed"), err)
	}
	_ = m.store.UpdateSessionActivity(id)
	return nil
}

// Resize changes the PTY's terminal dimensions, per spec.md §4.8 "Resize."
func (m *Manager) Resize(id string, rows, cols int) error {
	lock := m.sessionLock(id)
	lock.Lock()
	defer lock.Unlock()

	ps, err := m.lookupPTY(id)
	if err != nil {
		return err
	}
	if err := pty.Setsize(ps.ptmx, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)}); err != nil {
		return fmt.Errorf("%w: %v", apierr.New(apierr.IOError, "resizing pty failed"), err)
	}
	return nil
}

// Stop terminates the session's agent process. Teardown itself runs
// asynchronously in awaitExit once the PTY reader observes the exit, so
// Stop only needs to request termination, not perform cleanup directly.
func (m *Manager) Stop(ctx context.Context, id string) error {
	lock := m.sessionLock(id)
	lock.Lock()
	ps, err := m.lookupPTY(id)
	lock.Unlock()
	if err != nil {
		if sess, getErr := m.store.GetSession(id); getErr == nil && sess.Status != store.StatusStopped {
			_ = m.store.UpdateSessionStatus(id, store.StatusStopped)
		}
		return nil
	}

	_ = m.store.UpdateSessionStatus(id, store.StatusStopping)

	if ps.cmd.Process == nil {
		return nil
	}
	_ = ps.cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-ps.exited:
	case <-time.After(5 * time.Second):
		_ = ps.cmd.Process.Kill()
		<-ps.exited
	case <-ctx.Done():
	}
	return nil
}

// SendMessage writes message terminated by a newline to the session's PTY
// and collects whatever output arrives within window, the legacy
// request/response shape spec.md §6 calls "POST /sessions/:id/messages."
// Interactive callers should prefer the raw/event subscription channels;
// this exists only for that one backward-compatible endpoint.
func (m *Manager) SendMessage(id, message string, window time.Duration) (string, error) {
	ps, err := m.lookupPTY(id)
	if err != nil {
		return "", err
	}
	sub := "messages-" + id
	ch := ps.subscribeRaw(sub)
	defer ps.unsubscribeRaw(sub)

	if err := m.Write(id, []byte(message+"\n")); err != nil {
		return "", err
	}

	var collected []byte
	deadline := time.After(window)
	for {
		select {
		case chunk, ok := <-ch:
			if !ok {
				return string(collected), nil
			}
			collected = append(collected, chunk...)
		case <-deadline:
			return string(collected), nil
		}
	}
}

// Restart stops the session and creates a brand new one for the same
// user/workspace/model, per spec.md §5's "no resurrection — restart
// creates a new id" invariant: it is stop(old) followed by
// create(sameUser, sameWorkspace, sameModel), yielding a new session id.
func (m *Manager) Restart(ctx context.Context, id string) (*Info, error) {
	sess, err := m.store.GetSession(id)
	if err != nil {
		return nil, err
	}

	if err := m.Stop(ctx, id); err != nil {
		return nil, err
	}

	// The store never persists API credentials, so a restarted api-mode
	// session comes back up without one; the agent process itself is
	// responsible for re-prompting or failing if it needs a fresh key.
	return m.Create(ctx, CreateOpts{
		UserID: sess.UserID,
		Model:  sess.Model,
		Mode:   sess.Mode,
	})
}
