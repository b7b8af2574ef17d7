package session

import (
	"context"

	"github.com/agenticode/agenticoded/internal/apierr"
	"github.com/agenticode/agenticoded/internal/events"
	"github.com/agenticode/agenticoded/internal/ideserver"
	"github.com/agenticode/agenticoded/internal/metrics"
	"github.com/agenticode/agenticoded/internal/store"
	"github.com/agenticode/agenticoded/internal/workspace"
)

// Get returns the persisted record for id as an Info view.
func (m *Manager) Get(id string) (*Info, error) {
	sess, err := m.store.GetSession(id)
	if err != nil {
		return nil, err
	}
	return toInfo(sess), nil
}

// GetByUser returns the running session owned by userID, if any, backing
// spec.md §6's "existing session" shortcut on session creation.
func (m *Manager) GetByUser(userID string) (*Info, error) {
	sess, err := m.store.GetSessionByUser(userID)
	if err != nil {
		return nil, err
	}
	return toInfo(sess), nil
}

// List returns every persisted session.
func (m *Manager) List() ([]*Info, error) {
	sessions, err := m.store.ListSessions()
	if err != nil {
		return nil, err
	}
	out := make([]*Info, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, toInfo(s))
	}
	return out, nil
}

func toInfo(s *store.Session) *Info {
	return &Info{
		ID:           s.ID,
		UserID:       s.UserID,
		Model:        s.Model,
		Mode:         s.Mode,
		Status:       s.Status,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.LastActivity,
	}
}

// Tail returns the rolling output buffer for a running session, the basis
// for the edge surface's reconnect-and-replay behaviour.
func (m *Manager) Tail(id string) ([]string, error) {
	ps, err := m.lookupPTY(id)
	if err != nil {
		return nil, err
	}
	return ps.Tail(), nil
}

// Activity returns the session's coarse current-activity heuristic.
func (m *Manager) Activity(id string) (events.Activity, error) {
	ps, err := m.lookupPTY(id)
	if err != nil {
		return events.ActivityIdle, err
	}
	return ps.currentActivity(), nil
}

// SubscribeRaw attaches a new raw-terminal subscriber to a running
// session's PTY output. subscriberID should be unique per connection so
// UnsubscribeRaw can target it precisely; callers are responsible for
// draining the returned channel until it closes.
func (m *Manager) SubscribeRaw(id, subscriberID string) (<-chan []byte, error) {
	ps, err := m.lookupPTY(id)
	if err != nil {
		return nil, err
	}
	return ps.subscribeRaw(subscriberID), nil
}

func (m *Manager) UnsubscribeRaw(id, subscriberID string) {
	ps, err := m.lookupPTY(id)
	if err != nil {
		return
	}
	ps.unsubscribeRaw(subscriberID)
}

// SubscribeEvents attaches a new structured-event subscriber, the NDJSON
// translator's output, to a running session.
func (m *Manager) SubscribeEvents(id, subscriberID string) (<-chan events.UIEvent, error) {
	ps, err := m.lookupPTY(id)
	if err != nil {
		return nil, err
	}
	return ps.subscribeEvents(subscriberID), nil
}

func (m *Manager) UnsubscribeEvents(id, subscriberID string) {
	ps, err := m.lookupPTY(id)
	if err != nil {
		return
	}
	ps.unsubscribeEvents(subscriberID)
}

// Pid returns the live agent process id for a running session, used by the
// metrics aggregation pipeline (spec.md §4.6).
func (m *Manager) Pid(id string) (int, error) {
	ps, err := m.lookupPTY(id)
	if err != nil {
		return 0, err
	}
	if ps.cmd.Process == nil {
		return 0, nil
	}
	return ps.cmd.Process.Pid, nil
}

// Resources returns a {sessionId, pid} pair for every live session, ready
// to feed metrics.Collector.Aggregate.
func (m *Manager) Resources() []metrics.SessionResource {
	m.ptysMu.Lock()
	defer m.ptysMu.Unlock()
	out := make([]metrics.SessionResource, 0, len(m.ptys))
	for id, ps := range m.ptys {
		pid := 0
		if ps.cmd.Process != nil {
			pid = ps.cmd.Process.Pid
		}
		out = append(out, metrics.SessionResource{SessionID: id, PID: pid})
	}
	return out
}

// StartIDE starts a web IDE bound to a running session's workspace and
// sandbox user, per spec.md §6 "POST /sessions/:id/code-server."
func (m *Manager) StartIDE(ctx context.Context, id string) (*ideserver.Instance, error) {
	ps, err := m.lookupPTY(id)
	if err != nil {
		return nil, err
	}
	sess, err := m.store.GetSession(id)
	if err != nil {
		return nil, err
	}
	return m.ide.Start(ctx, sess.UserID, id, sess.WorkspacePath, ps.sandboxUser)
}

// StopIDE stops a session's web IDE, if one is running.
func (m *Manager) StopIDE(ctx context.Context, id string) error {
	return m.ide.Stop(ctx, id)
}

// GetIDE returns a session's running IDE instance, if any.
func (m *Manager) GetIDE(id string) (*ideserver.Instance, bool) {
	return m.ide.Get(id)
}

// Sync forces an explicit full sync of a running session's workspace in
// the given direction, per spec.md §6 "POST /sessions/:id/sync."
func (m *Manager) Sync(ctx context.Context, id string, toCloud bool) error {
	if toCloud {
		return m.ws.ForceSyncToCloud(ctx, id)
	}
	return m.ws.ForceSyncFromCloud(ctx, id)
}

// WorkspaceSyncStatus returns the owning user's workspace metadata record,
// backing spec.md §6 "GET /workspace/sync/status."
func (m *Manager) WorkspaceSyncStatus(ctx context.Context, userID string) (*workspace.Metadata, error) {
	records, err := m.ws.ListUserWorkspaces(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, apierr.New(apierr.NotFound, "no workspace found for user")
	}
	return records[0], nil
}
