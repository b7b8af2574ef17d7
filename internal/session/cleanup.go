package session

import (
	"context"
	"errors"
	"time"

	"github.com/agenticode/agenticoded/internal/ideserver"
	"github.com/agenticode/agenticoded/internal/sandbox"
	"github.com/agenticode/agenticoded/internal/store"
)

// awaitExit blocks until the session's PTY reader observes process exit,
// then runs the teardown sequence. Started once per session, right after
// Create registers the ptySession, so a crash is cleaned up exactly like a
// user-requested Stop.
func (m *Manager) awaitExit(sessionID string, ps *ptySession, sandboxUser *sandbox.User) {
	<-ps.exited
	_ = ps.cmd.Wait()
	m.cleanup(context.Background(), sessionID, ps, sandboxUser)
}

// cleanup runs the teardown order spec.md §4.8 requires: drop the session
// from the live registries first (so no new Write/Resize/subscribe call can
// reach a half-torn-down session), flush the workspace to cloud storage,
// release the sandbox user, and finally mark the persisted record stopped.
func (m *Manager) cleanup(ctx context.Context, sessionID string, ps *ptySession, sandboxUser *sandbox.User) {
	m.ptysMu.Lock()
	delete(m.ptys, sessionID)
	m.ptysMu.Unlock()

	m.removeSessionLock(sessionID)

	if ps.cmd.Process != nil {
		m.metrics.DropBaseline(ps.cmd.Process.Pid)
	}
	m.metrics.DropSession(sessionID)

	if err := m.ide.Stop(ctx, sessionID); err != nil && !errors.Is(err, ideserver.ErrNotRunning) {
		m.logger.Warn().Err(err).Str("session_id", sessionID).Msg("session: ide stop failed during cleanup")
	}

	if err := m.ws.Stop(ctx, sessionID); err != nil {
		m.logger.Warn().Err(err).Str("session_id", sessionID).Msg("session: workspace stop failed during cleanup")
	}

	if sandboxUser != nil {
		m.sandbox.Delete(sandboxUser, true, m.cfg.WorkspacesPath)
	}

	if err := m.store.UpdateSessionStatus(sessionID, store.StatusStopped); err != nil {
		m.logger.Warn().Err(err).Str("session_id", sessionID).Msg("session: failed to persist stopped status")
	}

	m.logger.Info().Str("session_id", sessionID).Msg("session: cleaned up")
}

// ReapIdle scans for running sessions past the idle timeout or the hard
// lifetime cap and stops them, per spec.md §4.8's reaper. Intended to be
// called on a fixed schedule (spec.md suggests ~60s) by the caller.
func (m *Manager) ReapIdle(ctx context.Context) {
	idleCutoff := time.Now().Add(-time.Duration(m.cfg.SessionIdleTimeout) * time.Second)
	idle, err := m.store.ListIdleSessions(idleCutoff)
	if err != nil {
		m.logger.Warn().Err(err).Msg("session: idle reaper: listing idle sessions failed")
		return
	}
	for _, sess := range idle {
		m.logger.Info().Str("session_id", sess.ID).Msg("session: reaping idle session")
		if err := m.Stop(ctx, sess.ID); err != nil {
			m.logger.Warn().Err(err).Str("session_id", sess.ID).Msg("session: idle reap failed")
		}
	}

	running, err := m.store.ListSessions()
	if err != nil {
		m.logger.Warn().Err(err).Msg("session: idle reaper: listing sessions failed")
		return
	}
	lifetimeCutoff := time.Duration(m.cfg.SessionMaxLifetime) * time.Second
	for _, sess := range running {
		if sess.Status != store.StatusRunning {
			continue
		}
		if time.Since(sess.CreatedAt) < lifetimeCutoff {
			continue
		}
		m.logger.Info().Str("session_id", sess.ID).Msg("session: reaping session past max lifetime")
		if err := m.Stop(ctx, sess.ID); err != nil {
			m.logger.Warn().Err(err).Str("session_id", sess.ID).Msg("session: lifetime reap failed")
		}
	}
}

// RunReaper runs ReapIdle on a fixed interval until ctx is cancelled.
func (m *Manager) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ReapIdle(ctx)
		}
	}
}
