package session

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/rs/zerolog"

	"github.com/agenticode/agenticoded/internal/config"
	"github.com/agenticode/agenticoded/internal/ideserver"
	"github.com/agenticode/agenticoded/internal/metrics"
	"github.com/agenticode/agenticoded/internal/sandbox"
	"github.com/agenticode/agenticoded/internal/store"
	"github.com/agenticode/agenticoded/internal/workspace"
)

// fakeStore is an in-memory stand-in for *store.Store.
type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]*store.Session
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: make(map[string]*store.Session)}
}

func (f *fakeStore) CreateSession(sess *store.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *sess
	f.sessions[sess.ID] = &cp
	return nil
}

func (f *fakeStore) GetSession(id string) (*store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeStore) GetSessionByUser(userID string) (*store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.UserID == userID && s.Status != store.StatusStopped {
			cp := *s
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) ListSessions() ([]*store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*store.Session, 0, len(f.sessions))
	for _, s := range f.sessions {
		cp := *s
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeStore) ListIdleSessions(cutoff time.Time) ([]*store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.Session
	for _, s := range f.sessions {
		if s.Status == store.StatusRunning && !s.LastActivity.After(cutoff) {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateSessionActivity(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return store.ErrNotFound
	}
	s.LastActivity = time.Now().UTC()
	return nil
}

func (f *fakeStore) UpdateSessionStatus(id string, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return store.ErrNotFound
	}
	s.Status = status
	return nil
}

func (f *fakeStore) CountRunningByUser(userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sessions {
		if s.UserID == userID && s.Status != store.StatusStopped && s.Status != store.StatusError {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) DeleteSession(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.sessions, id)
	return nil
}

// fakeSandbox never touches the OS.
type fakeSandbox struct {
	mu        sync.Mutex
	allocated map[string]*sandbox.User
	failNext  error
}

func newFakeSandbox() *fakeSandbox {
	return &fakeSandbox{allocated: make(map[string]*sandbox.User)}
}

func (f *fakeSandbox) Allocate(sessionID, workspacePath string) (*sandbox.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return nil, err
	}
	u := &sandbox.User{UID: 50000, GID: 50000, Username: "sbx-" + sessionID, HomeDir: "/home/sbx-" + sessionID, WorkspaceDir: workspacePath}
	f.allocated[sessionID] = u
	return u, nil
}

func (f *fakeSandbox) Delete(u *sandbox.User, keepWorkspace bool, workspacesBase string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, a := range f.allocated {
		if a == u {
			delete(f.allocated, id)
		}
	}
}

// fakeWorkspace never touches cloud storage.
type fakeWorkspace struct {
	mu   sync.Mutex
	dirs map[string]string
}

func newFakeWorkspace() *fakeWorkspace {
	return &fakeWorkspace{dirs: make(map[string]string)}
}

func (f *fakeWorkspace) Initialize(ctx context.Context, userID, sessionID, model string) (*workspace.InitResult, error) {
	dir, err := os.MkdirTemp("", "session-test-ws-*")
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.dirs[sessionID] = dir
	f.mu.Unlock()
	return &workspace.InitResult{LocalPath: dir}, nil
}

func (f *fakeWorkspace) SetChangeSubscriber(sessionID string, fn workspace.ChangeFunc) error {
	return nil
}

func (f *fakeWorkspace) Stop(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	dir, ok := f.dirs[sessionID]
	delete(f.dirs, sessionID)
	f.mu.Unlock()
	if ok {
		_ = os.RemoveAll(dir)
	}
	return nil
}

func (f *fakeWorkspace) Delete(ctx context.Context, userID string) error { return nil }

func (f *fakeWorkspace) ForceSyncToCloud(ctx context.Context, sessionID string) error { return nil }

func (f *fakeWorkspace) ForceSyncFromCloud(ctx context.Context, sessionID string) error { return nil }

func (f *fakeWorkspace) ListUserWorkspaces(ctx context.Context, userID string) ([]*workspace.Metadata, error) {
	return nil, nil
}

// fakeIDE never starts a real code-server.
type fakeIDE struct{}

func (fakeIDE) Start(ctx context.Context, userID, sessionID, workspacePath string, sandboxUser *sandbox.User) (*ideserver.Instance, error) {
	return nil, errors.New("not implemented in tests")
}

func (fakeIDE) Stop(ctx context.Context, sessionID string) error {
	return ideserver.ErrNotRunning
}

func (fakeIDE) Get(sessionID string) (*ideserver.Instance, bool) {
	return nil, false
}

// fakePTYStart spawns a harmless long-lived local command (/bin/cat,
// which echoes stdin back on stdout) under a real PTY standing in for the
// agent binary, so Create/Write/Stop can be exercised without a real agent.
func fakePTYStart(name string, args []string, env []string, dir string) (*os.File, *exec.Cmd, error) {
	cmd := exec.Command("/bin/cat")
	cmd.Env = env
	cmd.Dir = dir
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, nil, err
	}
	return ptmx, cmd, nil
}

func testManager() (*Manager, *fakeStore, *fakeSandbox, *fakeWorkspace) {
	cfg := &config.Config{
		MaxSessionsPerUser: 2,
		MaxWorkspaceSizeMB: 1024,
		WorkspacesPath:     "/workspaces",
		SandboxEnabled:     true,
		SessionIdleTimeout: 1800,
		SessionMaxLifetime: 14400,
	}
	cfg.Agent.Path = "agent"
	cfg.Agent.DefaultModel = "llama3"
	cfg.Agent.OllamaHost = "http://127.0.0.1:11434"

	st := newFakeStore()
	sb := newFakeSandbox()
	ws := newFakeWorkspace()
	mc := metrics.NewCollector()

	m := NewManager(cfg, st, sb, ws, fakeIDE{}, mc, zerolog.Nop())
	m.ptyStart = fakePTYStart
	return m, st, sb, ws
}
