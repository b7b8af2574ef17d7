package edge

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenticode/agenticoded/internal/config"
	"github.com/agenticode/agenticoded/internal/ideserver"
	"github.com/agenticode/agenticoded/internal/metrics"
	"github.com/agenticode/agenticoded/internal/sandbox"
	"github.com/agenticode/agenticoded/internal/session"
	"github.com/agenticode/agenticoded/internal/store"
	"github.com/agenticode/agenticoded/internal/testutil"
	"github.com/agenticode/agenticoded/internal/workspace"
)

// The fakes below mirror internal/session's own test fakes; they cannot be
// imported (they are unexported _test.go types), so the edge surface's
// handler tests build their own minimal stand-ins satisfying the same
// collaborator interfaces structurally.

type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]*store.Session
}

func newFakeStore() *fakeStore { return &fakeStore{sessions: make(map[string]*store.Session)} }

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
	return nil, nil
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

type fakeSandbox struct{ mu sync.Mutex }

func (f *fakeSandbox) Allocate(sessionID, workspacePath string) (*sandbox.User, error) {
	return &sandbox.User{UID: 50000, GID: 50000, Username: "sbx-" + sessionID, HomeDir: "/home/sbx-" + sessionID, WorkspaceDir: workspacePath}, nil
}

func (f *fakeSandbox) Delete(u *sandbox.User, keepWorkspace bool, workspacesBase string) {}

type fakeWorkspace struct {
	mu   sync.Mutex
	dirs map[string]string
}

func newFakeWorkspace() *fakeWorkspace { return &fakeWorkspace{dirs: make(map[string]string)} }

func (f *fakeWorkspace) Initialize(ctx context.Context, userID, sessionID, model string) (*workspace.InitResult, error) {
	dir, err := os.MkdirTemp("", "edge-test-ws-*")
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

type fakeIDE struct{}

func (fakeIDE) Start(ctx context.Context, userID, sessionID, workspacePath string, sandboxUser *sandbox.User) (*ideserver.Instance, error) {
	return nil, errors.New("not implemented in tests")
}

func (fakeIDE) Stop(ctx context.Context, sessionID string) error { return ideserver.ErrNotRunning }

func (fakeIDE) Get(sessionID string) (*ideserver.Instance, bool) { return nil, false }

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

func testServer(t *testing.T, apiKey string) (*Server, *session.Manager) {
	t.Helper()
	cfg := &config.Config{
		InternalAPIKey:     apiKey,
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

	mc := metrics.NewCollector()
	mgr := session.NewManager(cfg, newFakeStore(), &fakeSandbox{}, newFakeWorkspace(), fakeIDE{}, mc, zerolog.Nop())
	mgr.SetPTYStart(fakePTYStart)

	srv := NewServer(cfg, mgr, mc, zerolog.Nop())
	return srv, mgr
}

func TestHealthEndpointReportsStatus(t *testing.T) {
	srv, _ := testServer(t, "")
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestMetricsEndpointExposesPrometheusGauges(t *testing.T) {
	srv, _ := testServer(t, "")
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "agenticoded_sessions_active")
	assert.Contains(t, rec.Body.String(), "agenticoded_cost_usd_total")
}

func TestCreateSessionRequiresAuthWhenKeyConfigured(t *testing.T) {
	srv, _ := testServer(t, "secret")
	body := strings.NewReader(`{"userId":"u1"}`)
	req := httptest.NewRequest(http.MethodPost, "/sessions", body)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateAndGetSessionRoundTrip(t *testing.T) {
	srv, mgr := testServer(t, "")
	req := testutil.JSONRequest(t, http.MethodPost, "/sessions", createSessionRequest{UserID: "u1"})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created createSessionResponse
	testutil.DecodeJSON(t, rec, &created)
	assert.Equal(t, "created", created.Status)

	req = httptest.NewRequest(http.MethodGet, "/sessions/"+created.SessionID, nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, mgr.Stop(context.Background(), created.SessionID))
}

func TestCreateSessionRejectsMissingUserID(t *testing.T) {
	srv, _ := testServer(t, "")
	body := strings.NewReader(`{}`)
	req := httptest.NewRequest(http.MethodPost, "/sessions", body)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWSTerminalRejectsMissingSessionID(t *testing.T) {
	srv, _ := testServer(t, "")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/terminal"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok)
	assert.Equal(t, closeMissingParameter, closeErr.Code)
}

func TestWSTerminalStreamsSessionOutput(t *testing.T) {
	srv, mgr := testServer(t, "")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	info, err := mgr.Create(context.Background(), session.CreateOpts{UserID: "u1"})
	require.NoError(t, err)
	defer mgr.Stop(context.Background(), info.ID)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/terminal?sessionId=" + info.ID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("hello\n")))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
}

func TestWSEventsAutoProvisionsSession(t *testing.T) {
	srv, mgr := testServer(t, "")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	_, err := mgr.GetByUser("u-auto")
	require.Error(t, err, "precondition: user must not already have a session")

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/events?userId=u-auto"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	info, err := mgr.GetByUser("u-auto")
	require.NoError(t, err, "handleWSEvents should auto-provision a session for a user with none")
	defer mgr.Stop(context.Background(), info.ID)
}

func TestWSEventsReplacesSessionOnModeMismatch(t *testing.T) {
	srv, mgr := testServer(t, "")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	apiInfo, err := mgr.Create(context.Background(), session.CreateOpts{UserID: "u-mode", APIKey: "sk-test"})
	require.NoError(t, err)
	require.Equal(t, store.ModeAPI, apiInfo.Mode)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/events?userId=u-mode"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	newInfo, err := mgr.GetByUser("u-mode")
	require.NoError(t, err)
	defer mgr.Stop(context.Background(), newInfo.ID)

	assert.NotEqual(t, apiInfo.ID, newInfo.ID, "mode mismatch should replace the session, not reuse it")
	assert.Equal(t, store.ModeOllama, newInfo.Mode)

	_, err = mgr.Get(apiInfo.ID)
	require.NoError(t, err)
	stopped, err := mgr.Get(apiInfo.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusStopped, stopped.Status)
}

func TestSyncSessionRejectsUnknownDirection(t *testing.T) {
	srv, mgr := testServer(t, "")
	info, err := mgr.Create(context.Background(), session.CreateOpts{UserID: "u1"})
	require.NoError(t, err)
	defer mgr.Stop(context.Background(), info.ID)

	body := strings.NewReader(`{"direction":"sideways"}`)
	req := httptest.NewRequest(http.MethodPost, "/sessions/"+info.ID+"/sync", body)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWorkspaceSyncStatusRequiresUserID(t *testing.T) {
	srv, _ := testServer(t, "")
	req := httptest.NewRequest(http.MethodGet, "/workspace/sync/status", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
