// Package session implements the Session Manager (C8): the component that
// binds together a sandboxed PTY-spawned agent process, its OS-level sandbox
// user, its cloud-backed workspace, and its optional web IDE instance into
// one session life cycle.
//
// Grounded on the teacher's internal/session package shape (a Manager
// struct holding its collaborators plus a per-session mutex table used to
// serialise operations against one session), generalised from "exec a
// command inside a container via a unix-socket runner" to "own a PTY
// process directly," since this manager's unit of work is an interactive
// agent, not a one-shot command.
package session

import (
	"context"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agenticode/agenticoded/internal/config"
	"github.com/agenticode/agenticoded/internal/ideserver"
	"github.com/agenticode/agenticoded/internal/metrics"
	"github.com/agenticode/agenticoded/internal/sandbox"
	"github.com/agenticode/agenticoded/internal/store"
	"github.com/agenticode/agenticoded/internal/workspace"
)

// SessionStore abstracts the persistence operations the manager needs,
// implemented by *store.Store; narrowed to an interface so tests can swap
// in a fake without a real sqlite file.
type SessionStore interface {
	CreateSession(sess *store.Session) error
	GetSession(id string) (*store.Session, error)
	GetSessionByUser(userID string) (*store.Session, error)
	ListSessions() ([]*store.Session, error)
	ListIdleSessions(cutoff time.Time) ([]*store.Session, error)
	UpdateSessionActivity(id string) error
	UpdateSessionStatus(id string, status string) error
	CountRunningByUser(userID string) (int, error)
	DeleteSession(id string) error
}

// sandboxAllocator abstracts internal/sandbox.Manager, which requires root
// to exercise for real; tests substitute a fake that never touches the OS.
type sandboxAllocator interface {
	Allocate(sessionID, workspacePath string) (*sandbox.User, error)
	Delete(u *sandbox.User, keepWorkspace bool, workspacesBase string)
}

// workspaceInitializer abstracts internal/workspace.Manager (C4).
type workspaceInitializer interface {
	Initialize(ctx context.Context, userID, sessionID, model string) (*workspace.InitResult, error)
	SetChangeSubscriber(sessionID string, fn workspace.ChangeFunc) error
	Stop(ctx context.Context, sessionID string) error
	Delete(ctx context.Context, userID string) error
	ForceSyncToCloud(ctx context.Context, sessionID string) error
	ForceSyncFromCloud(ctx context.Context, sessionID string) error
	ListUserWorkspaces(ctx context.Context, userID string) ([]*workspace.Metadata, error)
}

// ideSupervisor abstracts internal/ideserver.Supervisor (C7).
type ideSupervisor interface {
	Start(ctx context.Context, userID, sessionID, workspacePath string, sandboxUser *sandbox.User) (*ideserver.Instance, error)
	Stop(ctx context.Context, sessionID string) error
	Get(sessionID string) (*ideserver.Instance, bool)
}

// ptyStartFunc spawns the agent process inside a PTY and returns the
// master end plus the underlying command, so the caller can Wait() on
// it for exit-handling. Production code uses spawnPTY (creack/pty); tests
// substitute a fake that starts an ordinary non-PTY child.
type ptyStartFunc func(name string, args []string, env []string, dir string) (*os.File, *exec.Cmd, error)

// Manager owns the session table, the PTY registry, and the per-session
// mutex table used to serialise Write/Resize against a session's own PTY.
type Manager struct {
	cfg     *config.Config
	store   SessionStore
	sandbox sandboxAllocator
	ws      workspaceInitializer
	ide     ideSupervisor
	metrics *metrics.Collector
	logger  zerolog.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	ptysMu sync.Mutex
	ptys   map[string]*ptySession

	ptyStart ptyStartFunc
}

// NewManager constructs the Session Manager from its collaborators.
func NewManager(cfg *config.Config, st SessionStore, sb sandboxAllocator, ws workspaceInitializer, ide ideSupervisor, mc *metrics.Collector, logger zerolog.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		store:    st,
		sandbox:  sb,
		ws:       ws,
		ide:      ide,
		metrics:  mc,
		logger:   logger,
		locks:    make(map[string]*sync.Mutex),
		ptys:     make(map[string]*ptySession),
		ptyStart: spawnPTY,
	}
}

// SetPTYStart overrides the agent-spawning function. It exists as a test
// seam for packages outside session (e.g. the edge surface) that need a
// fully wired Manager without spawning a real sandboxed agent process.
func (m *Manager) SetPTYStart(fn ptyStartFunc) {
	m.ptyStart = fn
}

func (m *Manager) sessionLock(id string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	mu, ok := m.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		m.locks[id] = mu
	}
	return mu
}

func (m *Manager) removeSessionLock(id string) {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	delete(m.locks, id)
}
