//go:build linux

// Package sandbox allocates per-session OS-level isolation: a UID in a
// configured range, a dedicated OS user account, and the command/env
// wrapping needed to drop a PTY child into that user with resource limits.
//
// Grounded on the teacher's internal/runtime/linux/nsinit.go, which drops
// privileges inside a freshly pivoted mount namespace via
// golang.org/x/sys/unix (Setuid/Setgid/Chown/Prctl). This package borrows
// only unix.Chown from that set, applied to allocating and tearing down a
// short-lived OS account; the privilege drop itself goes through `su` (see
// BuildSandboxedCommand) rather than a Setuid call.
package sandbox

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Error kinds surfaced to Session Manager callers (spec.md §7).
var (
	ErrCapacityExhausted = errors.New("CAPACITY_EXHAUSTED: no free uid")
	ErrPrivilegeDenied   = errors.New("PRIVILEGE_DENIED: cannot create os user")
	ErrIO                = errors.New("IO_ERROR")
)

// User is an allocated sandbox account, bound 1:1 to a session for its
// lifetime (spec.md §3 "SandboxUser").
type User struct {
	UID           int
	GID           int
	Username      string
	HomeDir       string
	WorkspaceDir  string
	CreatedAt     time.Time
}

// Manager owns the UID set — the single global allocator described in
// spec.md §9 ("Global mutable state"): one process-wide table, guarded by
// its own mutex, never exposed as an ambient singleton.
type Manager struct {
	minUID int
	maxUID int
	homeBase string

	mu       sync.Mutex
	allocated map[int]bool

	canCreateUsers bool
	logger         zerolog.Logger
}

// NewManager constructs the allocator. Call Initialize before first use.
func NewManager(minUID, maxUID int, homeBase string, logger zerolog.Logger) *Manager {
	return &Manager{
		minUID:    minUID,
		maxUID:    maxUID,
		homeBase:  homeBase,
		allocated: make(map[int]bool),
		logger:    logger,
	}
}

// Initialize detects whether this process can create OS users (root or
// equivalent capability). If not, sandboxing is disabled and the manager
// documents a degraded mode to the caller rather than failing silently.
func (m *Manager) Initialize() bool {
	m.canCreateUsers = os.Geteuid() == 0
	if !m.canCreateUsers {
		m.logger.Warn().Msg("sandbox: not running as root, sandboxing disabled (degraded mode)")
	}
	return m.canCreateUsers
}

// probeBudget bounds the linear UID probe so Allocate fails fast under
// exhaustion rather than looping the full range on every call.
const probeBudget = 4096

// Allocate derives a username from the session id, picks a free UID, and
// creates the OS user + group + private home, then chowns the workspace
// tree to it. On any failure the UID is released before returning, per
// spec.md §4.1.
func (m *Manager) Allocate(sessionID, workspacePath string) (*User, error) {
	if !m.canCreateUsers {
		return nil, ErrPrivilegeDenied
	}

	username := deriveUsername(sessionID)

	uid, err := m.reserveUID()
	if err != nil {
		return nil, err
	}

	home := filepath.Join(m.homeBase, username)

	cleanup := func() {
		m.release(uid)
	}

	if err := runCmd("groupadd", "-g", fmt.Sprint(uid), username); err != nil {
		cleanup()
		return nil, fmt.Errorf("%w: groupadd: %v", ErrIO, err)
	}
	if err := os.MkdirAll(home, 0750); err != nil {
		runCmd("groupdel", username)
		cleanup()
		return nil, fmt.Errorf("%w: mkdir home: %v", ErrIO, err)
	}
	if err := runCmd("useradd",
		"-u", fmt.Sprint(uid),
		"-g", fmt.Sprint(uid),
		"-d", home,
		"-s", "/bin/bash",
		"-M", // no home skeleton copy; we already created it
		username,
	); err != nil {
		os.RemoveAll(home)
		runCmd("groupdel", username)
		cleanup()
		return nil, fmt.Errorf("%w: useradd: %v", ErrIO, err)
	}

	if err := chownRecursive(workspacePath, uid, uid); err != nil {
		m.teardownOSUser(username)
		cleanup()
		return nil, fmt.Errorf("%w: chown workspace: %v", ErrIO, err)
	}
	if err := os.Chmod(workspacePath, 0750); err != nil {
		m.logger.Warn().Err(err).Str("path", workspacePath).Msg("sandbox: chmod workspace failed")
	}
	if err := os.Chmod(home, 0750); err != nil {
		m.logger.Warn().Err(err).Str("path", home).Msg("sandbox: chmod home failed")
	}

	return &User{
		UID:          uid,
		GID:          uid,
		Username:     username,
		HomeDir:      home,
		WorkspaceDir: workspacePath,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// Delete kills all processes owned by the user's UID, removes the OS
// account, releases the UID, and deletes the private home unconditionally.
// The workspace is removed only when keepWorkspace is false AND the path
// is rooted inside the manager's configured workspaces base — a
// path-traversal defence per spec.md §4.1. Best-effort: all sub-failures
// are logged, never propagated.
func (m *Manager) Delete(u *User, keepWorkspace bool, workspacesBase string) {
	if u == nil {
		return
	}

	if err := killUID(u.UID); err != nil {
		m.logger.Warn().Err(err).Int("uid", u.UID).Msg("sandbox: kill processes failed")
	}
	time.Sleep(200 * time.Millisecond)

	m.teardownOSUser(u.Username)

	if err := os.RemoveAll(u.HomeDir); err != nil {
		m.logger.Warn().Err(err).Str("home", u.HomeDir).Msg("sandbox: remove home failed")
	}

	if !keepWorkspace && isRootedIn(u.WorkspaceDir, workspacesBase) {
		if err := os.RemoveAll(u.WorkspaceDir); err != nil {
			m.logger.Warn().Err(err).Str("workspace", u.WorkspaceDir).Msg("sandbox: remove workspace failed")
		}
	}

	m.release(u.UID)
}

func (m *Manager) teardownOSUser(username string) {
	if err := runCmd("userdel", username); err != nil {
		m.logger.Warn().Err(err).Str("user", username).Msg("sandbox: userdel failed")
	}
	if err := runCmd("groupdel", username); err != nil {
		m.logger.Warn().Err(err).Str("user", username).Msg("sandbox: groupdel failed")
	}
}

func (m *Manager) reserveUID() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	span := m.maxUID - m.minUID
	start := m.minUID + int(time.Now().UnixNano()%int64(span))

	tries := probeBudget
	if tries > span {
		tries = span
	}
	for i := 0; i < tries; i++ {
		candidate := m.minUID + (start-m.minUID+i)%span
		if !m.allocated[candidate] && !uidInUseOnHost(candidate) {
			m.allocated[candidate] = true
			return candidate, nil
		}
	}
	return 0, ErrCapacityExhausted
}

func (m *Manager) release(uid int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.allocated, uid)
}

// ReclaimLeaked is called once at manager boot: any UID this process
// believes is allocated but has no corresponding OS account is logged and
// released, per spec.md §4.1 "a leaked UID is logged and reclaimed at
// manager restart".
func (m *Manager) ReclaimLeaked(knownUIDs []int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, uid := range knownUIDs {
		if !uidInUseOnHost(uid) {
			m.logger.Warn().Int("uid", uid).Msg("sandbox: reclaiming leaked uid at startup")
			delete(m.allocated, uid)
		}
	}
}

func deriveUsername(sessionID string) string {
	prefix := sessionID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return "ac-" + strings.ToLower(prefix)
}

func runCmd(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

func isRootedIn(path, base string) bool {
	if base == "" {
		return false
	}
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
