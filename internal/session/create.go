package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/agenticode/agenticoded/internal/apierr"
	"github.com/agenticode/agenticoded/internal/metrics"
	"github.com/agenticode/agenticoded/internal/sandbox"
	"github.com/agenticode/agenticoded/internal/store"
)

// CreateOpts are the parameters accepted by Create, per spec.md §4.8.
type CreateOpts struct {
	UserID string
	Model  string
	APIKey string
	// Mode overrides the api/ollama inference normally derived from
	// whether APIKey is set; Restart uses this to recreate a session in
	// its original mode without needing to resupply a credential.
	Mode           string
	StorageLimitMB int64
}

// Info is the externally visible view of a session, returned by Create,
// Get, and List.
type Info struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	Model        string    `json:"model"`
	Mode         string    `json:"mode"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
}

const agenticodeTemplate = `# AGENTICODE.md

This file gives the agent working in this workspace context about the
project. Edit it freely; the session manager never parses it.
`

// Create provisions a brand new session end to end: quota check, workspace
// initialisation, size enforcement, context-file templating, sandbox
// allocation, agent invocation, and PTY spawn — spec.md §4.8 steps 1-10.
func (m *Manager) Create(ctx context.Context, opts CreateOpts) (*Info, error) {
	if opts.UserID == "" {
		return nil, apierr.New(apierr.InvalidRequest, "userId is required")
	}

	// Step 1: quota.
	running, err := m.store.CountRunningByUser(opts.UserID)
	if err != nil {
		return nil, fmt.Errorf("counting sessions: %w", err)
	}
	if running >= m.cfg.MaxSessionsPerUser {
		return nil, apierr.New(apierr.QuotaExceeded, "too many concurrent sessions for user")
	}

	sessionID := uuid.New().String()
	model := opts.Model
	if model == "" {
		model = m.cfg.Agent.DefaultModel
	}
	mode := store.ModeOllama
	if opts.APIKey != "" {
		mode = store.ModeAPI
	}
	if opts.Mode != "" {
		mode = opts.Mode
	}

	// Step 2: workspace init. Cloud must succeed; no local-only fallback.
	initResult, err := m.ws.Initialize(ctx, opts.UserID, sessionID, model)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apierr.New(apierr.StorageUnavailable, "workspace initialisation failed"), err)
	}
	workspacePath := initResult.LocalPath

	rollbackWorkspace := func() {
		_ = m.ws.Stop(ctx, sessionID)
	}

	// Step 3: workspace size enforcement.
	limitMB := opts.StorageLimitMB
	if limitMB <= 0 {
		limitMB = m.cfg.MaxWorkspaceSizeMB
	}
	usage, err := metrics.WalkWorkspace(workspacePath)
	if err != nil {
		rollbackWorkspace()
		return nil, fmt.Errorf("measuring workspace: %w", err)
	}
	limitBytes := limitMB * 1024 * 1024
	if usage.TotalBytes > limitBytes {
		rollbackWorkspace()
		return nil, apierr.WithDetails(apierr.StorageLimitExceeded, "workspace exceeds size limit", map[string]any{
			"measured": usage.TotalBytes,
			"allowed":  limitBytes,
		})
	}

	// Step 4: ensure AGENTICODE.md exists (non-fatal).
	ensureContextFile(workspacePath, m.logger)

	// Step 5: sandbox allocation.
	var sandboxUser *sandbox.User
	if m.cfg.SandboxEnabled {
		sandboxUser, err = m.sandbox.Allocate(sessionID, workspacePath)
		if err != nil {
			rollbackWorkspace()
			return nil, mapSandboxError(err)
		}
	}

	rollbackSandbox := func() {
		if sandboxUser != nil {
			m.sandbox.Delete(sandboxUser, true, m.cfg.WorkspacesPath)
		}
	}

	// Step 6: compose the agent invocation and its environment.
	agentPath, args := composeInvocation(m, mode, model, opts.APIKey, workspacePath)
	env := composeEnv(sessionID, opts.UserID, mode, opts.APIKey, m, sandboxUser)

	// Step 7: drop privileges via su when sandboxed, then spawn the PTY.
	execName, execArgs := agentPath, args
	if sandboxUser != nil {
		execName, execArgs = sandbox.BuildSandboxedCommand(sandboxUser, agentPath, args, true, sandbox.DefaultResourceLimits())
	}

	ptmx, cmd, err := m.ptyStart(execName, execArgs, env, workspacePath)
	if err != nil {
		rollbackSandbox()
		rollbackWorkspace()
		return nil, fmt.Errorf("spawning agent: %w", err)
	}

	ps := newPTYSession(sessionID, ptmx, cmd, sandboxUser)

	now := time.Now().UTC()
	sandboxUsername := ""
	if sandboxUser != nil {
		sandboxUsername = sandboxUser.Username
	}
	sess := &store.Session{
		ID:              sessionID,
		UserID:          opts.UserID,
		SandboxUsername: sandboxUsername,
		WorkspacePath:   workspacePath,
		Model:           model,
		Mode:            mode,
		Status:          store.StatusStarting,
		CreatedAt:       now,
		LastActivity:    now,
	}
	if err := m.store.CreateSession(sess); err != nil {
		_ = cmd.Process.Kill()
		rollbackSandbox()
		rollbackWorkspace()
		return nil, fmt.Errorf("persisting session: %w", err)
	}

	m.ptysMu.Lock()
	m.ptys[sessionID] = ps
	m.ptysMu.Unlock()

	// Step 8: the exit handler drives cleanup once the process ends.
	go m.awaitExit(sessionID, ps, sandboxUser)

	_ = m.store.UpdateSessionStatus(sessionID, store.StatusRunning)

	go ps.pump()

	return &Info{
		ID:           sessionID,
		UserID:       opts.UserID,
		Model:        model,
		Mode:         mode,
		Status:       store.StatusRunning,
		CreatedAt:    now,
		LastActivity: now,
	}, nil
}

func ensureContextFile(workspacePath string, logger zerolog.Logger) {
	path := filepath.Join(workspacePath, "AGENTICODE.md")
	if _, err := os.Stat(path); err == nil {
		return
	}
	if err := os.WriteFile(path, []byte(agenticodeTemplate), 0o644); err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("session: failed to write default AGENTICODE.md")
	}
}

// mapSandboxError translates internal/sandbox's sentinel errors into the
// apierr kind callers expect, per spec.md §7.
func mapSandboxError(err error) error {
	switch {
	case errors.Is(err, sandbox.ErrCapacityExhausted):
		return apierr.New(apierr.CapacityExhausted, err.Error())
	case errors.Is(err, sandbox.ErrPrivilegeDenied):
		return apierr.New(apierr.PrivilegeDenied, err.Error())
	case errors.Is(err, sandbox.ErrIO):
		return apierr.New(apierr.IOError, err.Error())
	default:
		return err
	}
}

// composeInvocation builds the agent command line, per spec.md §4.8 step 6.
func composeInvocation(m *Manager, mode, model, apiKey, workspacePath string) (string, []string) {
	args := []string{
		"--output-format", "stream-json",
		"--no-permission-prompt",
		"--non-interactive",
		"--cwd", workspacePath,
	}
	if mode == store.ModeAPI {
		args = append(args, "--provider", "api")
		if m.cfg.Agent.APIEndpoint != "" {
			args = append(args, "--api-endpoint", m.cfg.Agent.APIEndpoint)
		}
		args = append(args, "--api-key", apiKey)
	} else {
		args = append(args, "--model", model, "--ollama-host", m.cfg.Agent.OllamaHost)
	}
	return m.cfg.Agent.Path, args
}

// composeEnv builds the child environment per spec.md §4.8 step 7: base
// environment with NO_COLOR stripped (so the PTY always renders colour),
// terminal variables, session/user identifiers, mode-specific variables,
// and the sandbox overlay when sandboxed.
func composeEnv(sessionID, userID, mode, apiKey string, m *Manager, sandboxUser *sandbox.User) []string {
	base := os.Environ()
	out := make([]string, 0, len(base)+8)
	for _, kv := range base {
		if strings.HasPrefix(kv, "NO_COLOR=") {
			continue
		}
		out = append(out, kv)
	}
	out = append(out,
		"TERM=xterm-256color",
		"COLORTERM=truecolor",
		"AGENTICODE_SESSION_ID="+sessionID,
		"AGENTICODE_USER_ID="+userID,
	)
	if mode == store.ModeAPI {
		out = append(out, "AGENTICODE_API_KEY="+apiKey)
	} else {
		out = append(out, "OLLAMA_HOST="+m.cfg.Agent.OllamaHost)
	}
	if sandboxUser != nil {
		out = sandbox.SandboxEnv(sandboxUser, out)
	}
	return out
}
