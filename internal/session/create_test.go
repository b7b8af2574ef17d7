package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenticode/agenticoded/internal/apierr"
	"github.com/agenticode/agenticoded/internal/sandbox"
	"github.com/agenticode/agenticoded/internal/store"
)

func TestCreateProvisionsSessionEndToEnd(t *testing.T) {
	m, st, sb, ws := testManager()

	info, err := m.Create(context.Background(), CreateOpts{UserID: "u1", APIKey: "key"})
	require.NoError(t, err)
	assert.NotEmpty(t, info.ID)
	assert.Equal(t, "u1", info.UserID)
	assert.Equal(t, store.ModeAPI, info.Mode)
	assert.Equal(t, store.StatusRunning, info.Status)

	persisted, err := st.GetSession(info.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusRunning, persisted.Status)
	assert.NotEmpty(t, persisted.SandboxUsername)

	sb.mu.Lock()
	_, allocated := sb.allocated[info.ID]
	sb.mu.Unlock()
	assert.True(t, allocated)

	ws.mu.Lock()
	_, hasWorkspace := ws.dirs[info.ID]
	ws.mu.Unlock()
	assert.True(t, hasWorkspace)

	m.ptysMu.Lock()
	_, registered := m.ptys[info.ID]
	m.ptysMu.Unlock()
	assert.True(t, registered)

	require.NoError(t, m.Stop(context.Background(), info.ID))
}

func TestCreateDefaultsModelWhenOmitted(t *testing.T) {
	m, _, _, _ := testManager()

	info, err := m.Create(context.Background(), CreateOpts{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "llama3", info.Model)
	assert.Equal(t, store.ModeOllama, info.Mode)

	require.NoError(t, m.Stop(context.Background(), info.ID))
}

func TestCreateRejectsMissingUserID(t *testing.T) {
	m, _, _, _ := testManager()

	_, err := m.Create(context.Background(), CreateOpts{})
	require.Error(t, err)
	assert.Equal(t, apierr.InvalidRequest, apierr.KindOf(err))
}

func TestCreateEnforcesPerUserQuota(t *testing.T) {
	m, _, _, _ := testManager()
	ctx := context.Background()

	first, err := m.Create(ctx, CreateOpts{UserID: "u1"})
	require.NoError(t, err)
	second, err := m.Create(ctx, CreateOpts{UserID: "u1"})
	require.NoError(t, err)

	_, err = m.Create(ctx, CreateOpts{UserID: "u1"})
	require.Error(t, err)
	assert.Equal(t, apierr.QuotaExceeded, apierr.KindOf(err))

	require.NoError(t, m.Stop(ctx, first.ID))
	require.NoError(t, m.Stop(ctx, second.ID))
}

func TestCreateMapsSandboxCapacityExhaustedToAPIErr(t *testing.T) {
	m, _, sb, _ := testManager()
	sb.failNext = sandbox.ErrCapacityExhausted

	_, err := m.Create(context.Background(), CreateOpts{UserID: "u1"})
	require.Error(t, err)
	assert.Equal(t, apierr.CapacityExhausted, apierr.KindOf(err))
}

func TestCreateRollsBackWorkspaceWhenSandboxAllocationFails(t *testing.T) {
	m, _, sb, ws := testManager()
	sb.failNext = sandbox.ErrPrivilegeDenied

	_, err := m.Create(context.Background(), CreateOpts{UserID: "u1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, sandbox.ErrPrivilegeDenied) || apierr.KindOf(err) == apierr.PrivilegeDenied)

	ws.mu.Lock()
	defer ws.mu.Unlock()
	assert.Empty(t, ws.dirs)
}
