package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetAndListReflectPersistedSessions(t *testing.T) {
	m, _, _, _ := testManager()
	ctx := context.Background()

	info, err := m.Create(ctx, CreateOpts{UserID: "u1"})
	require.NoError(t, err)

	got, err := m.Get(info.ID)
	require.NoError(t, err)
	assert.Equal(t, info.ID, got.ID)

	list, err := m.List()
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, m.Stop(ctx, info.ID))
}

func TestSubscribeRawReceivesWrittenBytes(t *testing.T) {
	m, _, _, _ := testManager()
	ctx := context.Background()

	info, err := m.Create(ctx, CreateOpts{UserID: "u1"})
	require.NoError(t, err)

	ch, err := m.SubscribeRaw(info.ID, "sub-1")
	require.NoError(t, err)

	require.NoError(t, m.Write(info.ID, []byte("ping\n")))

	select {
	case chunk := <-ch:
		assert.Contains(t, string(chunk), "ping")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for raw output")
	}

	m.UnsubscribeRaw(info.ID, "sub-1")
	require.NoError(t, m.Stop(ctx, info.ID))
}

func TestGetByUserReturnsRunningSession(t *testing.T) {
	m, _, _, _ := testManager()
	ctx := context.Background()

	info, err := m.Create(ctx, CreateOpts{UserID: "u1"})
	require.NoError(t, err)

	got, err := m.GetByUser("u1")
	require.NoError(t, err)
	assert.Equal(t, info.ID, got.ID)

	require.NoError(t, m.Stop(ctx, info.ID))
}

func TestActivityDefaultsToIdle(t *testing.T) {
	m, _, _, _ := testManager()
	ctx := context.Background()

	info, err := m.Create(ctx, CreateOpts{UserID: "u1"})
	require.NoError(t, err)

	act, err := m.Activity(info.ID)
	require.NoError(t, err)
	assert.Equal(t, "idle", string(act))

	require.NoError(t, m.Stop(ctx, info.ID))
}
