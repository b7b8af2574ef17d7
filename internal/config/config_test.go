package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3050, cfg.Port)
	assert.Equal(t, 3, cfg.MaxSessionsPerUser)
	assert.Equal(t, 1800, cfg.SessionIdleTimeout)
	assert.Equal(t, 14400, cfg.SessionMaxLifetime)
	assert.Equal(t, int64(5120), cfg.MaxWorkspaceSizeMB)
	assert.Equal(t, "/workspaces", cfg.WorkspacesPath)
	assert.Equal(t, 3100, cfg.IDE.BasePort)
	assert.Equal(t, 100, cfg.IDE.MaxInstances)
	assert.True(t, cfg.SandboxEnabled)
	assert.Equal(t, 10000, cfg.SandboxMinUID)
	assert.Equal(t, 60000, cfg.SandboxMaxUID)
	assert.Equal(t, ProviderMinio, cfg.Storage.Provider)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("MAX_SESSIONS_PER_USER", "7")
	t.Setenv("SESSION_IDLE_TIMEOUT", "60")
	t.Setenv("MAX_WORKSPACE_SIZE_MB", "2048")
	t.Setenv("STORAGE_PROVIDER", "s3")
	t.Setenv("SANDBOX_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 7, cfg.MaxSessionsPerUser)
	assert.Equal(t, 60, cfg.SessionIdleTimeout)
	assert.Equal(t, int64(2048), cfg.MaxWorkspaceSizeMB)
	assert.Equal(t, ProviderS3, cfg.Storage.Provider)
	assert.False(t, cfg.SandboxEnabled)
}

func TestEnvSizeHumanReadable(t *testing.T) {
	t.Setenv("MAX_WORKSPACE_SIZE_MB", "2GB")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, int64(2048), cfg.MaxWorkspaceSizeMB)
}

func TestEnvOverrideInvalidValues(t *testing.T) {
	t.Setenv("MAX_SESSIONS_PER_USER", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.MaxSessionsPerUser)
}

func TestValidateRejectsBadPort(t *testing.T) {
	t.Setenv("PORT", "0")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidateRejectsBadUIDRange(t *testing.T) {
	t.Setenv("SANDBOX_MIN_UID", "50000")
	t.Setenv("SANDBOX_MAX_UID", "40000")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadAppliesFileConfigAsDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agenticoded.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 4040
maxSessionsPerUser: 9
workspacesPath: /mnt/workspaces
agent:
  ollamaHost: http://ollama.internal:11434
storage:
  provider: s3
  bucket: from-file-bucket
`), 0644))
	t.Setenv("AGENTICODED_CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 4040, cfg.Port)
	assert.Equal(t, 9, cfg.MaxSessionsPerUser)
	assert.Equal(t, "/mnt/workspaces", cfg.WorkspacesPath)
	assert.Equal(t, "http://ollama.internal:11434", cfg.Agent.OllamaHost)
	assert.Equal(t, ProviderS3, cfg.Storage.Provider)
	assert.Equal(t, "from-file-bucket", cfg.Storage.Bucket)
}

func TestLoadEnvOverridesFileConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agenticoded.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 4040\n"), 0644))
	t.Setenv("AGENTICODED_CONFIG_FILE", path)
	t.Setenv("PORT", "5050")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5050, cfg.Port)
}

func TestLoadMissingFileConfigIsNotAnError(t *testing.T) {
	t.Setenv("AGENTICODED_CONFIG_FILE", filepath.Join(t.TempDir(), "does-not-exist.yaml"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3050, cfg.Port)
}
