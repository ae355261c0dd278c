package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "ws", cfg.Transport.Mode)
	assert.Equal(t, 5, cfg.Engine.BreakerThreshold)
	assert.Equal(t, 30*time.Second, cfg.Engine.StaleThreshold)
	assert.Equal(t, time.Hour, cfg.Engine.ExpiryWindow)
}

func TestYAMLFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flipsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
transport:
  mode: nats
  nats:
    url: nats://queue:4222
engine:
  breaker_threshold: 9
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "nats", cfg.Transport.Mode)
	assert.Equal(t, "nats://queue:4222", cfg.Transport.NATS.URL)
	assert.Equal(t, 9, cfg.Engine.BreakerThreshold)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("FLIPSYNC_TRANSPORT_MODE", "nats")
	t.Setenv("FLIPSYNC_LOCAL_PLAYER", "alice")
	t.Setenv("FLIPSYNC_BREAKER_THRESHOLD", "2")
	t.Setenv("FLIPSYNC_BREAKER_COOLDOWN", "90s")
	t.Setenv("FLIPSYNC_SELECTION_WINDOW", "3m")
	t.Setenv("FLIPSYNC_EXPIRY_WINDOW", "2h")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "nats", cfg.Transport.Mode)
	assert.Equal(t, "alice", cfg.LocalPlayer)
	assert.Equal(t, 2, cfg.Engine.BreakerThreshold)
	assert.Equal(t, 90*time.Second, cfg.Engine.BreakerCooldown)
	assert.Equal(t, 3*time.Minute, cfg.Engine.SelectionWindow)
	assert.Equal(t, 2*time.Hour, cfg.Engine.ExpiryWindow)
}

func TestInvalidTransportModeRejected(t *testing.T) {
	t.Setenv("FLIPSYNC_TRANSPORT_MODE", "pigeon")

	_, err := Load("")
	assert.Error(t, err)
}
