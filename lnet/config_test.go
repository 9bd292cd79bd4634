package lnet_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gordian-engine/lsl/internal/ltest"
	"github.com/gordian-engine/lsl/lnet"
)

func TestParseConfig(t *testing.T) {
	t.Parallel()

	cfg, err := lnet.ParseConfig([]byte(`
ports:
  discovery: 17000
multicast:
  broadcast: true
lab:
  session_id: lab7
  known_peers: [10.0.0.2:16571, "host:17000"]
tuning:
  resolve_wave_interval: 250ms
  probe_interval: 1s
  probe_count: 4
  smoothing_halftime: 30
  recover_interval: 2s
log:
  level: debug
`))
	require.NoError(t, err)

	require.Equal(t, 17000, cfg.DiscoveryPort)
	require.Equal(t, lnet.DefaultMulticastGroup, cfg.MulticastGroup)
	require.True(t, cfg.Broadcast)
	require.Equal(t, "lab7", cfg.SessionID)
	require.Equal(t, []string{"10.0.0.2:16571", "host:17000"}, cfg.KnownPeers)

	require.Equal(t, 250*time.Millisecond, cfg.ResolveWaveInterval)
	require.Equal(t, time.Second, cfg.ProbeInterval)
	require.Equal(t, 4, cfg.ProbeCount)
	require.Equal(t, 30.0, cfg.SmoothingHalftime)
	require.Equal(t, 2*time.Second, cfg.RecoverInterval)
	require.Equal(t, slog.LevelDebug, cfg.LogLevel)

	// Unset values keep their defaults.
	def := lnet.DefaultConfig()
	require.Equal(t, def.ProbeTimeout, cfg.ProbeTimeout)
	require.Equal(t, def.MaxResolveResults, cfg.MaxResolveResults)
	require.Equal(t, def.ClockResetThreshold, cfg.ClockResetThreshold)
}

func TestParseConfig_emptyGroupDisablesMulticast(t *testing.T) {
	t.Parallel()

	cfg, err := lnet.ParseConfig([]byte("multicast:\n  group: \"\"\n"))
	require.NoError(t, err)
	require.Empty(t, cfg.MulticastGroup)
}

func TestParseConfig_empty(t *testing.T) {
	t.Parallel()

	cfg, err := lnet.ParseConfig(nil)
	require.NoError(t, err)
	require.Equal(t, lnet.DefaultConfig(), cfg)
}

func TestParseConfig_errors(t *testing.T) {
	t.Parallel()

	_, err := lnet.ParseConfig([]byte("log:\n  level: loud\n"))
	require.Error(t, err)

	_, err = lnet.ParseConfig([]byte("tuning:\n  probe_interval: often\n"))
	require.Error(t, err)

	_, err = lnet.ParseConfig([]byte("ports: [1, 2"))
	require.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "lsl.yaml")
	require.NoError(t, os.WriteFile(path, []byte("lab:\n  session_id: from-file\n"), 0o600))

	cfg, err := lnet.LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "from-file", cfg.SessionID)

	_, err = lnet.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestConfigFromEnv(t *testing.T) {
	// Not parallel: modifies the environment.
	path := filepath.Join(t.TempDir(), "lsl.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ports:\n  discovery: 17001\n"), 0o600))

	t.Setenv(lnet.ConfigEnvVar, path)
	cfg, err := lnet.ConfigFromEnv()
	require.NoError(t, err)
	require.Equal(t, 17001, cfg.DiscoveryPort)

	t.Setenv(lnet.ConfigEnvVar, "")
	cfg, err = lnet.ConfigFromEnv()
	require.NoError(t, err)
	require.Equal(t, lnet.DefaultConfig(), cfg)
}

func TestNewEngine_panicsOnInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := lnet.DefaultConfig()
	cfg.MulticastGroup = "10.0.0.1"
	cfg.ProbeCount = 0
	cfg.KnownPeers = []string{"no-port"}

	require.Panics(t, func() {
		_, _ = lnet.NewEngine(context.Background(), ltest.NewLogger(t), cfg)
	})
}
