package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8089, cfg.Server.Port)
	assert.Equal(t, "/opt/gstreamer-1.24", cfg.Pipeline.GStreamerRoot)
	assert.True(t, cfg.Adaptive.Enabled)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
server:
  port: 9000
pipeline:
  gstreamer_root: /usr/local/gstreamer
adaptive:
  enabled: true
  adaptive_bitrate_enabled: true
  adaptive_links_enabled: false
  packet_loss_threshold_high: 8.0
  packet_loss_threshold_low: 1.0
  bitrate_step_down: 0.2
  bitrate_step_up: 0.1
  min_video_bitrate: 800000
  max_video_bitrate: 8000000
  link_disable_signal_threshold: 20
  link_enable_signal_threshold: 40
  stats_check_interval: 3s
  config_save_interval: 15s
  stable_periods_before_increase: 4
  immediate_decrease: true
logging:
  level: debug
  json: true
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "/usr/local/gstreamer", cfg.Pipeline.GStreamerRoot)
	assert.Equal(t, 8.0, cfg.Adaptive.PacketLossThresholdHigh)
	assert.False(t, cfg.Adaptive.AdaptiveLinksEnabled)
	assert.Equal(t, 3*time.Second, cfg.Adaptive.StatsCheckInterval)
	assert.True(t, cfg.Logging.JSON)
	// untouched sections keep their defaults
	assert.Equal(t, "/etc/glowbox/config.json", cfg.Store.Path)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 99999\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Equal(t, "server.port", verr.Field)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GLOWBOX_PORT", "7070")
	t.Setenv("GLOWBOX_LOG_LEVEL", "trace")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "trace", cfg.Logging.Level)
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9001\n"), 0o644))

	var mu sync.Mutex
	var got []*Config
	w, err := NewWatcher(path, nil, func(cfg *Config) {
		mu.Lock()
		got = append(got, cfg)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9002\n"), 0o644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0
	}, 5*time.Second, 50*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 9002, got[len(got)-1].Server.Port)
}

func TestWatcherKeepsPreviousOnBadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9001\n"), 0o644))

	var mu sync.Mutex
	calls := 0
	w, err := NewWatcher(path, nil, func(cfg *Config) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	require.NoError(t, err)
	defer w.Close()

	// out-of-range port is rejected; callback must not fire
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: -1\n"), 0o644))

	time.Sleep(1200 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, calls)
}
