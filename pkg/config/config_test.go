package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "convsync.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestMissingExplicitFileIsAnError(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestDefaultsWhenNoFileGiven(t *testing.T) {
	cfg, sources, err := Load("")
	require.NoError(t, err)
	assert.Contains(t, sources, "defaults")
	assert.Equal(t, 8642, cfg.Server.Port)
	assert.Equal(t, 500, cfg.Sync.HistoryLimit)
	assert.Equal(t, time.Second, cfg.Sync.TypingQuiet.Duration())
	assert.Equal(t, 5*time.Second, cfg.Sync.TypingExpiry.Duration())
	assert.Equal(t, 3, cfg.Sync.FailureThreshold)
	assert.True(t, cfg.Retention.Enabled)
}

func TestYAMLOverridesDefaults(t *testing.T) {
	p := writeConfig(t, `
server:
  port: 9001
  db_path: /tmp/convsync-test
sync:
  history_limit: 50
  typing_quiet: 250ms
  heartbeat_interval: 10
broker:
  subscriber_capacity: 64
  max_payload_bytes: 2MB
`)
	cfg, sources, err := Load(p)
	require.NoError(t, err)
	assert.Contains(t, sources, p)

	assert.Equal(t, 9001, cfg.Server.Port)
	assert.Equal(t, "/tmp/convsync-test", cfg.Server.DBPath)
	assert.Equal(t, 50, cfg.Sync.HistoryLimit)
	assert.Equal(t, 250*time.Millisecond, cfg.Sync.TypingQuiet.Duration())
	// Bare numbers parse as seconds.
	assert.Equal(t, 10*time.Second, cfg.Sync.HeartbeatInterval.Duration())
	assert.Equal(t, int64(2_000_000), cfg.Broker.MaxPayloadBytes.Int64())
	// Untouched sections keep their defaults.
	assert.Equal(t, "127.0.0.1", cfg.Server.Address)
	assert.Equal(t, 5*time.Second, cfg.Sync.TypingExpiry.Duration())
}

func TestEnvOverridesFile(t *testing.T) {
	p := writeConfig(t, "server:\n  port: 9001\n")
	t.Setenv("CONVSYNC_PORT", "9002")
	t.Setenv("CONVSYNC_TYPING_EXPIRY", "7s")
	t.Setenv("CONVSYNC_BROKER_MAX_PAYLOAD", "64KB")

	cfg, _, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, 9002, cfg.Server.Port)
	assert.Equal(t, 7*time.Second, cfg.Sync.TypingExpiry.Duration())
	assert.Equal(t, int64(64_000), cfg.Broker.MaxPayloadBytes.Int64())
}

func TestMalformedYAMLIsAnError(t *testing.T) {
	p := writeConfig(t, "server: [not a mapping\n")
	_, _, err := Load(p)
	assert.Error(t, err)
}

func TestDurationParsing(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1500ms")))
	assert.Equal(t, 1500*time.Millisecond, d.Duration())

	require.NoError(t, d.UnmarshalText([]byte("0.5")))
	assert.Equal(t, 500*time.Millisecond, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("soon")))
}

func TestSizeBytesParsing(t *testing.T) {
	var s SizeBytes
	require.NoError(t, s.UnmarshalText([]byte("1MB")))
	assert.Equal(t, int64(1_000_000), s.Int64())

	require.NoError(t, s.UnmarshalText([]byte("4096")))
	assert.Equal(t, int64(4096), s.Int64())

	assert.Error(t, s.UnmarshalText([]byte("lots")))
}

func TestListenAddr(t *testing.T) {
	cfg := Default()
	cfg.Server.Address = "0.0.0.0"
	cfg.Server.Port = 8080
	assert.Equal(t, "0.0.0.0:8080", cfg.ListenAddr())
}
