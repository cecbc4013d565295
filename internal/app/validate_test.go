package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"convsync/pkg/config"
)

func TestValidateConfigAcceptsDefaults(t *testing.T) {
	assert.NoError(t, validateConfig(config.Default()))
}

func TestValidateConfigRejections(t *testing.T) {
	base := config.Default()

	cfg := base
	cfg.Server.Port = 0
	assert.Error(t, validateConfig(cfg))

	cfg = base
	cfg.Server.Port = 70000
	assert.Error(t, validateConfig(cfg))

	cfg = base
	cfg.Server.DBPath = ""
	assert.Error(t, validateConfig(cfg))

	cfg = base
	cfg.Sync.HistoryLimit = -1
	assert.Error(t, validateConfig(cfg))

	// Expiry at or below the quiet window would clear indicators mid-burst.
	cfg = base
	cfg.Sync.TypingQuiet = config.Duration(2 * time.Second)
	cfg.Sync.TypingExpiry = config.Duration(time.Second)
	assert.Error(t, validateConfig(cfg))

	// Freshness at or below the heartbeat would flap everyone offline.
	cfg = base
	cfg.Sync.HeartbeatInterval = config.Duration(time.Minute)
	cfg.Sync.PresenceFreshness = config.Duration(30 * time.Second)
	assert.Error(t, validateConfig(cfg))
}
