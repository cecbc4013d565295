package app

import (
	"fmt"

	"convsync/pkg/config"
)

// validateConfig rejects configurations that would misbehave at runtime
// before any resource is opened.
func validateConfig(cfg config.Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", cfg.Server.Port)
	}
	if cfg.Server.DBPath == "" {
		return fmt.Errorf("server db_path is required")
	}
	if cfg.Sync.HistoryLimit < 0 {
		return fmt.Errorf("sync history_limit must be >= 0")
	}
	if q, e := cfg.Sync.TypingQuiet.Duration(), cfg.Sync.TypingExpiry.Duration(); q > 0 && e > 0 && e <= q {
		return fmt.Errorf("typing_expiry (%s) must exceed typing_quiet (%s)", e, q)
	}
	if hb, fr := cfg.Sync.HeartbeatInterval.Duration(), cfg.Sync.PresenceFreshness.Duration(); hb > 0 && fr > 0 && fr <= hb {
		return fmt.Errorf("presence_freshness (%s) must exceed heartbeat_interval (%s)", fr, hb)
	}
	return nil
}
