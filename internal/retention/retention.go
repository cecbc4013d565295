// Package retention runs the periodic store sweep: typing rows past their
// TTL are purged, presence rows whose teardown signal was lost are flipped
// offline, and per-conversation history beyond the limit is trimmed.
package retention

import (
	"context"
	"time"

	"github.com/adhocore/gronx"

	"convsync/pkg/config"
	"convsync/pkg/logger"
	"convsync/pkg/store"
)

const defaultCron = "*/5 * * * *"

// Start starts the retention scheduler if enabled. Returns a cancel func.
func Start(ctx context.Context, cfg config.Config) (context.CancelFunc, error) {
	ret := cfg.Retention
	if !ret.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}

	cron := ret.Cron
	if cron == "" {
		cron = defaultCron
	}
	g := gronx.New()
	if !g.IsValid(cron) {
		logger.Warn("retention_invalid_cron", "cron", cron, "fallback", defaultCron)
		cron = defaultCron
	}

	runCtx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				due, err := g.IsDue(cron, time.Now())
				if err != nil || !due {
					continue
				}
				runOnce(cfg)
			}
		}
	}()
	logger.Info("retention_started", "cron", cron)
	return cancel, nil
}

// RunOnce triggers a single sweep immediately, used by tests and admin
// triggers.
func RunOnce(cfg config.Config) { runOnce(cfg) }

func runOnce(cfg config.Config) {
	if !store.Ready() {
		return
	}
	start := time.Now()

	typingTTL := cfg.Retention.TypingTTL.Duration()
	if typingTTL <= 0 {
		typingTTL = time.Minute
	}
	purged, err := store.PurgeTypingBefore(time.Now().Add(-typingTTL).UnixNano())
	if err != nil {
		logger.Error("retention_typing_purge_failed", "error", err)
	}

	presenceTTL := cfg.Retention.PresenceTTL.Duration()
	if presenceTTL <= 0 {
		presenceTTL = 5 * time.Minute
	}
	offlined, err := store.MarkPresenceOfflineBefore(time.Now().Add(-presenceTTL).UnixNano())
	if err != nil {
		logger.Error("retention_presence_sweep_failed", "error", err)
	}

	trimmed := 0
	convs, err := store.ListConversations()
	if err != nil {
		logger.Error("retention_list_conversations_failed", "error", err)
	} else {
		for _, conv := range convs {
			n, err := store.TrimHistory(conv, cfg.Sync.HistoryLimit)
			if err != nil {
				logger.Error("retention_trim_failed", "conversation", conv, "error", err)
				continue
			}
			trimmed += n
		}
	}

	logger.Info("retention_sweep_done",
		"typing_purged", purged,
		"presence_offlined", offlined,
		"history_trimmed", trimmed,
		"duration_ms", time.Since(start).Milliseconds())
}
