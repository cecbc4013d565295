package app

import (
	"context"
	"fmt"

	"github.com/joho/godotenv"

	"convsync/internal/retention"
	"convsync/pkg/banner"
	"convsync/pkg/config"
	"convsync/pkg/logger"
	"convsync/pkg/pubsub"
	"convsync/pkg/store"
	"convsync/pkg/sync"
)

// App encapsulates the daemon components and lifecycle.
type App struct {
	cfg     config.Config
	sources string
	version string

	broker *pubsub.Broker
	hub    *sync.Hub
}

// New initializes resources that do not require a running context (store,
// broker, hub). It does not start the HTTP server or the retention
// scheduler; call Run to start those and block until shutdown.
func New(cfg config.Config, sources, version string) (*App, error) {
	_ = godotenv.Load(".env")

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	if err := store.Open(cfg.Server.DBPath); err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", cfg.Server.DBPath, err)
	}

	broker := pubsub.NewBroker(cfg.Broker.SubscriberCapacity)
	broker.SetMaxPayload(cfg.Broker.MaxPayloadBytes.Int64())
	store.SetEcho(broker)

	hub := sync.NewHub(broker, sync.StorePersister{}, sync.Config{
		HistoryLimit:      cfg.Sync.HistoryLimit,
		TypingQuiet:       cfg.Sync.TypingQuiet.Duration(),
		TypingExpiry:      cfg.Sync.TypingExpiry.Duration(),
		HeartbeatInterval: cfg.Sync.HeartbeatInterval.Duration(),
		PresenceFreshness: cfg.Sync.PresenceFreshness.Duration(),
		FailureThreshold:  cfg.Sync.FailureThreshold,
	})

	return &App{cfg: cfg, sources: sources, version: version, broker: broker, hub: hub}, nil
}

// Run starts the retention scheduler and the HTTP server, and blocks until
// ctx is canceled or a fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	stopRetention, err := retention.Start(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer stopRetention()

	banner.Print(a.cfg.ListenAddr(), a.cfg.Server.DBPath, a.sources, a.version)

	errCh := a.startHTTP(ctx)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	a.hub.Shutdown()
	a.broker.Close()
	if err := store.Close(); err != nil {
		logger.Error("store_close_failed", "error", err)
	}
	return runErr
}
