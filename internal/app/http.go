package app

import (
	"context"
	"net/http"
	"time"

	"convsync/pkg/api"
	"convsync/pkg/logger"
)

// startHTTP starts the API server and returns a channel carrying a fatal
// serve error. The server drains gracefully when ctx is cancelled.
func (a *App) startHTTP(ctx context.Context) <-chan error {
	handler := api.Handler(a.hub, api.Options{
		RateRPS:   a.cfg.Server.RateRPS,
		RateBurst: a.cfg.Server.RateBurst,
	})

	srv := &http.Server{
		Addr:              a.cfg.ListenAddr(),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http_listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			logger.Warn("http_shutdown_failed", "error", err)
		}
	}()

	return errCh
}
