package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"convsync/internal/app"
	"convsync/pkg/config"
	"convsync/pkg/logger"
	"convsync/pkg/shutdown"
)

var version = "dev"

func main() {
	cfgPath := flag.String("config", "", "path to convsync.yaml (default: ./convsync.yaml if present)")
	dbPath := flag.String("db", "", "override storage path")
	flag.Parse()

	cfg, sources, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if *dbPath != "" {
		cfg.Server.DBPath = *dbPath
	}

	logger.InitWithLevel(cfg.Logging.Level)

	a, err := app.New(cfg, sources, version)
	if err != nil {
		logger.Error("startup_failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	if err := a.Run(ctx); err != nil {
		logger.Error("server_exit", "error", err)
		os.Exit(1)
	}
	logger.Info("server_stopped")
}
