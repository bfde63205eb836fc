package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"ragbase/bootstrap"
	"ragbase/config"
	"ragbase/loader/internal"
	"ragbase/loader/service"
)

func init() {
	config.LoadEnv(slog.Default())
}

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal(err)
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}

	watcher, err := internal.NewWatcher(internal.Folders{
		SourceDir:  cfg.Loader.SourceDir,
		ArchiveDir: cfg.Loader.ArchiveDir,
		BadDir:     cfg.Loader.BadDir,
	}, cfg.Loader.MonitoringTime, logger)
	if err != nil {
		logger.Error("error creating loader folders", "error", err)
		app.Close()
		os.Exit(1)
	}

	service.New(app.Orchestrator, watcher, logger).Run(ctx)

	logger.Info("closing connections")
	if err := app.Close(); err != nil {
		logger.Error("error closing resources", "error", err)
	}
}
