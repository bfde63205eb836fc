package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"ragbase/app/server"
	"ragbase/bootstrap"
	"ragbase/config"
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

	ctx := context.Background()
	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}
	go app.Warmup(ctx)

	s := server.NewServer(app)
	go func() {
		if err := s.Run(); err != nil {
			os.Exit(1)
		}
	}()

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, os.Interrupt, syscall.SIGTERM)
	<-sigch
	logger.Info("Received shutdown signal, shutting down server...")
	if err := s.Stop(); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	if err := app.Close(); err != nil {
		logger.Error("closing resources", "error", err)
	}
}
