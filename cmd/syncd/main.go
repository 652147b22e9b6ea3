// Command syncd is the long-running daemon: it loads configuration, builds
// the composition root, starts the scheduler, and blocks until it receives
// SIGINT/SIGTERM — the daemon-shaped counterpart to the teacher's
// cmd/server, which instead blocks on http.ListenAndServe (the HTTP
// surface spec.md §1 places out of scope here).
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"retailsync/internal/app"
	"retailsync/internal/config"
)

func main() {
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("build service", zap.Error(err))
	}
	defer svc.Close()

	sched := svc.NewScheduler()
	if err := sched.Start(ctx); err != nil {
		logger.Fatal("start scheduler", zap.Error(err))
	}

	logger.Info("syncd started, awaiting signal")
	<-ctx.Done()
	logger.Info("shutdown signal received, draining scheduler")
	sched.Stop()
}
