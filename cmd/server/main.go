// Package main implements the entry point for the taskforge server,
// a background task processing engine with bounded concurrency,
// retries with exponential backoff, and graceful shutdown.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/phrazzld/taskforge/internal/config"
	"github.com/phrazzld/taskforge/internal/platform/logger"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("taskforge: %v", err)
	}
}

func run() error {
	// Load a local .env when present; real deployments set the
	// environment directly.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger, err := logger.Setup(logger.LoggerConfig{Level: cfg.Server.LogLevel})
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	appLogger.Info("configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"max_concurrent_tasks", cfg.Engine.MaxConcurrentTasks)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApplication(ctx, cfg, appLogger)
	if err != nil {
		return err
	}

	// Block until a shutdown signal arrives, then drain.
	<-ctx.Done()
	appLogger.Info("shutdown signal received")
	app.Shutdown()

	return nil
}
