package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/phrazzld/taskforge/internal/config"
	"github.com/phrazzld/taskforge/internal/engine"
	"github.com/phrazzld/taskforge/internal/platform/postgres"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// application holds the wired components of the running server.
type application struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *sql.DB
	engine *engine.Engine
	ops    *http.Server
}

// newApplication wires the database, the task store, and the engine, and
// starts the ops listener.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	db, err := setupDatabase(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	taskStore := postgres.NewPostgresTaskStore(db)

	eng := engine.New(taskStore, db, engine.Config{
		MaxConcurrentTasks:     cfg.Engine.MaxConcurrentTasks,
		TaskRetryAttempts:      cfg.Engine.TaskRetryAttempts,
		RetryBaseDelay:         cfg.Engine.RetryBaseDelay,
		RetryMaxDelay:          cfg.Engine.RetryMaxDelay,
		DrainTimeout:           cfg.Engine.DrainTimeout,
		AdmissionQueueCapacity: cfg.Engine.AdmissionQueueCapacity,
	}, logger)

	if err := eng.Start(ctx); err != nil {
		closeDatabase(db, logger)
		return nil, fmt.Errorf("failed to start engine: %w", err)
	}

	app := &application{
		cfg:    cfg,
		logger: logger,
		db:     db,
		engine: eng,
	}
	app.startOpsListener()

	return app, nil
}

// startOpsListener serves the Prometheus metrics endpoint plus liveness
// and engine status probes on the configured port.
func (a *application) startOpsListener() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/statusz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(a.engine.ProcessingStatus()); err != nil {
			a.logger.Error("failed to encode processing status", "error", err)
		}
	})

	a.ops = &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("ops listener started", "addr", a.ops.Addr)
		if err := a.ops.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("ops listener failed", "error", err)
		}
	}()
}

// Shutdown drains the engine, stops the ops listener and closes the
// database connection.
func (a *application) Shutdown() {
	result := a.engine.Stop()
	a.logger.Info("engine drained",
		"completed", result.Completed,
		"interrupted", result.Interrupted)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.ops.Shutdown(ctx); err != nil {
		a.logger.Error("failed to stop ops listener", "error", err)
	}

	closeDatabase(a.db, a.logger)
}
