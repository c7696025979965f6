package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mapruns/distance-api/internal/config"
	"github.com/mapruns/distance-api/internal/distance"
	"github.com/mapruns/distance-api/internal/platform/postgres"
	"github.com/mapruns/distance-api/internal/store"
	"github.com/mapruns/distance-api/internal/task"
	"github.com/mapruns/distance-api/internal/workbook"
)

// application holds the shared application dependencies to simplify
// management and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	taskStore store.TaskStore

	distanceClient *distance.Client
	processor      *workbook.Processor
	taskService    *task.Service

	// stopWorker cancels the background worker loop.
	stopWorker context.CancelFunc
}

// newApplication creates an application instance with all dependencies
// initialized. Tasks left in an active state by a previous run are marked
// failed before the worker starts.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *sql.DB) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
		db:     db,
	}

	app.taskStore = postgres.NewPostgresTaskStore(db, logger)

	app.distanceClient = distance.NewClient(
		cfg.Maps,
		&http.Client{Timeout: 30 * time.Second},
		logger.With("component", "distance_client"),
	)

	app.processor = workbook.NewProcessor(
		app.distanceClient,
		distance.IsFailure,
		logger.With("component", "workbook_processor"),
	)

	app.taskService = task.NewService(
		app.taskStore,
		app.processor,
		task.Config{QueueSize: cfg.Task.QueueSize},
		logger.With("component", "task_service"),
	)

	if err := app.taskService.Reconcile(ctx); err != nil {
		return nil, fmt.Errorf("failed to reconcile orphaned tasks: %w", err)
	}

	workerCtx, stopWorker := context.WithCancel(context.Background())
	app.stopWorker = stopWorker
	go app.taskService.Run(workerCtx)

	logger.Info("Application initialized successfully")
	return app, nil
}

// Run starts the HTTP server and blocks until shutdown.
func (app *application) Run(ctx context.Context) error {
	router := app.setupRouter()

	if err := app.startHTTPServer(ctx, router); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// cleanup handles graceful shutdown of application resources.
func (app *application) cleanup() {
	if app.stopWorker != nil {
		app.stopWorker()
	}

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("Error closing database connection", "error", err)
		}
	}

	app.logger.Info("Application shutdown completed")
}
