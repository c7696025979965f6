// Package main implements the entry point for the distance API server,
// which accepts spreadsheet uploads and computes driving distances for
// the routes they contain as background tasks.
package main

import (
	"context"
	"log"
	"log/slog"

	"github.com/mapruns/distance-api/internal/config"
	"github.com/mapruns/distance-api/internal/platform/logger"
)

func main() {
	cfg, appLogger, err := initializeApp()
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	ctx := context.Background()

	db, err := setupAppDatabase(cfg, appLogger)
	if err != nil {
		appLogger.Error("Database setup failed", "error", err)
		log.Fatalf("Failed to set up database: %v", err)
	}

	app, err := newApplication(ctx, cfg, appLogger, db)
	if err != nil {
		appLogger.Error("Application setup failed", "error", err)
		log.Fatalf("Failed to initialize application: %v", err)
	}

	if err := app.Run(ctx); err != nil {
		appLogger.Error("Server terminated with error", "error", err)
		log.Fatalf("Server error: %v", err)
	}
}

// initializeApp loads configuration and sets up structured logging.
func initializeApp() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	appLogger, err := logger.Setup(cfg.Server)
	if err != nil {
		return nil, nil, err
	}

	slog.Info("Server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"queue_size", cfg.Task.QueueSize)

	return cfg, appLogger, nil
}
