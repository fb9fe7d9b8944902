package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/screwyprof/fundme/migrator"
	"github.com/screwyprof/fundme/migrator/config"
	"github.com/screwyprof/fundme/pkg/logger"
	"github.com/screwyprof/fundme/pkg/pgxdb"
)

// These values are overridden at build time using -ldflags
var (
	version = "dev"
	date    = "unknown"
)

func main() {
	cfg := config.New()

	log := logger.NewFromConfig(logger.Config{
		LogLevel:         cfg.LogLevel,
		LogHumanFriendly: cfg.LogHumanFriendly,
	})
	slog.SetDefault(log)

	log.Info("Starting roster archive migrator",
		slog.Bool("dryRun", cfg.DryRun),
		slog.String("version", version),
		slog.String("date", date),
	)

	// Create a context that cancels on SIGINT/SIGTERM _or_ when the timeout elapses
	baseCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(baseCtx, cfg.OperationTimeout)
	defer cancel()

	db, err := pgxdb.NewConnection(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("Failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	if cfg.DryRun {
		pending, err := migrator.PendingMigrations(db)
		if err != nil {
			log.Error("Failed to plan migrations", slog.Any("error", err))
			os.Exit(1)
		}
		log.Info("Pending migrations", slog.Int("count", len(pending)), slog.String("ids", strings.Join(pending, ",")))
		return
	}

	log.Info("Applying database migrations")
	applied, err := migrator.ApplyMigrations(db)
	if err != nil {
		log.Error("Failed to apply migrations", slog.Any("error", err))
		os.Exit(1)
	}

	log.Info("Database migrations applied successfully", slog.Int("applied", applied))
}
