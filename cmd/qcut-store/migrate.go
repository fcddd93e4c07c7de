// -------------------------------------------------------------------------------
// Migrate Subcommand - Boot-Time Data Migrations
//
// Author: Alex Freidah
//
// Runs the blob handle cleanup and the scene migration against the configured
// storage, logging progress as each runner advances. Spans are exported when
// tracing is configured.
// -------------------------------------------------------------------------------

package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/Quriosity-agent/qcut-sub012/internal/config"
	"github.com/Quriosity-agent/qcut-sub012/internal/migrate"
)

func runMigrate(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	metricsAddr := fs.String("metrics-addr", "", "Serve metrics on this address while migrating")
	_ = fs.Parse(args)

	cfg := loadConfig(*configPath)
	ctx := context.Background()

	if code := migrateAll(ctx, cfg, *metricsAddr); code != 0 {
		os.Exit(code)
	}
}

// migrateAll runs both migrations with tracing active and returns the exit
// code, so deferred flushes run before the process exits.
func migrateAll(ctx context.Context, cfg *config.Config, metricsAddr string) int {
	stopTelemetry := startTelemetry(ctx, cfg, metricsAddr)
	defer stopTelemetry()

	svc := openService(ctx, cfg)
	defer svc.Close()

	backend, err := svc.SelectedBackend(ctx)
	if err != nil {
		slog.Error("No storage backend available", "error", err)
		return 1
	}
	slog.Info("Starting migrations", "backend", backend, "writes_per_sec", cfg.Migration.WritesPerSec)

	res, err := migrate.RunAll(ctx, svc, cfg.Migration, func(p migrate.Progress) {
		slog.Debug("Migration progress", "current", p.Current, "total", p.Total, "item", p.CurrentItemName)
	})

	slog.Info("Migrations finished",
		"cleanup_already_done", res.Cleanup.AlreadyDone,
		"media_cleaned", res.Cleanup.MediaCleaned,
		"media_removed", res.Cleanup.MediaRemoved,
		"scenes_migrated", res.Scenes.Migrated,
		"scenes_failed", res.Scenes.Failed,
	)
	if err != nil {
		slog.Error("Migration incomplete", "error", err)
		return 1
	}
	return 0
}
