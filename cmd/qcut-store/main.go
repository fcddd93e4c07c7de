// -------------------------------------------------------------------------------
// QCut Store - Storage Subsystem Command
//
// Author: Alex Freidah
//
// Entry point for the storage subsystem tooling. The bridge subcommand serves
// the host bridge over the configured structured database; migrate, quota, and
// inspect operate on the Storage Service directly.
// -------------------------------------------------------------------------------

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Quriosity-agent/qcut-sub012/internal/auth"
	"github.com/Quriosity-agent/qcut-sub012/internal/config"
	"github.com/Quriosity-agent/qcut-sub012/internal/server"
	"github.com/Quriosity-agent/qcut-sub012/internal/storage"
	"github.com/Quriosity-agent/qcut-sub012/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const usage = `usage: qcut-store <command> [flags]

commands:
  bridge    serve the host bridge over the structured database
  migrate   run blob cleanup and scene migration
  quota     report storage usage against the quota
  inspect   list projects with scene and media counts
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "bridge":
		runBridge(args)
	case "migrate":
		runMigrate(args)
	case "quota":
		runQuota(args)
	case "inspect":
		runInspect(args)
	case "-h", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
}

// loadConfig loads the configuration and installs the logger it describes.
func loadConfig(path string) *config.Config {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		slog.Error("Failed to load config", "path", path, "error", err)
		os.Exit(1)
	}
	slog.SetDefault(newLogger(cfg.Log))
	return cfg
}

// openService opens the Storage Service or exits.
func openService(ctx context.Context, cfg *config.Config) *storage.Service {
	svc, err := storage.Open(ctx, cfg)
	if err != nil {
		slog.Error("Failed to open storage", "error", err)
		os.Exit(1)
	}
	return svc
}

func runBridge(args []string) {
	fs := flag.NewFlagSet("bridge", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	_ = fs.Parse(args)

	cfg := loadConfig(*configPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize tracing; metrics share the bridge listener ---
	stopTelemetry := startTelemetry(ctx, cfg, "")

	// --- Open the structured database ---
	backend, err := storage.OpenDatabase(ctx, cfg)
	if err != nil {
		slog.Error("Failed to open database", "driver", cfg.Database.Driver, "error", err)
		os.Exit(1)
	}
	slog.Info("Database opened", "driver", cfg.Database.Driver, "backend", backend.Name())

	srv := server.NewServer(backend, cfg)

	// --- Setup HTTP mux ---
	mux := http.NewServeMux()
	if cfg.Telemetry.Metrics.Enabled {
		mux.Handle(cfg.Telemetry.Metrics.Path, promhttp.Handler())
		slog.Info("Metrics endpoint enabled", "path", cfg.Telemetry.Metrics.Path)
	}
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	var handler http.Handler = srv
	if cfg.RateLimit.Enabled {
		handler = server.NewRateLimiter(ctx, cfg.RateLimit).Middleware(srv)
	}
	mux.Handle("/", handler)

	httpServer := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	// --- Handle graceful shutdown ---
	go func() {
		<-ctx.Done()
		slog.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		}
		if err := backend.Close(); err != nil {
			slog.Error("Database close error", "error", err)
		}
		stopTelemetry()
	}()

	slog.Info("QCut bridge starting",
		"version", telemetry.Version,
		"listen", cfg.Server.ListenAddr,
		"auth", auth.NeedsAuth(cfg.Auth),
		"rate_limit", cfg.RateLimit.Enabled,
	)
	if !auth.NeedsAuth(cfg.Auth) {
		slog.Warn("Bridge authentication is disabled")
	}

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped")
}
