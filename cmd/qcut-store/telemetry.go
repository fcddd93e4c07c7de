package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/Quriosity-agent/qcut-sub012/internal/config"
	"github.com/Quriosity-agent/qcut-sub012/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// startTelemetry initializes tracing and, when metricsAddr is set and metrics
// are enabled, serves the metrics endpoint on metricsAddr. The returned
// function flushes spans and stops the listener.
func startTelemetry(ctx context.Context, cfg *config.Config, metricsAddr string) func() {
	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.Telemetry.Tracing)
	if err != nil {
		slog.Error("Failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	telemetry.BuildInfo.WithLabelValues(telemetry.Version, runtime.Version()).Set(1)

	var metricsServer *http.Server
	if metricsAddr != "" && cfg.Telemetry.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Telemetry.Metrics.Path, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:              metricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics server error", "error", err)
			}
		}()
		slog.Info("Metrics endpoint enabled", "addr", metricsAddr, "path", cfg.Telemetry.Metrics.Path)
	}

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("Metrics server shutdown error", "error", err)
			}
		}
		if err := shutdownTracer(shutdownCtx); err != nil {
			slog.Error("Tracer shutdown error", "error", err)
		}
	}
}
