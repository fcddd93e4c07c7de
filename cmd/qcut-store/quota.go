package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/Quriosity-agent/qcut-sub012/internal/storage"
)

// runQuota prints a quota report, or with -watch keeps the quota gauges
// updated and served on -metrics-addr until interrupted.
func runQuota(args []string) {
	fs := flag.NewFlagSet("quota", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	watch := fs.Bool("watch", false, "Check periodically until interrupted")
	metricsAddr := fs.String("metrics-addr", "127.0.0.1:9471", "Listen address for the metrics endpoint with -watch")
	_ = fs.Parse(args)

	cfg := loadConfig(*configPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc := openService(ctx, cfg)
	defer svc.Close()

	if *watch {
		stopTelemetry := startTelemetry(ctx, cfg, *metricsAddr)
		defer stopTelemetry()
		svc.RunQuotaMonitor(ctx, cfg.Quota.Interval)
		return
	}

	report := svc.CheckStorageQuota(ctx)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(struct {
		storage.QuotaReport
		WarnPercent float64 `json:"warnPercent"`
	}{report, cfg.Quota.WarnPercent})
}
