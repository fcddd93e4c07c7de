// -------------------------------------------------------------------------------
// Migrate - Shared Runner Plumbing
//
// Author: Alex Freidah
//
// Progress reporting, write pacing, and metrics shared by the migration
// runners. Runners talk to storage only through the Service.
// -------------------------------------------------------------------------------

package migrate

import (
	"context"
	"time"

	"github.com/Quriosity-agent/qcut-sub012/internal/config"
	"github.com/Quriosity-agent/qcut-sub012/internal/telemetry"
	"golang.org/x/time/rate"
)

// Outcomes recorded per migrated item.
const (
	outcomeMigrated = "migrated"
	outcomeSkipped  = "skipped"
	outcomeFailed   = "failed"
	outcomeRemoved  = "removed"
)

// Progress reports runner advancement. Current never decreases within a run.
type Progress struct {
	Current         int
	Total           int
	CurrentItemName string
}

// ProgressFunc receives progress updates. It may be nil.
type ProgressFunc func(Progress)

func (f ProgressFunc) report(current, total int, name string) {
	if f != nil {
		f(Progress{Current: current, Total: total, CurrentItemName: name})
	}
}

// NewLimiter returns the write pacer configured by cfg. Pacing is off when
// cfg.Unpaced is set or no rate is configured.
func NewLimiter(cfg config.MigrationConfig) *rate.Limiter {
	if cfg.Unpaced || cfg.WritesPerSec <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.WritesPerSec), burst)
}

// pace blocks until the limiter admits one write.
func pace(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	return l.Wait(ctx)
}

// recordItem counts one item outcome for migration.
func recordItem(migration, outcome string) {
	telemetry.MigrationItemsTotal.WithLabelValues(migration, outcome).Inc()
}

// recordRun records the outcome and duration of one runner pass.
func recordRun(migration string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	telemetry.MigrationRunsTotal.WithLabelValues(migration, status).Inc()
	telemetry.MigrationDuration.WithLabelValues(migration).Observe(time.Since(start).Seconds())
}
