// -------------------------------------------------------------------------------
// Quota - Usage Estimation and Monitoring
//
// Author: Alex Freidah
//
// Reports storage usage against a quota. Estimators answer (usage, quota); a
// quota of zero or less is unbounded. Missing estimators and estimator errors
// never fail the check: the report falls back to an optimistic unbounded
// answer. Crossing the warning threshold is advisory and never blocks writes.
// -------------------------------------------------------------------------------

package storage

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Quriosity-agent/qcut-sub012/internal/kv"
	"github.com/Quriosity-agent/qcut-sub012/internal/telemetry"
	"golang.org/x/sys/unix"
)

// Estimator reports bytes used and the byte quota. quota <= 0 means unbounded.
type Estimator interface {
	Estimate(ctx context.Context) (usage, quota int64, err error)
}

// QuotaReport is the result of a quota check.
type QuotaReport struct {
	Available    bool    `json:"available"`
	UsageBytes   int64   `json:"usageBytes"`
	QuotaBytes   int64   `json:"quotaBytes"`
	UsagePercent float64 `json:"usagePercent"`
	Unbounded    bool    `json:"unbounded"`
}

// ComputeQuota derives a report from raw numbers. Available is false once
// usage reaches warnPercent of the quota.
func ComputeQuota(usage, quota int64, warnPercent float64) QuotaReport {
	if quota <= 0 {
		return QuotaReport{Available: true, UsageBytes: usage, Unbounded: true}
	}
	pct := float64(usage) / float64(quota) * 100
	return QuotaReport{
		Available:    pct < warnPercent,
		UsageBytes:   usage,
		QuotaBytes:   quota,
		UsagePercent: pct,
	}
}

// CheckStorageQuota estimates current usage. It never returns an error; an
// unavailable estimate reports unbounded capacity.
func (s *Service) CheckStorageQuota(ctx context.Context) QuotaReport {
	c := s.begin(ctx, "CheckStorageQuota")
	defer c.end(nil)

	if s.estimator == nil {
		return ComputeQuota(0, 0, s.warnPercent)
	}
	usage, quota, err := s.estimator.Estimate(c.ctx)
	if err != nil {
		slog.Warn("Storage estimate unavailable", "error", err)
		return ComputeQuota(0, 0, s.warnPercent)
	}
	return ComputeQuota(usage, quota, s.warnPercent)
}

// -------------------------------------------------------------------------
// ESTIMATORS
// -------------------------------------------------------------------------

// DiskEstimator measures on-device usage. Usage is the total size of Paths;
// quota is QuotaBytes when set, else the capacity of the filesystem holding
// the first path.
type DiskEstimator struct {
	Paths      []string
	QuotaBytes int64
}

// NewDiskEstimator returns an estimator over paths with nested paths removed
// so no byte is counted twice.
func NewDiskEstimator(quotaBytes int64, paths ...string) *DiskEstimator {
	return &DiskEstimator{Paths: topLevelPaths(paths), QuotaBytes: quotaBytes}
}

// Estimate implements Estimator.
func (d *DiskEstimator) Estimate(ctx context.Context) (int64, int64, error) {
	var usage int64
	for _, p := range d.Paths {
		if err := ctx.Err(); err != nil {
			return 0, 0, err
		}
		n, err := kv.DirSize(p)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to size %s: %w", p, err)
		}
		usage += n
	}

	if d.QuotaBytes > 0 || len(d.Paths) == 0 {
		return usage, d.QuotaBytes, nil
	}

	var st unix.Statfs_t
	if err := unix.Statfs(d.Paths[0], &st); err != nil {
		return 0, 0, fmt.Errorf("failed to statfs %s: %w", d.Paths[0], err)
	}
	return usage, int64(st.Blocks) * int64(st.Bsize), nil
}

// topLevelPaths cleans paths, drops empties and duplicates, and removes any
// path nested inside another.
func topLevelPaths(paths []string) []string {
	var cleaned []string
	for _, p := range paths {
		if p != "" {
			cleaned = append(cleaned, filepath.Clean(p))
		}
	}
	sort.Strings(cleaned)

	var out []string
	for _, p := range cleaned {
		nested := false
		for _, parent := range out {
			if p == parent || strings.HasPrefix(p, parent+string(filepath.Separator)) {
				nested = true
				break
			}
		}
		if !nested {
			out = append(out, p)
		}
	}
	return out
}

// UsageReporter is implemented by blob backends that can total their size.
type UsageReporter interface {
	Usage(ctx context.Context) (int64, error)
}

// S3Estimator measures object storage usage against a configured quota.
type S3Estimator struct {
	Blobs      UsageReporter
	QuotaBytes int64
}

// Estimate implements Estimator.
func (e *S3Estimator) Estimate(ctx context.Context) (int64, int64, error) {
	usage, err := e.Blobs.Usage(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to total blob usage: %w", err)
	}
	return usage, e.QuotaBytes, nil
}

// -------------------------------------------------------------------------
// MONITOR
// -------------------------------------------------------------------------

// UpdateQuotaMetrics runs one quota check, publishes the gauges, and warns when
// usage is above the threshold.
func (s *Service) UpdateQuotaMetrics(ctx context.Context) QuotaReport {
	r := s.CheckStorageQuota(ctx)
	telemetry.QuotaBytesUsed.Set(float64(r.UsageBytes))
	telemetry.QuotaBytesLimit.Set(float64(r.QuotaBytes))
	telemetry.QuotaUsagePercent.Set(r.UsagePercent)
	if !r.Available {
		slog.Warn("Storage usage above threshold",
			"usage_bytes", r.UsageBytes,
			"quota_bytes", r.QuotaBytes,
			"usage_percent", fmt.Sprintf("%.1f", r.UsagePercent),
			"threshold_percent", s.warnPercent,
		)
	}
	return r
}

// RunQuotaMonitor checks quota immediately and then every interval until ctx
// is done.
func (s *Service) RunQuotaMonitor(ctx context.Context, interval time.Duration) {
	s.UpdateQuotaMetrics(ctx)
	if interval <= 0 {
		slog.Warn("Quota monitor disabled, interval must be positive", "interval", interval)
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.UpdateQuotaMetrics(ctx)
		}
	}
}
