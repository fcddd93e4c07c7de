// -------------------------------------------------------------------------------
// Bootstrap - Service Construction From Configuration
//
// Author: Alex Freidah
//
// Builds the candidate list for the selector, the blob backend, the quota
// estimator, and the blob handle registry from a validated Config. Remote
// candidates are wrapped in a circuit breaker. Backends are constructed only
// when the selector probes them.
// -------------------------------------------------------------------------------

package storage

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/Quriosity-agent/qcut-sub012/internal/blobref"
	"github.com/Quriosity-agent/qcut-sub012/internal/config"
	"github.com/Quriosity-agent/qcut-sub012/internal/kv"
)

// Open builds a Service from cfg. The metadata backend is selected lazily on
// first use.
func Open(ctx context.Context, cfg *config.Config) (*Service, error) {
	blobs, err := OpenBlobBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var est Estimator
	if cfg.Quota.Enabled {
		est = NewEstimator(cfg, blobs)
	}

	return NewService(Options{
		Runtime:     cfg.Runtime,
		ExportDir:   cfg.Blobs.ExportDir,
		WarnPercent: cfg.Quota.WarnPercent,
		Selector:    NewSelector(CapabilitiesFromConfig(cfg), Candidates(cfg)...),
		Blobs:       blobs,
		Registry:    blobref.NewRegistry(cfg.Blobs.RevokeDelay),
		Estimator:   est,
	}), nil
}

// Candidates returns the metadata backend candidates described by cfg.
func Candidates(cfg *config.Config) []Candidate {
	return []Candidate{
		{
			Kind: KindBridge,
			Build: func(context.Context) (kv.Backend, error) {
				return kv.NewBreakerBackend(kv.NewBridgeBackend(cfg.Bridge), cfg.CircuitBreaker), nil
			},
		},
		{
			Kind: KindDatabase,
			Build: func(ctx context.Context) (kv.Backend, error) {
				return OpenDatabase(ctx, cfg)
			},
		},
		{
			Kind: KindFallback,
			Build: func(context.Context) (kv.Backend, error) {
				b, err := kv.OpenFallback(cfg.Fallback.Path)
				if err != nil {
					return nil, err
				}
				return b, nil
			},
		},
	}
}

// OpenDatabase opens the structured database backend named by
// database.driver. Network drivers are wrapped in a circuit breaker.
func OpenDatabase(ctx context.Context, cfg *config.Config) (kv.Backend, error) {
	switch cfg.Database.Driver {
	case config.DriverBolt:
		b, err := kv.OpenBolt(cfg.Database.Path)
		if err != nil {
			return nil, err
		}
		return b, nil
	case config.DriverPostgres:
		b, err := kv.NewPostgresBackend(ctx, cfg.Database.Postgres)
		if err != nil {
			return nil, err
		}
		return kv.NewBreakerBackend(b, cfg.CircuitBreaker), nil
	case config.DriverRedis:
		return kv.NewBreakerBackend(kv.NewRedisBackend(cfg.Database.Redis), cfg.CircuitBreaker), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

// OpenBlobBackend opens the payload store named by blobs.kind.
func OpenBlobBackend(_ context.Context, cfg *config.Config) (kv.Backend, error) {
	switch cfg.Blobs.Kind {
	case config.BlobsFS:
		b, err := kv.OpenFSBlobs(cfg.Blobs.Dir)
		if err != nil {
			return nil, err
		}
		return b, nil
	case config.BlobsS3:
		return kv.NewS3BlobBackend(cfg.Blobs.S3), nil
	default:
		return nil, fmt.Errorf("unknown blob store kind %q", cfg.Blobs.Kind)
	}
}

// NewEstimator returns the quota estimator matching the blob store.
func NewEstimator(cfg *config.Config, blobs kv.Backend) Estimator {
	if r, ok := blobs.(UsageReporter); ok && cfg.Blobs.Kind == config.BlobsS3 {
		return &S3Estimator{Blobs: r, QuotaBytes: cfg.Quota.QuotaBytes}
	}
	paths := []string{cfg.DataDir, cfg.Blobs.Dir}
	if cfg.Database.Driver == config.DriverBolt {
		paths = append(paths, filepath.Dir(cfg.Database.Path))
	}
	return NewDiskEstimator(cfg.Quota.QuotaBytes, paths...)
}
