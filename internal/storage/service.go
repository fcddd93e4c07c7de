// -------------------------------------------------------------------------------
// Service - Storage Facade
//
// Author: Alex Freidah
//
// The public entry point for persisting projects, scenes, media, and
// timelines. Owns conversion to and from the persisted forms, the media load
// state machine, session-scoped blob handles, and quota reporting. Bulk loads
// skip items that fail; single-entity operations return their errors.
// -------------------------------------------------------------------------------

package storage

import (
	"context"
	"errors"
	"time"

	"github.com/Quriosity-agent/qcut-sub012/internal/blobref"
	"github.com/Quriosity-agent/qcut-sub012/internal/coalesce"
	"github.com/Quriosity-agent/qcut-sub012/internal/config"
	"github.com/Quriosity-agent/qcut-sub012/internal/kv"
	"github.com/Quriosity-agent/qcut-sub012/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// -------------------------------------------------------------------------
// ERRORS
// -------------------------------------------------------------------------

var (
	// ErrInvalidProject is returned for a missing or malformed project id.
	ErrInvalidProject = errors.New("invalid project")

	// ErrInvalidMedia is returned for a media item without an id.
	ErrInvalidMedia = errors.New("invalid media item")

	// ErrMainScene is returned when deleting a project's main scene.
	ErrMainScene = errors.New("main scene cannot be deleted")

	// ErrProjectNotFound is returned by scene operations on a missing project.
	ErrProjectNotFound = errors.New("project not found")

	// ErrMediaNotFound is returned by payload operations on a missing item.
	ErrMediaNotFound = errors.New("media item not found")
)

// -------------------------------------------------------------------------
// SERVICE
// -------------------------------------------------------------------------

// Options configures a Service.
type Options struct {
	Runtime     string
	ExportDir   string
	WarnPercent float64

	Selector  *Selector
	Blobs     kv.Backend
	Registry  *blobref.Registry
	Estimator Estimator
}

// Service is the storage facade. All methods are safe for concurrent use.
type Service struct {
	runtime     string
	exportDir   string
	warnPercent float64

	selector  *Selector
	blobs     kv.Backend
	stores    *Stores
	registry  *blobref.Registry
	estimator Estimator

	syncs coalesce.Group[*SyncReport]
}

// NewService creates a service over the given selector and blob backend.
func NewService(opts Options) *Service {
	if opts.Runtime == "" {
		opts.Runtime = config.RuntimeWeb
	}
	if opts.WarnPercent == 0 {
		opts.WarnPercent = 80
	}
	if opts.Registry == nil {
		opts.Registry = blobref.NewRegistry(2 * time.Second)
	}
	return &Service{
		runtime:     opts.Runtime,
		exportDir:   opts.ExportDir,
		warnPercent: opts.WarnPercent,
		selector:    opts.Selector,
		blobs:       opts.Blobs,
		stores:      NewStores(opts.Selector, opts.Blobs),
		registry:    opts.Registry,
		estimator:   opts.Estimator,
	}
}

// Stores returns the adapter factory.
func (s *Service) Stores() *Stores {
	return s.stores
}

// Registry returns the session-scoped blob handle registry.
func (s *Service) Registry() *blobref.Registry {
	return s.registry
}

// SelectedBackend returns the name of the metadata backend, selecting it if
// needed.
func (s *Service) SelectedBackend(ctx context.Context) (string, error) {
	b, err := s.selector.Select(ctx)
	if err != nil {
		return "", err
	}
	return b.Name(), nil
}

// Close revokes all blob handles and closes both backends.
func (s *Service) Close() error {
	s.registry.Close()
	return errors.Join(s.selector.Close(), s.blobs.Close())
}

// -------------------------------------------------------------------------
// MIGRATION MARKERS
// -------------------------------------------------------------------------

// MigrationDone reports whether the permanent marker name has been written.
func (s *Service) MigrationDone(ctx context.Context, name string) (bool, error) {
	a, err := s.stores.Migrations(ctx)
	if err != nil {
		return false, err
	}
	_, ok, err := a.Get(ctx, name)
	return ok, err
}

// MarkMigrationDone writes the permanent marker name.
func (s *Service) MarkMigrationDone(ctx context.Context, name string) error {
	a, err := s.stores.Migrations(ctx)
	if err != nil {
		return err
	}
	return a.Set(ctx, name, []byte(time.Now().UTC().Format(time.RFC3339)))
}

// -------------------------------------------------------------------------
// INSTRUMENTATION
// -------------------------------------------------------------------------

// call tracks one service operation for tracing and metrics.
type call struct {
	ctx       context.Context
	span      trace.Span
	operation string
	start     time.Time
}

// begin opens a span for a service operation. The caller must invoke end.
func (s *Service) begin(ctx context.Context, operation string, attrs ...attribute.KeyValue) *call {
	attrs = append(attrs, telemetry.AttrOperation.String(operation))
	ctx, span := telemetry.StartSpan(ctx, "Service "+operation, attrs...)
	return &call{ctx: ctx, span: span, operation: operation, start: time.Now()}
}

// end records metrics, marks the span, and closes it.
func (c *call) end(err error) {
	status := "success"
	if err != nil {
		status = "error"
		c.span.SetStatus(codes.Error, err.Error())
		c.span.RecordError(err)
	}
	telemetry.ServiceRequestsTotal.WithLabelValues(c.operation, status).Inc()
	telemetry.ServiceDuration.WithLabelValues(c.operation).Observe(time.Since(c.start).Seconds())
	c.span.End()
}
