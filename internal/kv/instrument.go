package kv

import (
	"context"
	"time"

	"github.com/Quriosity-agent/qcut-sub012/internal/telemetry"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Operation names shared by every backend's metrics and spans.
const (
	opGet    = "Get"
	opSet    = "Set"
	opRemove = "Remove"
	opList   = "List"
	opClear  = "Clear"
)

// operation tracks one in-flight KV call for tracing and metrics.
type operation struct {
	span    trace.Span
	start   time.Time
	backend string
	name    string
}

// startOperation opens a span for a backend call. The caller must invoke end
// with the call's result.
func startOperation(ctx context.Context, backend, name string, ns Namespace, key string) (context.Context, *operation) {
	ctx, span := telemetry.StartSpan(ctx, "Backend "+name,
		telemetry.BackendAttributes(name, backend, ns.Database, ns.Store, key)...,
	)
	return ctx, &operation{span: span, start: time.Now(), backend: backend, name: name}
}

// end records Prometheus metrics, marks the span, and closes it.
func (o *operation) end(err error) {
	status := "success"
	if err != nil {
		status = "error"
		o.span.SetStatus(codes.Error, err.Error())
		o.span.RecordError(err)
	}
	telemetry.BackendRequestsTotal.WithLabelValues(o.name, o.backend, status).Inc()
	telemetry.BackendDuration.WithLabelValues(o.name, o.backend).Observe(time.Since(o.start).Seconds())
	o.span.End()
}
