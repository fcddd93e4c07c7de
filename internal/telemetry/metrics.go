// -------------------------------------------------------------------------------
// Metrics - Prometheus Instrumentation
//
// Author: Alex Freidah
//
// Prometheus metric definitions for the QCut storage subsystem. Tracks KV backend
// operations, backend selection, service-level entity operations, quota usage,
// migrations, and the host bridge server. All metrics are prefixed with
// 'qcutstore_' for easy identification in dashboards and alerting rules.
// -------------------------------------------------------------------------------

package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// -------------------------------------------------------------------------
// METRIC DEFINITIONS
// -------------------------------------------------------------------------

var (
	// --- Bridge server request metrics ---

	// RequestsTotal counts all bridge HTTP requests by method and status code.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qcutstore_bridge_requests_total",
			Help: "Total number of host bridge HTTP requests processed",
		},
		[]string{"method", "status_code"},
	)

	// RequestDuration tracks bridge request latency distribution by method.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qcutstore_bridge_request_duration_seconds",
			Help:    "Host bridge HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method"},
	)

	// RequestSize tracks value sizes written through the bridge.
	RequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qcutstore_bridge_request_size_bytes",
			Help:    "Host bridge HTTP request body size in bytes",
			Buckets: prometheus.ExponentialBuckets(256, 4, 10),
		},
		[]string{"method"},
	)

	// InflightRequests tracks currently processing bridge requests.
	InflightRequests = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "qcutstore_bridge_inflight_requests",
			Help: "Number of bridge requests currently being processed",
		},
		[]string{"method"},
	)

	// --- KV backend metrics ---

	// BackendRequestsTotal counts KV operations by operation type, backend, and status.
	BackendRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qcutstore_backend_requests_total",
			Help: "Total number of KV backend operations",
		},
		[]string{"operation", "backend", "status"},
	)

	// BackendDuration tracks KV operation latency.
	BackendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qcutstore_backend_duration_seconds",
			Help:    "KV backend operation latency in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation", "backend"},
	)

	// --- Selection metrics ---

	// BackendProbesTotal counts liveness probes by backend and result.
	BackendProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qcutstore_backend_probes_total",
			Help: "Total number of backend liveness probes",
		},
		[]string{"backend", "status"},
	)

	// SelectedBackend is set to 1 for the metadata backend chosen at startup.
	SelectedBackend = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "qcutstore_selected_backend",
			Help: "Metadata backend chosen by the selector (1 = selected)",
		},
		[]string{"backend"},
	)

	// --- Service metrics ---

	// ServiceRequestsTotal counts service-level operations.
	ServiceRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qcutstore_service_requests_total",
			Help: "Total number of storage service operations",
		},
		[]string{"operation", "status"},
	)

	// ServiceDuration tracks service operation latency.
	ServiceDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qcutstore_service_duration_seconds",
			Help:    "Storage service operation latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"operation"},
	)

	// UnloadableMediaTotal counts media items skipped because they cannot be loaded.
	UnloadableMediaTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qcutstore_unloadable_media_total",
			Help: "Media items that could not be loaded, by reason",
		},
		[]string{"reason"},
	)

	// CachedProjects tracks the number of projects with cached adapters.
	CachedProjects = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "qcutstore_cached_projects",
			Help: "Number of projects with cached store adapters",
		},
	)

	// ActiveObjectURLs tracks live session-scoped blob handles.
	ActiveObjectURLs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "qcutstore_active_object_urls",
			Help: "Number of session-scoped blob handles currently issued",
		},
	)

	// --- Quota metrics ---

	// QuotaBytesUsed tracks current bytes used.
	QuotaBytesUsed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "qcutstore_quota_bytes_used",
			Help: "Current bytes used by the storage subsystem",
		},
	)

	// QuotaBytesLimit tracks the quota limit.
	QuotaBytesLimit = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "qcutstore_quota_bytes_limit",
			Help: "Quota limit in bytes (0 when unbounded)",
		},
	)

	// QuotaUsagePercent tracks usage as a percentage of quota.
	QuotaUsagePercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "qcutstore_quota_usage_percent",
			Help: "Storage usage as a percentage of quota",
		},
	)

	// --- Migration metrics ---

	// MigrationItemsTotal counts migration outcomes per runner.
	MigrationItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qcutstore_migration_items_total",
			Help: "Items processed by migration runners, by outcome",
		},
		[]string{"migration", "outcome"},
	)

	// MigrationRunsTotal counts completed migration runs.
	MigrationRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qcutstore_migration_runs_total",
			Help: "Total number of migration runs, by status",
		},
		[]string{"migration", "status"},
	)

	// MigrationDuration tracks migration run time.
	MigrationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qcutstore_migration_duration_seconds",
			Help:    "Migration run duration in seconds",
			Buckets: []float64{.01, .1, .5, 1, 5, 15, 60, 300},
		},
		[]string{"migration"},
	)

	// --- Circuit breaker metrics ---

	// CircuitBreakerState tracks the breaker state per backend (0=closed, 1=open, 2=half-open).
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "qcutstore_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"backend"},
	)

	// CircuitBreakerTransitionsTotal counts breaker state transitions.
	CircuitBreakerTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qcutstore_circuit_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"backend", "from", "to"},
	)

	// --- Info metric ---

	// BuildInfo exposes version information.
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "qcutstore_build_info",
			Help: "Build information for the QCut storage subsystem",
		},
		[]string{"version", "go_version"},
	)
)
