// -------------------------------------------------------------------------------
// HTTP Server - Host Bridge KV Routing
//
// Author: Alex Freidah
//
// HTTP server run by the privileged host process. Exposes the durable KV
// backend to the storage client over loopback. Routes requests to the
// appropriate handler based on method and whether the path names a key or a
// whole store.
// -------------------------------------------------------------------------------

package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Quriosity-agent/qcut-sub012/internal/auth"
	"github.com/Quriosity-agent/qcut-sub012/internal/config"
	"github.com/Quriosity-agent/qcut-sub012/internal/kv"
	"github.com/Quriosity-agent/qcut-sub012/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// -------------------------------------------------------------------------
// SERVER
// -------------------------------------------------------------------------

// Server handles bridge HTTP requests and routes them to the backend.
type Server struct {
	Backend      kv.Backend
	AuthConfig   config.AuthConfig
	MaxValueSize int64 // Max PUT body size in bytes

	mu       sync.Mutex
	adapters map[kv.Namespace]kv.Adapter
}

// NewServer creates a bridge server over backend.
func NewServer(backend kv.Backend, cfg *config.Config) *Server {
	return &Server{
		Backend:      backend,
		AuthConfig:   cfg.Auth,
		MaxValueSize: cfg.Server.MaxValueSize,
	}
}

// adapter returns the cached adapter for ns, opening it on first use.
func (s *Server) adapter(ctx context.Context, ns kv.Namespace) (kv.Adapter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.adapters[ns]; ok {
		return a, nil
	}
	a, err := s.Backend.Open(ctx, ns)
	if err != nil {
		return nil, err
	}
	if s.adapters == nil {
		s.adapters = make(map[kv.Namespace]kv.Adapter)
	}
	s.adapters[ns] = a
	return a, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	method := r.Method

	// --- Track inflight requests ---
	telemetry.InflightRequests.WithLabelValues(method).Inc()
	defer telemetry.InflightRequests.WithLabelValues(method).Dec()

	// --- Auth check ---
	if err := auth.Authenticate(r, s.AuthConfig); err != nil {
		s.recordRequest(method, http.StatusUnauthorized, start, 0)
		slog.Warn("Auth failed", "method", method, "path", r.URL.Path, "remote", r.RemoteAddr, "error", err)
		writeJSONError(w, http.StatusUnauthorized, "Unauthorized", "Access denied")
		return
	}

	// --- Parse path ---
	ns, key, hasKey, ok := parsePath(r.URL.EscapedPath())
	if !ok {
		s.recordRequest(method, http.StatusBadRequest, start, 0)
		slog.Warn("Invalid path", "method", method, "path", r.URL.Path, "remote", r.RemoteAddr)
		writeJSONError(w, http.StatusBadRequest, "InvalidRequest", "Expected /kv/{database}/{store}[/{key}]")
		return
	}

	// --- Start tracing span ---
	ctx, span := telemetry.StartSpan(r.Context(), fmt.Sprintf("HTTP %s", method),
		telemetry.RequestAttributes(method, r.URL.Path, extractIP(r))...,
	)
	defer span.End()
	span.SetAttributes(
		telemetry.AttrDatabase.String(ns.Database),
		telemetry.AttrStore.String(ns.Store),
		telemetry.AttrKey.String(key),
	)

	// --- Route by method ---
	var status int
	var err error
	var requestSize int64

	if !hasKey {
		switch method {
		case http.MethodGet:
			status, err = s.handleList(ctx, w, ns)
		case http.MethodDelete:
			status, err = s.handleClear(ctx, w, ns)
		default:
			s.recordRequest(method, http.StatusMethodNotAllowed, start, 0)
			writeJSONError(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "Method not supported for store")
			span.SetStatus(codes.Error, "method not allowed for store")
			return
		}
	} else {
		switch method {
		case http.MethodGet:
			status, err = s.handleGet(ctx, w, ns, key)
		case http.MethodPut:
			requestSize = r.ContentLength
			status, err = s.handlePut(ctx, w, r, ns, key)
		case http.MethodDelete:
			status, err = s.handleDelete(ctx, w, ns, key)
		default:
			s.recordRequest(method, http.StatusMethodNotAllowed, start, 0)
			slog.Warn("Method not allowed", "method", method, "path", r.URL.Path, "remote", r.RemoteAddr)
			writeJSONError(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "Method not supported")
			span.SetStatus(codes.Error, "method not allowed")
			return
		}
	}

	// --- Record metrics ---
	s.recordRequest(method, status, start, requestSize)

	// --- Update span status ---
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	}
	span.SetAttributes(attribute.Int("http.status_code", status))

	// --- Log request ---
	elapsed := time.Since(start)
	logAttrs := []any{"method", method, "path", r.URL.Path, "remote", r.RemoteAddr, "status", status, "duration", elapsed}
	if err != nil && status >= http.StatusInternalServerError {
		slog.Error("Request failed", append(logAttrs, "error", err)...)
	} else {
		slog.Debug("Request completed", logAttrs...)
	}
}

// recordRequest updates Prometheus metrics for a completed request.
func (s *Server) recordRequest(method string, status int, start time.Time, reqSize int64) {
	statusStr := strconv.Itoa(status)
	telemetry.RequestsTotal.WithLabelValues(method, statusStr).Inc()
	telemetry.RequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())

	if reqSize > 0 {
		telemetry.RequestSize.WithLabelValues(method).Observe(float64(reqSize))
	}
}
