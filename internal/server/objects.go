// -------------------------------------------------------------------------------
// Entry Handlers - GET, PUT, DELETE
//
// Author: Alex Freidah
//
// HTTP handlers for single-key KV operations. PUT bodies are capped at the
// configured maximum value size.
// -------------------------------------------------------------------------------

package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/Quriosity-agent/qcut-sub012/internal/kv"
	"github.com/Quriosity-agent/qcut-sub012/internal/telemetry"
	"go.opentelemetry.io/otel/trace"
)

// handleGet returns the raw value bytes, or 404 when the key is missing.
func (s *Server) handleGet(ctx context.Context, w http.ResponseWriter, ns kv.Namespace, key string) (int, error) {
	a, err := s.adapter(ctx, ns)
	if err != nil {
		return backendError(w, err)
	}
	value, ok, err := a.Get(ctx, key)
	if err != nil {
		return backendError(w, err)
	}
	if !ok {
		writeJSONError(w, http.StatusNotFound, "NoSuchKey", "Key not found")
		return http.StatusNotFound, nil
	}

	trace.SpanFromContext(ctx).SetAttributes(telemetry.AttrValueSize.Int(len(value)))

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(value)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(value); err != nil {
		return http.StatusOK, fmt.Errorf("error writing body: %w", err)
	}
	return http.StatusOK, nil
}

// handlePut stores the request body as the value for key.
func (s *Server) handlePut(ctx context.Context, w http.ResponseWriter, r *http.Request, ns kv.Namespace, key string) (int, error) {
	if s.MaxValueSize > 0 && r.ContentLength > s.MaxValueSize {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "EntityTooLarge", "Value exceeds maximum allowed size")
		return http.StatusRequestEntityTooLarge, fmt.Errorf("value size %d exceeds limit %d", r.ContentLength, s.MaxValueSize)
	}

	body := io.Reader(r.Body)
	if s.MaxValueSize > 0 {
		// Read one extra byte to detect bodies without Content-Length that overflow.
		body = io.LimitReader(r.Body, s.MaxValueSize+1)
	}
	value, err := io.ReadAll(body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "IncompleteBody", "Failed to read request body")
		return http.StatusBadRequest, fmt.Errorf("failed to read body: %w", err)
	}
	if s.MaxValueSize > 0 && int64(len(value)) > s.MaxValueSize {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "EntityTooLarge", "Value exceeds maximum allowed size")
		return http.StatusRequestEntityTooLarge, fmt.Errorf("value exceeds limit %d", s.MaxValueSize)
	}

	trace.SpanFromContext(ctx).SetAttributes(telemetry.AttrValueSize.Int(len(value)))

	a, err := s.adapter(ctx, ns)
	if err != nil {
		return backendError(w, err)
	}
	if err := a.Set(ctx, key, value); err != nil {
		return backendError(w, err)
	}
	w.WriteHeader(http.StatusNoContent)
	return http.StatusNoContent, nil
}

// handleDelete removes key. Missing keys are treated as success since DELETE
// is idempotent.
func (s *Server) handleDelete(ctx context.Context, w http.ResponseWriter, ns kv.Namespace, key string) (int, error) {
	a, err := s.adapter(ctx, ns)
	if err != nil {
		return backendError(w, err)
	}
	if err := a.Remove(ctx, key); err != nil {
		return backendError(w, err)
	}
	w.WriteHeader(http.StatusNoContent)
	return http.StatusNoContent, nil
}

// backendError maps a backend failure to an HTTP response.
func backendError(w http.ResponseWriter, err error) (int, error) {
	switch {
	case errors.Is(err, kv.ErrEmptyKey):
		writeJSONError(w, http.StatusBadRequest, "InvalidKey", err.Error())
		return http.StatusBadRequest, err
	case errors.Is(err, kv.ErrBackendUnavailable):
		writeJSONError(w, http.StatusServiceUnavailable, "ServiceUnavailable", "Storage backend unavailable")
		return http.StatusServiceUnavailable, err
	default:
		writeJSONError(w, http.StatusInternalServerError, "InternalError", "Storage operation failed")
		return http.StatusInternalServerError, err
	}
}
