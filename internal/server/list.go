// -------------------------------------------------------------------------------
// Store Handlers - List and Clear
//
// Author: Alex Freidah
//
// HTTP handlers for store-level operations. List returns a JSON array of keys
// sorted for stable output; an empty store is "[]", never null.
// -------------------------------------------------------------------------------

package server

import (
	"context"
	"net/http"
	"sort"

	"github.com/Quriosity-agent/qcut-sub012/internal/kv"
)

// handleList processes GET requests at the store level.
func (s *Server) handleList(ctx context.Context, w http.ResponseWriter, ns kv.Namespace) (int, error) {
	a, err := s.adapter(ctx, ns)
	if err != nil {
		return backendError(w, err)
	}
	keys, err := a.List(ctx)
	if err != nil {
		return backendError(w, err)
	}
	if keys == nil {
		keys = []string{}
	}
	sort.Strings(keys)

	if err := writeJSON(w, http.StatusOK, keys); err != nil {
		return http.StatusOK, err
	}
	return http.StatusOK, nil
}

// handleClear processes DELETE requests at the store level.
func (s *Server) handleClear(ctx context.Context, w http.ResponseWriter, ns kv.Namespace) (int, error) {
	a, err := s.adapter(ctx, ns)
	if err != nil {
		return backendError(w, err)
	}
	if err := a.Clear(ctx); err != nil {
		return backendError(w, err)
	}
	w.WriteHeader(http.StatusNoContent)
	return http.StatusNoContent, nil
}
