// -------------------------------------------------------------------------------
// Helpers - Path Parsing and Error Formatting
//
// Author: Alex Freidah
//
// Utility functions for the server package. Handles URL path parsing for the
// /kv/{database}/{store}/{key} layout and JSON error response formatting.
// -------------------------------------------------------------------------------

package server

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/Quriosity-agent/qcut-sub012/internal/kv"
)

// pathPrefix is the root of every KV route.
const pathPrefix = "/kv/"

// parsePath extracts the namespace and key from an escaped URL path.
// Expected format: /kv/{database}/{store} or /kv/{database}/{store}/{key...}
// Each segment is unescaped on its own so keys may contain an encoded "/".
// hasKey is false for store-level operations (list, clear).
func parsePath(escaped string) (ns kv.Namespace, key string, hasKey bool, ok bool) {
	if !strings.HasPrefix(escaped, pathPrefix) {
		return kv.Namespace{}, "", false, false
	}
	parts := strings.SplitN(strings.TrimPrefix(escaped, pathPrefix), "/", 3)
	if len(parts) < 2 {
		return kv.Namespace{}, "", false, false
	}

	db, err := url.PathUnescape(parts[0])
	if err != nil || db == "" {
		return kv.Namespace{}, "", false, false
	}
	store, err := url.PathUnescape(parts[1])
	if err != nil || store == "" {
		return kv.Namespace{}, "", false, false
	}
	ns = kv.Namespace{Database: db, Store: store}

	if len(parts) == 2 || parts[2] == "" {
		return ns, "", false, true
	}
	key, err = url.PathUnescape(parts[2])
	if err != nil {
		return kv.Namespace{}, "", false, false
	}
	return ns, key, true, true
}

// errorResponse is the JSON body of every non-2xx response.
type errorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// writeJSONError sends a JSON error response.
func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Code: code, Error: message})
}

// writeJSON sends v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}
