// -------------------------------------------------------------------------------
// Authentication - Host Bridge Token Verification
//
// Author: Alex Freidah
//
// Verifies the shared token that the storage client presents to the host bridge.
// The token travels in X-Bridge-Token; a standard "Authorization: Bearer" header
// is accepted as well for tooling such as curl.
// -------------------------------------------------------------------------------

package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/Quriosity-agent/qcut-sub012/internal/config"
)

// TokenHeader carries the shared bridge token on every request.
const TokenHeader = "X-Bridge-Token"

var (
	// ErrMissingToken is returned when auth is configured but no token was sent.
	ErrMissingToken = errors.New("missing authentication token")

	// ErrInvalidToken is returned when the presented token does not match.
	ErrInvalidToken = errors.New("invalid authentication token")
)

// Authenticate checks the request against the configured token. Returns nil
// when auth is disabled or the token matches.
func Authenticate(r *http.Request, cfg config.AuthConfig) error {
	if !NeedsAuth(cfg) {
		return nil
	}

	presented := RequestToken(r)
	if presented == "" {
		return ErrMissingToken
	}

	// Constant-time comparison to prevent timing attacks
	if subtle.ConstantTimeCompare([]byte(presented), []byte(cfg.Token)) != 1 {
		return ErrInvalidToken
	}
	return nil
}

// RequestToken extracts the token from X-Bridge-Token, falling back to a
// Bearer Authorization header.
func RequestToken(r *http.Request) string {
	if tok := r.Header.Get(TokenHeader); tok != "" {
		return tok
	}
	const bearer = "Bearer "
	if h := r.Header.Get("Authorization"); len(h) > len(bearer) && strings.EqualFold(h[:len(bearer)], bearer) {
		return strings.TrimSpace(h[len(bearer):])
	}
	return ""
}

// NeedsAuth returns true if a token is configured.
func NeedsAuth(cfg config.AuthConfig) bool {
	return cfg.Token != ""
}
