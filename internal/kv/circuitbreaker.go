// -------------------------------------------------------------------------------
// BreakerBackend - Self-Healing Remote Backend Wrapper
//
// Author: Alex Freidah
//
// Wraps a remote Backend (bridge, postgres, redis) with a three-state circuit
// breaker that detects outages and returns ErrBackendUnavailable while the
// circuit is open. Every adapter opened through the wrapper shares one breaker,
// so a dead host trips all namespaces at once. When the backend recovers, the
// circuit auto-closes.
//
// States: closed (healthy) → open (backend down) → half-open (probing) → closed.
// -------------------------------------------------------------------------------

package kv

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Quriosity-agent/qcut-sub012/internal/config"
	"github.com/Quriosity-agent/qcut-sub012/internal/telemetry"
)

// -------------------------------------------------------------------------
// STATE
// -------------------------------------------------------------------------

type circuitState int

const (
	stateClosed   circuitState = iota // healthy, all calls pass through
	stateOpen                         // backend down, fail fast
	stateHalfOpen                     // probing, one call allowed through
)

func (s circuitState) String() string {
	switch s {
	case stateClosed:
		return "closed"
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// -------------------------------------------------------------------------
// BREAKER BACKEND
// -------------------------------------------------------------------------

// BreakerBackend implements Backend by wrapping a real backend with circuit
// breaker logic.
type BreakerBackend struct {
	real          Backend
	mu            sync.Mutex
	state         circuitState
	failures      int
	lastFailure   time.Time
	failThreshold int
	openTimeout   time.Duration
	now           func() time.Time
}

// Compile-time check.
var _ Backend = (*BreakerBackend)(nil)

// NewBreakerBackend wraps a real Backend with circuit breaker logic.
func NewBreakerBackend(real Backend, cfg config.CircuitBreakerConfig) *BreakerBackend {
	threshold := cfg.FailureThreshold
	if threshold <= 0 {
		threshold = 3
	}
	telemetry.CircuitBreakerState.WithLabelValues(real.Name()).Set(float64(stateClosed))
	return &BreakerBackend{
		real:          real,
		state:         stateClosed,
		failThreshold: threshold,
		openTimeout:   cfg.OpenTimeout,
		now:           time.Now,
	}
}

// Name returns the wrapped backend's name.
func (cb *BreakerBackend) Name() string { return cb.real.Name() }

// Unwrap returns the wrapped backend.
func (cb *BreakerBackend) Unwrap() Backend { return cb.real }

// Open opens the namespace on the real backend behind the breaker.
func (cb *BreakerBackend) Open(ctx context.Context, ns Namespace) (Adapter, error) {
	if err := cb.preCheck(); err != nil {
		return nil, err
	}
	a, err := cb.real.Open(ctx, ns)
	if err = cb.postCheck(err); err != nil {
		return nil, err
	}
	return &breakerAdapter{cb: cb, real: a}, nil
}

// Close closes the real backend.
func (cb *BreakerBackend) Close() error { return cb.real.Close() }

// IsHealthy returns true when the circuit is closed.
func (cb *BreakerBackend) IsHealthy() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state == stateClosed
}

// -------------------------------------------------------------------------
// STATE MACHINE
// -------------------------------------------------------------------------

// preCheck returns ErrBackendUnavailable when the circuit is open. Transitions
// open → half-open when the timeout has elapsed, allowing one probe request.
func (cb *BreakerBackend) preCheck() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case stateOpen:
		if cb.now().Sub(cb.lastFailure) >= cb.openTimeout {
			cb.transition(stateHalfOpen)
			return nil // this request is the probe
		}
		return ErrBackendUnavailable
	case stateHalfOpen:
		// Only one probe at a time.
		return ErrBackendUnavailable
	}
	return nil
}

// postCheck records the result of a real call and transitions state. When a
// failure opens (or reopens) the circuit, the original error is replaced with
// ErrBackendUnavailable so callers always see the canonical sentinel.
func (cb *BreakerBackend) postCheck(err error) error {
	if !isBackendFailure(err) {
		cb.onSuccess()
		return err
	}
	cb.onFailure()
	if !cb.IsHealthy() {
		return ErrBackendUnavailable
	}
	return err
}

// onSuccess resets failures and transitions half-open → closed.
func (cb *BreakerBackend) onSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == stateHalfOpen {
		cb.transition(stateClosed)
	}
	cb.failures = 0
}

// onFailure increments the failure counter and opens the circuit once the
// threshold is reached.
func (cb *BreakerBackend) onFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = cb.now()

	switch cb.state {
	case stateHalfOpen:
		cb.transition(stateOpen)
	case stateClosed:
		if cb.failures >= cb.failThreshold {
			cb.transition(stateOpen)
		}
	}
}

// transition changes the circuit state and emits metrics + logs.
// Caller must hold cb.mu.
func (cb *BreakerBackend) transition(to circuitState) {
	from := cb.state
	cb.state = to
	name := cb.real.Name()
	telemetry.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
	telemetry.CircuitBreakerTransitionsTotal.WithLabelValues(name, from.String(), to.String()).Inc()

	switch to {
	case stateClosed:
		slog.Info("Circuit breaker: backend recovered, circuit closed", "backend", name)
	case stateOpen:
		slog.Warn("Circuit breaker: backend unreachable, circuit opened",
			"backend", name, "failures", cb.failures)
	case stateHalfOpen:
		slog.Warn("Circuit breaker: probing backend", "backend", name)
	}
}

// isBackendFailure returns true for genuine backend outages. Caller
// cancellation and client-side rejections do not trip the breaker.
func isBackendFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrEmptyKey) {
		return false
	}
	var bridgeErr *BridgeError
	if errors.As(err, &bridgeErr) && bridgeErr.StatusCode < http.StatusInternalServerError {
		return false
	}
	return true
}

// -------------------------------------------------------------------------
// FORWARDING ADAPTER
// -------------------------------------------------------------------------

// Each method follows the pattern: preCheck → real.Method → postCheck.

type breakerAdapter struct {
	cb   *BreakerBackend
	real Adapter
}

func (a *breakerAdapter) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := a.cb.preCheck(); err != nil {
		return nil, false, err
	}
	value, ok, err := a.real.Get(ctx, key)
	err = a.cb.postCheck(err)
	return value, ok, err
}

func (a *breakerAdapter) Set(ctx context.Context, key string, value []byte) error {
	if err := a.cb.preCheck(); err != nil {
		return err
	}
	return a.cb.postCheck(a.real.Set(ctx, key, value))
}

func (a *breakerAdapter) Remove(ctx context.Context, key string) error {
	if err := a.cb.preCheck(); err != nil {
		return err
	}
	return a.cb.postCheck(a.real.Remove(ctx, key))
}

func (a *breakerAdapter) List(ctx context.Context) ([]string, error) {
	if err := a.cb.preCheck(); err != nil {
		return nil, err
	}
	keys, err := a.real.List(ctx)
	err = a.cb.postCheck(err)
	return keys, err
}

func (a *breakerAdapter) Clear(ctx context.Context) error {
	if err := a.cb.preCheck(); err != nil {
		return err
	}
	return a.cb.postCheck(a.real.Clear(ctx))
}
