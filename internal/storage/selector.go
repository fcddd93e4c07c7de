// -------------------------------------------------------------------------------
// Selector - Metadata Backend Selection
//
// Author: Alex Freidah
//
// Probes candidate backends in fixed priority order (host bridge, structured
// database, string-keyed fallback) and memoizes the first one that answers a
// List on the projects namespace. Concurrent callers share one selection
// attempt. Probe failures are logged and never surface unless every candidate
// fails.
// -------------------------------------------------------------------------------

package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/Quriosity-agent/qcut-sub012/internal/coalesce"
	"github.com/Quriosity-agent/qcut-sub012/internal/config"
	"github.com/Quriosity-agent/qcut-sub012/internal/kv"
	"github.com/Quriosity-agent/qcut-sub012/internal/telemetry"
)

// ErrNoBackend is returned when every candidate backend failed its probe.
var ErrNoBackend = errors.New("no storage backend available")

// BackendKind names a candidate class in priority order.
type BackendKind string

const (
	KindBridge   BackendKind = "bridge"
	KindDatabase BackendKind = "database"
	KindFallback BackendKind = "fallback"
)

// priority returns the probe rank of k; lower probes first.
func (k BackendKind) priority() int {
	switch k {
	case KindBridge:
		return 0
	case KindDatabase:
		return 1
	default:
		return 2
	}
}

// BackendCapabilities describes what the runtime offers. Resolved once at
// startup and passed to the selector.
type BackendCapabilities struct {
	Runtime string
	Bridge  bool
}

// CapabilitiesFromConfig derives capabilities from configuration.
func CapabilitiesFromConfig(cfg *config.Config) BackendCapabilities {
	return BackendCapabilities{Runtime: cfg.Runtime, Bridge: cfg.BridgeAvailable()}
}

// Candidate is one backend the selector may try.
type Candidate struct {
	Kind  BackendKind
	Build func(ctx context.Context) (kv.Backend, error)
}

// ProbeResult records the outcome of one candidate attempt.
type ProbeResult struct {
	Kind    BackendKind
	Backend string
	Err     error
}

// Selector picks and memoizes the metadata backend.
type Selector struct {
	candidates []Candidate
	group      coalesce.Group[kv.Backend]

	mu       sync.Mutex
	selected kv.Backend
	kind     BackendKind
	results  []ProbeResult
}

// NewSelector orders candidates by priority. Bridge candidates are dropped
// when the runtime has no bridge.
func NewSelector(caps BackendCapabilities, candidates ...Candidate) *Selector {
	var filtered []Candidate
	for _, c := range candidates {
		if c.Kind == KindBridge && !caps.Bridge {
			continue
		}
		filtered = append(filtered, c)
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Kind.priority() < filtered[j].Kind.priority()
	})
	return &Selector{candidates: filtered}
}

// Select returns the memoized backend, probing candidates on first use.
// A failed selection is not memoized.
func (s *Selector) Select(ctx context.Context) (kv.Backend, error) {
	s.mu.Lock()
	if s.selected != nil {
		b := s.selected
		s.mu.Unlock()
		return b, nil
	}
	s.mu.Unlock()

	b, _, err := s.group.Do(ctx, "select", s.selectOnce)
	return b, err
}

// selectOnce probes every candidate in order until one succeeds.
func (s *Selector) selectOnce(ctx context.Context) (kv.Backend, error) {
	s.mu.Lock()
	if s.selected != nil {
		b := s.selected
		s.mu.Unlock()
		return b, nil
	}
	s.mu.Unlock()

	var results []ProbeResult
	for _, c := range s.candidates {
		b, err := probe(ctx, c)
		name := string(c.Kind)
		if b != nil {
			name = b.Name()
		}
		results = append(results, ProbeResult{Kind: c.Kind, Backend: name, Err: err})

		if err != nil {
			telemetry.BackendProbesTotal.WithLabelValues(string(c.Kind), "failed").Inc()
			slog.Warn("Storage backend unavailable, trying next", "kind", c.Kind, "backend", name, "error", err)
			continue
		}

		telemetry.BackendProbesTotal.WithLabelValues(string(c.Kind), "ok").Inc()
		telemetry.SelectedBackend.WithLabelValues(name).Set(1)
		slog.Info("Storage backend selected", "kind", c.Kind, "backend", name)

		s.mu.Lock()
		s.selected = b
		s.kind = c.Kind
		s.results = results
		s.mu.Unlock()
		return b, nil
	}

	s.mu.Lock()
	s.results = results
	s.mu.Unlock()
	return nil, fmt.Errorf("%w: tried %d candidates", ErrNoBackend, len(results))
}

// probe builds a candidate and lists the projects namespace once. The backend
// is closed on failure.
func probe(ctx context.Context, c Candidate) (kv.Backend, error) {
	b, err := c.Build(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to construct %s backend: %w", c.Kind, err)
	}
	a, err := b.Open(ctx, ProjectsNamespace())
	if err == nil {
		_, err = a.List(ctx)
	}
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("%s probe failed: %w", b.Name(), err)
	}
	return b, nil
}

// Selected returns the chosen backend and its kind without probing. ok is
// false before a successful selection.
func (s *Selector) Selected() (b kv.Backend, kind BackendKind, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected, s.kind, s.selected != nil
}

// Results returns the probe outcomes of the most recent selection attempt.
func (s *Selector) Results() []ProbeResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ProbeResult, len(s.results))
	copy(out, s.results)
	return out
}

// Close closes the selected backend, if any.
func (s *Selector) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == nil {
		return nil
	}
	err := s.selected.Close()
	s.selected = nil
	return err
}
