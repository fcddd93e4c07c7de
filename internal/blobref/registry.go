// -------------------------------------------------------------------------------
// Registry - Session-Scoped Blob Handles
//
// Author: Alex Freidah
//
// Issues "blob:" URLs that resolve to in-memory payloads for the lifetime of the
// process. Handles are reference counted: each consumer retains the handle and
// releases it when done, and the handle is revoked only after the last release
// plus a configurable delay. Handles never survive a restart, which is why
// persisted records must never contain them.
// -------------------------------------------------------------------------------

package blobref

import (
	"encoding/base64"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Quriosity-agent/qcut-sub012/internal/telemetry"
	"github.com/google/uuid"
)

const (
	// Scheme prefixes every session-scoped handle.
	Scheme = "blob:"

	// origin is the authority embedded in issued handles.
	origin = "qcut/"

	dataScheme = "data:"
)

// IsSessionURL reports whether s is a session-scoped blob handle. Such values
// are valid only in the process that issued them.
func IsSessionURL(s string) bool {
	return strings.HasPrefix(s, Scheme)
}

// IsDataURL reports whether s is an inline data URL.
func IsDataURL(s string) bool {
	return strings.HasPrefix(s, dataScheme)
}

// DataURL encodes data as a base64 data URL.
func DataURL(mimeType string, data []byte) string {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return dataScheme + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// handle is one issued blob URL.
type handle struct {
	data     []byte
	mimeType string
	refs     int
	timer    *time.Timer
}

// Registry issues and resolves session-scoped blob handles.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*handle
	delay   time.Duration

	// afterFunc is swapped in tests to control revocation timing.
	afterFunc func(time.Duration, func()) *time.Timer
}

// NewRegistry creates a registry that revokes released handles after delay.
func NewRegistry(delay time.Duration) *Registry {
	return &Registry{
		handles:   make(map[string]*handle),
		delay:     delay,
		afterFunc: time.AfterFunc,
	}
}

// Create registers a copy of data and returns a new handle holding one
// reference.
func (r *Registry) Create(data []byte, mimeType string) string {
	url := Scheme + origin + uuid.NewString()
	buf := make([]byte, len(data))
	copy(buf, data)

	r.mu.Lock()
	r.handles[url] = &handle{data: buf, mimeType: mimeType, refs: 1}
	n := len(r.handles)
	r.mu.Unlock()

	telemetry.ActiveObjectURLs.Set(float64(n))
	return url
}

// Resolve returns the payload behind url. The returned slice must not be
// modified.
func (r *Registry) Resolve(url string) (data []byte, mimeType string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handles[url]
	if !ok {
		return nil, "", false
	}
	return h.data, h.mimeType, true
}

// Retain adds a reference to url, cancelling a pending revocation. Returns
// false if the handle is unknown or already revoked.
func (r *Registry) Retain(url string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handles[url]
	if !ok {
		return false
	}
	h.refs++
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	return true
}

// Release drops one reference. When the last reference is released the handle
// is revoked after the registry delay. Unknown handles are ignored.
func (r *Registry) Release(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handles[url]
	if !ok || h.refs == 0 {
		return
	}
	h.refs--
	if h.refs > 0 {
		return
	}

	if r.delay <= 0 {
		r.revokeLocked(url)
		return
	}
	h.timer = r.afterFunc(r.delay, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if cur, ok := r.handles[url]; ok && cur == h && h.refs == 0 {
			r.revokeLocked(url)
		}
	})
}

// Revoke invalidates url immediately regardless of outstanding references.
func (r *Registry) Revoke(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.handles[url]; ok && h.timer != nil {
		h.timer.Stop()
	}
	r.revokeLocked(url)
}

// revokeLocked removes url. Caller must hold r.mu.
func (r *Registry) revokeLocked(url string) {
	if _, ok := r.handles[url]; !ok {
		return
	}
	delete(r.handles, url)
	telemetry.ActiveObjectURLs.Set(float64(len(r.handles)))
	slog.Debug("Blob handle revoked", "url", url)
}

// Len returns the number of live handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// Close revokes every handle.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for url, h := range r.handles {
		if h.timer != nil {
			h.timer.Stop()
		}
		delete(r.handles, url)
	}
	telemetry.ActiveObjectURLs.Set(0)
}
