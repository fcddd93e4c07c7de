// -------------------------------------------------------------------------------
// FallbackBackend - String-Keyed Last-Resort Store
//
// Author: Alex Freidah
//
// Flat string map persisted as one JSON document, the last candidate tried when
// neither the host bridge nor the structured database is reachable. Keys are
// flattened as "database/store/key"; values are base64 strings so arbitrary
// bytes survive the round trip. With no path the map lives in memory only.
// -------------------------------------------------------------------------------

package kv

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FallbackBackend implements Backend over a single string-keyed document.
type FallbackBackend struct {
	mu   sync.Mutex
	path string
	data map[string]string
}

// OpenFallback loads the document at path. A missing file starts empty; an
// empty path keeps everything in memory.
func OpenFallback(path string) (*FallbackBackend, error) {
	b := &FallbackBackend{path: path, data: make(map[string]string)}
	if path == "" {
		return b, nil
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return b, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read fallback store: %w", err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &b.data); err != nil {
			return nil, fmt.Errorf("failed to parse fallback store: %w", err)
		}
	}
	return b, nil
}

// Name returns "fallback".
func (b *FallbackBackend) Name() string { return "fallback" }

// Open returns a prefixed view over the shared map.
func (b *FallbackBackend) Open(_ context.Context, ns Namespace) (Adapter, error) {
	return &fallbackAdapter{backend: b, ns: ns, prefix: ns.Database + "/" + ns.Store + "/"}, nil
}

// Close is a no-op; every mutation is already flushed.
func (b *FallbackBackend) Close() error { return nil }

// persistLocked writes the document atomically via a temp file. Caller must
// hold b.mu.
func (b *FallbackBackend) persistLocked() error {
	if b.path == "" {
		return nil
	}
	raw, err := json.Marshal(b.data)
	if err != nil {
		return fmt.Errorf("failed to encode fallback store: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return fmt.Errorf("failed to create fallback directory: %w", err)
	}
	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write fallback store: %w", err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		return fmt.Errorf("failed to replace fallback store: %w", err)
	}
	return nil
}

type fallbackAdapter struct {
	backend *FallbackBackend
	ns      Namespace
	prefix  string
}

func (a *fallbackAdapter) Get(ctx context.Context, key string) ([]byte, bool, error) {
	_, op := startOperation(ctx, "fallback", opGet, a.ns, key)
	a.backend.mu.Lock()
	encoded, ok := a.backend.data[a.prefix+key]
	a.backend.mu.Unlock()
	if !ok {
		op.end(nil)
		return nil, false, nil
	}
	value, err := base64.StdEncoding.DecodeString(encoded)
	op.end(err)
	if err != nil {
		return nil, false, fmt.Errorf("corrupt fallback value %s/%s: %w", a.ns, key, err)
	}
	return value, true, nil
}

func (a *fallbackAdapter) Set(ctx context.Context, key string, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	_, op := startOperation(ctx, "fallback", opSet, a.ns, key)
	a.backend.mu.Lock()
	full := a.prefix + key
	prev, existed := a.backend.data[full]
	a.backend.data[full] = base64.StdEncoding.EncodeToString(value)
	err := a.backend.persistLocked()
	if err != nil {
		if existed {
			a.backend.data[full] = prev
		} else {
			delete(a.backend.data, full)
		}
	}
	a.backend.mu.Unlock()
	op.end(err)
	return err
}

func (a *fallbackAdapter) Remove(ctx context.Context, key string) error {
	_, op := startOperation(ctx, "fallback", opRemove, a.ns, key)
	a.backend.mu.Lock()
	var err error
	if prev, ok := a.backend.data[a.prefix+key]; ok {
		delete(a.backend.data, a.prefix+key)
		if err = a.backend.persistLocked(); err != nil {
			a.backend.data[a.prefix+key] = prev
		}
	}
	a.backend.mu.Unlock()
	op.end(err)
	return err
}

func (a *fallbackAdapter) List(ctx context.Context) ([]string, error) {
	_, op := startOperation(ctx, "fallback", opList, a.ns, "")
	a.backend.mu.Lock()
	keys := []string{}
	for k := range a.backend.data {
		if strings.HasPrefix(k, a.prefix) {
			keys = append(keys, strings.TrimPrefix(k, a.prefix))
		}
	}
	a.backend.mu.Unlock()
	op.end(nil)
	return keys, nil
}

func (a *fallbackAdapter) Clear(ctx context.Context) error {
	_, op := startOperation(ctx, "fallback", opClear, a.ns, "")
	a.backend.mu.Lock()
	removed := make(map[string]string)
	for k, v := range a.backend.data {
		if strings.HasPrefix(k, a.prefix) {
			removed[k] = v
			delete(a.backend.data, k)
		}
	}
	var err error
	if len(removed) > 0 {
		if err = a.backend.persistLocked(); err != nil {
			for k, v := range removed {
				a.backend.data[k] = v
			}
		}
	}
	a.backend.mu.Unlock()
	op.end(err)
	return err
}
