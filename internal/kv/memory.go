package kv

import (
	"context"
	"sync"
)

// MemoryBackend keeps every namespace in process memory. It backs the
// string-keyed fallback when no file path is configured and is handy in tests.
type MemoryBackend struct {
	mu     sync.Mutex
	name   string
	spaces map[Namespace]*memoryAdapter
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend(name string) *MemoryBackend {
	if name == "" {
		name = "memory"
	}
	return &MemoryBackend{name: name, spaces: make(map[Namespace]*memoryAdapter)}
}

// Name returns the backend name used in metrics.
func (b *MemoryBackend) Name() string { return b.name }

// Open returns the adapter for ns, creating it on first use. Repeated opens of
// the same namespace share state.
func (b *MemoryBackend) Open(_ context.Context, ns Namespace) (Adapter, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.spaces[ns]
	if !ok {
		a = &memoryAdapter{backend: b.name, ns: ns, data: make(map[string][]byte)}
		b.spaces[ns] = a
	}
	return a, nil
}

// Close is a no-op.
func (b *MemoryBackend) Close() error { return nil }

type memoryAdapter struct {
	backend string
	ns      Namespace
	mu      sync.RWMutex
	data    map[string][]byte
}

func (a *memoryAdapter) Get(ctx context.Context, key string) ([]byte, bool, error) {
	_, op := startOperation(ctx, a.backend, opGet, a.ns, key)
	a.mu.RLock()
	v, ok := a.data[key]
	a.mu.RUnlock()
	op.end(nil)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (a *memoryAdapter) Set(ctx context.Context, key string, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	_, op := startOperation(ctx, a.backend, opSet, a.ns, key)
	a.mu.Lock()
	a.data[key] = append([]byte(nil), value...)
	a.mu.Unlock()
	op.end(nil)
	return nil
}

func (a *memoryAdapter) Remove(ctx context.Context, key string) error {
	_, op := startOperation(ctx, a.backend, opRemove, a.ns, key)
	a.mu.Lock()
	delete(a.data, key)
	a.mu.Unlock()
	op.end(nil)
	return nil
}

func (a *memoryAdapter) List(ctx context.Context) ([]string, error) {
	_, op := startOperation(ctx, a.backend, opList, a.ns, "")
	a.mu.RLock()
	keys := make([]string, 0, len(a.data))
	for k := range a.data {
		keys = append(keys, k)
	}
	a.mu.RUnlock()
	op.end(nil)
	return keys, nil
}

func (a *memoryAdapter) Clear(ctx context.Context) error {
	_, op := startOperation(ctx, a.backend, opClear, a.ns, "")
	a.mu.Lock()
	a.data = make(map[string][]byte)
	a.mu.Unlock()
	op.end(nil)
	return nil
}
