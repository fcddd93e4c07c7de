package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Quriosity-agent/qcut-sub012/internal/config"
	"github.com/Quriosity-agent/qcut-sub012/internal/kv"
)

// mockBackend wraps an in-memory backend with failure hooks and counters.
type mockBackend struct {
	*kv.MemoryBackend

	mu      sync.Mutex
	openErr error
	listErr error
	opens   map[kv.Namespace]int
	closed  atomic.Bool
}

func newMockBackend(name string) *mockBackend {
	return &mockBackend{
		MemoryBackend: kv.NewMemoryBackend(name),
		opens:         make(map[kv.Namespace]int),
	}
}

var _ kv.Backend = (*mockBackend)(nil)

func (m *mockBackend) Open(ctx context.Context, ns kv.Namespace) (kv.Adapter, error) {
	m.mu.Lock()
	m.opens[ns]++
	openErr, listErr := m.openErr, m.listErr
	m.mu.Unlock()

	if openErr != nil {
		return nil, openErr
	}
	a, err := m.MemoryBackend.Open(ctx, ns)
	if err != nil {
		return nil, err
	}
	if listErr != nil {
		return &failingList{Adapter: a, err: listErr}, nil
	}
	return a, nil
}

func (m *mockBackend) Close() error {
	m.closed.Store(true)
	return nil
}

func (m *mockBackend) openCount(ns kv.Namespace) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens[ns]
}

// failingList fails List, which is what the selector probes with.
type failingList struct {
	kv.Adapter
	err error
}

func (f *failingList) List(context.Context) ([]string, error) { return nil, f.err }

// countingCandidate returns a candidate that builds b and counts builds.
func countingCandidate(kind BackendKind, b kv.Backend, builds *atomic.Int32) Candidate {
	return Candidate{
		Kind: kind,
		Build: func(context.Context) (kv.Backend, error) {
			builds.Add(1)
			return b, nil
		},
	}
}

// testEnv is a service over in-memory metadata and blob backends.
type testEnv struct {
	svc   *Service
	meta  *mockBackend
	blobs *mockBackend
}

func newTestEnv(t *testing.T, runtime string) *testEnv {
	t.Helper()
	meta := newMockBackend("memory")
	blobs := newMockBackend("blobs")
	var builds atomic.Int32
	svc := NewService(Options{
		Runtime:   runtime,
		ExportDir: t.TempDir(),
		Selector:  NewSelector(BackendCapabilities{Runtime: runtime}, countingCandidate(KindDatabase, meta, &builds)),
		Blobs:     blobs,
	})
	t.Cleanup(func() { _ = svc.Close() })
	return &testEnv{svc: svc, meta: meta, blobs: blobs}
}

func newWebEnv(t *testing.T) *testEnv {
	return newTestEnv(t, config.RuntimeWeb)
}

// raw returns the metadata adapter for ns, bypassing the service.
func (e *testEnv) raw(t *testing.T, ns kv.Namespace) kv.Adapter {
	t.Helper()
	a, err := e.meta.MemoryBackend.Open(context.Background(), ns)
	if err != nil {
		t.Fatalf("open %s: %v", ns, err)
	}
	return a
}

// rawBlobs returns the blob adapter for a project.
func (e *testEnv) rawBlobs(t *testing.T, pid string) kv.Adapter {
	t.Helper()
	a, err := e.blobs.MemoryBackend.Open(context.Background(), BlobNamespace(pid))
	if err != nil {
		t.Fatalf("open blobs: %v", err)
	}
	return a
}
