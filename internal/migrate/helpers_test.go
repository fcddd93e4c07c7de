package migrate

import (
	"context"
	"testing"

	"github.com/Quriosity-agent/qcut-sub012/internal/blobref"
	"github.com/Quriosity-agent/qcut-sub012/internal/kv"
	"github.com/Quriosity-agent/qcut-sub012/internal/storage"
)

// newTestService returns a service over in-memory backends.
func newTestService(t *testing.T) *storage.Service {
	t.Helper()
	meta := kv.NewMemoryBackend("memory")
	svc := storage.NewService(storage.Options{
		Selector: storage.NewSelector(storage.BackendCapabilities{}, storage.Candidate{
			Kind:  storage.KindDatabase,
			Build: func(context.Context) (kv.Backend, error) { return meta, nil },
		}),
		Blobs:    kv.NewMemoryBackend("blobs"),
		Registry: blobref.NewRegistry(0),
	})
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

var _ Store = (*storage.Service)(nil)
