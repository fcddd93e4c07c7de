package storage

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Quriosity-agent/qcut-sub012/internal/kv"
)

func TestNamespaces(t *testing.T) {
	tests := []struct {
		got  kv.Namespace
		want string
	}{
		{ProjectsNamespace(), "projects/projects"},
		{MediaNamespace("p1"), "media-p1/media-metadata"},
		{BlobNamespace("p1"), "media-p1/media-files"},
		{TimelineNamespace("p1", "s1"), "timelines-p1-s1/timeline"},
		{LegacyTimelineNamespace("p1"), "timelines-p1/timeline"},
		{MigrationsNamespace(), "meta/migrations"},
	}
	for _, tt := range tests {
		if tt.got.String() != tt.want {
			t.Errorf("got %s, want %s", tt.got, tt.want)
		}
	}
}

func TestStores_ConcurrentRequestsShareOneInstance(t *testing.T) {
	env := newWebEnv(t)
	stores := env.svc.Stores()

	const callers = 20
	got := make([]*ProjectStores, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ps, err := stores.Project(context.Background(), "p1")
			if err != nil {
				t.Errorf("Project: %v", err)
			}
			got[i] = ps
		}(i)
	}
	wg.Wait()

	for i := range got {
		if got[i] != got[0] {
			t.Fatalf("caller %d received a different instance", i)
		}
	}
	if n := env.meta.openCount(MediaNamespace("p1")); n != 1 {
		t.Fatalf("media namespace opened %d times, want 1", n)
	}
	if n := env.blobs.openCount(BlobNamespace("p1")); n != 1 {
		t.Fatalf("blob namespace opened %d times, want 1", n)
	}
}

func TestStores_EvictRebuilds(t *testing.T) {
	env := newWebEnv(t)
	stores := env.svc.Stores()
	ctx := context.Background()

	first, _ := stores.Project(ctx, "p1")
	tl1, _ := first.Timeline(ctx, "s1")
	tl1again, _ := first.Timeline(ctx, "s1")
	if tl1 != tl1again {
		t.Fatal("timeline adapter should be cached")
	}
	if !stores.Cached("p1") {
		t.Fatal("expected p1 cached")
	}

	stores.Evict("p1")
	if stores.Cached("p1") {
		t.Fatal("expected p1 evicted")
	}
	second, _ := stores.Project(ctx, "p1")
	if first == second {
		t.Fatal("expected a new instance after Evict")
	}
	if n := env.meta.openCount(TimelineNamespace("p1", "s1")); n != 1 {
		t.Fatalf("timeline opened %d times before re-access, want 1", n)
	}
}

func TestStores_RejectsEmptyProject(t *testing.T) {
	env := newWebEnv(t)
	if _, err := env.svc.Stores().Project(context.Background(), ""); !errors.Is(err, ErrInvalidProject) {
		t.Fatalf("expected ErrInvalidProject, got %v", err)
	}
}

func TestStores_SelectionFailureNotCached(t *testing.T) {
	meta := newMockBackend("bolt")
	meta.openErr = kv.ErrBackendUnavailable
	stores := NewStores(NewSelector(BackendCapabilities{}, Candidate{
		Kind:  KindDatabase,
		Build: func(context.Context) (kv.Backend, error) { return meta, nil },
	}), newMockBackend("blobs"))

	if _, err := stores.Project(context.Background(), "p1"); !errors.Is(err, ErrNoBackend) {
		t.Fatalf("expected ErrNoBackend, got %v", err)
	}
	if stores.Cached("p1") {
		t.Fatal("failed build must not be cached")
	}
}
