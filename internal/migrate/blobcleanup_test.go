package migrate

import (
	"context"
	"errors"
	"testing"

	"github.com/Quriosity-agent/qcut-sub012/internal/kv"
	"github.com/Quriosity-agent/qcut-sub012/internal/model"
	"github.com/Quriosity-agent/qcut-sub012/internal/storage"
)

const staleHandle = "blob:qcut/0b6c1f1e-2f0a-4c55-9a55-1d2c3b4a5f60"

// writeRawProject stores a project record bypassing SaveProject, which would
// strip session handles.
func writeRawProject(t *testing.T, svc *storage.Service, rec *model.SerializedProject) {
	t.Helper()
	ctx := context.Background()
	a, err := svc.Stores().Projects(ctx)
	if err != nil {
		t.Fatalf("Projects: %v", err)
	}
	if err := kv.NewTyped[model.SerializedProject](a).Set(ctx, rec.ID, rec); err != nil {
		t.Fatalf("Set: %v", err)
	}
}

func rawProject(t *testing.T, svc *storage.Service, id string) *model.SerializedProject {
	t.Helper()
	ctx := context.Background()
	a, _ := svc.Stores().Projects(ctx)
	rec, err := kv.NewTyped[model.SerializedProject](a).Get(ctx, id)
	if err != nil || rec == nil {
		t.Fatalf("project %s: %v, %v", id, rec, err)
	}
	return rec
}

// seedStaleMedia writes a project with three media records:
//   - "gone": no payload, session URL
//   - "file": payload, session URL and thumbnail
//   - "remote": no payload, remote URL
func seedStaleMedia(t *testing.T, svc *storage.Service, pid string) {
	t.Helper()
	ctx := context.Background()
	writeRawProject(t, svc, &model.SerializedProject{ID: pid, Name: "P", Thumbnail: staleHandle})

	if err := svc.SaveMediaItem(ctx, pid, &model.MediaItem{ID: "file", Name: "a.png", Type: model.MediaImage, Payload: []byte("png-bytes")}); err != nil {
		t.Fatalf("SaveMediaItem: %v", err)
	}
	records := []*model.SerializedMediaItem{
		{ID: "gone", Name: "lost.mp4", Type: model.MediaVideo, URL: staleHandle},
		{ID: "file", Name: "a.png", Type: model.MediaImage, URL: staleHandle, ThumbnailURL: staleHandle},
		{ID: "remote", Name: "cdn.mp4", Type: model.MediaVideo, URL: "https://cdn.example.com/cdn.mp4"},
	}
	for _, rec := range records {
		if err := svc.SaveMediaRecord(ctx, pid, rec); err != nil {
			t.Fatalf("SaveMediaRecord(%s): %v", rec.ID, err)
		}
	}
}

func TestBlobCleanup_ClearsStaleHandles(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	seedStaleMedia(t, svc, "P")

	report, err := NewBlobCleanup(svc, nil).Run(ctx, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.ProjectsCleaned != 1 || report.MediaCleaned != 1 || report.MediaRemoved != 1 || report.Failed != 0 {
		t.Fatalf("unexpected report %+v", report)
	}

	if thumb := rawProject(t, svc, "P").Thumbnail; thumb != "" {
		t.Fatalf("project thumbnail = %q, want empty", thumb)
	}

	// Unloadable item is removed entirely.
	if rec, _, _ := svc.LoadMediaRecord(ctx, "P", "gone"); rec != nil {
		t.Fatalf("unloadable record survived: %+v", rec)
	}
	if item, err := svc.LoadMediaItem(ctx, "P", "gone"); err != nil || item != nil {
		t.Fatalf("LoadMediaItem(gone) = %v, %v", item, err)
	}

	// File-backed item keeps its payload with handles cleared.
	rec, size, _ := svc.LoadMediaRecord(ctx, "P", "file")
	if rec == nil || rec.URL != "" || rec.ThumbnailURL != "" || size == 0 {
		t.Fatalf("file record = %+v (payload %d)", rec, size)
	}

	// Remote item untouched.
	rec, _, _ = svc.LoadMediaRecord(ctx, "P", "remote")
	if rec == nil || rec.URL != "https://cdn.example.com/cdn.mp4" {
		t.Fatalf("remote record = %+v", rec)
	}

	if done, _ := svc.MigrationDone(ctx, BlobCleanupMarker); !done {
		t.Fatal("marker should be written after a clean scan")
	}
}

func TestBlobCleanup_MarkerGatesLaterRuns(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	seedStaleMedia(t, svc, "P")

	if _, err := NewBlobCleanup(svc, nil).Run(ctx, nil); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	// New session handles written after completion are not this pass's concern.
	if err := svc.SaveMediaRecord(ctx, "P", &model.SerializedMediaItem{ID: "late", URL: staleHandle}); err != nil {
		t.Fatalf("SaveMediaRecord: %v", err)
	}

	report, err := NewBlobCleanup(svc, nil).Run(ctx, nil)
	if err != nil || !report.AlreadyDone {
		t.Fatalf("second Run = %+v, %v", report, err)
	}
	rec, _, _ := svc.LoadMediaRecord(ctx, "P", "late")
	if rec == nil || rec.URL != staleHandle {
		t.Fatalf("record written after completion was modified: %+v", rec)
	}
}

// failingCleanupStore fails every SaveMediaRecord.
type failingCleanupStore struct {
	CleanupStore
}

func (failingCleanupStore) SaveMediaRecord(context.Context, string, *model.SerializedMediaItem) error {
	return errors.New("quota exceeded")
}

func TestBlobCleanup_FailureLeavesMarkerUnset(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	seedStaleMedia(t, svc, "P")

	report, err := NewBlobCleanup(failingCleanupStore{svc}, nil).Run(ctx, nil)
	if !errors.Is(err, ErrCleanupIncomplete) {
		t.Fatalf("expected ErrCleanupIncomplete, got %v", err)
	}
	if report.Failed != 1 {
		t.Fatalf("expected 1 failure, got %+v", report)
	}
	// The remaining items were still processed.
	if report.MediaRemoved != 1 || report.ProjectsCleaned != 1 {
		t.Fatalf("scan should continue past failures: %+v", report)
	}
	if done, _ := svc.MigrationDone(ctx, BlobCleanupMarker); done {
		t.Fatal("marker must not be written after a failed scan")
	}

	// A later healthy run finishes the job.
	if _, err := NewBlobCleanup(svc, nil).Run(ctx, nil); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if done, _ := svc.MigrationDone(ctx, BlobCleanupMarker); !done {
		t.Fatal("marker should be written by the retry")
	}
}

func TestBlobCleanup_ScansProjectsThatFailToLoad(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	// Decodes as a record but not as a Project.
	writeRawProject(t, svc, &model.SerializedProject{ID: "P", Name: "P", CreatedAt: "not-a-date", Thumbnail: staleHandle})
	if p, err := svc.LoadProject(ctx, "P"); err == nil && p != nil {
		t.Fatal("fixture should not load as a project")
	}
	if err := svc.SaveMediaItem(ctx, "P", &model.MediaItem{ID: "m1", Name: "a.png", Type: model.MediaImage, Payload: []byte("png")}); err != nil {
		t.Fatalf("SaveMediaItem: %v", err)
	}
	if err := svc.SaveMediaRecord(ctx, "P", &model.SerializedMediaItem{ID: "m1", Name: "a.png", Type: model.MediaImage, URL: staleHandle}); err != nil {
		t.Fatalf("SaveMediaRecord: %v", err)
	}

	report, err := NewBlobCleanup(svc, nil).Run(ctx, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.ProjectsCleaned != 1 || report.MediaCleaned != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if thumb := rawProject(t, svc, "P").Thumbnail; thumb != "" {
		t.Fatalf("thumbnail = %q, want empty", thumb)
	}
	if rawProject(t, svc, "P").CreatedAt != "not-a-date" {
		t.Fatal("cleanup must not rewrite other fields")
	}
	if rec, _, _ := svc.LoadMediaRecord(ctx, "P", "m1"); rec == nil || rec.URL != "" {
		t.Fatalf("media record = %+v", rec)
	}
}

func TestBlobCleanup_UnreadableProjectBlocksMarker(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	seedStaleMedia(t, svc, "P")

	a, _ := svc.Stores().Projects(ctx)
	if err := a.Set(ctx, "broken", []byte("{not json")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	report, err := NewBlobCleanup(svc, nil).Run(ctx, nil)
	if !errors.Is(err, ErrCleanupIncomplete) {
		t.Fatalf("expected ErrCleanupIncomplete, got %v", err)
	}
	if report.Failed != 1 || report.MediaRemoved != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if done, _ := svc.MigrationDone(ctx, BlobCleanupMarker); done {
		t.Fatal("marker must not be written while a project was skipped")
	}
}

func TestBlobCleanup_NoProjects(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	var calls []Progress
	report, err := NewBlobCleanup(svc, nil).Run(ctx, func(p Progress) { calls = append(calls, p) })
	if err != nil || report.AlreadyDone {
		t.Fatalf("Run = %+v, %v", report, err)
	}
	if len(calls) != 1 || calls[0].Current != 0 || calls[0].Total != 0 {
		t.Fatalf("unexpected progress %+v", calls)
	}
	if done, _ := svc.MigrationDone(ctx, BlobCleanupMarker); !done {
		t.Fatal("empty scan still completes the pass")
	}
}
