package migrate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Quriosity-agent/qcut-sub012/internal/config"
	"github.com/Quriosity-agent/qcut-sub012/internal/model"
	"github.com/Quriosity-agent/qcut-sub012/internal/storage"
)

var testMigrationConfig = config.MigrationConfig{WritesPerSec: 1000, Burst: 10}

func legacyProject(t *testing.T, svc *storage.Service, id string, trackCount int) {
	t.Helper()
	ctx := context.Background()
	if err := svc.SaveProject(ctx, &model.Project{ID: id, Name: "Legacy " + id}); err != nil {
		t.Fatalf("SaveProject: %v", err)
	}
	if trackCount == 0 {
		return
	}
	tl := &model.Timeline{}
	for i := 0; i < trackCount; i++ {
		tl.Tracks = append(tl.Tracks, model.Track{ID: string(rune('a' + i)), Type: "media"})
	}
	// Without scenes, an empty scene id addresses the legacy document.
	if err := svc.SaveTimeline(ctx, id, "", tl); err != nil {
		t.Fatalf("SaveTimeline: %v", err)
	}
}

func TestSceneMigrator_ThreeTrackScenario(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	legacyProject(t, svc, "P", 3)

	report, err := NewSceneMigrator(svc, nil).Run(ctx, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Migrated != 1 || report.Failed != 0 {
		t.Fatalf("unexpected report %+v", report)
	}

	p, _ := svc.LoadProject(ctx, "P")
	if len(p.Scenes) != 1 || !p.Scenes[0].IsMain || p.CurrentSceneID != p.Scenes[0].ID {
		t.Fatalf("unexpected scene state %+v / %q", p.Scenes, p.CurrentSceneID)
	}

	legacy, _ := svc.LoadLegacyTimeline(ctx, "P")
	if legacy != nil {
		t.Fatalf("legacy partition should be empty, has %d tracks", len(legacy.Tracks))
	}
	tl, _ := svc.LoadTimeline(ctx, "P", p.Scenes[0].ID)
	if tl == nil || len(tl.Tracks) != 3 {
		t.Fatalf("scene timeline should hold 3 tracks, got %+v", tl)
	}
}

func TestSceneMigrator_Idempotent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	legacyProject(t, svc, "P", 2)

	m := NewSceneMigrator(svc, nil)
	if migrated, err := m.MigrateProject(ctx, "P"); err != nil || !migrated {
		t.Fatalf("first run: %v, %v", migrated, err)
	}
	before, _ := svc.LoadProject(ctx, "P")

	if migrated, _ := m.MigrateProject(ctx, "P"); migrated {
		t.Fatal("same session should not migrate twice")
	}

	// A new session re-evaluates but finds nothing to do.
	report, err := NewSceneMigrator(svc, nil).Run(ctx, nil)
	if err != nil || report.Migrated != 0 || report.Skipped != 1 {
		t.Fatalf("second run report %+v, %v", report, err)
	}
	after, _ := svc.LoadProject(ctx, "P")
	if len(after.Scenes) != 1 || after.CurrentSceneID != before.CurrentSceneID || after.Scenes[0].ID != before.Scenes[0].ID {
		t.Fatalf("second run changed the project: %+v", after)
	}
}

func TestSceneMigrator_KeepsExistingMainScene(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	legacyProject(t, svc, "P", 2)

	// Scenes added by a newer build while the legacy document lingers.
	p, _ := svc.LoadProject(ctx, "P")
	p.Scenes = []model.Scene{{ID: "keep", Name: "Mine", IsMain: true}, {ID: "other", Name: "B"}}
	p.CurrentSceneID = "other"
	if err := svc.SaveProject(ctx, p); err != nil {
		t.Fatalf("SaveProject: %v", err)
	}

	if migrated, err := NewSceneMigrator(svc, nil).MigrateProject(ctx, "P"); err != nil || !migrated {
		t.Fatalf("MigrateProject: %v, %v", migrated, err)
	}

	p, _ = svc.LoadProject(ctx, "P")
	if len(p.Scenes) != 2 || p.Scenes[0].ID != "keep" {
		t.Fatalf("existing scenes must be kept, got %+v", p.Scenes)
	}
	if p.CurrentSceneID != "other" {
		t.Fatalf("valid current scene changed to %q", p.CurrentSceneID)
	}
	if legacy, _ := svc.LoadLegacyTimeline(ctx, "P"); legacy != nil {
		t.Fatal("legacy document should be gone")
	}
	tl, _ := svc.LoadTimeline(ctx, "P", "keep")
	if tl == nil || len(tl.Tracks) != 2 {
		t.Fatalf("legacy tracks should land in the main scene, got %+v", tl)
	}
}

func TestSceneMigrator_ProjectWithoutTimeline(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	legacyProject(t, svc, "P", 0)

	if migrated, err := NewSceneMigrator(svc, nil).MigrateProject(ctx, "P"); err != nil || !migrated {
		t.Fatalf("MigrateProject: %v, %v", migrated, err)
	}
	p, _ := svc.LoadProject(ctx, "P")
	if len(p.Scenes) != 1 || !p.Scenes[0].IsMain {
		t.Fatalf("expected a synthesized main scene, got %+v", p.Scenes)
	}
	if tl, _ := svc.LoadTimeline(ctx, "P", p.Scenes[0].ID); tl != nil {
		t.Fatalf("no timeline should be written, got %+v", tl)
	}
}

func TestSceneMigrator_MissingProject(t *testing.T) {
	svc := newTestService(t)
	if migrated, err := NewSceneMigrator(svc, nil).MigrateProject(context.Background(), "ghost"); err != nil || migrated {
		t.Fatalf("missing project: %v, %v", migrated, err)
	}
}

// flakyStore fails SaveProject a configurable number of times.
type flakyStore struct {
	SceneStore
	saveFailures atomic.Int32
	timelines    atomic.Int32
	block        chan struct{}
}

func (f *flakyStore) SaveProject(ctx context.Context, p *model.Project) error {
	if f.saveFailures.Add(-1) >= 0 {
		return errors.New("disk full")
	}
	return f.SceneStore.SaveProject(ctx, p)
}

func (f *flakyStore) SaveSceneTimeline(ctx context.Context, pid, sid string, tl *model.Timeline) error {
	f.timelines.Add(1)
	if f.block != nil {
		<-f.block
	}
	return f.SceneStore.SaveSceneTimeline(ctx, pid, sid, tl)
}

func TestSceneMigrator_RestartAfterPartialFailure(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	legacyProject(t, svc, "P", 3)

	flaky := &flakyStore{SceneStore: svc}
	flaky.saveFailures.Store(1)

	if _, err := NewSceneMigrator(flaky, nil).MigrateProject(ctx, "P"); err == nil {
		t.Fatal("expected failure when saving the project")
	}

	p, _ := svc.LoadProject(ctx, "P")
	if len(p.Scenes) != 0 {
		t.Fatalf("project record must be untouched after failure: %+v", p.Scenes)
	}
	if legacy, _ := svc.LoadLegacyTimeline(ctx, "P"); legacy == nil || len(legacy.Tracks) != 3 {
		t.Fatal("legacy timeline must survive a failed migration")
	}

	if migrated, err := NewSceneMigrator(svc, nil).MigrateProject(ctx, "P"); err != nil || !migrated {
		t.Fatalf("re-run: %v, %v", migrated, err)
	}
	p, _ = svc.LoadProject(ctx, "P")
	if len(p.Scenes) != 1 || p.Scenes[0].ID != model.NewMainScene("P").ID {
		t.Fatalf("re-run should reuse the deterministic main scene, got %+v", p.Scenes)
	}
	tl, _ := svc.LoadTimeline(ctx, "P", p.Scenes[0].ID)
	if tl == nil || len(tl.Tracks) != 3 {
		t.Fatal("scene timeline missing after re-run")
	}
}

func TestSceneMigrator_ConcurrentRunsCoalesce(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	legacyProject(t, svc, "P", 1)

	store := &flakyStore{SceneStore: svc, block: make(chan struct{})}
	m := NewSceneMigrator(store, nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.MigrateProject(ctx, "P"); err != nil {
				t.Errorf("MigrateProject: %v", err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(store.block)
	wg.Wait()

	if n := store.timelines.Load(); n != 1 {
		t.Fatalf("expected one scene timeline write, got %d", n)
	}
}

func TestSceneMigrator_FailureSkipsProject(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	legacyProject(t, svc, "A", 1)
	legacyProject(t, svc, "B", 1)

	flaky := &flakyStore{SceneStore: svc}
	flaky.saveFailures.Store(1)

	var progress []Progress
	report, err := NewSceneMigrator(flaky, NewLimiter(testMigrationConfig)).Run(ctx, func(p Progress) {
		progress = append(progress, p)
	})
	if err != nil {
		t.Fatalf("Run should not fail on per-project errors: %v", err)
	}
	if report.Failed != 1 || report.Migrated != 1 {
		t.Fatalf("unexpected report %+v", report)
	}

	if len(progress) != 3 {
		t.Fatalf("expected 3 progress updates, got %d", len(progress))
	}
	for i := 1; i < len(progress); i++ {
		if progress[i].Current < progress[i-1].Current {
			t.Fatalf("progress went backwards: %+v", progress)
		}
	}
	if last := progress[len(progress)-1]; last.Current != 2 || last.Total != 2 {
		t.Fatalf("final progress = %+v", last)
	}
}

func TestNeedsMigration(t *testing.T) {
	valid := &model.Project{Scenes: []model.Scene{{ID: "s", IsMain: true}}, CurrentSceneID: "s"}
	tests := []struct {
		name   string
		p      *model.Project
		legacy *model.Timeline
		want   bool
	}{
		{"valid without legacy", valid, nil, false},
		{"valid with empty legacy", valid, &model.Timeline{}, false},
		{"valid with legacy tracks", valid, &model.Timeline{Tracks: []model.Track{{ID: "t"}}}, true},
		{"no scenes", &model.Project{}, nil, true},
		{"dangling current", &model.Project{Scenes: valid.Scenes, CurrentSceneID: "x"}, nil, true},
	}
	for _, tt := range tests {
		if got := NeedsMigration(tt.p, tt.legacy); got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
}
