// -------------------------------------------------------------------------------
// Scenes - Legacy Timeline to Scene Migration
//
// Author: Alex Freidah
//
// Moves projects that predate scenes onto the scene model. The legacy timeline
// is written into the main scene's partition before the project record is
// touched and deleted only after the project is saved, so a crash at any step
// leaves data that a re-run completes. Each project is migrated at most once
// per session and concurrent requests for the same project share one run.
// -------------------------------------------------------------------------------

package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Quriosity-agent/qcut-sub012/internal/coalesce"
	"github.com/Quriosity-agent/qcut-sub012/internal/model"
	"golang.org/x/time/rate"
)

const sceneMigration = "scenes"

// SceneStore is the storage surface the scene migrator needs.
type SceneStore interface {
	LoadAllProjects(ctx context.Context) ([]*model.Project, error)
	LoadProject(ctx context.Context, id string) (*model.Project, error)
	SaveProject(ctx context.Context, p *model.Project) error
	LoadLegacyTimeline(ctx context.Context, pid string) (*model.Timeline, error)
	SaveSceneTimeline(ctx context.Context, pid, sceneID string, tl *model.Timeline) error
	DeleteLegacyTimeline(ctx context.Context, pid string) error
}

// SceneReport summarizes one migration pass.
type SceneReport struct {
	Migrated int
	Skipped  int
	Failed   int
}

// SceneMigrator upgrades projects to the scene model.
type SceneMigrator struct {
	store   SceneStore
	limiter *rate.Limiter
	group   coalesce.Group[bool]

	mu   sync.Mutex
	done map[string]bool
}

// NewSceneMigrator creates a migrator. limiter may be nil.
func NewSceneMigrator(store SceneStore, limiter *rate.Limiter) *SceneMigrator {
	return &SceneMigrator{store: store, limiter: limiter, done: make(map[string]bool)}
}

func (m *SceneMigrator) isDone(pid string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done[pid]
}

func (m *SceneMigrator) markDone(pid string) {
	m.mu.Lock()
	m.done[pid] = true
	m.mu.Unlock()
}

// MigrateProject migrates pid if needed. Returns true when anything was
// written. A project already handled this session is a no-op.
func (m *SceneMigrator) MigrateProject(ctx context.Context, pid string) (bool, error) {
	if m.isDone(pid) {
		return false, nil
	}
	migrated, _, err := m.group.Do(ctx, pid, func(ctx context.Context) (bool, error) {
		if m.isDone(pid) {
			return false, nil
		}
		migrated, err := m.migrate(ctx, pid)
		if err != nil {
			return false, err
		}
		m.markDone(pid)
		return migrated, nil
	})
	return migrated, err
}

// NeedsMigration reports whether p lacks a valid scene list or still has a
// non-empty legacy timeline.
func NeedsMigration(p *model.Project, legacy *model.Timeline) bool {
	return !p.HasValidScenes() || !legacy.IsEmpty()
}

func (m *SceneMigrator) migrate(ctx context.Context, pid string) (bool, error) {
	p, err := m.store.LoadProject(ctx, pid)
	if err != nil {
		return false, fmt.Errorf("failed to load project: %w", err)
	}
	if p == nil {
		return false, nil
	}
	legacy, err := m.store.LoadLegacyTimeline(ctx, pid)
	if err != nil {
		return false, fmt.Errorf("failed to load legacy timeline: %w", err)
	}
	if !NeedsMigration(p, legacy) {
		return false, nil
	}

	// --- Resolve the main scene ---
	main := p.MainScene()
	synthesized := main == nil
	if synthesized {
		s := model.NewMainScene(pid)
		main = &s
	}

	// --- Scene timeline first ---
	if !legacy.IsEmpty() {
		if err := pace(ctx, m.limiter); err != nil {
			return false, err
		}
		if err := m.store.SaveSceneTimeline(ctx, pid, main.ID, legacy); err != nil {
			return false, fmt.Errorf("failed to write scene timeline: %w", err)
		}
	}

	// --- Project record ---
	if synthesized {
		p.Scenes = append([]model.Scene{*main}, p.Scenes...)
	}
	if p.Scene(p.CurrentSceneID) == nil {
		p.CurrentSceneID = main.ID
	}
	p.UpdatedAt = model.Now()
	if err := pace(ctx, m.limiter); err != nil {
		return false, err
	}
	if err := m.store.SaveProject(ctx, p); err != nil {
		return false, fmt.Errorf("failed to save project: %w", err)
	}

	// --- Legacy partition last ---
	if legacy != nil {
		if err := pace(ctx, m.limiter); err != nil {
			return false, err
		}
		if err := m.store.DeleteLegacyTimeline(ctx, pid); err != nil {
			return false, fmt.Errorf("failed to delete legacy timeline: %w", err)
		}
	}

	slog.Info("Project migrated to scenes",
		"project", pid,
		"main_scene", main.ID,
		"synthesized", synthesized,
		"tracks", trackCount(legacy),
	)
	return true, nil
}

func trackCount(tl *model.Timeline) int {
	if tl == nil {
		return 0
	}
	return len(tl.Tracks)
}

// Run migrates every project. Per-project failures are logged and counted;
// only a failure to list projects is returned.
func (m *SceneMigrator) Run(ctx context.Context, progress ProgressFunc) (report SceneReport, err error) {
	start := time.Now()
	defer func() { recordRun(sceneMigration, start, err) }()

	projects, err := m.store.LoadAllProjects(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list projects: %w", err)
	}

	total := len(projects)
	for i, p := range projects {
		progress.report(i, total, p.Name)

		migrated, err := m.MigrateProject(ctx, p.ID)
		switch {
		case err != nil:
			report.Failed++
			recordItem(sceneMigration, outcomeFailed)
			slog.Warn("Scene migration failed, skipping project", "project", p.ID, "error", err)
		case migrated:
			report.Migrated++
			recordItem(sceneMigration, outcomeMigrated)
		default:
			report.Skipped++
			recordItem(sceneMigration, outcomeSkipped)
		}
	}
	progress.report(total, total, "")

	slog.Info("Scene migration finished",
		"migrated", report.Migrated,
		"skipped", report.Skipped,
		"failed", report.Failed,
	)
	return report, nil
}
