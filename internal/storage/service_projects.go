// -------------------------------------------------------------------------------
// Service Projects - Project and Scene Persistence
//
// Author: Alex Freidah
//
// Project records live in the shared projects store keyed by id. Loading
// restores the scene invariants in memory; deleting cascades into the media,
// blob, and timeline partitions and evicts cached adapters.
// -------------------------------------------------------------------------------

package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/Quriosity-agent/qcut-sub012/internal/kv"
	"github.com/Quriosity-agent/qcut-sub012/internal/model"
	"github.com/Quriosity-agent/qcut-sub012/internal/telemetry"
)

// projectsStore returns the typed projects adapter.
func (s *Service) projectsStore(ctx context.Context) (*kv.Typed[model.SerializedProject], error) {
	a, err := s.stores.Projects(ctx)
	if err != nil {
		return nil, err
	}
	return kv.NewTyped[model.SerializedProject](a), nil
}

// SaveProject persists p. Session-scoped thumbnail handles are dropped.
func (s *Service) SaveProject(ctx context.Context, p *model.Project) (err error) {
	if p == nil || p.ID == "" {
		return ErrInvalidProject
	}
	c := s.begin(ctx, "SaveProject", telemetry.AttrProjectID.String(p.ID))
	defer func() { c.end(err) }()

	return s.saveProject(c.ctx, p)
}

func (s *Service) saveProject(ctx context.Context, p *model.Project) error {
	store, err := s.projectsStore(ctx)
	if err != nil {
		return err
	}
	if err := store.Set(ctx, p.ID, p.Serialize()); err != nil {
		return fmt.Errorf("failed to save project %s: %w", p.ID, err)
	}
	return nil
}

// LoadProject returns the project with id, or (nil, nil) when it does not
// exist. A stale current scene or missing main flag is corrected in the
// returned value.
func (s *Service) LoadProject(ctx context.Context, id string) (p *model.Project, err error) {
	if id == "" {
		return nil, ErrInvalidProject
	}
	c := s.begin(ctx, "LoadProject", telemetry.AttrProjectID.String(id))
	defer func() { c.end(err) }()

	return s.loadProject(c.ctx, id)
}

func (s *Service) loadProject(ctx context.Context, id string) (*model.Project, error) {
	store, err := s.projectsStore(ctx)
	if err != nil {
		return nil, err
	}
	rec, err := store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load project %s: %w", id, err)
	}
	if rec == nil {
		return nil, nil
	}
	p, err := rec.Deserialize()
	if err != nil {
		return nil, err
	}
	if p.NormalizeScenes() {
		slog.Debug("Corrected project scene state on load", "project", id, "current_scene", p.CurrentSceneID)
	}
	return p, nil
}

// LoadAllProjects returns every loadable project, most recently updated
// first. Records that fail to load are logged and skipped.
func (s *Service) LoadAllProjects(ctx context.Context) (projects []*model.Project, err error) {
	c := s.begin(ctx, "LoadAllProjects")
	defer func() { c.end(err) }()
	ctx = c.ctx

	store, err := s.projectsStore(ctx)
	if err != nil {
		return nil, err
	}
	ids, err := store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}

	projects = make([]*model.Project, 0, len(ids))
	for _, id := range ids {
		p, err := s.loadProject(ctx, id)
		if err != nil {
			slog.Warn("Skipping unloadable project", "project", id, "error", err)
			continue
		}
		if p != nil {
			projects = append(projects, p)
		}
	}

	sort.SliceStable(projects, func(i, j int) bool {
		return projects[i].UpdatedAt.After(projects[j].UpdatedAt)
	})
	return projects, nil
}

// ListProjectIDs returns the id of every stored project record, loadable or
// not.
func (s *Service) ListProjectIDs(ctx context.Context) ([]string, error) {
	store, err := s.projectsStore(ctx)
	if err != nil {
		return nil, err
	}
	ids, err := store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	return ids, nil
}

// LoadProjectRecord returns the project record exactly as stored, or nil when
// none exists. Timestamps are not parsed.
func (s *Service) LoadProjectRecord(ctx context.Context, id string) (*model.SerializedProject, error) {
	store, err := s.projectsStore(ctx)
	if err != nil {
		return nil, err
	}
	rec, err := store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load project %s: %w", id, err)
	}
	return rec, nil
}

// SaveProjectRecord overwrites the project record rec.ID as given.
func (s *Service) SaveProjectRecord(ctx context.Context, rec *model.SerializedProject) error {
	if rec == nil || rec.ID == "" {
		return ErrInvalidProject
	}
	store, err := s.projectsStore(ctx)
	if err != nil {
		return err
	}
	if err := store.Set(ctx, rec.ID, rec); err != nil {
		return fmt.Errorf("failed to save project %s: %w", rec.ID, err)
	}
	return nil
}

// DeleteProject removes the project record, clears its media, blob, and
// timeline partitions, and evicts its cached adapters. Partition failures are
// joined into the returned error after every partition has been attempted.
func (s *Service) DeleteProject(ctx context.Context, id string) (err error) {
	if id == "" {
		return ErrInvalidProject
	}
	c := s.begin(ctx, "DeleteProject", telemetry.AttrProjectID.String(id))
	defer func() { c.end(err) }()
	ctx = c.ctx

	p, loadErr := s.loadProject(ctx, id)
	if loadErr != nil {
		slog.Warn("Deleting project without scene list", "project", id, "error", loadErr)
	}

	store, err := s.projectsStore(ctx)
	if err != nil {
		return err
	}
	if err := store.Remove(ctx, id); err != nil {
		return fmt.Errorf("failed to delete project %s: %w", id, err)
	}

	defer s.stores.Evict(id)

	var errs []error
	if err := s.deleteProjectMedia(ctx, id); err != nil {
		errs = append(errs, err)
	}
	if err := s.deleteProjectTimelines(ctx, id, p); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to clear partitions of project %s: %w", id, errors.Join(errs...))
	}

	slog.Info("Project deleted", "project", id)
	return nil
}

// -------------------------------------------------------------------------
// SCENES
// -------------------------------------------------------------------------

// SaveScene inserts or replaces a scene of project pid. Flagging the scene as
// main clears the flag on every other scene.
func (s *Service) SaveScene(ctx context.Context, pid string, scene model.Scene) (err error) {
	if pid == "" || scene.ID == "" {
		return ErrInvalidProject
	}
	c := s.begin(ctx, "SaveScene",
		telemetry.AttrProjectID.String(pid),
		telemetry.AttrSceneID.String(scene.ID),
	)
	defer func() { c.end(err) }()
	ctx = c.ctx

	p, err := s.loadProject(ctx, pid)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("%w: %s", ErrProjectNotFound, pid)
	}

	now := model.Now()
	if scene.CreatedAt.IsZero() {
		scene.CreatedAt = now
	}
	scene.UpdatedAt = now

	if scene.IsMain {
		for i := range p.Scenes {
			p.Scenes[i].IsMain = false
		}
	}
	if existing := p.Scene(scene.ID); existing != nil {
		*existing = scene
	} else {
		p.Scenes = append(p.Scenes, scene)
	}
	p.NormalizeScenes()
	p.UpdatedAt = now

	return s.saveProject(ctx, p)
}

// DeleteScene removes a non-main scene and clears its timeline partition.
// Deleting an unknown scene is a no-op.
func (s *Service) DeleteScene(ctx context.Context, pid, sceneID string) (err error) {
	if pid == "" || sceneID == "" {
		return ErrInvalidProject
	}
	c := s.begin(ctx, "DeleteScene",
		telemetry.AttrProjectID.String(pid),
		telemetry.AttrSceneID.String(sceneID),
	)
	defer func() { c.end(err) }()
	ctx = c.ctx

	p, err := s.loadProject(ctx, pid)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("%w: %s", ErrProjectNotFound, pid)
	}
	scene := p.Scene(sceneID)
	if scene == nil {
		return nil
	}
	if scene.IsMain {
		return ErrMainScene
	}

	kept := p.Scenes[:0]
	for _, sc := range p.Scenes {
		if sc.ID != sceneID {
			kept = append(kept, sc)
		}
	}
	p.Scenes = kept
	p.NormalizeScenes()
	p.UpdatedAt = model.Now()

	if err := s.saveProject(ctx, p); err != nil {
		return err
	}

	ps, err := s.stores.Project(ctx, pid)
	if err != nil {
		return err
	}
	tl, err := ps.Timeline(ctx, sceneID)
	if err != nil {
		return err
	}
	if err := tl.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear timeline of scene %s: %w", sceneID, err)
	}
	ps.EvictTimeline(sceneID)
	return nil
}
