// -------------------------------------------------------------------------------
// Service Timelines - Scene-Scoped Timeline Documents
//
// Author: Alex Freidah
//
// Each (project, scene) pair owns one timeline document. Projects that predate
// scenes keep a single legacy document until scene migration moves it; reads
// of the main scene fall back to that document in the meantime.
// -------------------------------------------------------------------------------

package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/Quriosity-agent/qcut-sub012/internal/kv"
	"github.com/Quriosity-agent/qcut-sub012/internal/model"
	"github.com/Quriosity-agent/qcut-sub012/internal/telemetry"
)

// sceneTarget resolves which scene a timeline call addresses. An explicit id
// wins; otherwise the project's current scene. isMain reports whether the
// target is the main scene. An empty id means the legacy document.
func (s *Service) sceneTarget(ctx context.Context, pid, sceneID string) (id string, isMain bool, err error) {
	p, err := s.loadProject(ctx, pid)
	if err != nil {
		return "", false, err
	}
	if p == nil {
		return sceneID, false, nil
	}
	if sceneID == "" {
		if !p.HasValidScenes() {
			return "", false, nil
		}
		sceneID = p.CurrentSceneID
	}
	if main := p.MainScene(); main != nil && main.ID == sceneID {
		return sceneID, true, nil
	}
	return sceneID, false, nil
}

func readTimeline(ctx context.Context, a kv.Adapter) (*model.Timeline, error) {
	rec, err := kv.NewTyped[model.SerializedTimeline](a).Get(ctx, timelineKey)
	if err != nil || rec == nil {
		return nil, err
	}
	return rec.Deserialize()
}

func writeTimeline(ctx context.Context, a kv.Adapter, tl *model.Timeline) error {
	if tl.LastModified.IsZero() {
		tl.LastModified = model.Now()
	}
	return kv.NewTyped[model.SerializedTimeline](a).Set(ctx, timelineKey, tl.Serialize())
}

// SaveTimeline stores tl for sceneID, or for the current scene when sceneID is
// empty. Projects without scenes write the legacy document.
func (s *Service) SaveTimeline(ctx context.Context, pid, sceneID string, tl *model.Timeline) (err error) {
	if pid == "" {
		return ErrInvalidProject
	}
	c := s.begin(ctx, "SaveTimeline",
		telemetry.AttrProjectID.String(pid),
		telemetry.AttrSceneID.String(sceneID),
	)
	defer func() { c.end(err) }()
	ctx = c.ctx

	target, _, err := s.sceneTarget(ctx, pid, sceneID)
	if err != nil {
		return err
	}
	ps, err := s.stores.Project(ctx, pid)
	if err != nil {
		return err
	}

	var a kv.Adapter
	if target == "" {
		a, err = ps.LegacyTimeline(ctx)
	} else {
		a, err = ps.Timeline(ctx, target)
	}
	if err != nil {
		return err
	}
	if err := writeTimeline(ctx, a, tl); err != nil {
		return fmt.Errorf("failed to save timeline of %s/%s: %w", pid, target, err)
	}
	return nil
}

// SaveSceneTimeline stores tl for an explicit scene without consulting the
// project record.
func (s *Service) SaveSceneTimeline(ctx context.Context, pid, sceneID string, tl *model.Timeline) (err error) {
	if pid == "" || sceneID == "" {
		return ErrInvalidProject
	}
	c := s.begin(ctx, "SaveSceneTimeline",
		telemetry.AttrProjectID.String(pid),
		telemetry.AttrSceneID.String(sceneID),
	)
	defer func() { c.end(err) }()
	ctx = c.ctx

	ps, err := s.stores.Project(ctx, pid)
	if err != nil {
		return err
	}
	a, err := ps.Timeline(ctx, sceneID)
	if err != nil {
		return err
	}
	if err := writeTimeline(ctx, a, tl); err != nil {
		return fmt.Errorf("failed to save timeline of %s/%s: %w", pid, sceneID, err)
	}
	return nil
}

// LoadTimeline returns the timeline for sceneID, or for the current scene when
// sceneID is empty. Returns (nil, nil) when no document exists. The main scene
// falls back to the legacy document until it has been migrated.
func (s *Service) LoadTimeline(ctx context.Context, pid, sceneID string) (tl *model.Timeline, err error) {
	if pid == "" {
		return nil, ErrInvalidProject
	}
	c := s.begin(ctx, "LoadTimeline",
		telemetry.AttrProjectID.String(pid),
		telemetry.AttrSceneID.String(sceneID),
	)
	defer func() { c.end(err) }()
	ctx = c.ctx

	target, isMain, err := s.sceneTarget(ctx, pid, sceneID)
	if err != nil {
		return nil, err
	}
	ps, err := s.stores.Project(ctx, pid)
	if err != nil {
		return nil, err
	}

	if target != "" {
		a, err := ps.Timeline(ctx, target)
		if err != nil {
			return nil, err
		}
		tl, err := readTimeline(ctx, a)
		if err != nil || tl != nil || !isMain {
			return tl, err
		}
	}

	a, err := ps.LegacyTimeline(ctx)
	if err != nil {
		return nil, err
	}
	return readTimeline(ctx, a)
}

// LoadLegacyTimeline returns the pre-scene timeline document, or (nil, nil).
func (s *Service) LoadLegacyTimeline(ctx context.Context, pid string) (*model.Timeline, error) {
	if pid == "" {
		return nil, ErrInvalidProject
	}
	ps, err := s.stores.Project(ctx, pid)
	if err != nil {
		return nil, err
	}
	a, err := ps.LegacyTimeline(ctx)
	if err != nil {
		return nil, err
	}
	return readTimeline(ctx, a)
}

// DeleteLegacyTimeline clears the pre-scene timeline partition.
func (s *Service) DeleteLegacyTimeline(ctx context.Context, pid string) error {
	if pid == "" {
		return ErrInvalidProject
	}
	ps, err := s.stores.Project(ctx, pid)
	if err != nil {
		return err
	}
	a, err := ps.LegacyTimeline(ctx)
	if err != nil {
		return err
	}
	if err := a.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear legacy timeline of %s: %w", pid, err)
	}
	return nil
}

// DeleteProjectTimeline clears every scene timeline of pid and the legacy
// partition.
func (s *Service) DeleteProjectTimeline(ctx context.Context, pid string) (err error) {
	if pid == "" {
		return ErrInvalidProject
	}
	c := s.begin(ctx, "DeleteProjectTimeline", telemetry.AttrProjectID.String(pid))
	defer func() { c.end(err) }()
	ctx = c.ctx

	p, err := s.loadProject(ctx, pid)
	if err != nil {
		return err
	}
	return s.deleteProjectTimelines(ctx, pid, p)
}

// deleteProjectTimelines clears the timelines of every scene in p (which may
// be nil) plus the legacy partition, attempting all of them.
func (s *Service) deleteProjectTimelines(ctx context.Context, pid string, p *model.Project) error {
	ps, err := s.stores.Project(ctx, pid)
	if err != nil {
		return err
	}

	var errs []error
	if p != nil {
		for _, sc := range p.Scenes {
			a, err := ps.Timeline(ctx, sc.ID)
			if err == nil {
				err = a.Clear(ctx)
			}
			if err != nil {
				errs = append(errs, fmt.Errorf("scene %s: %w", sc.ID, err))
			}
		}
	}
	a, err := ps.LegacyTimeline(ctx)
	if err == nil {
		err = a.Clear(ctx)
	}
	if err != nil {
		errs = append(errs, fmt.Errorf("legacy timeline: %w", err))
	}
	return errors.Join(errs...)
}
