// -------------------------------------------------------------------------------
// Stores - Project-Scoped Adapter Factory and Cache
//
// Author: Alex Freidah
//
// Derives per-project adapters (media metadata, media payloads, per-scene
// timelines) from the selected metadata backend and the blob backend. Adapters
// are built lazily on first access and cached by project id with no expiry;
// deleting a project is responsible for evicting its entry.
// -------------------------------------------------------------------------------

package storage

import (
	"context"
	"fmt"

	"github.com/Quriosity-agent/qcut-sub012/internal/coalesce"
	"github.com/Quriosity-agent/qcut-sub012/internal/kv"
	"github.com/Quriosity-agent/qcut-sub012/internal/telemetry"
)

// ProjectStores groups the adapters scoped to one project.
type ProjectStores struct {
	ProjectID string
	Media     kv.Adapter
	Blobs     kv.Adapter

	meta      kv.Backend
	timelines *coalesce.Cache[string, kv.Adapter]
}

// Timeline returns the timeline adapter for sceneID, building it on first use.
func (p *ProjectStores) Timeline(ctx context.Context, sceneID string) (kv.Adapter, error) {
	return p.timelines.GetOrCreate(ctx, sceneID, func(ctx context.Context) (kv.Adapter, error) {
		return p.meta.Open(ctx, TimelineNamespace(p.ProjectID, sceneID))
	})
}

// LegacyTimeline returns the pre-scene timeline adapter. It is keyed in the
// timeline cache under the empty scene id, which real scenes never use.
func (p *ProjectStores) LegacyTimeline(ctx context.Context) (kv.Adapter, error) {
	return p.timelines.GetOrCreate(ctx, "", func(ctx context.Context) (kv.Adapter, error) {
		return p.meta.Open(ctx, LegacyTimelineNamespace(p.ProjectID))
	})
}

// EvictTimeline drops the cached adapter for one scene.
func (p *ProjectStores) EvictTimeline(sceneID string) {
	p.timelines.Evict(sceneID)
}

// Stores builds and caches adapters over the selected metadata backend and the
// blob backend.
type Stores struct {
	selector *Selector
	blobs    kv.Backend

	shared   *coalesce.Cache[kv.Namespace, kv.Adapter]
	projects *coalesce.Cache[string, *ProjectStores]
}

// NewStores creates a factory. The metadata backend is resolved through sel
// on first use.
func NewStores(sel *Selector, blobs kv.Backend) *Stores {
	return &Stores{
		selector: sel,
		blobs:    blobs,
		shared:   coalesce.NewCache[kv.Namespace, kv.Adapter](),
		projects: coalesce.NewCache[string, *ProjectStores](),
	}
}

// Projects returns the adapter holding serialized projects.
func (s *Stores) Projects(ctx context.Context) (kv.Adapter, error) {
	return s.sharedAdapter(ctx, ProjectsNamespace())
}

// Migrations returns the adapter holding migration markers.
func (s *Stores) Migrations(ctx context.Context) (kv.Adapter, error) {
	return s.sharedAdapter(ctx, MigrationsNamespace())
}

func (s *Stores) sharedAdapter(ctx context.Context, ns kv.Namespace) (kv.Adapter, error) {
	return s.shared.GetOrCreate(ctx, ns, func(ctx context.Context) (kv.Adapter, error) {
		meta, err := s.selector.Select(ctx)
		if err != nil {
			return nil, err
		}
		return meta.Open(ctx, ns)
	})
}

// Project returns the cached adapters for projectID, building them on first
// access. Concurrent first accesses share one build.
func (s *Stores) Project(ctx context.Context, projectID string) (*ProjectStores, error) {
	if projectID == "" {
		return nil, ErrInvalidProject
	}
	ps, err := s.projects.GetOrCreate(ctx, projectID, func(ctx context.Context) (*ProjectStores, error) {
		return s.buildProject(ctx, projectID)
	})
	telemetry.CachedProjects.Set(float64(s.projects.Len()))
	return ps, err
}

func (s *Stores) buildProject(ctx context.Context, projectID string) (*ProjectStores, error) {
	meta, err := s.selector.Select(ctx)
	if err != nil {
		return nil, err
	}
	media, err := meta.Open(ctx, MediaNamespace(projectID))
	if err != nil {
		return nil, fmt.Errorf("failed to open media store for %s: %w", projectID, err)
	}
	blobs, err := s.blobs.Open(ctx, BlobNamespace(projectID))
	if err != nil {
		return nil, fmt.Errorf("failed to open blob store for %s: %w", projectID, err)
	}
	return &ProjectStores{
		ProjectID: projectID,
		Media:     media,
		Blobs:     blobs,
		meta:      meta,
		timelines: coalesce.NewCache[string, kv.Adapter](),
	}, nil
}

// Evict drops the cached adapters of projectID, including its timelines.
func (s *Stores) Evict(projectID string) {
	s.projects.Evict(projectID)
	telemetry.CachedProjects.Set(float64(s.projects.Len()))
}

// Cached reports whether adapters for projectID are currently cached.
func (s *Stores) Cached(projectID string) bool {
	_, ok := s.projects.Peek(projectID)
	return ok
}
