// -------------------------------------------------------------------------------
// Service Media - Media Metadata, Payloads, and Blob Handles
//
// Author: Alex Freidah
//
// Media metadata and payloads live in two partitions keyed by the same id.
// Every load re-derives the item's URL from what is actually stored: a payload
// makes the item file-backed, a persisted non-session URL makes it URL-backed,
// and anything else is unloadable and skipped. Session-scoped handles are
// minted on demand and never written back.
// -------------------------------------------------------------------------------

package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"

	"github.com/Quriosity-agent/qcut-sub012/internal/blobref"
	"github.com/Quriosity-agent/qcut-sub012/internal/config"
	"github.com/Quriosity-agent/qcut-sub012/internal/kv"
	"github.com/Quriosity-agent/qcut-sub012/internal/model"
	"github.com/Quriosity-agent/qcut-sub012/internal/telemetry"
)

// Reasons recorded when a media item cannot be loaded.
const (
	unloadableSessionURL = "session_url"
	unloadableNoPayload  = "no_payload"
)

func mediaRecords(ps *ProjectStores) *kv.Typed[model.SerializedMediaItem] {
	return kv.NewTyped[model.SerializedMediaItem](ps.Media)
}

// SaveMediaItem writes the payload (when present) and then the metadata
// record. Session-scoped URLs are not persisted.
func (s *Service) SaveMediaItem(ctx context.Context, pid string, item *model.MediaItem) (err error) {
	if pid == "" {
		return ErrInvalidProject
	}
	if item == nil || item.ID == "" {
		return ErrInvalidMedia
	}
	c := s.begin(ctx, "SaveMediaItem",
		telemetry.AttrProjectID.String(pid),
		telemetry.AttrMediaID.String(item.ID),
	)
	defer func() { c.end(err) }()
	ctx = c.ctx

	ps, err := s.stores.Project(ctx, pid)
	if err != nil {
		return err
	}

	if len(item.Payload) > 0 {
		if err := ps.Blobs.Set(ctx, item.ID, item.Payload); err != nil {
			return fmt.Errorf("failed to store payload of %s: %w", item.ID, err)
		}
	}

	rec := item.Serialize()
	if rec.MimeType == "" && len(item.Payload) > 0 {
		rec.MimeType = item.ContentType()
	}
	if rec.LastModified == "" {
		rec.LastModified = model.FormatTime(model.Now())
	}
	if err := mediaRecords(ps).Set(ctx, item.ID, rec); err != nil {
		return fmt.Errorf("failed to store metadata of %s: %w", item.ID, err)
	}
	return nil
}

// LoadMediaItem returns the media item, or (nil, nil) when it does not exist
// or cannot be loaded.
func (s *Service) LoadMediaItem(ctx context.Context, pid, mid string) (item *model.MediaItem, err error) {
	if pid == "" {
		return nil, ErrInvalidProject
	}
	c := s.begin(ctx, "LoadMediaItem",
		telemetry.AttrProjectID.String(pid),
		telemetry.AttrMediaID.String(mid),
	)
	defer func() { c.end(err) }()
	ctx = c.ctx

	ps, err := s.stores.Project(ctx, pid)
	if err != nil {
		return nil, err
	}
	return s.loadMediaItem(ctx, ps, mid)
}

func (s *Service) loadMediaItem(ctx context.Context, ps *ProjectStores, mid string) (*model.MediaItem, error) {
	rec, err := mediaRecords(ps).Get(ctx, mid)
	if err != nil {
		return nil, fmt.Errorf("failed to load metadata of %s: %w", mid, err)
	}
	if rec == nil {
		return nil, nil
	}
	item, err := rec.Deserialize()
	if err != nil {
		return nil, err
	}

	payload, ok, err := ps.Blobs.Get(ctx, mid)
	if err != nil {
		return nil, fmt.Errorf("failed to load payload of %s: %w", mid, err)
	}

	if blobref.IsSessionURL(item.ThumbnailURL) {
		item.ThumbnailURL = ""
	}

	switch {
	case ok && len(payload) > 0:
		// File-backed.
		item.Payload = payload
		item.Size = int64(len(payload))
		item.URL = ""
		if s.runtime == config.RuntimeDesktop {
			switch item.Type {
			case model.MediaImage:
				item.URL = blobref.DataURL(item.ContentType(), payload)
			case model.MediaVideo:
				s.ensureExportPath(ctx, ps, item, rec)
			}
		}
		return item, nil

	case item.URL != "" && !blobref.IsSessionURL(item.URL):
		// URL-backed with an empty placeholder payload.
		item.Payload = []byte{}
		return item, nil

	default:
		reason := unloadableNoPayload
		if blobref.IsSessionURL(item.URL) {
			reason = unloadableSessionURL
		}
		telemetry.UnloadableMediaTotal.WithLabelValues(reason).Inc()
		slog.Warn("Media item cannot be loaded", "project", ps.ProjectID, "media", mid, "reason", reason)
		return nil, nil
	}
}

// ensureExportPath writes the payload of a desktop video to the export
// directory when it has no usable native path and persists the new path into
// the stored record rec. Only localPath is written back. Failures are logged;
// the item still loads.
func (s *Service) ensureExportPath(ctx context.Context, ps *ProjectStores, item *model.MediaItem, rec *model.SerializedMediaItem) {
	if s.exportDir == "" {
		return
	}
	if item.LocalPath != "" {
		if _, err := os.Stat(item.LocalPath); err == nil {
			return
		}
	}

	ext := filepath.Ext(filepath.Base(item.Name))
	if ext == "" {
		ext = ".mp4"
	}
	dir := filepath.Join(s.exportDir, ps.ProjectID)
	path := filepath.Join(dir, item.ID+ext)

	if err := writeFileAtomic(dir, path, item.Payload); err != nil {
		slog.Warn("Failed to regenerate export path", "project", ps.ProjectID, "media", item.ID, "error", err)
		return
	}
	item.LocalPath = path
	rec.LocalPath = path

	if err := mediaRecords(ps).Set(ctx, item.ID, rec); err != nil {
		slog.Warn("Failed to persist export path", "project", ps.ProjectID, "media", item.ID, "error", err)
		return
	}
	slog.Info("Regenerated export path", "project", ps.ProjectID, "media", item.ID, "path", path)
}

// writeFileAtomic writes data to path through a temp file in dir.
func writeFileAtomic(dir, path string, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// LoadAllMediaItems returns every loadable media item of pid sorted by id.
// Items that fail or cannot be loaded are skipped.
func (s *Service) LoadAllMediaItems(ctx context.Context, pid string) (items []*model.MediaItem, err error) {
	if pid == "" {
		return nil, ErrInvalidProject
	}
	c := s.begin(ctx, "LoadAllMediaItems", telemetry.AttrProjectID.String(pid))
	defer func() { c.end(err) }()
	ctx = c.ctx

	ps, err := s.stores.Project(ctx, pid)
	if err != nil {
		return nil, err
	}
	ids, err := ps.Media.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list media of %s: %w", pid, err)
	}
	sort.Strings(ids)

	items = make([]*model.MediaItem, 0, len(ids))
	for _, id := range ids {
		item, err := s.loadMediaItem(ctx, ps, id)
		if err != nil {
			slog.Warn("Skipping unloadable media item", "project", pid, "media", id, "error", err)
			continue
		}
		if item != nil {
			items = append(items, item)
		}
	}
	return items, nil
}

// DeleteMediaItem removes the metadata record and payload of mid.
func (s *Service) DeleteMediaItem(ctx context.Context, pid, mid string) (err error) {
	if pid == "" {
		return ErrInvalidProject
	}
	if mid == "" {
		return ErrInvalidMedia
	}
	c := s.begin(ctx, "DeleteMediaItem",
		telemetry.AttrProjectID.String(pid),
		telemetry.AttrMediaID.String(mid),
	)
	defer func() { c.end(err) }()
	ctx = c.ctx

	ps, err := s.stores.Project(ctx, pid)
	if err != nil {
		return err
	}
	return errors.Join(ps.Media.Remove(ctx, mid), ps.Blobs.Remove(ctx, mid))
}

// DeleteProjectMedia clears the media metadata and payload partitions of pid.
func (s *Service) DeleteProjectMedia(ctx context.Context, pid string) (err error) {
	if pid == "" {
		return ErrInvalidProject
	}
	c := s.begin(ctx, "DeleteProjectMedia", telemetry.AttrProjectID.String(pid))
	defer func() { c.end(err) }()

	return s.deleteProjectMedia(c.ctx, pid)
}

func (s *Service) deleteProjectMedia(ctx context.Context, pid string) error {
	ps, err := s.stores.Project(ctx, pid)
	if err != nil {
		return err
	}
	var errs []error
	if err := ps.Media.Clear(ctx); err != nil {
		errs = append(errs, fmt.Errorf("media metadata: %w", err))
	}
	if err := ps.Blobs.Clear(ctx); err != nil {
		errs = append(errs, fmt.Errorf("media payloads: %w", err))
	}
	return errors.Join(errs...)
}

// -------------------------------------------------------------------------
// RAW RECORDS
// -------------------------------------------------------------------------

// ListMediaIDs returns the ids of every metadata record of pid.
func (s *Service) ListMediaIDs(ctx context.Context, pid string) ([]string, error) {
	ps, err := s.stores.Project(ctx, pid)
	if err != nil {
		return nil, err
	}
	return ps.Media.List(ctx)
}

// LoadMediaRecord returns the metadata record of mid exactly as stored along
// with its payload size. rec is nil when no record exists.
func (s *Service) LoadMediaRecord(ctx context.Context, pid, mid string) (rec *model.SerializedMediaItem, payloadSize int64, err error) {
	ps, err := s.stores.Project(ctx, pid)
	if err != nil {
		return nil, 0, err
	}
	rec, err = mediaRecords(ps).Get(ctx, mid)
	if err != nil || rec == nil {
		return nil, 0, err
	}
	payload, ok, err := ps.Blobs.Get(ctx, mid)
	if err != nil {
		return nil, 0, err
	}
	if ok {
		payloadSize = int64(len(payload))
	}
	return rec, payloadSize, nil
}

// SaveMediaRecord overwrites the metadata record of rec.ID as given.
func (s *Service) SaveMediaRecord(ctx context.Context, pid string, rec *model.SerializedMediaItem) error {
	if rec == nil || rec.ID == "" {
		return ErrInvalidMedia
	}
	ps, err := s.stores.Project(ctx, pid)
	if err != nil {
		return err
	}
	return mediaRecords(ps).Set(ctx, rec.ID, rec)
}

// -------------------------------------------------------------------------
// SYNC
// -------------------------------------------------------------------------

// SyncReport summarizes one media resync.
type SyncReport struct {
	Scanned   int
	Recovered []string
}

// SyncProjectMedia rebuilds metadata records for payloads that exist in the
// blob partition without one, so imported files whose metadata write was lost
// become visible again. Concurrent calls for the same project share one run.
func (s *Service) SyncProjectMedia(ctx context.Context, pid string) (*SyncReport, error) {
	if pid == "" {
		return nil, ErrInvalidProject
	}
	report, _, err := s.syncs.Do(ctx, pid, func(ctx context.Context) (report *SyncReport, err error) {
		c := s.begin(ctx, "SyncProjectMedia", telemetry.AttrProjectID.String(pid))
		defer func() { c.end(err) }()
		return s.syncProjectMedia(c.ctx, pid)
	})
	return report, err
}

func (s *Service) syncProjectMedia(ctx context.Context, pid string) (*SyncReport, error) {
	ps, err := s.stores.Project(ctx, pid)
	if err != nil {
		return nil, err
	}
	blobIDs, err := ps.Blobs.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list payloads of %s: %w", pid, err)
	}
	metaIDs, err := ps.Media.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list media of %s: %w", pid, err)
	}
	known := make(map[string]struct{}, len(metaIDs))
	for _, id := range metaIDs {
		known[id] = struct{}{}
	}

	sort.Strings(blobIDs)
	report := &SyncReport{Scanned: len(blobIDs)}
	for _, id := range blobIDs {
		if _, ok := known[id]; ok {
			continue
		}
		payload, ok, err := ps.Blobs.Get(ctx, id)
		if err != nil || !ok || len(payload) == 0 {
			continue
		}
		mime := http.DetectContentType(payload)
		rec := &model.SerializedMediaItem{
			ID:           id,
			Name:         id,
			Type:         model.MediaTypeFor(mime),
			MimeType:     mime,
			Size:         int64(len(payload)),
			LastModified: model.FormatTime(model.Now()),
		}
		if err := mediaRecords(ps).Set(ctx, id, rec); err != nil {
			slog.Warn("Failed to recover media metadata", "project", pid, "media", id, "error", err)
			continue
		}
		report.Recovered = append(report.Recovered, id)
	}

	if len(report.Recovered) > 0 {
		slog.Info("Recovered media metadata", "project", pid, "count", len(report.Recovered))
	}
	return report, nil
}

// -------------------------------------------------------------------------
// BLOB HANDLES
// -------------------------------------------------------------------------

// ObjectURL mints a session-scoped handle for the payload of mid. Callers must
// pass the handle to ReleaseObjectURL when done with it.
func (s *Service) ObjectURL(ctx context.Context, pid, mid string) (string, error) {
	rec, payload, err := s.mediaPayload(ctx, pid, mid)
	if err != nil {
		return "", err
	}
	item := &model.MediaItem{MimeType: rec.MimeType, Payload: payload}
	return s.registry.Create(payload, item.ContentType()), nil
}

// ReleaseObjectURL drops a reference to a handle from ObjectURL. The handle is
// revoked after the registry delay once every reference is released.
func (s *Service) ReleaseObjectURL(url string) {
	s.registry.Release(url)
}

// ProbeMediaDimensions decodes the image header of mid from an isolated copy
// of its payload. A record that lacks dimensions is updated with the result.
func (s *Service) ProbeMediaDimensions(ctx context.Context, pid, mid string) (width, height int, err error) {
	rec, payload, err := s.mediaPayload(ctx, pid, mid)
	if err != nil {
		return 0, 0, err
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(bytes.Clone(payload)))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to decode dimensions of %s: %w", mid, err)
	}

	if rec.Width == 0 && rec.Height == 0 {
		rec.Width, rec.Height = cfg.Width, cfg.Height
		if err := s.SaveMediaRecord(ctx, pid, rec); err != nil {
			slog.Warn("Failed to persist media dimensions", "project", pid, "media", mid, "error", err)
		}
	}
	return cfg.Width, cfg.Height, nil
}

// mediaPayload loads the metadata record and non-empty payload of mid.
func (s *Service) mediaPayload(ctx context.Context, pid, mid string) (*model.SerializedMediaItem, []byte, error) {
	if pid == "" {
		return nil, nil, ErrInvalidProject
	}
	ps, err := s.stores.Project(ctx, pid)
	if err != nil {
		return nil, nil, err
	}
	rec, err := mediaRecords(ps).Get(ctx, mid)
	if err != nil {
		return nil, nil, err
	}
	if rec == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrMediaNotFound, mid)
	}
	payload, ok, err := ps.Blobs.Get(ctx, mid)
	if err != nil {
		return nil, nil, err
	}
	if !ok || len(payload) == 0 {
		return nil, nil, fmt.Errorf("%w: %s has no payload", ErrMediaNotFound, mid)
	}
	return rec, payload, nil
}
