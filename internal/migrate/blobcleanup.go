// -------------------------------------------------------------------------------
// Blob Cleanup - Stale Session Handle Removal
//
// Author: Alex Freidah
//
// One-time pass that clears session-scoped blob handles left in persisted
// project thumbnails and media records by older builds. Media left with neither
// a payload nor a URL is removed. A permanent marker is written only after a
// scan with no item failures, and once present the pass never runs again.
// -------------------------------------------------------------------------------

package migrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Quriosity-agent/qcut-sub012/internal/blobref"
	"github.com/Quriosity-agent/qcut-sub012/internal/model"
	"golang.org/x/time/rate"
)

// BlobCleanupMarker is the permanent completion marker key.
const BlobCleanupMarker = "blob-url-cleanup-v1"

const cleanupMigration = "blob_cleanup"

// ErrCleanupIncomplete is returned when some items failed; the marker is not
// written and the pass runs again next time.
var ErrCleanupIncomplete = errors.New("blob cleanup incomplete")

// CleanupStore is the storage surface the cleanup pass needs.
type CleanupStore interface {
	MigrationDone(ctx context.Context, name string) (bool, error)
	MarkMigrationDone(ctx context.Context, name string) error
	ListProjectIDs(ctx context.Context) ([]string, error)
	LoadProjectRecord(ctx context.Context, id string) (*model.SerializedProject, error)
	SaveProjectRecord(ctx context.Context, rec *model.SerializedProject) error
	ListMediaIDs(ctx context.Context, pid string) ([]string, error)
	LoadMediaRecord(ctx context.Context, pid, mid string) (*model.SerializedMediaItem, int64, error)
	SaveMediaRecord(ctx context.Context, pid string, rec *model.SerializedMediaItem) error
	DeleteMediaItem(ctx context.Context, pid, mid string) error
}

// CleanupReport summarizes one cleanup pass.
type CleanupReport struct {
	AlreadyDone     bool
	ProjectsCleaned int
	MediaCleaned    int
	MediaRemoved    int
	Failed          int
}

// BlobCleanup runs the stale handle cleanup pass.
type BlobCleanup struct {
	store   CleanupStore
	limiter *rate.Limiter
}

// NewBlobCleanup creates the pass. limiter may be nil.
func NewBlobCleanup(store CleanupStore, limiter *rate.Limiter) *BlobCleanup {
	return &BlobCleanup{store: store, limiter: limiter}
}

// Run performs the pass unless its marker exists.
func (b *BlobCleanup) Run(ctx context.Context, progress ProgressFunc) (report CleanupReport, err error) {
	done, err := b.store.MigrationDone(ctx, BlobCleanupMarker)
	if err != nil {
		return report, fmt.Errorf("failed to read cleanup marker: %w", err)
	}
	if done {
		report.AlreadyDone = true
		return report, nil
	}

	start := time.Now()
	defer func() { recordRun(cleanupMigration, start, err) }()

	ids, err := b.store.ListProjectIDs(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list projects: %w", err)
	}

	total := len(ids)
	for i, pid := range ids {
		progress.report(i, total, pid)
		b.cleanProject(ctx, pid, &report)
	}
	progress.report(total, total, "")

	slog.Info("Blob cleanup scan finished",
		"projects_cleaned", report.ProjectsCleaned,
		"media_cleaned", report.MediaCleaned,
		"media_removed", report.MediaRemoved,
		"failed", report.Failed,
	)

	if report.Failed > 0 {
		return report, fmt.Errorf("%w: %d items failed", ErrCleanupIncomplete, report.Failed)
	}
	if err := b.store.MarkMigrationDone(ctx, BlobCleanupMarker); err != nil {
		return report, fmt.Errorf("failed to write cleanup marker: %w", err)
	}
	return report, nil
}

// cleanProject clears the thumbnail of the stored record pid and every media
// record of the project. Records are handled as stored, so one that no longer
// deserializes into a Project is still scanned; one that cannot be read at all
// counts as a failure.
func (b *BlobCleanup) cleanProject(ctx context.Context, pid string, report *CleanupReport) {
	rec, err := b.store.LoadProjectRecord(ctx, pid)
	switch {
	case err != nil:
		b.fail(report, "project", pid, "", err)
	case rec != nil && blobref.IsSessionURL(rec.Thumbnail):
		rec.Thumbnail = ""
		err := pace(ctx, b.limiter)
		if err == nil {
			err = b.store.SaveProjectRecord(ctx, rec)
		}
		if err != nil {
			b.fail(report, "project", pid, "", err)
		} else {
			report.ProjectsCleaned++
			recordItem(cleanupMigration, outcomeMigrated)
		}
	}

	ids, err := b.store.ListMediaIDs(ctx, pid)
	if err != nil {
		b.fail(report, "media list", pid, "", err)
		return
	}
	for _, mid := range ids {
		if err := b.cleanMedia(ctx, pid, mid, report); err != nil {
			b.fail(report, "media", pid, mid, err)
		}
	}
}

// cleanMedia clears session handles on one record and removes it when nothing
// loadable remains.
func (b *BlobCleanup) cleanMedia(ctx context.Context, pid, mid string, report *CleanupReport) error {
	rec, payloadSize, err := b.store.LoadMediaRecord(ctx, pid, mid)
	if err != nil || rec == nil {
		return err
	}

	changed := false
	if blobref.IsSessionURL(rec.URL) {
		rec.URL = ""
		changed = true
	}
	if blobref.IsSessionURL(rec.ThumbnailURL) {
		rec.ThumbnailURL = ""
		changed = true
	}

	if payloadSize == 0 && rec.URL == "" {
		if err := pace(ctx, b.limiter); err != nil {
			return err
		}
		if err := b.store.DeleteMediaItem(ctx, pid, mid); err != nil {
			return err
		}
		report.MediaRemoved++
		recordItem(cleanupMigration, outcomeRemoved)
		slog.Info("Removed unloadable media item", "project", pid, "media", mid)
		return nil
	}

	if !changed {
		recordItem(cleanupMigration, outcomeSkipped)
		return nil
	}
	if err := pace(ctx, b.limiter); err != nil {
		return err
	}
	if err := b.store.SaveMediaRecord(ctx, pid, rec); err != nil {
		return err
	}
	report.MediaCleaned++
	recordItem(cleanupMigration, outcomeMigrated)
	return nil
}

func (b *BlobCleanup) fail(report *CleanupReport, what, pid, mid string, err error) {
	report.Failed++
	recordItem(cleanupMigration, outcomeFailed)
	slog.Warn("Blob cleanup item failed, continuing", "item", what, "project", pid, "media", mid, "error", err)
}
