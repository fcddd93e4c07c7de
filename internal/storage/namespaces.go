package storage

import "github.com/Quriosity-agent/qcut-sub012/internal/kv"

// Fixed store names per domain.
const (
	projectsDatabase = "projects"
	projectsStore    = "projects"
	mediaStore       = "media-metadata"
	blobStore        = "media-files"
	timelineStore    = "timeline"
	timelineKey      = "timeline"
	metaDatabase     = "meta"
	migrationsStore  = "migrations"
)

// ProjectsNamespace holds every serialized project keyed by id.
func ProjectsNamespace() kv.Namespace {
	return kv.Namespace{Database: projectsDatabase, Store: projectsStore}
}

// MediaNamespace holds media metadata records for one project.
func MediaNamespace(projectID string) kv.Namespace {
	return kv.Namespace{Database: "media-" + projectID, Store: mediaStore}
}

// BlobNamespace holds media payloads for one project.
func BlobNamespace(projectID string) kv.Namespace {
	return kv.Namespace{Database: "media-" + projectID, Store: blobStore}
}

// TimelineNamespace holds the timeline document for one scene.
func TimelineNamespace(projectID, sceneID string) kv.Namespace {
	return kv.Namespace{Database: "timelines-" + projectID + "-" + sceneID, Store: timelineStore}
}

// LegacyTimelineNamespace holds the pre-scene timeline document of a project.
func LegacyTimelineNamespace(projectID string) kv.Namespace {
	return kv.Namespace{Database: "timelines-" + projectID, Store: timelineStore}
}

// MigrationsNamespace holds permanent migration completion markers.
func MigrationsNamespace() kv.Namespace {
	return kv.Namespace{Database: metaDatabase, Store: migrationsStore}
}
