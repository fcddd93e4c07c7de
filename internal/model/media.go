// -------------------------------------------------------------------------------
// MediaItem - Imported Assets and Their Metadata Record
//
// Author: Alex Freidah
//
// A media item is split across two stores: the metadata record (this file's
// serialized form) and the binary payload keyed by the same id in the blob
// partition. Only non-session URLs are ever persisted.
// -------------------------------------------------------------------------------

package model

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// MediaType classifies an asset.
type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
	MediaAudio MediaType = "audio"
)

// MediaItem is the in-memory media record plus its payload.
type MediaItem struct {
	ID             string
	Name           string
	Type           MediaType
	MimeType       string
	Size           int64
	LastModified   time.Time
	Width          int
	Height         int
	Duration       float64
	URL            string
	ThumbnailURL   string
	Metadata       map[string]any
	LocalPath      string
	FolderIDs      []string
	ImportMetadata map[string]any

	// Payload is the binary content. An empty, non-nil payload is a placeholder
	// for URL-backed items.
	Payload []byte
}

// SerializedMediaItem is the persisted metadata shape.
type SerializedMediaItem struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Type           MediaType      `json:"type"`
	MimeType       string         `json:"mimeType,omitempty"`
	Size           int64          `json:"size"`
	LastModified   string         `json:"lastModified"`
	Width          int            `json:"width,omitempty"`
	Height         int            `json:"height,omitempty"`
	Duration       float64        `json:"duration,omitempty"`
	URL            string         `json:"url,omitempty"`
	ThumbnailURL   string         `json:"thumbnailUrl,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	LocalPath      string         `json:"localPath,omitempty"`
	FolderIDs      []string       `json:"folderIds,omitempty"`
	ImportMetadata map[string]any `json:"importMetadata,omitempty"`
}

// Serialize converts m to its metadata record. Session-scoped URLs are dropped
// and the payload is not included.
func (m *MediaItem) Serialize() *SerializedMediaItem {
	size := m.Size
	if len(m.Payload) > 0 {
		size = int64(len(m.Payload))
	}
	return &SerializedMediaItem{
		ID:             m.ID,
		Name:           m.Name,
		Type:           m.Type,
		MimeType:       m.MimeType,
		Size:           size,
		LastModified:   FormatTime(m.LastModified),
		Width:          m.Width,
		Height:         m.Height,
		Duration:       m.Duration,
		URL:            PersistableURL(m.URL),
		ThumbnailURL:   PersistableURL(m.ThumbnailURL),
		Metadata:       m.Metadata,
		LocalPath:      m.LocalPath,
		FolderIDs:      m.FolderIDs,
		ImportMetadata: m.ImportMetadata,
	}
}

// Deserialize converts a metadata record to a media item without a payload.
// URLs are returned as stored.
func (s *SerializedMediaItem) Deserialize() (*MediaItem, error) {
	lastModified, err := ParseTime(s.LastModified)
	if err != nil {
		return nil, fmt.Errorf("media %s lastModified: %w", s.ID, err)
	}
	return &MediaItem{
		ID:             s.ID,
		Name:           s.Name,
		Type:           s.Type,
		MimeType:       s.MimeType,
		Size:           s.Size,
		LastModified:   lastModified,
		Width:          s.Width,
		Height:         s.Height,
		Duration:       s.Duration,
		URL:            s.URL,
		ThumbnailURL:   s.ThumbnailURL,
		Metadata:       s.Metadata,
		LocalPath:      s.LocalPath,
		FolderIDs:      s.FolderIDs,
		ImportMetadata: s.ImportMetadata,
	}, nil
}

// ContentType returns the item's MIME type, sniffing the payload when unset.
func (m *MediaItem) ContentType() string {
	if m.MimeType != "" {
		return m.MimeType
	}
	if len(m.Payload) > 0 {
		return http.DetectContentType(m.Payload)
	}
	return "application/octet-stream"
}

// MediaTypeFor maps a MIME type to a media type. Unknown types map to "".
func MediaTypeFor(mimeType string) MediaType {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return MediaImage
	case strings.HasPrefix(mimeType, "video/"):
		return MediaVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return MediaAudio
	default:
		return ""
	}
}
