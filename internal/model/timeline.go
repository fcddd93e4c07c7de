package model

import (
	"fmt"
	"time"
)

// Element is one clip, text, or effect placed on a track.
type Element struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Name      string         `json:"name,omitempty"`
	MediaID   string         `json:"mediaId,omitempty"`
	StartTime float64        `json:"startTime"`
	Duration  float64        `json:"duration"`
	TrimStart float64        `json:"trimStart,omitempty"`
	TrimEnd   float64        `json:"trimEnd,omitempty"`
	Hidden    bool           `json:"hidden,omitempty"`
	Props     map[string]any `json:"props,omitempty"`
}

// Track is an ordered lane of elements.
type Track struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Type     string    `json:"type"`
	Elements []Element `json:"elements"`
	Muted    bool      `json:"muted,omitempty"`
	IsMain   bool      `json:"isMain,omitempty"`
}

// Timeline is the track document for one (project, scene) scope.
type Timeline struct {
	Tracks       []Track
	LastModified time.Time
}

// IsEmpty reports whether the timeline has no tracks.
func (t *Timeline) IsEmpty() bool {
	return t == nil || len(t.Tracks) == 0
}

// SerializedTimeline is the persisted timeline document.
type SerializedTimeline struct {
	Tracks       []Track `json:"tracks"`
	LastModified string  `json:"lastModified"`
}

// Serialize converts t to its persisted document.
func (t *Timeline) Serialize() *SerializedTimeline {
	tracks := t.Tracks
	if tracks == nil {
		tracks = []Track{}
	}
	return &SerializedTimeline{Tracks: tracks, LastModified: FormatTime(t.LastModified)}
}

// Deserialize converts a persisted document to a timeline.
func (s *SerializedTimeline) Deserialize() (*Timeline, error) {
	lastModified, err := ParseTime(s.LastModified)
	if err != nil {
		return nil, fmt.Errorf("timeline lastModified: %w", err)
	}
	return &Timeline{Tracks: s.Tracks, LastModified: lastModified}, nil
}
