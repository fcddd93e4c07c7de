// -------------------------------------------------------------------------------
// Project - Projects, Scenes, and Their Persisted Form
//
// Author: Alex Freidah
//
// A project owns an ordered scene list with exactly one main scene and a
// current-scene pointer. The serialized form is what the projects store holds;
// session-scoped blob handles never appear in it.
// -------------------------------------------------------------------------------

package model

import (
	"fmt"
	"time"

	"github.com/Quriosity-agent/qcut-sub012/internal/blobref"
	"github.com/google/uuid"
)

// DefaultSceneName is used when a main scene has to be synthesized.
const DefaultSceneName = "Main Scene"

// mainSceneNamespace seeds deterministic main-scene ids.
var mainSceneNamespace = uuid.MustParse("3f0c9a7e-5a7d-4b8e-9a44-0d6f1b2c7e51")

// CanvasSize is the project output resolution.
type CanvasSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Scene is a named sub-timeline within a project.
type Scene struct {
	ID        string
	Name      string
	IsMain    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Project is the in-memory project record.
type Project struct {
	ID              string
	Name            string
	Thumbnail       string
	Scenes          []Scene
	CurrentSceneID  string
	CanvasSize      CanvasSize
	CanvasMode      string
	BackgroundColor string
	BackgroundType  string
	BlurIntensity   int
	FPS             int
	Bookmarks       []float64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewScene returns a scene with a random id.
func NewScene(name string, isMain bool) Scene {
	now := Now()
	return Scene{ID: uuid.NewString(), Name: name, IsMain: isMain, CreatedAt: now, UpdatedAt: now}
}

// NewMainScene returns the main scene for projectID. The id is derived from the
// project id so repeated synthesis yields the same scene.
func NewMainScene(projectID string) Scene {
	now := Now()
	return Scene{
		ID:        uuid.NewSHA1(mainSceneNamespace, []byte(projectID)).String(),
		Name:      DefaultSceneName,
		IsMain:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Scene returns the scene with id, or nil.
func (p *Project) Scene(id string) *Scene {
	for i := range p.Scenes {
		if p.Scenes[i].ID == id {
			return &p.Scenes[i]
		}
	}
	return nil
}

// MainScene returns the main scene, or nil when none is flagged.
func (p *Project) MainScene() *Scene {
	for i := range p.Scenes {
		if p.Scenes[i].IsMain {
			return &p.Scenes[i]
		}
	}
	return nil
}

// HasValidScenes reports whether the project has scenes and a current scene
// that exists among them.
func (p *Project) HasValidScenes() bool {
	return len(p.Scenes) > 0 && p.CurrentSceneID != "" && p.Scene(p.CurrentSceneID) != nil
}

// NormalizeScenes restores the scene invariants in place: exactly one main
// scene (the first flagged one, else the first scene) and a current scene that
// exists. Projects without scenes are left untouched. Returns true if anything
// changed.
func (p *Project) NormalizeScenes() bool {
	if len(p.Scenes) == 0 {
		return false
	}
	changed := false

	mainIdx := -1
	for i := range p.Scenes {
		if p.Scenes[i].IsMain {
			if mainIdx >= 0 {
				p.Scenes[i].IsMain = false
				changed = true
				continue
			}
			mainIdx = i
		}
	}
	if mainIdx < 0 {
		mainIdx = 0
		p.Scenes[0].IsMain = true
		changed = true
	}

	if p.Scene(p.CurrentSceneID) == nil {
		p.CurrentSceneID = p.Scenes[mainIdx].ID
		changed = true
	}
	return changed
}

// -------------------------------------------------------------------------
// SERIALIZED FORM
// -------------------------------------------------------------------------

// SerializedScene is the persisted scene shape.
type SerializedScene struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsMain    bool   `json:"isMain"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

// SerializedProject is the persisted project shape.
type SerializedProject struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Thumbnail       string            `json:"thumbnail"`
	CreatedAt       string            `json:"createdAt"`
	UpdatedAt       string            `json:"updatedAt"`
	Scenes          []SerializedScene `json:"scenes"`
	CurrentSceneID  string            `json:"currentSceneId"`
	CanvasSize      CanvasSize        `json:"canvasSize"`
	CanvasMode      string            `json:"canvasMode,omitempty"`
	BackgroundColor string            `json:"backgroundColor,omitempty"`
	BackgroundType  string            `json:"backgroundType,omitempty"`
	BlurIntensity   int               `json:"blurIntensity,omitempty"`
	FPS             int               `json:"fps,omitempty"`
	Bookmarks       []float64         `json:"bookmarks,omitempty"`
}

// Serialize converts p to its persisted form, dropping a session-scoped
// thumbnail handle.
func (p *Project) Serialize() *SerializedProject {
	scenes := make([]SerializedScene, 0, len(p.Scenes))
	for _, s := range p.Scenes {
		scenes = append(scenes, SerializedScene{
			ID:        s.ID,
			Name:      s.Name,
			IsMain:    s.IsMain,
			CreatedAt: FormatTime(s.CreatedAt),
			UpdatedAt: FormatTime(s.UpdatedAt),
		})
	}
	return &SerializedProject{
		ID:              p.ID,
		Name:            p.Name,
		Thumbnail:       PersistableURL(p.Thumbnail),
		CreatedAt:       FormatTime(p.CreatedAt),
		UpdatedAt:       FormatTime(p.UpdatedAt),
		Scenes:          scenes,
		CurrentSceneID:  p.CurrentSceneID,
		CanvasSize:      p.CanvasSize,
		CanvasMode:      p.CanvasMode,
		BackgroundColor: p.BackgroundColor,
		BackgroundType:  p.BackgroundType,
		BlurIntensity:   p.BlurIntensity,
		FPS:             p.FPS,
		Bookmarks:       p.Bookmarks,
	}
}

// Deserialize converts a persisted project back to its in-memory form. The
// thumbnail is returned as stored.
func (s *SerializedProject) Deserialize() (*Project, error) {
	p := &Project{
		ID:              s.ID,
		Name:            s.Name,
		Thumbnail:       s.Thumbnail,
		CurrentSceneID:  s.CurrentSceneID,
		CanvasSize:      s.CanvasSize,
		CanvasMode:      s.CanvasMode,
		BackgroundColor: s.BackgroundColor,
		BackgroundType:  s.BackgroundType,
		BlurIntensity:   s.BlurIntensity,
		FPS:             s.FPS,
		Bookmarks:       s.Bookmarks,
	}

	var err error
	if p.CreatedAt, err = ParseTime(s.CreatedAt); err != nil {
		return nil, fmt.Errorf("project %s createdAt: %w", s.ID, err)
	}
	if p.UpdatedAt, err = ParseTime(s.UpdatedAt); err != nil {
		return nil, fmt.Errorf("project %s updatedAt: %w", s.ID, err)
	}

	p.Scenes = make([]Scene, 0, len(s.Scenes))
	for _, ss := range s.Scenes {
		scene := Scene{ID: ss.ID, Name: ss.Name, IsMain: ss.IsMain}
		if scene.CreatedAt, err = ParseTime(ss.CreatedAt); err != nil {
			return nil, fmt.Errorf("scene %s createdAt: %w", ss.ID, err)
		}
		if scene.UpdatedAt, err = ParseTime(ss.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scene %s updatedAt: %w", ss.ID, err)
		}
		p.Scenes = append(p.Scenes, scene)
	}
	return p, nil
}

// PersistableURL returns u unless it is a session-scoped blob handle.
func PersistableURL(u string) string {
	if blobref.IsSessionURL(u) {
		return ""
	}
	return u
}
