package entity

import (
	"context"
	"sync"
	"time"

	"crestron-home-bridge/internal/domain/model"
)

type Scene struct {
	src     Source
	id      int
	initial model.Scene

	mu            sync.Mutex
	lastActivated time.Time
}

func NewScene(src Source, rec model.Scene) *Scene {
	return &Scene{src: src, id: rec.ID, initial: rec}
}

func (s *Scene) ID() int { return s.id }

func (s *Scene) UniqueID() string { return SceneUniqueID(s.id) }

func (s *Scene) Platform() string { return model.PlatformScene }

func (s *Scene) Name() string { return s.initial.Name }

func (s *Scene) Record() model.Scene {
	if rec, ok := s.src.Data().Scene(s.id); ok {
		return rec
	}
	return s.initial
}

// State is the time of the last activation through this bridge.
func (s *Scene) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastActivated.IsZero() {
		return "unknown"
	}
	return s.lastActivated.UTC().Format(time.RFC3339)
}

// Available treats a missing connection status as online; the hub omits it
// for some scene types.
func (s *Scene) Available() bool {
	status := s.Record().ConnectionStatus
	return s.src.LastUpdateSuccess() && (status == "" || status == model.ConnectionOnline)
}

func (s *Scene) DeviceInfo() model.DeviceInfo {
	var deviceModel string
	switch s.initial.Kind() {
	case model.SceneMedia:
		deviceModel = "Media Scene"
	case model.SceneLighting:
		deviceModel = "Lighting Scene"
	case model.SceneGenericIO:
		deviceModel = "GenericIO Scene"
	default:
		deviceModel = "Scene"
	}
	return deviceInfo(s.src, s.id, s.initial.Name, deviceModel)
}

func (s *Scene) Attributes() map[string]any {
	rec := s.Record()
	return map[string]any{
		"scene_id":          s.id,
		"room_id":           rec.RoomID,
		"connection_status": rec.ConnectionStatus,
		"type":              rec.Type,
	}
}

func (s *Scene) Activate(ctx context.Context) error {
	if err := s.src.RecallScene(ctx, s.id); err != nil {
		return err
	}
	s.mu.Lock()
	s.lastActivated = time.Now()
	s.mu.Unlock()
	return nil
}
