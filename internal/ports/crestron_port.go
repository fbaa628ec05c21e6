package ports

import (
	"context"

	"crestron-home-bridge/internal/domain/model"
)

// CrestronPort is the hub's local REST API. Every method fails with one of
// *model.ConnectionError, *model.AuthError or *model.APIError.
type CrestronPort interface {
	Authenticate(ctx context.Context) error
	GetLights(ctx context.Context) ([]model.Light, error)
	GetSensors(ctx context.Context) ([]model.Sensor, error)
	GetScenes(ctx context.Context) ([]model.Scene, error)
	SetLightState(ctx context.Context, lights []model.LightState) error
	RecallScene(ctx context.Context, sceneID int) error
	SetMediaRoomSource(ctx context.Context, mediaRoomID, sourceID int) error
	Configure(host, token string)
	Close() error
}

// CrestronFactory builds a standalone client, used to validate options
// before they are applied.
type CrestronFactory func(host, token string) CrestronPort
