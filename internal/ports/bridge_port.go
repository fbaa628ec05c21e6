package ports

import (
	"context"

	"crestron-home-bridge/internal/domain/entity"
	"crestron-home-bridge/internal/domain/model"
)

type EntityView struct {
	EntityID   string         `json:"entity_id"`
	Name       string         `json:"name"`
	State      string         `json:"state"`
	Available  bool           `json:"available"`
	Attributes map[string]any `json:"attributes"`
}

type Health struct {
	State             string `json:"state"`
	LastUpdateSuccess bool   `json:"last_update_success"`
	LastError         string `json:"last_error,omitempty"`
}

type BridgePort interface {
	Lights(ctx context.Context) []*entity.Light
	Light(ctx context.Context, id int) (*entity.Light, error)
	Entities(ctx context.Context) []EntityView
	ActivateScene(ctx context.Context, sceneID int) error
	CallService(ctx context.Context, service string, data map[string]any) error
	Health(ctx context.Context) Health

	// Options flow
	GetOptions(ctx context.Context) (*model.Options, error)
	UpdateOptions(ctx context.Context, opts *model.Options) error
}
