package ports

import (
	"context"

	"crestron-home-bridge/internal/domain/model"
)

type OptionsRepository interface {
	Get(ctx context.Context) (*model.Options, error)
	Save(ctx context.Context, opts *model.Options) error
}
