package domain

import "context"

type MissionRepository interface {
	Save(ctx context.Context, mission *Mission) error
	FindByID(ctx context.Context, id string) (*Mission, error)
	FindAll(ctx context.Context) ([]*Mission, error)
	Delete(ctx context.Context, id string) error
}
