package store

import (
	"context"

	"github.com/me/wic/pkg/model"
)

// Store defines the persistence layer for recorded compilations.
type Store interface {
	CreateCompilation(ctx context.Context, c *model.Compilation) error
	GetCompilation(ctx context.Context, id string) (*model.Compilation, error)
	GetCompilationByHash(ctx context.Context, hash string) (*model.Compilation, error)
	ListCompilations(ctx context.Context, opts model.ListOptions) ([]*model.Compilation, int, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}
