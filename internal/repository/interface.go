package repository

import (
	"context"
	"errors"

	"github.com/jamesgorrie/grid/internal/db/models"
)

// ErrNotFound is returned when a lookup matches no row. Callers branch on it
// with errors.Is to distinguish a missing record from a failing database.
var ErrNotFound = errors.New("not found")

// AccessorRepository exposes persistence operations for registered machine
// callers.
type AccessorRepository interface {
	Create(ctx context.Context, accessor *models.Accessor) error
	GetByID(ctx context.Context, id string) (*models.Accessor, error)
	GetByName(ctx context.Context, name string) (*models.Accessor, error)
	List(ctx context.Context) ([]models.Accessor, error)
	ListActive(ctx context.Context) ([]models.Accessor, error)
	Deactivate(ctx context.Context, id string) error
	UpdateLastUsed(ctx context.Context, id string) error
	ImportBatch(ctx context.Context, accessors []*models.Accessor) error
}
