package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/jamesgorrie/grid/internal/db/models"
)

// BunAccessorRepository implements AccessorRepository using Bun ORM
type BunAccessorRepository struct {
	db *bun.DB
}

// NewBunAccessorRepository creates a new Bun-based accessor repository
func NewBunAccessorRepository(db *bun.DB) *BunAccessorRepository {
	return &BunAccessorRepository{db: db}
}

// Create inserts a new accessor
func (r *BunAccessorRepository) Create(ctx context.Context, accessor *models.Accessor) error {
	stampTimestamps(accessor, time.Now())
	_, err := r.db.NewInsert().
		Model(accessor).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create accessor: %w", err)
	}
	return nil
}

func stampTimestamps(accessor *models.Accessor, now time.Time) {
	if accessor.CreatedAt.IsZero() {
		accessor.CreatedAt = now
	}
	if accessor.UpdatedAt.IsZero() {
		accessor.UpdatedAt = now
	}
}

// GetByID retrieves an accessor by ID
func (r *BunAccessorRepository) GetByID(ctx context.Context, id string) (*models.Accessor, error) {
	accessor := new(models.Accessor)
	err := r.db.NewSelect().
		Model(accessor).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("accessor %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get accessor: %w", err)
	}
	return accessor, nil
}

// GetByName retrieves an accessor by its unique name
func (r *BunAccessorRepository) GetByName(ctx context.Context, name string) (*models.Accessor, error) {
	accessor := new(models.Accessor)
	err := r.db.NewSelect().
		Model(accessor).
		Where("name = ?", name).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("accessor %s: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("get accessor by name: %w", err)
	}
	return accessor, nil
}

// List retrieves all accessors, active and deactivated
func (r *BunAccessorRepository) List(ctx context.Context) ([]models.Accessor, error) {
	var accessors []models.Accessor
	err := r.db.NewSelect().
		Model(&accessors).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accessors: %w", err)
	}
	return accessors, nil
}

// ListActive retrieves only the accessors that may authenticate.
func (r *BunAccessorRepository) ListActive(ctx context.Context) ([]models.Accessor, error) {
	var accessors []models.Accessor
	err := r.db.NewSelect().
		Model(&accessors).
		Where("active = ?", true).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active accessors: %w", err)
	}
	return accessors, nil
}

// Deactivate marks an accessor as unable to authenticate. The row stays for
// audit; the registry drops it on the next refresh.
func (r *BunAccessorRepository) Deactivate(ctx context.Context, id string) error {
	res, err := r.db.NewUpdate().
		Model((*models.Accessor)(nil)).
		Set("active = ?", false).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("deactivate accessor: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivate accessor: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("accessor %s: %w", id, ErrNotFound)
	}
	return nil
}

// UpdateLastUsed updates the last_used_at timestamp for an accessor
func (r *BunAccessorRepository) UpdateLastUsed(ctx context.Context, id string) error {
	_, err := r.db.NewUpdate().
		Model((*models.Accessor)(nil)).
		Set("last_used_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update last used: %w", err)
	}
	return nil
}

// ImportBatch inserts a set of accessors in a single transaction, so a failed
// import leaves nothing behind.
func (r *BunAccessorRepository) ImportBatch(ctx context.Context, accessors []*models.Accessor) error {
	if len(accessors) == 0 {
		return nil
	}
	now := time.Now()
	err := r.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		for _, accessor := range accessors {
			stampTimestamps(accessor, now)
			if _, err := tx.NewInsert().Model(accessor).Exec(ctx); err != nil {
				return fmt.Errorf("import accessor %s: %w", accessor.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("import accessors: %w", err)
	}
	return nil
}
