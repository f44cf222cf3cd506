package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/jamesgorrie/grid/internal/db/models"
)

func init() {
	Migrations.MustRegister(up_20260801000001, down_20260801000001)
}

// up_20260801000001 creates the accessors table that backs the machine
// credential registry.
func up_20260801000001(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [up] creating accessors table...")
	_, err := db.NewCreateTable().
		Model((*models.Accessor)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create accessors table: %w", err)
	}

	// key_hash is the hot lookup path on every authenticated machine request.
	_, err = db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_accessors_key_hash ON accessors(key_hash)`)
	if err != nil {
		return fmt.Errorf("failed to create accessors key_hash index: %w", err)
	}
	_, err = db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_accessors_name ON accessors(name)`)
	if err != nil {
		return fmt.Errorf("failed to create accessors name index: %w", err)
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_accessors_active ON accessors(active)`)
	if err != nil {
		return fmt.Errorf("failed to create accessors active index: %w", err)
	}
	fmt.Println(" OK")

	return nil
}

// down_20260801000001 drops the accessors table.
func down_20260801000001(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [down] dropping accessors table...")
	_, err := db.NewDropTable().
		Model((*models.Accessor)(nil)).
		IfExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to drop accessors table: %w", err)
	}
	fmt.Println(" OK")

	return nil
}
