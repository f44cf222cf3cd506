// Package migrations holds the versioned schema for the accessor registry.
// Each migration file registers itself with the package-level collection in
// its init function; the db CLI commands run them through bun's migrator.
package migrations

import "github.com/uptrace/bun/migrate"

// Migrations is the collection every migration file registers with.
var Migrations = migrate.NewMigrations()
