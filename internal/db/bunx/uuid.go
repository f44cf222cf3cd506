package bunx

import "github.com/google/uuid"

// NewUUIDv7 generates a time-ordered UUIDv7 string for database primary keys.
// Time ordering keeps inserts append-mostly in the primary key index, and the
// value works identically on PostgreSQL and SQLite.
//
// Panics if UUID generation fails, which only happens when the entropy source
// is broken; nothing else in the process would work at that point either.
func NewUUIDv7() string {
	return uuid.Must(uuid.NewV7()).String()
}
