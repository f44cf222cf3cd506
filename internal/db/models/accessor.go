package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Accessor is a registered machine caller of the API. The plaintext access
// key is shown once at creation and never stored; only the SHA-256 hash of
// the key lands in this table.
type Accessor struct {
	bun.BaseModel `bun:"table:accessors,alias:a"`

	ID         string     `bun:"id,pk,type:uuid"`
	Name       string     `bun:"name,notnull,unique"`
	KeyHash    string     `bun:"key_hash,notnull,unique"`
	Tier       string     `bun:"tier,notnull"`
	Active     bool       `bun:"active,notnull,default:true"`
	CreatedBy  string     `bun:"created_by,notnull"`
	CreatedAt  time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt  time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
	LastUsedAt *time.Time `bun:"last_used_at"`
}
