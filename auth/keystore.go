package auth

import (
	"context"
	"time"
)

// Key status values for APIKey.Status. "active" and "admin" both
// authenticate successfully; "admin" additionally sets Principal.IsAdmin,
// which unlocks the admin HTTP surface; "revoked" (like any other value)
// always fails authentication.
const (
	StatusActive  = "active"
	StatusAdmin   = "admin"
	StatusRevoked = "revoked"
)

// APIKey is the `api_keys` row a KeyStore resolves a token's hash against.
type APIKey struct {
	ID         int64      `gorm:"column:id;primaryKey"`
	KeyPrefix  string     `gorm:"column:key_prefix"`
	KeyHash    string     `gorm:"column:key_hash;uniqueIndex"`
	UserID     string     `gorm:"column:user_id;index"`
	Status     string     `gorm:"column:status"`
	LastUsedAt *time.Time `gorm:"column:last_used_at"`
	CreatedAt  time.Time  `gorm:"column:created_at"`
}

func (APIKey) TableName() string { return "api_keys" }

// KeyStore resolves a key hash to its stored record and records usage. A nil
// KeyStore signals development mode: Authenticator accepts any
// well-formed token without consulting a store.
type KeyStore interface {
	// Lookup returns the APIKey whose KeyHash matches hash, or
	// (APIKey{}, false, nil) if none exists.
	Lookup(ctx context.Context, hash string) (APIKey, bool, error)
	// Touch updates LastUsedAt for the given key id. Callers treat
	// failures as non-fatal: logged, never surfaced.
	Touch(ctx context.Context, id int64) error
}
