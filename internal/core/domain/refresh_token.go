package domain

import (
	"time"

	"github.com/google/uuid"
)

// RefreshToken is the persisted side of an opaque renewal token. Only the
// SHA-256 digest of the bearer value is stored.
type RefreshToken struct {
	ID            uuid.UUID
	AccountID     uuid.UUID
	TokenHash     string
	IssuedAt      time.Time
	ExpiresAt     time.Time
	UsedAt        *time.Time
	InvalidatedAt *time.Time
	IsActive      bool
}

// IsValid reports whether the token can still be redeemed at now.
// Used and invalidated are terminal states.
func (t *RefreshToken) IsValid(now time.Time) bool {
	return t.UsedAt == nil &&
		t.InvalidatedAt == nil &&
		t.IsActive &&
		t.ExpiresAt.After(now)
}
