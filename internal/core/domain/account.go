package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Account is an identity record. Deleting an account only clears IsActive;
// the row is retained and drops out of every active-scope query.
type Account struct {
	ID             uuid.UUID
	Username       string
	Email          string
	PasswordHash   string
	FirstName      string
	LastName       string
	ProfilePicture *string
	RoleID         int64
	Role           *Role
	LastLoginAt    *time.Time
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewAccount builds an active account with audit fields stamped at now.
func NewAccount(username, email, passwordHash, firstName, lastName string, role *Role, now time.Time) *Account {
	a := &Account{
		ID:           uuid.New(),
		Username:     strings.TrimSpace(username),
		Email:        strings.TrimSpace(email),
		PasswordHash: passwordHash,
		FirstName:    strings.TrimSpace(firstName),
		LastName:     strings.TrimSpace(lastName),
		RoleID:       role.ID,
		Role:         role,
		IsActive:     true,
		CreatedAt:    now,
	}
	a.Touch(now)
	return a
}

// Touch stamps the update time. Callers invoke it before every persist.
func (a *Account) Touch(now time.Time) {
	a.UpdatedAt = now
}

// Deactivate soft-deletes the account.
func (a *Account) Deactivate(now time.Time) {
	a.IsActive = false
	a.Touch(now)
}

// RecordLogin sets the last login timestamp.
func (a *Account) RecordLogin(now time.Time) {
	t := now
	a.LastLoginAt = &t
}

// RoleName returns the resolved role name or an empty string.
func (a *Account) RoleName() string {
	if a.Role == nil {
		return ""
	}
	return a.Role.Name
}

// IsPrivileged reports whether the account holds a privileged role.
func (a *Account) IsPrivileged() bool {
	return a.Role != nil && a.Role.Privileged
}

// UsernameKey is the normalized form used for case-insensitive uniqueness.
func (a *Account) UsernameKey() string { return NormalizeUsername(a.Username) }

// EmailKey is the normalized form used for case-insensitive uniqueness.
func (a *Account) EmailKey() string { return NormalizeEmail(a.Email) }

// Summary returns the public view embedded in session bundles and API responses.
func (a *Account) Summary() AccountSummary {
	return AccountSummary{
		ID:             a.ID,
		Username:       a.Username,
		Email:          a.Email,
		FirstName:      a.FirstName,
		LastName:       a.LastName,
		ProfilePicture: a.ProfilePicture,
		Role:           a.RoleName(),
		CreatedAt:      a.CreatedAt,
		LastLoginAt:    a.LastLoginAt,
	}
}

// AccountSummary is the public projection of an Account. It never carries
// the password digest.
type AccountSummary struct {
	ID             uuid.UUID
	Username       string
	Email          string
	FirstName      string
	LastName       string
	ProfilePicture *string
	Role           string
	CreatedAt      time.Time
	LastLoginAt    *time.Time
}

func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
