package ports

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/99minutos/identity-service/internal/core/domain"
)

// AccountScope selects which accounts a query may return. There is no
// implicit default: every List call names its scope.
type AccountScope int

const (
	ScopeActive AccountScope = iota + 1
	ScopeInactive
	ScopeAll
)

// AccountQuery carries listing and search parameters.
type AccountQuery struct {
	Scope AccountScope
	// Search is matched case-insensitively against username, email, first
	// and last name. Empty means no filter.
	Search string
	Page   domain.PageRequest
}

// DeleteGuard constrains a soft delete. When KeepLastOfRole is non-zero the
// delete only applies if another active account with that role remains,
// evaluated atomically with the update.
type DeleteGuard struct {
	KeepLastOfRole int64
}

// AccountRepository persists accounts. Lookups named "Active" never return
// soft-deleted rows. Missing rows are reported as domain.NotFound.
type AccountRepository interface {
	FindActiveByLogin(ctx context.Context, usernameOrEmail string) (*domain.Account, error)
	FindActiveByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	// UsernameInUse and EmailInUse compare case-insensitively against active
	// accounts other than excludeID (uuid.Nil excludes nothing).
	UsernameInUse(ctx context.Context, username string, excludeID uuid.UUID) (bool, error)
	EmailInUse(ctx context.Context, email string, excludeID uuid.UUID) (bool, error)
	// Insert returns domain.Conflict when a unique index rejects the row.
	Insert(ctx context.Context, a *domain.Account) error
	// Update writes mutable profile fields of an active account.
	Update(ctx context.Context, a *domain.Account) error
	TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	CountActiveByRole(ctx context.Context, roleID int64) (int64, error)
	// SoftDelete clears the active flag. It reports false when the account
	// was not active or the guard refused the delete.
	SoftDelete(ctx context.Context, id uuid.UUID, at time.Time, guard DeleteGuard) (bool, error)
	List(ctx context.Context, q AccountQuery) ([]*domain.Account, int64, error)
}

// RoleRepository reads roles.
type RoleRepository interface {
	Default(ctx context.Context) (*domain.Role, error)
	FindByID(ctx context.Context, id int64) (*domain.Role, error)
	FindByName(ctx context.Context, name string) (*domain.Role, error)
}

// RefreshTokenRepository persists refresh tokens by digest.
type RefreshTokenRepository interface {
	Insert(ctx context.Context, t *domain.RefreshToken) error
	// MarkUsed is a compare-and-set: it stamps used_at only if the token is
	// still valid at now, and returns the owner. ok is false otherwise.
	MarkUsed(ctx context.Context, tokenHash string, now time.Time) (accountID uuid.UUID, ok bool, err error)
	// Invalidate stamps invalidated_at on a still-open token. Unknown or
	// already terminal tokens are not an error.
	Invalidate(ctx context.Context, tokenHash string, now time.Time) error
	InvalidateAllForAccount(ctx context.Context, accountID uuid.UUID, now time.Time) (int64, error)
}

// Repositories groups the repositories bound to one connection or transaction.
type Repositories interface {
	Accounts() AccountRepository
	Roles() RoleRepository
	RefreshTokens() RefreshTokenRepository
}

// Store is the storage collaborator. RunInTx commits when fn returns nil
// and rolls back otherwise.
type Store interface {
	Repositories
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Repositories) error) error
	Ping(ctx context.Context) error
	Close() error
}
