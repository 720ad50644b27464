package ports

import (
	"context"

	"github.com/99minutos/identity-service/internal/core/domain"
	"github.com/99minutos/identity-service/internal/core/security"
)

// PasswordHasher produces and checks salted, self-describing digests.
type PasswordHasher interface {
	Hash(ctx context.Context, plain string) (string, error)
	// Verify returns false for a mismatch or a malformed digest.
	Verify(ctx context.Context, plain, digest string) bool
}

// TokenIssuer mints signed access tokens.
type TokenIssuer interface {
	Issue(identity domain.Identity) (domain.AccessToken, error)
}

// TokenValidator is the only way to obtain claims from an access token.
type TokenValidator interface {
	Validate(token string) (security.VerifiedIdentity, error)
}

// LoginThrottle tracks failed logins per identifier.
type LoginThrottle interface {
	// Allow reports whether another attempt is permitted for key.
	Allow(ctx context.Context, key string) (bool, error)
	Fail(ctx context.Context, key string) error
	Reset(ctx context.Context, key string) error
}
