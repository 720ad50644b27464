package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/99minutos/identity-service/internal/core/domain"
	"github.com/99minutos/identity-service/internal/core/ports"
	"github.com/99minutos/identity-service/internal/core/security"
)

// DefaultRefreshTTL is used when no lifetime is configured.
const DefaultRefreshTTL = 7 * 24 * time.Hour

// IssuedRefreshToken is the bearer value handed to the client once.
type IssuedRefreshToken struct {
	Token     string
	ExpiresAt time.Time
}

// RefreshTokenManager issues and consumes opaque refresh tokens. Every method
// takes the repositories to run against so callers can include it in a
// transaction; pass the Store itself outside of one.
type RefreshTokenManager struct {
	ttl time.Duration
	now func() time.Time
}

func NewRefreshTokenManager(ttl time.Duration, opts ...Option) *RefreshTokenManager {
	if ttl <= 0 {
		ttl = DefaultRefreshTTL
	}
	o := buildOptions(opts)
	return &RefreshTokenManager{ttl: ttl, now: o.now}
}

// Create persists a new token for accountID.
func (m *RefreshTokenManager) Create(ctx context.Context, repos ports.Repositories, accountID uuid.UUID) (IssuedRefreshToken, error) {
	raw, err := security.NewOpaqueToken()
	if err != nil {
		return IssuedRefreshToken{}, err
	}

	now := m.now().UTC()
	rt := &domain.RefreshToken{
		ID:        uuid.New(),
		AccountID: accountID,
		TokenHash: security.HashOpaqueToken(raw),
		IssuedAt:  now,
		ExpiresAt: now.Add(m.ttl),
		IsActive:  true,
	}
	if err := repos.RefreshTokens().Insert(ctx, rt); err != nil {
		return IssuedRefreshToken{}, fmt.Errorf("insert refresh token: %w", err)
	}
	return IssuedRefreshToken{Token: raw, ExpiresAt: rt.ExpiresAt}, nil
}

// Redeem marks the token used and returns its owner. A token that is
// unknown, expired, used or invalidated yields domain.ErrUnauthorized; of
// several concurrent redemptions exactly one succeeds.
func (m *RefreshTokenManager) Redeem(ctx context.Context, repos ports.Repositories, token string) (uuid.UUID, error) {
	if token == "" {
		return uuid.Nil, domain.ErrUnauthorized
	}
	accountID, ok, err := repos.RefreshTokens().MarkUsed(ctx, security.HashOpaqueToken(token), m.now().UTC())
	if err != nil {
		return uuid.Nil, fmt.Errorf("redeem refresh token: %w", err)
	}
	if !ok {
		return uuid.Nil, domain.ErrUnauthorized
	}
	return accountID, nil
}

// Invalidate closes a token outside of redemption. Repeating it, or passing
// an unknown token, is a no-op.
func (m *RefreshTokenManager) Invalidate(ctx context.Context, repos ports.Repositories, token string) error {
	if token == "" {
		return nil
	}
	if err := repos.RefreshTokens().Invalidate(ctx, security.HashOpaqueToken(token), m.now().UTC()); err != nil {
		return fmt.Errorf("invalidate refresh token: %w", err)
	}
	return nil
}

// InvalidateAll closes every open token of an account.
func (m *RefreshTokenManager) InvalidateAll(ctx context.Context, repos ports.Repositories, accountID uuid.UUID) (int64, error) {
	n, err := repos.RefreshTokens().InvalidateAllForAccount(ctx, accountID, m.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("invalidate refresh tokens: %w", err)
	}
	return n, nil
}

func isNotFound(err error) bool { return errors.Is(err, domain.ErrNotFound) }
