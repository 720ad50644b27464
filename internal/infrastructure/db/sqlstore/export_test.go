package sqlstore

import (
	"context"
	"fmt"

	"github.com/99minutos/identity-service/internal/core/domain"
)

// FindByHash loads a token row regardless of state.
func (r *refreshTokenRepository) FindByHash(ctx context.Context, tokenHash string) (*domain.RefreshToken, error) {
	var m refreshTokenModel
	if err := r.db.NewSelect().Model(&m).Where("rt.token_hash = ?", tokenHash).Scan(ctx); err != nil {
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	return &domain.RefreshToken{
		ID:            m.ID,
		AccountID:     m.AccountID,
		TokenHash:     m.TokenHash,
		IssuedAt:      m.IssuedAt.UTC(),
		ExpiresAt:     m.ExpiresAt.UTC(),
		UsedAt:        utcPtr(m.UsedAt),
		InvalidatedAt: utcPtr(m.InvalidatedAt),
		IsActive:      m.IsActive,
	}, nil
}
