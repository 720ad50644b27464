package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/99minutos/identity-service/internal/core/domain"
)

type refreshTokenRepository struct {
	db bun.IDB
}

func (r *refreshTokenRepository) Insert(ctx context.Context, t *domain.RefreshToken) error {
	if _, err := r.db.NewInsert().Model(fromRefreshToken(t)).Exec(ctx); err != nil {
		return fmt.Errorf("insert refresh token: %w", translateErr(err))
	}
	return nil
}

// MarkUsed relies on the WHERE clause of a single UPDATE: of two racing
// callers only one sees a row affected.
func (r *refreshTokenRepository) MarkUsed(ctx context.Context, tokenHash string, now time.Time) (uuid.UUID, bool, error) {
	now = now.UTC()
	res, err := r.db.NewUpdate().
		Table("refresh_tokens").
		Set("used_at = ?", now).
		Where("token_hash = ?", tokenHash).
		Where("used_at IS NULL").
		Where("invalidated_at IS NULL").
		Where("is_active").
		Where("expires_at > ?", now).
		Exec(ctx)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("mark refresh token used: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("mark refresh token used: %w", err)
	}
	if n != 1 {
		return uuid.Nil, false, nil
	}

	var m refreshTokenModel
	if err := r.db.NewSelect().
		Model(&m).
		Column("account_id").
		Where("rt.token_hash = ?", tokenHash).
		Scan(ctx); err != nil {
		return uuid.Nil, false, fmt.Errorf("load refresh token owner: %w", err)
	}
	return m.AccountID, true, nil
}

func (r *refreshTokenRepository) Invalidate(ctx context.Context, tokenHash string, now time.Time) error {
	_, err := r.db.NewUpdate().
		Table("refresh_tokens").
		Set("invalidated_at = ?", now.UTC()).
		Where("token_hash = ?", tokenHash).
		Where("used_at IS NULL").
		Where("invalidated_at IS NULL").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("invalidate refresh token: %w", err)
	}
	return nil
}

func (r *refreshTokenRepository) InvalidateAllForAccount(ctx context.Context, accountID uuid.UUID, now time.Time) (int64, error) {
	res, err := r.db.NewUpdate().
		Table("refresh_tokens").
		Set("invalidated_at = ?", now.UTC()).
		Where("account_id = ?", accountID).
		Where("used_at IS NULL").
		Where("invalidated_at IS NULL").
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("invalidate refresh tokens: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("invalidate refresh tokens: %w", err)
	}
	return n, nil
}
