package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/99minutos/identity-service/internal/core/domain"
)

type roleRepository struct {
	db bun.IDB
}

func (r *roleRepository) Default(ctx context.Context) (*domain.Role, error) {
	return r.findOne(ctx, "r.is_default AND r.is_active")
}

func (r *roleRepository) FindByID(ctx context.Context, id int64) (*domain.Role, error) {
	return r.findOne(ctx, "r.id = ?", id)
}

func (r *roleRepository) FindByName(ctx context.Context, name string) (*domain.Role, error) {
	return r.findOne(ctx, "r.name = ?", name)
}

func (r *roleRepository) findOne(ctx context.Context, where string, args ...any) (*domain.Role, error) {
	var m roleModel
	err := r.db.NewSelect().
		Model(&m).
		Where(where, args...).
		OrderExpr("r.id ASC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound(domain.ErrRoleNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find role: %w", err)
	}
	return m.toDomain(), nil
}
