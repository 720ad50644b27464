package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/99minutos/identity-service/internal/core/domain"
	"github.com/99minutos/identity-service/internal/core/ports"
)

type accountRepository struct {
	db bun.IDB
}

func (r *accountRepository) FindActiveByLogin(ctx context.Context, usernameOrEmail string) (*domain.Account, error) {
	key := domain.NormalizeEmail(usernameOrEmail)

	var m accountModel
	err := r.db.NewSelect().
		Model(&m).
		Relation("Role").
		Where("a.is_active").
		Where("(a.username_normalized = ? OR a.email_normalized = ?)", key, key).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound(domain.ErrAccountNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find account by login: %w", err)
	}
	return m.toDomain(), nil
}

func (r *accountRepository) FindActiveByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	var m accountModel
	err := r.db.NewSelect().
		Model(&m).
		Relation("Role").
		Where("a.id = ?", id).
		Where("a.is_active").
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound(domain.ErrAccountNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find account by id: %w", err)
	}
	return m.toDomain(), nil
}

func (r *accountRepository) UsernameInUse(ctx context.Context, username string, excludeID uuid.UUID) (bool, error) {
	return r.inUse(ctx, "username_normalized", domain.NormalizeUsername(username), excludeID)
}

func (r *accountRepository) EmailInUse(ctx context.Context, email string, excludeID uuid.UUID) (bool, error) {
	return r.inUse(ctx, "email_normalized", domain.NormalizeEmail(email), excludeID)
}

func (r *accountRepository) inUse(ctx context.Context, column, value string, excludeID uuid.UUID) (bool, error) {
	q := r.db.NewSelect().
		Model((*accountModel)(nil)).
		Where("?.? = ?", bun.Ident("a"), bun.Ident(column), value).
		Where("a.is_active")
	if excludeID != uuid.Nil {
		q = q.Where("a.id != ?", excludeID)
	}
	ok, err := q.Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("check %s: %w", column, err)
	}
	return ok, nil
}

func (r *accountRepository) Insert(ctx context.Context, a *domain.Account) error {
	if _, err := r.db.NewInsert().Model(fromAccount(a)).Exec(ctx); err != nil {
		return fmt.Errorf("insert account: %w", translateErr(err))
	}
	return nil
}

func (r *accountRepository) Update(ctx context.Context, a *domain.Account) error {
	m := fromAccount(a)
	res, err := r.db.NewUpdate().
		Model(m).
		Column("email", "email_normalized", "first_name", "last_name", "profile_picture", "password_hash", "updated_at").
		WherePK().
		Where("is_active").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update account: %w", translateErr(err))
	}
	return expectOne(res, domain.NotFound(domain.ErrAccountNotFound))
}

func (r *accountRepository) TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := r.db.NewUpdate().
		Table("accounts").
		Set("last_login_at = ?", at.UTC()).
		Where("id = ?", id).
		Where("is_active").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("touch last login: %w", err)
	}
	return expectOne(res, domain.NotFound(domain.ErrAccountNotFound))
}

func (r *accountRepository) CountActiveByRole(ctx context.Context, roleID int64) (int64, error) {
	n, err := r.db.NewSelect().
		Model((*accountModel)(nil)).
		Where("a.role_id = ?", roleID).
		Where("a.is_active").
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count accounts by role: %w", err)
	}
	return int64(n), nil
}

// SoftDelete is one conditional UPDATE. With a guard, the count of other
// active holders of the role is evaluated by the same statement.
func (r *accountRepository) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time, guard ports.DeleteGuard) (bool, error) {
	q := r.db.NewUpdate().
		Table("accounts").
		Set("is_active = ?", false).
		Set("updated_at = ?", at.UTC()).
		Where("id = ?", id).
		Where("is_active")
	if guard.KeepLastOfRole != 0 {
		q = q.Where(
			"(SELECT COUNT(*) FROM accounts AS other WHERE other.role_id = ? AND other.is_active) > 1",
			guard.KeepLastOfRole,
		)
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("soft delete account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("soft delete account: %w", err)
	}
	return n == 1, nil
}

func (r *accountRepository) List(ctx context.Context, query ports.AccountQuery) ([]*domain.Account, int64, error) {
	var models []accountModel
	q := r.db.NewSelect().
		Model(&models).
		Relation("Role")

	switch query.Scope {
	case ports.ScopeActive:
		q = q.Where("a.is_active")
	case ports.ScopeInactive:
		q = q.Where("NOT a.is_active")
	case ports.ScopeAll:
	default:
		return nil, 0, fmt.Errorf("list accounts: unknown scope %d", query.Scope)
	}

	if term := strings.TrimSpace(query.Search); term != "" {
		like := "%" + escapeLike(strings.ToLower(term)) + "%"
		q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where(`a.username_normalized LIKE ? ESCAPE '\'`, like).
				WhereOr(`a.email_normalized LIKE ? ESCAPE '\'`, like).
				WhereOr(`LOWER(a.first_name) LIKE ? ESCAPE '\'`, like).
				WhereOr(`LOWER(a.last_name) LIKE ? ESCAPE '\'`, like)
		})
	}

	total, err := q.
		OrderExpr("a.created_at DESC, a.username_normalized ASC").
		Limit(query.Page.PageSize).
		Offset(query.Page.Offset()).
		ScanAndCount(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("list accounts: %w", err)
	}

	out := make([]*domain.Account, 0, len(models))
	for i := range models {
		out = append(out, models[i].toDomain())
	}
	return out, int64(total), nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }

func expectOne(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
