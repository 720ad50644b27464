package sqlstore

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/99minutos/identity-service/internal/core/domain"
)

type roleModel struct {
	bun.BaseModel `bun:"table:roles,alias:r"`

	ID          int64  `bun:"id,pk"`
	Name        string `bun:"name,notnull,unique"`
	Description string `bun:"description,notnull"`
	Privileged  bool   `bun:"privileged,notnull"`
	IsDefault   bool   `bun:"is_default,notnull"`
	IsActive    bool   `bun:"is_active,notnull"`
}

type accountModel struct {
	bun.BaseModel `bun:"table:accounts,alias:a"`

	ID                 uuid.UUID  `bun:"id,pk"`
	Username           string     `bun:"username,notnull"`
	UsernameNormalized string     `bun:"username_normalized,notnull"`
	Email              string     `bun:"email,notnull"`
	EmailNormalized    string     `bun:"email_normalized,notnull"`
	PasswordHash       string     `bun:"password_hash,notnull"`
	FirstName          string     `bun:"first_name,notnull"`
	LastName           string     `bun:"last_name,notnull"`
	ProfilePicture     *string    `bun:"profile_picture"`
	RoleID             int64      `bun:"role_id,notnull"`
	Role               *roleModel `bun:"rel:belongs-to,join:role_id=id"`
	LastLoginAt        *time.Time `bun:"last_login_at"`
	IsActive           bool       `bun:"is_active,notnull"`
	CreatedAt          time.Time  `bun:"created_at,notnull"`
	UpdatedAt          time.Time  `bun:"updated_at,notnull"`
}

type refreshTokenModel struct {
	bun.BaseModel `bun:"table:refresh_tokens,alias:rt"`

	ID            uuid.UUID  `bun:"id,pk"`
	AccountID     uuid.UUID  `bun:"account_id,notnull"`
	TokenHash     string     `bun:"token_hash,notnull,unique"`
	IssuedAt      time.Time  `bun:"issued_at,notnull"`
	ExpiresAt     time.Time  `bun:"expires_at,notnull"`
	UsedAt        *time.Time `bun:"used_at"`
	InvalidatedAt *time.Time `bun:"invalidated_at"`
	IsActive      bool       `bun:"is_active,notnull"`
}

func (m *roleModel) toDomain() *domain.Role {
	if m == nil {
		return nil
	}
	return &domain.Role{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		Privileged:  m.Privileged,
		IsDefault:   m.IsDefault,
		IsActive:    m.IsActive,
	}
}

func fromRole(r domain.Role) *roleModel {
	return &roleModel{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Privileged:  r.Privileged,
		IsDefault:   r.IsDefault,
		IsActive:    r.IsActive,
	}
}

func (m *accountModel) toDomain() *domain.Account {
	return &domain.Account{
		ID:             m.ID,
		Username:       m.Username,
		Email:          m.Email,
		PasswordHash:   m.PasswordHash,
		FirstName:      m.FirstName,
		LastName:       m.LastName,
		ProfilePicture: m.ProfilePicture,
		RoleID:         m.RoleID,
		Role:           m.Role.toDomain(),
		LastLoginAt:    utcPtr(m.LastLoginAt),
		IsActive:       m.IsActive,
		CreatedAt:      m.CreatedAt.UTC(),
		UpdatedAt:      m.UpdatedAt.UTC(),
	}
}

func fromAccount(a *domain.Account) *accountModel {
	return &accountModel{
		ID:                 a.ID,
		Username:           a.Username,
		UsernameNormalized: a.UsernameKey(),
		Email:              a.Email,
		EmailNormalized:    a.EmailKey(),
		PasswordHash:       a.PasswordHash,
		FirstName:          a.FirstName,
		LastName:           a.LastName,
		ProfilePicture:     a.ProfilePicture,
		RoleID:             a.RoleID,
		LastLoginAt:        utcPtr(a.LastLoginAt),
		IsActive:           a.IsActive,
		CreatedAt:          a.CreatedAt.UTC(),
		UpdatedAt:          a.UpdatedAt.UTC(),
	}
}

func fromRefreshToken(t *domain.RefreshToken) *refreshTokenModel {
	return &refreshTokenModel{
		ID:            t.ID,
		AccountID:     t.AccountID,
		TokenHash:     t.TokenHash,
		IssuedAt:      t.IssuedAt.UTC(),
		ExpiresAt:     t.ExpiresAt.UTC(),
		UsedAt:        utcPtr(t.UsedAt),
		InvalidatedAt: utcPtr(t.InvalidatedAt),
		IsActive:      t.IsActive,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
