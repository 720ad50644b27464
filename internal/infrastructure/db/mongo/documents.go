package mongo

import (
	"time"

	"github.com/google/uuid"

	"github.com/99minutos/identity-service/internal/core/domain"
)

const (
	collectionAccounts      = "accounts"
	collectionRoles         = "roles"
	collectionRefreshTokens = "refresh_tokens"
)

type roleDoc struct {
	ID          int64  `bson:"_id"`
	Name        string `bson:"name"`
	Description string `bson:"description"`
	Privileged  bool   `bson:"privileged"`
	IsDefault   bool   `bson:"is_default"`
	IsActive    bool   `bson:"is_active"`
	// Guard is bumped by guarded deletes so concurrent transactions touching
	// the same role conflict.
	Guard int64 `bson:"guard"`
}

type accountDoc struct {
	ID                 string     `bson:"_id"`
	Username           string     `bson:"username"`
	UsernameNormalized string     `bson:"username_normalized"`
	Email              string     `bson:"email"`
	EmailNormalized    string     `bson:"email_normalized"`
	PasswordHash       string     `bson:"password_hash"`
	FirstName          string     `bson:"first_name"`
	LastName           string     `bson:"last_name"`
	ProfilePicture     *string    `bson:"profile_picture,omitempty"`
	RoleID             int64      `bson:"role_id"`
	LastLoginAt        *time.Time `bson:"last_login_at,omitempty"`
	IsActive           bool       `bson:"is_active"`
	CreatedAt          time.Time  `bson:"created_at"`
	UpdatedAt          time.Time  `bson:"updated_at"`
}

type refreshTokenDoc struct {
	ID            string     `bson:"_id"`
	AccountID     string     `bson:"account_id"`
	TokenHash     string     `bson:"token_hash"`
	IssuedAt      time.Time  `bson:"issued_at"`
	ExpiresAt     time.Time  `bson:"expires_at"`
	UsedAt        *time.Time `bson:"used_at,omitempty"`
	InvalidatedAt *time.Time `bson:"invalidated_at,omitempty"`
	IsActive      bool       `bson:"is_active"`
}

func (d *roleDoc) toDomain() *domain.Role {
	return &domain.Role{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		Privileged:  d.Privileged,
		IsDefault:   d.IsDefault,
		IsActive:    d.IsActive,
	}
}

func (d *accountDoc) toDomain(role *domain.Role) (*domain.Account, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, err
	}
	return &domain.Account{
		ID:             id,
		Username:       d.Username,
		Email:          d.Email,
		PasswordHash:   d.PasswordHash,
		FirstName:      d.FirstName,
		LastName:       d.LastName,
		ProfilePicture: d.ProfilePicture,
		RoleID:         d.RoleID,
		Role:           role,
		LastLoginAt:    utcPtr(d.LastLoginAt),
		IsActive:       d.IsActive,
		CreatedAt:      d.CreatedAt.UTC(),
		UpdatedAt:      d.UpdatedAt.UTC(),
	}, nil
}

func fromAccount(a *domain.Account) accountDoc {
	return accountDoc{
		ID:                 a.ID.String(),
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

func fromRefreshToken(t *domain.RefreshToken) refreshTokenDoc {
	return refreshTokenDoc{
		ID:            t.ID.String(),
		AccountID:     t.AccountID.String(),
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
