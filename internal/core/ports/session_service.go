package ports

import (
	"context"

	"github.com/99minutos/identity-service/internal/core/domain"
)

// RegisterInput carries a self-service registration.
type RegisterInput struct {
	Username        string `json:"username" validate:"required,min=3,max=50,username"`
	Email           string `json:"email" validate:"required,email,max=100"`
	Password        string `json:"password" validate:"required,password"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=Password"`
	FirstName       string `json:"first_name" validate:"required,max=50"`
	LastName        string `json:"last_name" validate:"required,max=50"`
}

// SessionService composes credential checks and token issuance.
type SessionService interface {
	Login(ctx context.Context, usernameOrEmail, password string) (*domain.SessionBundle, error)
	Register(ctx context.Context, in RegisterInput) (*domain.SessionBundle, error)
	// Refresh redeems a refresh token and returns a new bundle with a rotated
	// refresh token.
	Refresh(ctx context.Context, refreshToken string) (*domain.SessionBundle, error)
	Logout(ctx context.Context, refreshToken string) error
}
