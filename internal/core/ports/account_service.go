package ports

import (
	"context"

	"github.com/google/uuid"

	"github.com/99minutos/identity-service/internal/core/domain"
)

// UpdateAccountInput carries a partial profile update. Nil fields are left
// untouched. A password change needs CurrentPassword plus a confirmed
// NewPassword.
type UpdateAccountInput struct {
	Email              *string `json:"email" validate:"omitempty,email,max=100"`
	FirstName          *string `json:"first_name" validate:"omitempty,min=1,max=50"`
	LastName           *string `json:"last_name" validate:"omitempty,min=1,max=50"`
	ProfilePicture     *string `json:"profile_picture" validate:"omitempty,max=2048"`
	CurrentPassword    string  `json:"current_password" validate:"required_with=NewPassword"`
	NewPassword        string  `json:"new_password" validate:"omitempty,password"`
	ConfirmNewPassword string  `json:"confirm_new_password" validate:"required_with=NewPassword,eqfield=NewPassword"`
}

// BootstrapAdminInput describes the administrator created on first start.
type BootstrapAdminInput struct {
	Username  string `json:"username" validate:"required,min=3,max=50,username"`
	Email     string `json:"email" validate:"required,email,max=100"`
	Password  string `json:"password" validate:"required,password"`
	FirstName string `json:"first_name" validate:"required,max=50"`
	LastName  string `json:"last_name" validate:"required,max=50"`
}

// AccountService guards account mutations and serves read models.
type AccountService interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.AccountSummary, error)
	List(ctx context.Context, page domain.PageRequest) (*domain.Page[domain.AccountSummary], error)
	Search(ctx context.Context, term string, page domain.PageRequest) (*domain.Page[domain.AccountSummary], error)
	Update(ctx context.Context, id uuid.UUID, in UpdateAccountInput) (*domain.AccountSummary, error)
	Delete(ctx context.Context, id uuid.UUID) error
	// EnsureBootstrapAdmin creates the admin account when no active
	// privileged account exists. It reports whether one was created.
	EnsureBootstrapAdmin(ctx context.Context, in BootstrapAdminInput) (bool, error)
}
