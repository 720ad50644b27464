package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/99minutos/identity-service/internal/core/domain"
	"github.com/99minutos/identity-service/internal/core/ports"
	"github.com/99minutos/identity-service/internal/core/validation"
)

// AccountService enforces the account lifecycle invariants: case-insensitive
// uniqueness among active accounts, soft deletion, and protection of the
// last active privileged account.
type AccountService struct {
	store    ports.Store
	hasher   ports.PasswordHasher
	refresh  *RefreshTokenManager
	validate *validation.Validator
	log      zerolog.Logger
	now      func() time.Time
}

func NewAccountService(
	store ports.Store,
	hasher ports.PasswordHasher,
	refresh *RefreshTokenManager,
	log zerolog.Logger,
	opts ...Option,
) *AccountService {
	o := buildOptions(opts)
	return &AccountService{
		store:    store,
		hasher:   hasher,
		refresh:  refresh,
		validate: validation.New(),
		log:      log,
		now:      o.now,
	}
}

// Get returns an active account.
func (s *AccountService) Get(ctx context.Context, id uuid.UUID) (*domain.AccountSummary, error) {
	ctx, span := tracer.Start(ctx, "AccountService.Get")
	defer span.End()

	acc, err := s.store.Accounts().FindActiveByID(ctx, id)
	if err != nil {
		return nil, failWith(s.log, span, fmt.Errorf("get account: %w", err))
	}
	sum := acc.Summary()
	return &sum, nil
}

// List pages through active accounts, newest first.
func (s *AccountService) List(ctx context.Context, page domain.PageRequest) (*domain.Page[domain.AccountSummary], error) {
	ctx, span := tracer.Start(ctx, "AccountService.List")
	defer span.End()

	return s.list(ctx, span, "", page)
}

// Search matches term against username, email and names of active accounts.
func (s *AccountService) Search(ctx context.Context, term string, page domain.PageRequest) (*domain.Page[domain.AccountSummary], error) {
	ctx, span := tracer.Start(ctx, "AccountService.Search")
	defer span.End()

	term = strings.TrimSpace(term)
	if term == "" {
		return nil, domain.InvalidField("q", "is required")
	}
	if len(term) > 100 {
		return nil, domain.InvalidField("q", "must be at most 100 characters")
	}
	return s.list(ctx, span, term, page)
}

func (s *AccountService) list(ctx context.Context, span trace.Span, term string, page domain.PageRequest) (*domain.Page[domain.AccountSummary], error) {
	page, err := page.Normalize()
	if err != nil {
		return nil, err
	}

	accounts, total, err := s.store.Accounts().List(ctx, ports.AccountQuery{
		Scope:  ports.ScopeActive,
		Search: term,
		Page:   page,
	})
	if err != nil {
		return nil, failWith(s.log, span, fmt.Errorf("list accounts: %w", err))
	}

	items := make([]domain.AccountSummary, 0, len(accounts))
	for _, a := range accounts {
		items = append(items, a.Summary())
	}
	out := domain.NewPage(items, total, page)
	return &out, nil
}

// Update applies a partial profile update. Changing the password requires
// the current one and closes every open refresh token of the account.
func (s *AccountService) Update(ctx context.Context, id uuid.UUID, in ports.UpdateAccountInput) (*domain.AccountSummary, error) {
	ctx, span := tracer.Start(ctx, "AccountService.Update")
	defer span.End()

	// 1. Shape validation on trimmed values.
	in.Email = trimmedPtr(in.Email)
	in.FirstName = trimmedPtr(in.FirstName)
	in.LastName = trimmedPtr(in.LastName)
	in.ProfilePicture = trimmedPtr(in.ProfilePicture)
	if err := s.validate.Struct(in); err != nil {
		return nil, err
	}
	verr := domain.NewValidationError()
	if in.FirstName != nil && *in.FirstName == "" {
		verr.Add("first_name", "must not be blank")
	}
	if in.LastName != nil && *in.LastName == "" {
		verr.Add("last_name", "must not be blank")
	}
	if verr.HasErrors() {
		return nil, verr
	}

	// 2. Load the active record.
	acc, err := s.store.Accounts().FindActiveByID(ctx, id)
	if err != nil {
		return nil, failWith(s.log, span, fmt.Errorf("update account: %w", err))
	}

	// 3. Email uniqueness, excluding this account.
	if in.Email != nil {
		email := *in.Email
		if domain.NormalizeEmail(email) != acc.EmailKey() {
			if err := checkIdentityFree(ctx, s.store.Accounts(), "", email, acc.ID); err != nil {
				return nil, failWith(s.log, span, fmt.Errorf("update account: %w", err))
			}
		}
		acc.Email = email
	}
	if in.FirstName != nil {
		acc.FirstName = *in.FirstName
	}
	if in.LastName != nil {
		acc.LastName = *in.LastName
	}
	if in.ProfilePicture != nil {
		if pic := *in.ProfilePicture; pic != "" {
			acc.ProfilePicture = &pic
		} else {
			acc.ProfilePicture = nil
		}
	}

	// 4. Password change.
	passwordChanged := false
	if in.NewPassword != "" {
		if !s.hasher.Verify(ctx, in.CurrentPassword, acc.PasswordHash) {
			return nil, domain.InvalidField("current_password", "is incorrect")
		}
		digest, err := s.hasher.Hash(ctx, in.NewPassword)
		if err != nil {
			return nil, failWith(s.log, span, fmt.Errorf("update account: %w", err))
		}
		acc.PasswordHash = digest
		passwordChanged = true
	}

	// 5. Pre-persist stamp, then write.
	acc.Touch(s.now().UTC())
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx ports.Repositories) error {
		if err := tx.Accounts().Update(ctx, acc); err != nil {
			return err
		}
		if passwordChanged {
			if _, err := s.refresh.InvalidateAll(ctx, tx, acc.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, failWith(s.log, span, fmt.Errorf("update account: %w", err))
	}

	s.log.Info().
		Str("account_id", acc.ID.String()).
		Bool("password_changed", passwordChanged).
		Msg("account updated")

	sum := acc.Summary()
	return &sum, nil
}

// Delete soft-deletes an account. The last active holder of a privileged
// role cannot be deleted; the check and the write are a single guarded
// storage operation so two concurrent deletes cannot both pass.
func (s *AccountService) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, span := tracer.Start(ctx, "AccountService.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", id.String()))

	err := s.store.RunInTx(ctx, func(ctx context.Context, tx ports.Repositories) error {
		acc, err := tx.Accounts().FindActiveByID(ctx, id)
		if err != nil {
			return err
		}

		var guard ports.DeleteGuard
		if acc.IsPrivileged() {
			guard.KeepLastOfRole = acc.RoleID
		}

		acc.Deactivate(s.now().UTC())
		deleted, err := tx.Accounts().SoftDelete(ctx, acc.ID, acc.UpdatedAt, guard)
		if err != nil {
			return err
		}
		if !deleted {
			if guard.KeepLastOfRole != 0 {
				return domain.Conflict(domain.ErrLastPrivileged)
			}
			return domain.NotFound(domain.ErrAccountNotFound)
		}

		_, err = s.refresh.InvalidateAll(ctx, tx, acc.ID)
		return err
	})
	if err != nil {
		return failWith(s.log, span, fmt.Errorf("delete account: %w", err))
	}

	s.log.Info().Str("account_id", id.String()).Msg("account deactivated")
	return nil
}

// EnsureBootstrapAdmin creates the first administrator when no active
// privileged account exists.
func (s *AccountService) EnsureBootstrapAdmin(ctx context.Context, in ports.BootstrapAdminInput) (bool, error) {
	ctx, span := tracer.Start(ctx, "AccountService.EnsureBootstrapAdmin")
	defer span.End()

	role, err := s.store.Roles().FindByName(ctx, domain.RoleAdmin)
	if err != nil {
		return false, failWith(s.log, span, fmt.Errorf("bootstrap admin: admin role: %w", err))
	}
	n, err := s.store.Accounts().CountActiveByRole(ctx, role.ID)
	if err != nil {
		return false, failWith(s.log, span, fmt.Errorf("bootstrap admin: %w", err))
	}
	if n > 0 {
		return false, nil
	}

	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	if err := s.validate.Struct(in); err != nil {
		return false, err
	}
	if err := checkIdentityFree(ctx, s.store.Accounts(), in.Username, in.Email, uuid.Nil); err != nil {
		return false, failWith(s.log, span, fmt.Errorf("bootstrap admin: %w", err))
	}

	digest, err := s.hasher.Hash(ctx, in.Password)
	if err != nil {
		return false, failWith(s.log, span, fmt.Errorf("bootstrap admin: %w", err))
	}
	acc := domain.NewAccount(in.Username, in.Email, digest, in.FirstName, in.LastName, role, s.now().UTC())
	if err := s.store.Accounts().Insert(ctx, acc); err != nil {
		return false, failWith(s.log, span, fmt.Errorf("bootstrap admin: %w", err))
	}

	s.log.Info().Str("account_id", acc.ID.String()).Str("username", acc.Username).Msg("bootstrap administrator created")
	return true, nil
}

var _ ports.AccountService = (*AccountService)(nil)

func trimmedPtr(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	return &t
}
