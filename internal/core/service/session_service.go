package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/99minutos/identity-service/internal/core/domain"
	"github.com/99minutos/identity-service/internal/core/ports"
	"github.com/99minutos/identity-service/internal/core/validation"
)

// unknownAccountPassword is hashed once and checked against when a login
// names no account, so both failure paths pay the same bcrypt cost.
const unknownAccountPassword = "unknown-account-Passw0rd"

// SessionService implements login, registration, refresh and logout.
type SessionService struct {
	store    ports.Store
	hasher   ports.PasswordHasher
	tokens   ports.TokenIssuer
	refresh  *RefreshTokenManager
	throttle ports.LoginThrottle
	validate *validation.Validator
	log      zerolog.Logger
	now      func() time.Time

	dummyMu     sync.Mutex
	dummyDigest string
}

// NewSessionService wires the session flows. throttle may be nil, which
// disables login throttling.
func NewSessionService(
	store ports.Store,
	hasher ports.PasswordHasher,
	tokens ports.TokenIssuer,
	refresh *RefreshTokenManager,
	throttle ports.LoginThrottle,
	log zerolog.Logger,
	opts ...Option,
) *SessionService {
	o := buildOptions(opts)
	return &SessionService{
		store:    store,
		hasher:   hasher,
		tokens:   tokens,
		refresh:  refresh,
		throttle: throttle,
		validate: validation.New(),
		log:      log,
		now:      o.now,
	}
}

// Login authenticates by username or email. An unknown account and a wrong
// password both produce domain.ErrUnauthorized.
func (s *SessionService) Login(ctx context.Context, usernameOrEmail, password string) (*domain.SessionBundle, error) {
	ctx, span := tracer.Start(ctx, "SessionService.Login")
	defer span.End()

	login := strings.TrimSpace(usernameOrEmail)
	if login == "" || password == "" {
		return nil, domain.ErrUnauthorized
	}
	key := domain.NormalizeEmail(login)

	// 1. Throttle check. Failures here never block a login.
	if s.throttle != nil {
		allowed, err := s.throttle.Allow(ctx, key)
		if err != nil {
			s.log.Warn().Err(err).Msg("login throttle check failed, continuing")
		} else if !allowed {
			s.log.Info().Str("login", key).Msg("login throttled")
			return nil, domain.ErrTooManyAttempts
		}
	}

	// 2. Active account lookup.
	acc, err := s.store.Accounts().FindActiveByLogin(ctx, login)
	if err != nil && !isNotFound(err) {
		return nil, s.fail(span, fmt.Errorf("login: find account: %w", err))
	}

	// 3. Password check. Unknown accounts still pay for a verify.
	if acc == nil {
		s.hasher.Verify(ctx, password, s.unknownDigest(ctx))
		s.recordFailure(ctx, key)
		return nil, domain.ErrUnauthorized
	}
	if !s.hasher.Verify(ctx, password, acc.PasswordHash) {
		s.recordFailure(ctx, key)
		return nil, domain.ErrUnauthorized
	}

	// 4. Touch last login and mint both tokens in one transaction.
	now := s.now().UTC()
	var bundle *domain.SessionBundle
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx ports.Repositories) error {
		if err := tx.Accounts().TouchLastLogin(ctx, acc.ID, now); err != nil {
			return err
		}
		acc.RecordLogin(now)
		b, err := s.issueBundle(ctx, tx, acc)
		if err != nil {
			return err
		}
		bundle = b
		return nil
	})
	if isNotFound(err) {
		return nil, domain.ErrUnauthorized
	}
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("login: %w", err))
	}

	if s.throttle != nil {
		if err := s.throttle.Reset(ctx, key); err != nil {
			s.log.Warn().Err(err).Msg("failed to reset login throttle")
		}
	}

	s.log.Info().Str("account_id", acc.ID.String()).Msg("login succeeded")
	return bundle, nil
}

// Register creates an account with the default role and opens a session.
func (s *SessionService) Register(ctx context.Context, in ports.RegisterInput) (*domain.SessionBundle, error) {
	ctx, span := tracer.Start(ctx, "SessionService.Register")
	defer span.End()

	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)

	// 1. Shape validation.
	if err := s.validate.Struct(in); err != nil {
		return nil, err
	}

	// 2. Uniqueness among active accounts.
	if err := checkIdentityFree(ctx, s.store.Accounts(), in.Username, in.Email, uuid.Nil); err != nil {
		return nil, s.fail(span, fmt.Errorf("register: %w", err))
	}

	// 3. Default role.
	role, err := s.store.Roles().Default(ctx)
	if isNotFound(err) {
		return nil, s.fail(span, fmt.Errorf("register: %w", domain.ErrRoleNotFound))
	}
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("register: default role: %w", err))
	}

	// 4. Hash outside the transaction; bcrypt is slow.
	digest, err := s.hasher.Hash(ctx, in.Password)
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("register: %w", err))
	}

	// 5. Account and refresh token commit together. The unique indexes
	// catch a concurrent registration that slipped past step 2.
	acc := domain.NewAccount(in.Username, in.Email, digest, in.FirstName, in.LastName, role, s.now().UTC())
	var bundle *domain.SessionBundle
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx ports.Repositories) error {
		if err := tx.Accounts().Insert(ctx, acc); err != nil {
			return err
		}
		b, err := s.issueBundle(ctx, tx, acc)
		if err != nil {
			return err
		}
		bundle = b
		return nil
	})
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("register: %w", err))
	}

	s.log.Info().Str("account_id", acc.ID.String()).Msg("account registered")
	return bundle, nil
}

// Refresh redeems a refresh token and rotates it.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (*domain.SessionBundle, error) {
	ctx, span := tracer.Start(ctx, "SessionService.Refresh")
	defer span.End()

	var bundle *domain.SessionBundle
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx ports.Repositories) error {
		accountID, err := s.refresh.Redeem(ctx, tx, refreshToken)
		if err != nil {
			return err
		}
		acc, err := tx.Accounts().FindActiveByID(ctx, accountID)
		if isNotFound(err) {
			return domain.ErrUnauthorized
		}
		if err != nil {
			return err
		}
		b, err := s.issueBundle(ctx, tx, acc)
		if err != nil {
			return err
		}
		bundle = b
		return nil
	})
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("refresh: %w", err))
	}
	return bundle, nil
}

// Logout invalidates a refresh token. Unknown tokens are accepted silently.
func (s *SessionService) Logout(ctx context.Context, refreshToken string) error {
	ctx, span := tracer.Start(ctx, "SessionService.Logout")
	defer span.End()

	if strings.TrimSpace(refreshToken) == "" {
		return domain.InvalidField("refresh_token", "is required")
	}
	if err := s.refresh.Invalidate(ctx, s.store, refreshToken); err != nil {
		return s.fail(span, fmt.Errorf("logout: %w", err))
	}
	return nil
}

// issueBundle persists a refresh token and signs an access token. Signing
// happens inside the caller's transaction so a failure rolls back the row.
func (s *SessionService) issueBundle(ctx context.Context, repos ports.Repositories, acc *domain.Account) (*domain.SessionBundle, error) {
	rt, err := s.refresh.Create(ctx, repos, acc.ID)
	if err != nil {
		return nil, err
	}
	at, err := s.tokens.Issue(domain.IdentityOf(acc))
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	return &domain.SessionBundle{
		AccessToken:  at.Value,
		RefreshToken: rt.Token,
		ExpiresAt:    at.ExpiresAt,
		TokenType:    domain.TokenTypeBearer,
		Account:      acc.Summary(),
	}, nil
}

func (s *SessionService) recordFailure(ctx context.Context, key string) {
	if s.throttle == nil {
		return
	}
	if err := s.throttle.Fail(ctx, key); err != nil {
		s.log.Warn().Err(err).Msg("failed to record login failure")
	}
}

func (s *SessionService) unknownDigest(ctx context.Context) string {
	s.dummyMu.Lock()
	defer s.dummyMu.Unlock()
	if s.dummyDigest != "" {
		return s.dummyDigest
	}
	d, err := s.hasher.Hash(ctx, unknownAccountPassword)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to prepare placeholder digest")
		return ""
	}
	s.dummyDigest = d
	return d
}

// fail converts unexpected errors to domain.InternalError, logging and
// recording the cause on the span.
func (s *SessionService) fail(span trace.Span, err error) error {
	return failWith(s.log, span, err)
}

func failWith(log zerolog.Logger, span trace.Span, err error) error {
	if domain.IsExpected(err) {
		return err
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, "internal error")
	log.Error().Err(err).Msg("unexpected failure")
	return domain.Internal(err)
}

// checkIdentityFree rejects a username or email already held by another
// active account.
func checkIdentityFree(ctx context.Context, accounts ports.AccountRepository, username, email string, exclude uuid.UUID) error {
	if username != "" {
		taken, err := accounts.UsernameInUse(ctx, username, exclude)
		if err != nil {
			return fmt.Errorf("check username: %w", err)
		}
		if taken {
			return domain.Conflict(domain.ErrUsernameTaken)
		}
	}
	if email != "" {
		taken, err := accounts.EmailInUse(ctx, email, exclude)
		if err != nil {
			return fmt.Errorf("check email: %w", err)
		}
		if taken {
			return domain.Conflict(domain.ErrEmailTaken)
		}
	}
	return nil
}

var _ ports.SessionService = (*SessionService)(nil)
