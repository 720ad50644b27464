package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/99minutos/identity-service/internal/core/domain"
	"github.com/99minutos/identity-service/internal/core/ports"
	"github.com/99minutos/identity-service/internal/core/security"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	store    *memStore
	clock    *testClock
	hasher   *security.BcryptHasher
	tokens   *security.TokenIssuer
	refresh  *RefreshTokenManager
	sessions *SessionService
	accounts *AccountService
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	issuer   ports.TokenIssuer
	throttle ports.LoginThrottle
}

func withIssuer(i ports.TokenIssuer) fixtureOption {
	return func(c *fixtureConfig) { c.issuer = i }
}

func withThrottle(th ports.LoginThrottle) fixtureOption {
	return func(c *fixtureConfig) { c.throttle = th }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	clock := newTestClock()
	hasher, err := security.NewBcryptHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	tokens, err := security.NewTokenIssuer(security.TokenConfig{
		Secret:   testSecret,
		Issuer:   "UserPortalAPI",
		Audience: "UserPortalClient",
		TTL:      time.Hour,
		Now:      clock.Now,
	})
	if err != nil {
		t.Fatalf("token issuer: %v", err)
	}

	cfg := fixtureConfig{issuer: tokens}
	for _, o := range opts {
		o(&cfg)
	}

	store := newMemStore()
	refresh := NewRefreshTokenManager(7*24*time.Hour, WithClock(clock.Now))
	return &fixture{
		store:    store,
		clock:    clock,
		hasher:   hasher,
		tokens:   tokens,
		refresh:  refresh,
		sessions: NewSessionService(store, hasher, cfg.issuer, refresh, cfg.throttle, zerolog.Nop(), WithClock(clock.Now)),
		accounts: NewAccountService(store, hasher, refresh, zerolog.Nop(), WithClock(clock.Now)),
	}
}

func registerInput(username, email string) ports.RegisterInput {
	return ports.RegisterInput{
		Username:        username,
		Email:           email,
		Password:        "Passw0rd!",
		ConfirmPassword: "Passw0rd!",
		FirstName:       "Test",
		LastName:        "User",
	}
}

func (f *fixture) register(t *testing.T, username, email string) *domain.SessionBundle {
	t.Helper()
	b, err := f.sessions.Register(context.Background(), registerInput(username, email))
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return b
}

// addAdmin inserts an active account holding the privileged role.
func (f *fixture) addAdmin(t *testing.T, username string) *domain.Account {
	t.Helper()
	digest, err := f.hasher.Hash(context.Background(), "Adm1nPassword")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	role, _ := f.store.Roles().FindByName(context.Background(), domain.RoleAdmin)
	acc := domain.NewAccount(username, username+"@x.com", digest, "Admin", username, role, f.clock.Now())
	if err := f.store.Accounts().Insert(context.Background(), acc); err != nil {
		t.Fatalf("insert admin: %v", err)
	}
	return acc
}

type failingIssuer struct{}

func (failingIssuer) Issue(domain.Identity) (domain.AccessToken, error) {
	return domain.AccessToken{}, errors.New("signer unavailable")
}

type stubThrottle struct {
	mu       sync.Mutex
	max      int
	failures map[string]int
	allowErr error
	resets   int
}

func newStubThrottle(max int) *stubThrottle {
	return &stubThrottle{max: max, failures: make(map[string]int)}
}

func (s *stubThrottle) Allow(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.allowErr != nil {
		return false, s.allowErr
	}
	return s.failures[key] < s.max, nil
}

func (s *stubThrottle) Fail(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[key]++
	return nil
}

func (s *stubThrottle) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, key)
	s.resets++
	return nil
}
