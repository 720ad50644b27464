package sqlstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/99minutos/identity-service/internal/core/domain"
	"github.com/99minutos/identity-service/internal/core/ports"
)

var baseTime = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func setupStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func insertAccount(t *testing.T, s *Store, username string, roleID int64, created time.Time) *domain.Account {
	t.Helper()
	role, err := s.Roles().FindByID(context.Background(), roleID)
	require.NoError(t, err)
	acc := domain.NewAccount(username, username+"@example.com", "digest", "First", "Last", role, created)
	require.NoError(t, s.Accounts().Insert(context.Background(), acc))
	return acc
}

func insertToken(t *testing.T, s *Store, accountID uuid.UUID, hash string, expires time.Time) {
	t.Helper()
	require.NoError(t, s.RefreshTokens().Insert(context.Background(), &domain.RefreshToken{
		ID:        uuid.New(),
		AccountID: accountID,
		TokenHash: hash,
		IssuedAt:  baseTime,
		ExpiresAt: expires,
		IsActive:  true,
	}))
}

func TestStore_SeedsRoles(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	def, err := s.Roles().Default(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleUser, def.Name)
	assert.False(t, def.Privileged)

	admin, err := s.Roles().FindByName(ctx, domain.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdminID, admin.ID)
	assert.True(t, admin.Privileged)

	_, err = s.Roles().FindByID(ctx, 99)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAccountRepository_FindAndUniqueness(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	acc := insertAccount(t, s, "Alice", domain.RoleUserID, baseTime)

	found, err := s.Accounts().FindActiveByLogin(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, acc.ID, found.ID)
	assert.Equal(t, "Alice", found.Username)
	require.NotNil(t, found.Role)
	assert.Equal(t, domain.RoleUser, found.Role.Name)

	found, err = s.Accounts().FindActiveByLogin(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, acc.ID, found.ID)

	taken, err := s.Accounts().UsernameInUse(ctx, "aLiCe", uuid.Nil)
	require.NoError(t, err)
	assert.True(t, taken)

	taken, err = s.Accounts().EmailInUse(ctx, "alice@EXAMPLE.com", acc.ID)
	require.NoError(t, err)
	assert.False(t, taken, "own record must be excluded")

	dup := domain.NewAccount("alice", "other@example.com", "digest", "A", "B", found.Role, baseTime)
	err = s.Accounts().Insert(ctx, dup)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.ErrorIs(t, err, domain.ErrUsernameTaken)

	dup = domain.NewAccount("alice2", "Alice@Example.com", "digest", "A", "B", found.Role, baseTime)
	err = s.Accounts().Insert(ctx, dup)
	assert.ErrorIs(t, err, domain.ErrEmailTaken)
}

func TestAccountRepository_SoftDeleteFreesIdentity(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	acc := insertAccount(t, s, "bob", domain.RoleUserID, baseTime)

	ok, err := s.Accounts().SoftDelete(ctx, acc.ID, baseTime.Add(time.Hour), ports.DeleteGuard{})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Accounts().SoftDelete(ctx, acc.ID, baseTime.Add(time.Hour), ports.DeleteGuard{})
	require.NoError(t, err)
	assert.False(t, ok, "already inactive")

	_, err = s.Accounts().FindActiveByID(ctx, acc.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// The partial index lets the username be reused.
	insertAccount(t, s, "Bob", domain.RoleUserID, baseTime)

	all, total, err := s.Accounts().List(ctx, ports.AccountQuery{Scope: ports.ScopeAll, Page: domain.PageRequest{Page: 1, PageSize: 10}})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, all, 2)

	inactive, total, err := s.Accounts().List(ctx, ports.AccountQuery{Scope: ports.ScopeInactive, Page: domain.PageRequest{Page: 1, PageSize: 10}})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, acc.ID, inactive[0].ID)
	assert.False(t, inactive[0].IsActive)
}

func TestAccountRepository_SoftDeleteGuard(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	guard := ports.DeleteGuard{KeepLastOfRole: domain.RoleAdminID}

	first := insertAccount(t, s, "root", domain.RoleAdminID, baseTime)
	ok, err := s.Accounts().SoftDelete(ctx, first.ID, baseTime, guard)
	require.NoError(t, err)
	assert.False(t, ok, "last admin must survive")

	second := insertAccount(t, s, "ops", domain.RoleAdminID, baseTime)
	ok, err = s.Accounts().SoftDelete(ctx, first.ID, baseTime, guard)
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := s.Accounts().CountActiveByRole(ctx, domain.RoleAdminID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	ok, err = s.Accounts().SoftDelete(ctx, second.ID, baseTime, guard)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAccountRepository_ConcurrentGuardedDeletes(t *testing.T) {
	s := setupStore(t)
	guard := ports.DeleteGuard{KeepLastOfRole: domain.RoleAdminID}
	ids := []uuid.UUID{
		insertAccount(t, s, "root", domain.RoleAdminID, baseTime).ID,
		insertAccount(t, s, "ops", domain.RoleAdminID, baseTime).ID,
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		deleted int
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			err := s.RunInTx(context.Background(), func(ctx context.Context, tx ports.Repositories) error {
				ok, err := tx.Accounts().SoftDelete(ctx, id, baseTime, guard)
				if ok {
					mu.Lock()
					deleted++
					mu.Unlock()
				}
				return err
			})
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 1, deleted)
	n, err := s.Accounts().CountActiveByRole(context.Background(), domain.RoleAdminID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestAccountRepository_UpdateAndTouch(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	acc := insertAccount(t, s, "carol", domain.RoleUserID, baseTime)
	insertAccount(t, s, "dave", domain.RoleUserID, baseTime)

	pic := "avatars/carol.png"
	acc.Email = "Carol@New.com"
	acc.FirstName = "Caroline"
	acc.ProfilePicture = &pic
	acc.Touch(baseTime.Add(time.Minute))
	require.NoError(t, s.Accounts().Update(ctx, acc))

	require.NoError(t, s.Accounts().TouchLastLogin(ctx, acc.ID, baseTime.Add(2*time.Minute)))

	got, err := s.Accounts().FindActiveByLogin(ctx, "carol@new.com")
	require.NoError(t, err)
	assert.Equal(t, "Caroline", got.FirstName)
	require.NotNil(t, got.ProfilePicture)
	assert.Equal(t, pic, *got.ProfilePicture)
	require.NotNil(t, got.LastLoginAt)
	assert.True(t, got.LastLoginAt.Equal(baseTime.Add(2*time.Minute)))
	assert.True(t, got.UpdatedAt.Equal(baseTime.Add(time.Minute)))

	acc.Email = "dave@example.com"
	err = s.Accounts().Update(ctx, acc)
	assert.ErrorIs(t, err, domain.ErrEmailTaken)

	ghost := *acc
	ghost.ID = uuid.New()
	ghost.Email = "ghost@example.com"
	assert.ErrorIs(t, s.Accounts().Update(ctx, &ghost), domain.ErrNotFound)
	assert.ErrorIs(t, s.Accounts().TouchLastLogin(ctx, ghost.ID, baseTime), domain.ErrNotFound)
}

func TestAccountRepository_ListAndSearch(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	for i, name := range []string{"anna", "bert", "carl", "dana", "ed_x"} {
		insertAccount(t, s, name, domain.RoleUserID, baseTime.Add(time.Duration(i)*time.Minute))
	}

	page, total, err := s.Accounts().List(ctx, ports.AccountQuery{Scope: ports.ScopeActive, Page: domain.PageRequest{Page: 1, PageSize: 2}})
	require.NoError(t, err)
	assert.EqualValues(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, "ed_x", page[0].Username, "newest first")

	found, total, err := s.Accounts().List(ctx, ports.AccountQuery{Scope: ports.ScopeActive, Search: "CAR", Page: domain.PageRequest{Page: 1, PageSize: 10}})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, "carl", found[0].Username)

	// Wildcards in the term are literal.
	found, total, err = s.Accounts().List(ctx, ports.AccountQuery{Scope: ports.ScopeActive, Search: "a_n", Page: domain.PageRequest{Page: 1, PageSize: 10}})
	require.NoError(t, err)
	assert.EqualValues(t, 0, total)
	assert.Empty(t, found)

	_, _, err = s.Accounts().List(ctx, ports.AccountQuery{Page: domain.PageRequest{Page: 1, PageSize: 10}})
	assert.Error(t, err, "scope must be explicit")
}

func TestRefreshTokenRepository_MarkUsedOnce(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	acc := insertAccount(t, s, "bob", domain.RoleUserID, baseTime)
	insertToken(t, s, acc.ID, "hash-1", baseTime.Add(time.Hour))

	owner, ok, err := s.RefreshTokens().MarkUsed(ctx, "hash-1", baseTime)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, acc.ID, owner)

	_, ok, err = s.RefreshTokens().MarkUsed(ctx, "hash-1", baseTime)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = s.RefreshTokens().MarkUsed(ctx, "unknown", baseTime)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRefreshTokenRepository_ConcurrentMarkUsed(t *testing.T) {
	s := setupStore(t)
	acc := insertAccount(t, s, "bob", domain.RoleUserID, baseTime)
	insertToken(t, s, acc.ID, "hash-race", baseTime.Add(time.Hour))

	const attempts = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := s.RefreshTokens().MarkUsed(context.Background(), "hash-race", baseTime)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestRefreshTokenRepository_ExpiryAndInvalidation(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	acc := insertAccount(t, s, "bob", domain.RoleUserID, baseTime)
	insertToken(t, s, acc.ID, "expired", baseTime.Add(time.Minute))
	insertToken(t, s, acc.ID, "a", baseTime.Add(time.Hour))
	insertToken(t, s, acc.ID, "b", baseTime.Add(time.Hour))

	_, ok, err := s.RefreshTokens().MarkUsed(ctx, "expired", baseTime.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "expiry is exclusive")

	require.NoError(t, s.RefreshTokens().Invalidate(ctx, "a", baseTime))
	require.NoError(t, s.RefreshTokens().Invalidate(ctx, "a", baseTime.Add(time.Second)))
	require.NoError(t, s.RefreshTokens().Invalidate(ctx, "missing", baseTime))

	repo := s.RefreshTokens().(*refreshTokenRepository)
	tok, err := repo.FindByHash(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, tok.InvalidatedAt)
	assert.True(t, tok.InvalidatedAt.Equal(baseTime), "second invalidate must not restamp")
	assert.False(t, tok.IsValid(baseTime))

	n, err := s.RefreshTokens().InvalidateAllForAccount(ctx, acc.ID, baseTime)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n, "expired and b are still open")

	_, ok, err = s.RefreshTokens().MarkUsed(ctx, "b", baseTime)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_RunInTxRollsBack(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	role, err := s.Roles().Default(ctx)
	require.NoError(t, err)
	acc := domain.NewAccount("erin", "erin@example.com", "digest", "E", "R", role, baseTime)

	err = s.RunInTx(ctx, func(ctx context.Context, tx ports.Repositories) error {
		require.NoError(t, tx.Accounts().Insert(ctx, acc))
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	_, err = s.Accounts().FindActiveByID(ctx, acc.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, s.Ping(ctx))
}
