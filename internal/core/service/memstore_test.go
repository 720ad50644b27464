package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/99minutos/identity-service/internal/core/domain"
	"github.com/99minutos/identity-service/internal/core/ports"
)

// memStore is an in-memory ports.Store. Transactions are serialised and
// rolled back by restoring a snapshot.
type memStore struct {
	mu       sync.Mutex
	txMu     sync.Mutex
	accounts map[uuid.UUID]domain.Account
	roles    []domain.Role
	tokens   map[string]domain.RefreshToken

	// failTokenInsert makes RefreshTokens().Insert fail when set.
	failTokenInsert error
}

func newMemStore() *memStore {
	return &memStore{
		accounts: make(map[uuid.UUID]domain.Account),
		roles:    domain.SeedRoles(),
		tokens:   make(map[string]domain.RefreshToken),
	}
}

func (m *memStore) Accounts() ports.AccountRepository          { return memAccounts{m} }
func (m *memStore) Roles() ports.RoleRepository                { return memRoles{m} }
func (m *memStore) RefreshTokens() ports.RefreshTokenRepository { return memTokens{m} }
func (m *memStore) Ping(context.Context) error                 { return nil }
func (m *memStore) Close() error                               { return nil }

func (m *memStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx ports.Repositories) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	accounts := make(map[uuid.UUID]domain.Account, len(m.accounts))
	for k, v := range m.accounts {
		accounts[k] = v
	}
	tokens := make(map[string]domain.RefreshToken, len(m.tokens))
	for k, v := range m.tokens {
		tokens[k] = v
	}
	m.mu.Unlock()

	if err := fn(ctx, m); err != nil {
		m.mu.Lock()
		m.accounts, m.tokens = accounts, tokens
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memStore) roleByID(id int64) *domain.Role {
	for i := range m.roles {
		if m.roles[i].ID == id {
			r := m.roles[i]
			return &r
		}
	}
	return nil
}

func (m *memStore) resolved(a domain.Account) *domain.Account {
	a.Role = m.roleByID(a.RoleID)
	return &a
}

func (m *memStore) activeCount(roleID int64) int64 {
	var n int64
	for _, a := range m.accounts {
		if a.IsActive && a.RoleID == roleID {
			n++
		}
	}
	return n
}

func (m *memStore) inUse(match func(domain.Account) bool, exclude uuid.UUID) bool {
	for id, a := range m.accounts {
		if a.IsActive && id != exclude && match(a) {
			return true
		}
	}
	return false
}

// accountCount counts rows regardless of state.
func (m *memStore) accountCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.accounts)
}

func (m *memStore) tokenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tokens)
}

func (m *memStore) openTokens(accountID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tokens {
		if t.AccountID == accountID && t.UsedAt == nil && t.InvalidatedAt == nil {
			n++
		}
	}
	return n
}

type memAccounts struct{ m *memStore }

func (r memAccounts) FindActiveByLogin(_ context.Context, login string) (*domain.Account, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	key := strings.ToLower(strings.TrimSpace(login))
	for _, a := range r.m.accounts {
		if a.IsActive && (a.UsernameKey() == key || a.EmailKey() == key) {
			return r.m.resolved(a), nil
		}
	}
	return nil, domain.NotFound(domain.ErrAccountNotFound)
}

func (r memAccounts) FindActiveByID(_ context.Context, id uuid.UUID) (*domain.Account, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	a, ok := r.m.accounts[id]
	if !ok || !a.IsActive {
		return nil, domain.NotFound(domain.ErrAccountNotFound)
	}
	return r.m.resolved(a), nil
}

func (r memAccounts) UsernameInUse(_ context.Context, username string, exclude uuid.UUID) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	key := domain.NormalizeUsername(username)
	return r.m.inUse(func(a domain.Account) bool { return a.UsernameKey() == key }, exclude), nil
}

func (r memAccounts) EmailInUse(_ context.Context, email string, exclude uuid.UUID) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	key := domain.NormalizeEmail(email)
	return r.m.inUse(func(a domain.Account) bool { return a.EmailKey() == key }, exclude), nil
}

func (r memAccounts) Insert(_ context.Context, a *domain.Account) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.inUse(func(o domain.Account) bool { return o.UsernameKey() == a.UsernameKey() }, uuid.Nil) {
		return domain.Conflict(domain.ErrUsernameTaken)
	}
	if r.m.inUse(func(o domain.Account) bool { return o.EmailKey() == a.EmailKey() }, uuid.Nil) {
		return domain.Conflict(domain.ErrEmailTaken)
	}
	row := *a
	row.Role = nil
	r.m.accounts[a.ID] = row
	return nil
}

func (r memAccounts) Update(_ context.Context, a *domain.Account) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	cur, ok := r.m.accounts[a.ID]
	if !ok || !cur.IsActive {
		return domain.NotFound(domain.ErrAccountNotFound)
	}
	if r.m.inUse(func(o domain.Account) bool { return o.EmailKey() == a.EmailKey() }, a.ID) {
		return domain.Conflict(domain.ErrEmailTaken)
	}
	cur.Email = a.Email
	cur.FirstName = a.FirstName
	cur.LastName = a.LastName
	cur.ProfilePicture = a.ProfilePicture
	cur.PasswordHash = a.PasswordHash
	cur.UpdatedAt = a.UpdatedAt
	r.m.accounts[a.ID] = cur
	return nil
}

func (r memAccounts) TouchLastLogin(_ context.Context, id uuid.UUID, at time.Time) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	cur, ok := r.m.accounts[id]
	if !ok || !cur.IsActive {
		return domain.NotFound(domain.ErrAccountNotFound)
	}
	cur.RecordLogin(at)
	r.m.accounts[id] = cur
	return nil
}

func (r memAccounts) CountActiveByRole(_ context.Context, roleID int64) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return r.m.activeCount(roleID), nil
}

func (r memAccounts) SoftDelete(_ context.Context, id uuid.UUID, at time.Time, guard ports.DeleteGuard) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	cur, ok := r.m.accounts[id]
	if !ok || !cur.IsActive {
		return false, nil
	}
	if guard.KeepLastOfRole != 0 && r.m.activeCount(guard.KeepLastOfRole) <= 1 {
		return false, nil
	}
	cur.Deactivate(at)
	r.m.accounts[id] = cur
	return true, nil
}

func (r memAccounts) List(_ context.Context, q ports.AccountQuery) ([]*domain.Account, int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	term := strings.ToLower(q.Search)
	var rows []domain.Account
	for _, a := range r.m.accounts {
		switch q.Scope {
		case ports.ScopeActive:
			if !a.IsActive {
				continue
			}
		case ports.ScopeInactive:
			if a.IsActive {
				continue
			}
		}
		if term != "" && !strings.Contains(strings.ToLower(a.Username+" "+a.Email+" "+a.FirstName+" "+a.LastName), term) {
			continue
		}
		rows = append(rows, a)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Username < rows[j].Username })

	total := int64(len(rows))
	start := q.Page.Offset()
	if start > len(rows) {
		start = len(rows)
	}
	end := start + q.Page.PageSize
	if end > len(rows) {
		end = len(rows)
	}
	out := make([]*domain.Account, 0, end-start)
	for _, a := range rows[start:end] {
		out = append(out, r.m.resolved(a))
	}
	return out, total, nil
}

type memRoles struct{ m *memStore }

func (r memRoles) Default(context.Context) (*domain.Role, error) {
	for _, role := range r.m.roles {
		if role.IsDefault && role.IsActive {
			return &role, nil
		}
	}
	return nil, domain.NotFound(domain.ErrRoleNotFound)
}

func (r memRoles) FindByID(_ context.Context, id int64) (*domain.Role, error) {
	if role := r.m.roleByID(id); role != nil {
		return role, nil
	}
	return nil, domain.NotFound(domain.ErrRoleNotFound)
}

func (r memRoles) FindByName(_ context.Context, name string) (*domain.Role, error) {
	for _, role := range r.m.roles {
		if role.Name == name {
			return &role, nil
		}
	}
	return nil, domain.NotFound(domain.ErrRoleNotFound)
}

type memTokens struct{ m *memStore }

func (r memTokens) Insert(_ context.Context, t *domain.RefreshToken) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.failTokenInsert != nil {
		return r.m.failTokenInsert
	}
	r.m.tokens[t.TokenHash] = *t
	return nil
}

func (r memTokens) MarkUsed(_ context.Context, hash string, now time.Time) (uuid.UUID, bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	t, ok := r.m.tokens[hash]
	if !ok || !t.IsValid(now) {
		return uuid.Nil, false, nil
	}
	t.UsedAt = &now
	r.m.tokens[hash] = t
	return t.AccountID, true, nil
}

func (r memTokens) Invalidate(_ context.Context, hash string, now time.Time) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	t, ok := r.m.tokens[hash]
	if !ok || t.UsedAt != nil || t.InvalidatedAt != nil {
		return nil
	}
	t.InvalidatedAt = &now
	r.m.tokens[hash] = t
	return nil
}

func (r memTokens) InvalidateAllForAccount(_ context.Context, accountID uuid.UUID, now time.Time) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var n int64
	for k, t := range r.m.tokens {
		if t.AccountID == accountID && t.UsedAt == nil && t.InvalidatedAt == nil {
			t.InvalidatedAt = &now
			r.m.tokens[k] = t
			n++
		}
	}
	return n, nil
}
