// Package sqlstore implements ports.Store on SQLite through bun.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/99minutos/identity-service/internal/core/domain"
	"github.com/99minutos/identity-service/internal/core/ports"
)

// Config captures the settings for opening the database.
type Config struct {
	// DSN is passed to the sqlite driver, e.g. "file:identity.db" or ":memory:".
	DSN string
}

// Store is a bun backed ports.Store. SQLite allows a single writer, so the
// pool is limited to one connection and transactions serialise.
type Store struct {
	repos
	db *bun.DB
}

// Open connects, applies the schema and seeds the roles.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("sqlite dsn is required")
	}
	sqldb, err := sql.Open(sqliteshim.ShimName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := seedRoles(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{repos: repos{db: db}, db: db}, nil
}

// RunInTx runs fn inside a database transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx ports.Repositories) error) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, repos{db: tx})
	})
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle for tests and tooling.
func (s *Store) DB() *bun.DB { return s.db }

// repos binds the repositories to either the DB or a transaction.
type repos struct {
	db bun.IDB
}

func (r repos) Accounts() ports.AccountRepository          { return &accountRepository{db: r.db} }
func (r repos) Roles() ports.RoleRepository                { return &roleRepository{db: r.db} }
func (r repos) RefreshTokens() ports.RefreshTokenRepository { return &refreshTokenRepository{db: r.db} }

// translateErr maps constraint violations to domain conflicts.
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if !strings.Contains(msg, "UNIQUE constraint failed") {
		return err
	}
	switch {
	case strings.Contains(msg, "username_normalized"):
		return domain.Conflict(domain.ErrUsernameTaken)
	case strings.Contains(msg, "email_normalized"):
		return domain.Conflict(domain.ErrEmailTaken)
	default:
		return domain.Conflict(errors.New("duplicate record"))
	}
}

var _ ports.Store = (*Store)(nil)
