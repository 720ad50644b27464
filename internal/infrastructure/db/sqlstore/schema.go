package sqlstore

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/99minutos/identity-service/internal/core/domain"
)

// Uniqueness of username and email only applies to active rows, so the
// indexes are partial and written by hand.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS roles (
		id          INTEGER PRIMARY KEY,
		name        TEXT    NOT NULL UNIQUE,
		description TEXT    NOT NULL DEFAULT '',
		privileged  BOOLEAN NOT NULL DEFAULT FALSE,
		is_default  BOOLEAN NOT NULL DEFAULT FALSE,
		is_active   BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE TABLE IF NOT EXISTS accounts (
		id                  TEXT      PRIMARY KEY,
		username            TEXT      NOT NULL,
		username_normalized TEXT      NOT NULL,
		email               TEXT      NOT NULL,
		email_normalized    TEXT      NOT NULL,
		password_hash       TEXT      NOT NULL,
		first_name          TEXT      NOT NULL,
		last_name           TEXT      NOT NULL,
		profile_picture     TEXT,
		role_id             INTEGER   NOT NULL REFERENCES roles (id),
		last_login_at       TIMESTAMP,
		is_active           BOOLEAN   NOT NULL DEFAULT TRUE,
		created_at          TIMESTAMP NOT NULL,
		updated_at          TIMESTAMP NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_accounts_username_active
		ON accounts (username_normalized) WHERE is_active`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_accounts_email_active
		ON accounts (email_normalized) WHERE is_active`,
	`CREATE INDEX IF NOT EXISTS ix_accounts_role_active
		ON accounts (role_id) WHERE is_active`,
	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		id             TEXT      PRIMARY KEY,
		account_id     TEXT      NOT NULL REFERENCES accounts (id) ON DELETE CASCADE,
		token_hash     TEXT      NOT NULL UNIQUE,
		issued_at      TIMESTAMP NOT NULL,
		expires_at     TIMESTAMP NOT NULL,
		used_at        TIMESTAMP,
		invalidated_at TIMESTAMP,
		is_active      BOOLEAN   NOT NULL DEFAULT TRUE
	)`,
	`CREATE INDEX IF NOT EXISTS ix_refresh_tokens_account
		ON refresh_tokens (account_id)`,
}

func migrate(ctx context.Context, db *bun.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func seedRoles(ctx context.Context, db *bun.DB) error {
	seed := domain.SeedRoles()
	models := make([]*roleModel, 0, len(seed))
	for _, r := range seed {
		models = append(models, fromRole(r))
	}
	_, err := db.NewInsert().
		Model(&models).
		On("CONFLICT (id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("seed roles: %w", err)
	}
	return nil
}
