package sqlstore

import (
	"context"
	"fmt"
)

// MIGRATIONS:
// Each statement is idempotent (IF NOT EXISTS), so migrate runs on every
// start. The two schemas are kept column-for-column identical; only types
// and defaults differ.
//
// The partial unique index on (social_provider, social_id) is what
// guarantees that one external identity maps to at most one user, while
// any number of password-only users can have the empty pair.

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id              TEXT PRIMARY KEY,
		username        TEXT NOT NULL UNIQUE,
		password_hash   TEXT NOT NULL DEFAULT '',
		email           TEXT NOT NULL DEFAULT '',
		phone_number    TEXT NOT NULL DEFAULT '',
		social_provider TEXT NOT NULL DEFAULT '',
		social_id       TEXT NOT NULL DEFAULT '',
		display_name    TEXT NOT NULL DEFAULT '',
		avatar_url      TEXT NOT NULL DEFAULT '',
		is_admin        BOOLEAN NOT NULL DEFAULT 0,
		created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_login_at   DATETIME
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_social_identity
		ON users(social_provider, social_id) WHERE social_provider <> ''`,
	`CREATE INDEX IF NOT EXISTS idx_users_email ON users(email)`,
	`CREATE TABLE IF NOT EXISTS qr_codes (
		owner_id         TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
		phone_number     TEXT NOT NULL,
		message_template TEXT NOT NULL DEFAULT '',
		updated_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id              TEXT PRIMARY KEY,
		username        TEXT NOT NULL UNIQUE,
		password_hash   TEXT NOT NULL DEFAULT '',
		email           TEXT NOT NULL DEFAULT '',
		phone_number    TEXT NOT NULL DEFAULT '',
		social_provider TEXT NOT NULL DEFAULT '',
		social_id       TEXT NOT NULL DEFAULT '',
		display_name    TEXT NOT NULL DEFAULT '',
		avatar_url      TEXT NOT NULL DEFAULT '',
		is_admin        BOOLEAN NOT NULL DEFAULT FALSE,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_login_at   TIMESTAMPTZ
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_social_identity
		ON users(social_provider, social_id) WHERE social_provider <> ''`,
	`CREATE INDEX IF NOT EXISTS idx_users_email ON users(email)`,
	`CREATE TABLE IF NOT EXISTS qr_codes (
		owner_id         TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
		phone_number     TEXT NOT NULL,
		message_template TEXT NOT NULL DEFAULT '',
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

func (s *Store) migrate(ctx context.Context) error {
	schema := sqliteSchema
	if s.driver == driverPostgres {
		schema = postgresSchema
	}

	for i, stmt := range schema {
		if _, err := s.ext.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
