package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rs/xid"

	"github.com/sakif/chatcode/internal/apperror"
	"github.com/sakif/chatcode/internal/model"
	"github.com/sakif/chatcode/internal/repository"
)

const userColumns = `id, username, password_hash, email, phone_number,
	social_provider, social_id, display_name, avatar_url, is_admin,
	created_at, updated_at, last_login_at`

// CreateUser inserts user. ID and timestamps are filled in when empty, so
// after the call the caller's struct matches the stored row.
//
// NAMED PARAMETERS:
// sqlx binds :username, :email, ... from the struct's db tags and then
// rewrites them into the driver's placeholder style.
func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	if user.ID == "" {
		user.ID = xid.New().String()
	}
	ts := now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = ts
	}
	user.UpdatedAt = ts

	_, err := sqlx.NamedExecContext(ctx, s.ext,
		`INSERT INTO users (id, username, password_hash, email, phone_number,
			social_provider, social_id, display_name, avatar_url, is_admin,
			created_at, updated_at, last_login_at)
		 VALUES (:id, :username, :password_hash, :email, :phone_number,
			:social_provider, :social_id, :display_name, :avatar_url, :is_admin,
			:created_at, :updated_at, :last_login_at)`,
		user,
	)
	if err != nil {
		// username or social identity already taken
		if isUniqueViolation(err) {
			return apperror.Conflict("user", user.Username)
		}
		return fmt.Errorf("sqlstore: creating user %q: %w", user.Username, err)
	}
	return nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return s.getUser(ctx, "id", id, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return s.getUser(ctx, "username", username, `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
}

func (s *Store) GetUserBySocialIdentity(ctx context.Context, provider, socialID string) (*model.User, error) {
	if provider == "" || socialID == "" {
		return nil, apperror.NotFound("user", provider+":"+socialID)
	}
	return s.getUser(ctx, "social identity", provider+":"+socialID,
		`SELECT `+userColumns+` FROM users WHERE social_provider = ? AND social_id = ?`,
		provider, socialID)
}

// FindUserByEmail orders by created_at then id; xids sort by creation
// time, so ties within the same timestamp stay deterministic.
func (s *Store) FindUserByEmail(ctx context.Context, email string) (*model.User, error) {
	if email == "" {
		return nil, apperror.NotFound("user", "email")
	}
	return s.getUser(ctx, "email", email,
		`SELECT `+userColumns+` FROM users WHERE email = ? ORDER BY created_at ASC, id ASC LIMIT 1`,
		email)
}

func (s *Store) getUser(ctx context.Context, by, key, query string, args ...any) (*model.User, error) {
	var u model.User
	if err := s.get(ctx, &u, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", key)
		}
		return nil, fmt.Errorf("sqlstore: getting user by %s: %w", by, err)
	}
	return &u, nil
}

func (s *Store) UsernameExists(ctx context.Context, username string) (bool, error) {
	var n int
	if err := s.get(ctx, &n, `SELECT COUNT(*) FROM users WHERE username = ?`, username); err != nil {
		return false, fmt.Errorf("sqlstore: checking username %q: %w", username, err)
	}
	return n > 0, nil
}

// LinkSocialIdentity only updates a user that has no identity yet. A user
// that is already linked yields ErrConflict; the caller decides what to do.
func (s *Store) LinkSocialIdentity(ctx context.Context, userID, provider, socialID, displayName, avatarURL string) error {
	res, err := s.exec(ctx,
		`UPDATE users SET
			social_provider = ?,
			social_id = ?,
			display_name = CASE WHEN display_name = '' THEN ? ELSE display_name END,
			avatar_url = CASE WHEN avatar_url = '' THEN ? ELSE avatar_url END,
			updated_at = ?
		 WHERE id = ? AND social_provider = ''`,
		provider, socialID, displayName, avatarURL, now(), userID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("social identity", provider+":"+socialID)
		}
		return fmt.Errorf("sqlstore: linking %s identity to user %s: %w", provider, userID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlstore: linking identity: %w", err)
	}
	if n == 0 {
		if _, err := s.GetUserByID(ctx, userID); err != nil {
			return err
		}
		return apperror.Conflict("user", userID)
	}
	return nil
}

func (s *Store) UpdatePhone(ctx context.Context, userID, phone string) error {
	return s.updateOne(ctx, userID, "updating phone",
		`UPDATE users SET phone_number = ?, updated_at = ? WHERE id = ?`,
		phone, now(), userID)
}

func (s *Store) TouchLastLogin(ctx context.Context, userID string) error {
	return s.updateOne(ctx, userID, "touching last login",
		`UPDATE users SET last_login_at = ? WHERE id = ?`,
		now(), userID)
}

// SetAdmin sets the admin flag by username and reports whether the user
// exists.
func (s *Store) SetAdmin(ctx context.Context, username string, isAdmin bool) (bool, error) {
	res, err := s.exec(ctx,
		`UPDATE users SET is_admin = ?, updated_at = ? WHERE username = ?`,
		isAdmin, now(), username)
	if err != nil {
		return false, fmt.Errorf("sqlstore: setting admin flag for %q: %w", username, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlstore: setting admin flag: %w", err)
	}
	return n > 0, nil
}

func (s *Store) updateOne(ctx context.Context, userID, what, query string, args ...any) error {
	res, err := s.exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sqlstore: %s for user %s: %w", what, userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlstore: %s: %w", what, err)
	}
	if n == 0 {
		return apperror.NotFound("user", userID)
	}
	return nil
}

// ListUsers returns users newest first.
//
// LIMIT/OFFSET pagination with the same bounds as the admin API:
// default 20, at most 100 rows per page.
func (s *Store) ListUsers(ctx context.Context, opts repository.ListOptions) ([]model.User, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	users := make([]model.User, 0, limit)
	err := s.selectRows(ctx, &users,
		`SELECT `+userColumns+` FROM users ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: listing users: %w", err)
	}
	return users, nil
}

func (s *Store) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.get(ctx, &n, `SELECT COUNT(*) FROM users`); err != nil {
		return 0, fmt.Errorf("sqlstore: counting users: %w", err)
	}
	return n, nil
}
