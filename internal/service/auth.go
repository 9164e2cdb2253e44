// Package service holds the business logic. Handlers call services;
// services call repositories and the auth building blocks:
//
//	AuthHandler (HTTP) → AuthService  (password accounts, sessions, admin)
//	                   → OAuthService (provider sign-in) → IdentityResolver
//	QRHandler   (HTTP) → QRService    (phone, preset message, PNG)
//
// No service reads HTTP requests, sets cookies or knows about chi. They take
// plain values and return model types or apperror-wrapped errors.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/chatcode/internal/apperror"
	"github.com/sakif/chatcode/internal/auth"
	"github.com/sakif/chatcode/internal/model"
	"github.com/sakif/chatcode/internal/qr"
	"github.com/sakif/chatcode/internal/repository"
	"github.com/sakif/chatcode/internal/validate"
)

// AuthService handles password accounts, sessions and admin rights.
//
// DEPENDENCIES (injected via NewAuthService):
//   - store      repository.Store       → users and QR records, transactions
//   - tokens     *auth.TokenService     → generate/validate session JWTs
//   - passwords  *auth.PasswordService  → bcrypt hashing
//   - logger     *slog.Logger           → structured logging
type AuthService struct {
	store     repository.Store
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	logger    *slog.Logger
}

// NewAuthService creates an AuthService with all required dependencies.
func NewAuthService(
	store repository.Store,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		store:     store,
		tokens:    tokens,
		passwords: passwords,
		logger:    logger,
	}
}

// AuthResult bundles the user record and the issued session token so the
// handler can set the cookie and redirect in one step.
type AuthResult struct {
	User  *model.User
	Token string
}

// RegisterInput is the registration form.
type RegisterInput struct {
	Username string `form:"username" validate:"required,username"`
	Password string `form:"password" validate:"required,min=6,max=72"`
	Email    string `form:"email"    validate:"omitempty,email,max=254"`
	Phone    string `form:"phone"    validate:"required,phone"`
	Preset   string `form:"preset"   validate:"max=500"`
}

// normalize trims input the way users type it: stray spaces, a phone with
// dashes, an email in mixed case. The password is left untouched.
func (in *RegisterInput) normalize() {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Phone = qr.NormalizePhone(in.Phone)
	in.Preset = strings.TrimSpace(in.Preset)
}

// Register creates a password account and its QR record in one transaction
// and signs the new user in.
//
// ERRORS:
//   - apperror.ErrValidation for malformed input (Field names the form field)
//   - apperror.ErrConflict when the username is taken
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	in.normalize()
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	// validator counts runes; bcrypt's limit is in bytes.
	if err := auth.CheckLength(in.Password); err != nil {
		return nil, apperror.ValidationFailed("password", err.Error())
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("service/auth: hashing password: %w", err)
	}

	user := &model.User{
		Username:     in.Username,
		PasswordHash: hash,
		Email:        in.Email,
		PhoneNumber:  in.Phone,
	}

	err = s.store.InTx(ctx, func(tx repository.Store) error {
		taken, err := tx.UsernameExists(ctx, user.Username)
		if err != nil {
			return err
		}
		if taken {
			return usernameTaken()
		}
		if err := tx.CreateUser(ctx, user); err != nil {
			if errors.Is(err, apperror.ErrConflict) {
				return usernameTaken()
			}
			return err
		}
		if err := tx.UpsertQRRecord(ctx, &model.QRRecord{
			OwnerID:         user.ID,
			PhoneNumber:     in.Phone,
			MessageTemplate: in.Preset,
		}); err != nil {
			return err
		}
		return tx.TouchLastLogin(ctx, user.ID)
	})
	if err != nil {
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, fmt.Errorf("service/auth: registering %q: %w", in.Username, err)
	}

	s.logger.Info("user registered",
		slog.String("userID", user.ID),
		slog.String("username", user.Username),
	)

	return s.issue(user)
}

func usernameTaken() *apperror.AppError {
	return &apperror.AppError{
		Err:     apperror.ErrConflict,
		Message: "username is already taken",
		Field:   "username",
	}
}

// Login checks a username and password.
//
// Every failure (unknown user, OAuth-only account, wrong password) returns
// the same ErrUnauthorized "invalid credentials" so the response does not
// reveal which usernames exist.
func (s *AuthService) Login(ctx context.Context, username, password string) (*AuthResult, error) {
	username = strings.TrimSpace(username)
	invalid := apperror.Unauthorized("invalid credentials")

	if username == "" || password == "" {
		return nil, invalid
	}

	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, invalid
		}
		return nil, fmt.Errorf("service/auth: looking up %q: %w", username, err)
	}

	if !user.HasPassword() {
		return nil, invalid
	}
	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		if !errors.Is(err, auth.ErrPasswordMismatch) {
			s.logger.Warn("password verification failed",
				slog.String("userID", user.ID),
				slog.String("error", err.Error()),
			)
		}
		return nil, invalid
	}

	if err := s.store.TouchLastLogin(ctx, user.ID); err != nil {
		return nil, fmt.Errorf("service/auth: recording login for %s: %w", user.ID, err)
	}

	s.logger.Info("user signed in with password", slog.String("userID", user.ID))
	return s.issue(user)
}

func (s *AuthService) issue(user *model.User) (*AuthResult, error) {
	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for user %s: %w", user.ID, err)
	}
	return &AuthResult{User: user, Token: token}, nil
}

// GetUserByID returns the user for the given internal ID.
// Used by page handlers and /api/me after the middleware has put the
// session subject in the request context.
func (s *AuthService) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, apperror.Unauthorized("no session")
	}

	user, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/auth: fetching user %s: %w", id, err)
	}
	return user, nil
}

// ValidateToken validates a session token and returns the user ID it
// encodes.
func (s *AuthService) ValidateToken(tokenStr string) (string, error) {
	userID, err := s.tokens.Validate(tokenStr)
	if err != nil {
		return "", fmt.Errorf("service/auth: %w", err)
	}
	return userID, nil
}

// IsAdmin implements auth.AdminChecker.
func (s *AuthService) IsAdmin(ctx context.Context, userID string) (bool, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("service/auth: checking admin %s: %w", userID, err)
	}
	return user.IsAdmin, nil
}

// UserPage is one page of the admin user listing.
type UserPage struct {
	Users  []model.User `json:"users"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// ListUsers returns a page of users, newest first. limit is clamped to
// 1..100 (default 20) and a negative offset is treated as 0.
func (s *AuthService) ListUsers(ctx context.Context, limit, offset int) (*UserPage, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	users, err := s.store.ListUsers(ctx, repository.ListOptions{Limit: limit, Offset: offset})
	if err != nil {
		return nil, fmt.Errorf("service/auth: listing users: %w", err)
	}
	total, err := s.store.CountUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("service/auth: counting users: %w", err)
	}

	return &UserPage{Users: users, Total: total, Limit: limit, Offset: offset}, nil
}

// PromoteAdmins grants admin rights to each existing username and returns
// how many were found. Unknown names are logged and skipped, so a stale
// ADMIN_USERNAMES entry never blocks startup.
func (s *AuthService) PromoteAdmins(ctx context.Context, usernames []string) (int, error) {
	promoted := 0
	for _, name := range usernames {
		found, err := s.store.SetAdmin(ctx, name, true)
		if err != nil {
			return promoted, fmt.Errorf("service/auth: promoting %q: %w", name, err)
		}
		if !found {
			s.logger.Warn("admin username not found", slog.String("username", name))
			continue
		}
		promoted++
	}
	return promoted, nil
}
