// Package repository declares the storage contracts used by the service
// layer. Implementations live in sub-packages (sqlstore); services and
// tests depend only on these interfaces.
package repository

import (
	"context"

	"github.com/sakif/chatcode/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
}

// UserRepository persists accounts.
//
// Lookups return an error wrapping apperror.ErrNotFound when no row
// matches. CreateUser and LinkSocialIdentity return apperror.ErrConflict
// when a unique constraint (username, or the provider/social id pair)
// is violated.
type UserRepository interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	GetUserBySocialIdentity(ctx context.Context, provider, socialID string) (*model.User, error)

	// FindUserByEmail returns the earliest-created user with the given
	// (lower-cased) email. Emails are not unique.
	FindUserByEmail(ctx context.Context, email string) (*model.User, error)

	UsernameExists(ctx context.Context, username string) (bool, error)

	// LinkSocialIdentity attaches a provider identity to an existing user
	// and fills display name and avatar only where they are empty.
	LinkSocialIdentity(ctx context.Context, userID, provider, socialID, displayName, avatarURL string) error

	UpdatePhone(ctx context.Context, userID, phone string) error
	TouchLastLogin(ctx context.Context, userID string) error
	SetAdmin(ctx context.Context, username string, isAdmin bool) (bool, error)

	ListUsers(ctx context.Context, opts ListOptions) ([]model.User, error)
	CountUsers(ctx context.Context) (int, error)
}

// QRRepository persists the inputs of each user's QR code.
type QRRepository interface {
	UpsertQRRecord(ctx context.Context, rec *model.QRRecord) error
	GetQRRecord(ctx context.Context, ownerID string) (*model.QRRecord, error)
}

// Store is the full storage surface. InTx runs fn against a Store bound to
// a single transaction, committing when fn returns nil and rolling back
// otherwise.
type Store interface {
	UserRepository
	QRRepository
	InTx(ctx context.Context, fn func(Store) error) error
}
