// Package model defines the data structures used throughout the application.
package model

import "time"

// User represents a registered account.
//
// An account can be created two ways:
//   - password registration: Username + PasswordHash are set, SocialProvider is empty
//   - OAuth sign-in for an unseen identity: SocialProvider + SocialID are set,
//     PasswordHash is empty and Username is derived from the provider profile
//
// A password account can later gain a social identity through account
// linking (matched by Email), so both groups of fields may be populated.
//
// WHY plain strings (not *string) for optional fields?
// The empty string is the "absent" value everywhere: the columns are
// NOT NULL DEFAULT '' and the templates can print them without nil checks.
// The one exception is LastLoginAt, where the zero time would be misleading.
type User struct {
	ID             string     `json:"id"                    db:"id"`
	Username       string     `json:"username"              db:"username"`
	PasswordHash   string     `json:"-"                     db:"password_hash"`
	Email          string     `json:"email,omitempty"       db:"email"`        // lower-cased; soft linking hint, not unique
	PhoneNumber    string     `json:"phoneNumber,omitempty" db:"phone_number"` // E.164, e.g. +77011234567
	SocialProvider string     `json:"socialProvider,omitempty" db:"social_provider"`
	SocialID       string     `json:"socialId,omitempty"    db:"social_id"`
	DisplayName    string     `json:"displayName,omitempty" db:"display_name"`
	AvatarURL      string     `json:"avatarUrl,omitempty"   db:"avatar_url"`
	IsAdmin        bool       `json:"isAdmin"               db:"is_admin"`
	CreatedAt      time.Time  `json:"createdAt"             db:"created_at"`
	UpdatedAt      time.Time  `json:"updatedAt"             db:"updated_at"`
	LastLoginAt    *time.Time `json:"lastLoginAt,omitempty" db:"last_login_at"`
}

// HasSocialIdentity reports whether an external identity is linked.
// The simple model allows one provider per user.
func (u *User) HasSocialIdentity() bool {
	return u.SocialProvider != "" && u.SocialID != ""
}

// HasPassword reports whether the account can sign in with a password.
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// Name returns the best label for the account in page headers.
func (u *User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}
