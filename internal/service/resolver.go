package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/sakif/chatcode/internal/apperror"
	"github.com/sakif/chatcode/internal/auth"
	"github.com/sakif/chatcode/internal/model"
	"github.com/sakif/chatcode/internal/repository"
)

// Outcome tags how a provider profile was mapped to an account.
type Outcome int

const (
	OutcomeFailed Outcome = iota
	OutcomeLoggedIn
	OutcomeLinked
	OutcomeCreated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeLoggedIn:
		return "logged_in"
	case OutcomeLinked:
		return "linked"
	case OutcomeCreated:
		return "created"
	default:
		return "failed"
	}
}

// Resolution is the result of IdentityResolver.Resolve. User is nil only
// when Outcome is OutcomeFailed.
type Resolution struct {
	Outcome Outcome
	User    *model.User
}

const (
	usernameMinLen    = 3
	usernameMaxLen    = 24
	usernameFallback  = "user"
	maxUsernameTries  = 100
	usernamePadSuffix = "_"
)

// IdentityResolver maps an external identity to a local user.
//
// Resolution order:
//  1. (provider, external id) already linked      → OutcomeLoggedIn
//  2. earliest user with the same email and no
//     linked identity of its own                  → OutcomeLinked
//  3. otherwise a new user with a derived name    → OutcomeCreated
//
// Every successful resolution stamps last_login_at. All reads and writes
// happen inside one Store.InTx call, so two concurrent callbacks for the
// same identity cannot both create a user: the loser hits the unique index
// and its transaction rolls back.
type IdentityResolver struct {
	logger *slog.Logger
}

func NewIdentityResolver(logger *slog.Logger) *IdentityResolver {
	return &IdentityResolver{logger: logger}
}

// Resolve runs the resolution against store. Any failure is returned as an
// error wrapping apperror.ErrResolution together with a Resolution whose
// Outcome is OutcomeFailed.
func (r *IdentityResolver) Resolve(ctx context.Context, store repository.Store, p *auth.Profile) (Resolution, error) {
	if p == nil || p.Provider == "" || p.ExternalID == "" {
		return Resolution{}, apperror.OAuth(apperror.ErrResolution, errors.New("incomplete profile"))
	}

	var res Resolution
	err := store.InTx(ctx, func(tx repository.Store) error {
		var err error
		res, err = r.resolve(ctx, tx, p)
		if err != nil {
			return err
		}
		return tx.TouchLastLogin(ctx, res.User.ID)
	})
	if err != nil {
		return Resolution{}, apperror.OAuth(apperror.ErrResolution,
			fmt.Errorf("service/resolver: %s %s: %w", p.Provider, p.ExternalID, err))
	}

	r.logger.Info("oauth identity resolved",
		slog.String("provider", p.Provider),
		slog.String("outcome", res.Outcome.String()),
		slog.String("userID", res.User.ID),
	)
	return res, nil
}

func (r *IdentityResolver) resolve(ctx context.Context, tx repository.Store, p *auth.Profile) (Resolution, error) {
	user, err := tx.GetUserBySocialIdentity(ctx, p.Provider, p.ExternalID)
	switch {
	case err == nil:
		return Resolution{Outcome: OutcomeLoggedIn, User: user}, nil
	case !errors.Is(err, apperror.ErrNotFound):
		return Resolution{}, err
	}

	if p.Email != "" {
		user, err := tx.FindUserByEmail(ctx, p.Email)
		switch {
		case err == nil && !user.HasSocialIdentity():
			if err := tx.LinkSocialIdentity(ctx, user.ID, p.Provider, p.ExternalID, p.DisplayName, p.AvatarURL); err != nil {
				return Resolution{}, err
			}
			linked, err := tx.GetUserByID(ctx, user.ID)
			if err != nil {
				return Resolution{}, err
			}
			return Resolution{Outcome: OutcomeLinked, User: linked}, nil
		case err == nil:
			// One identity per user: the email owner is already linked
			// elsewhere, so this identity gets its own account.
			r.logger.Debug("email owner already linked, creating new account",
				slog.String("provider", p.Provider),
				slog.String("ownerID", user.ID),
			)
		case !errors.Is(err, apperror.ErrNotFound):
			return Resolution{}, err
		}
	}

	username, err := availableUsername(ctx, tx, usernameBase(p))
	if err != nil {
		return Resolution{}, err
	}

	user = &model.User{
		Username:       username,
		Email:          p.Email,
		SocialProvider: p.Provider,
		SocialID:       p.ExternalID,
		DisplayName:    p.DisplayName,
		AvatarURL:      p.AvatarURL,
	}
	if err := tx.CreateUser(ctx, user); err != nil {
		return Resolution{}, err
	}
	return Resolution{Outcome: OutcomeCreated, User: user}, nil
}

// usernameBase picks the seed for a new username: the display name, else
// the external id, else "user".
func usernameBase(p *auth.Profile) string {
	for _, s := range []string{p.DisplayName, p.ExternalID} {
		if slug := slugify(s); slug != "" {
			return slug
		}
	}
	return usernameFallback
}

// slugify lower-cases s and maps it onto [a-z0-9_-]. Runs of other
// characters become one dash; leading and trailing dashes are dropped.
// The result is cut to usernameMaxLen and padded to usernameMinLen, or
// empty if nothing usable remains.
func slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, c := range strings.ToLower(s) {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '_':
			b.WriteRune(c)
			dash = false
		case !dash:
			b.WriteByte('-')
			dash = true
		}
	}

	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		return ""
	}
	if len(slug) > usernameMaxLen {
		slug = strings.TrimRight(slug[:usernameMaxLen], "-")
	}
	for len(slug) < usernameMinLen {
		slug += usernamePadSuffix
	}
	return slug
}

// availableUsername returns base, or base-2, base-3 … up to
// maxUsernameTries candidates. Suffixed candidates shorten base so the
// result still fits usernameMaxLen.
func availableUsername(ctx context.Context, tx repository.Store, base string) (string, error) {
	for i := 1; i <= maxUsernameTries; i++ {
		candidate := base
		if i > 1 {
			suffix := "-" + strconv.Itoa(i)
			stem := base
			if len(stem)+len(suffix) > usernameMaxLen {
				stem = stem[:usernameMaxLen-len(suffix)]
			}
			candidate = stem + suffix
		}

		taken, err := tx.UsernameExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free username for %q after %d candidates", base, maxUsernameTries)
}
