package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/chatcode/internal/apperror"
	"github.com/sakif/chatcode/internal/auth"
	"github.com/sakif/chatcode/internal/model"
)

func newOAuthUser(username, provider, socialID string) *model.User {
	return &model.User{
		Username:       username,
		SocialProvider: provider,
		SocialID:       socialID,
	}
}

func githubProfile(id, email, name string) *auth.Profile {
	return &auth.Profile{
		Provider:    "github",
		ExternalID:  id,
		Email:       email,
		DisplayName: name,
		AvatarURL:   "https://avatars.example/" + id,
	}
}

func TestResolve_CreatesThenLogsIn(t *testing.T) {
	store := newFakeStore()
	r := NewIdentityResolver(testLogger())
	p := githubProfile("42", "octo@example.com", "The Octocat")

	first, err := r.Resolve(context.Background(), store, p)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, first.Outcome)
	assert.Equal(t, "the-octocat", first.User.Username)
	assert.Equal(t, "octo@example.com", first.User.Email)
	assert.Equal(t, "The Octocat", first.User.DisplayName)

	second, err := r.Resolve(context.Background(), store, p)
	require.NoError(t, err)
	assert.Equal(t, OutcomeLoggedIn, second.Outcome)
	assert.Equal(t, first.User.ID, second.User.ID, "same identity maps to the same user")
	assert.Equal(t, 1, store.userCount())

	stored, err := store.GetUserByID(context.Background(), first.User.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.LastLoginAt)
}

func TestResolve_LinksPasswordAccountByEmail(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	owner := &model.User{Username: "alice", PasswordHash: "hash", Email: "alice@example.com"}
	require.NoError(t, store.CreateUser(ctx, owner))

	r := NewIdentityResolver(testLogger())
	res, err := r.Resolve(ctx, store, githubProfile("7", "alice@example.com", "Alice A."))
	require.NoError(t, err)

	assert.Equal(t, OutcomeLinked, res.Outcome)
	assert.Equal(t, owner.ID, res.User.ID)
	assert.Equal(t, "github", res.User.SocialProvider)
	assert.Equal(t, "7", res.User.SocialID)
	assert.Equal(t, "Alice A.", res.User.DisplayName, "empty display name is filled")
	assert.Equal(t, 1, store.userCount(), "linking must not create a user")

	// The password still works alongside the linked identity.
	assert.True(t, res.User.HasPassword())
}

func TestResolve_LinkKeepsExistingDisplayName(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	owner := &model.User{Username: "alice", Email: "alice@example.com", DisplayName: "Alice"}
	require.NoError(t, store.CreateUser(ctx, owner))

	res, err := NewIdentityResolver(testLogger()).
		Resolve(ctx, store, githubProfile("7", "alice@example.com", "Someone Else"))
	require.NoError(t, err)
	assert.Equal(t, "Alice", res.User.DisplayName)
}

func TestResolve_EmailOwnerAlreadyLinked(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	owner := &model.User{Username: "alice", Email: "alice@example.com", SocialProvider: "google", SocialID: "g-1"}
	require.NoError(t, store.CreateUser(ctx, owner))

	res, err := NewIdentityResolver(testLogger()).
		Resolve(ctx, store, githubProfile("7", "alice@example.com", "Alice"))
	require.NoError(t, err)

	assert.Equal(t, OutcomeCreated, res.Outcome)
	assert.NotEqual(t, owner.ID, res.User.ID)
	assert.Equal(t, 2, store.userCount())

	// The original link is untouched.
	got, _ := store.GetUserByID(ctx, owner.ID)
	assert.Equal(t, "google", got.SocialProvider)
}

func TestResolve_EarliestEmailOwnerWins(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	first := &model.User{Username: "first", Email: "shared@example.com"}
	second := &model.User{Username: "second", Email: "shared@example.com"}
	require.NoError(t, store.CreateUser(ctx, first))
	require.NoError(t, store.CreateUser(ctx, second))

	res, err := NewIdentityResolver(testLogger()).
		Resolve(ctx, store, githubProfile("7", "shared@example.com", ""))
	require.NoError(t, err)
	assert.Equal(t, OutcomeLinked, res.Outcome)
	assert.Equal(t, first.ID, res.User.ID)
}

// Two providers, no email, same display name: two distinct accounts.
func TestResolve_TwoProvidersWithoutEmail(t *testing.T) {
	store := newFakeStore()
	r := NewIdentityResolver(testLogger())
	ctx := context.Background()

	gh, err := r.Resolve(ctx, store, &auth.Profile{Provider: "github", ExternalID: "1", DisplayName: "Sam"})
	require.NoError(t, err)
	gg, err := r.Resolve(ctx, store, &auth.Profile{Provider: "google", ExternalID: "1", DisplayName: "Sam"})
	require.NoError(t, err)

	assert.Equal(t, OutcomeCreated, gh.Outcome)
	assert.Equal(t, OutcomeCreated, gg.Outcome)
	assert.NotEqual(t, gh.User.ID, gg.User.ID)
	assert.Equal(t, "sam", gh.User.Username)
	assert.Equal(t, "sam-2", gg.User.Username)
	assert.Equal(t, 2, store.userCount())
}

func TestResolve_UsernameCandidatesExhausted(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	require.NoError(t, store.CreateUser(ctx, &model.User{Username: "sam"}))
	for i := 2; i <= 100; i++ {
		require.NoError(t, store.CreateUser(ctx, &model.User{Username: fmt.Sprintf("sam-%d", i)}))
	}

	res, err := NewIdentityResolver(testLogger()).
		Resolve(ctx, store, &auth.Profile{Provider: "github", ExternalID: "1", DisplayName: "Sam"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrResolution))
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Nil(t, res.User)
	assert.Equal(t, 100, store.userCount(), "nothing created")
}

func TestResolve_StoreFailureRollsBack(t *testing.T) {
	store := newFakeStore()
	store.createErr = errors.New("database is locked")

	_, err := NewIdentityResolver(testLogger()).
		Resolve(context.Background(), store, githubProfile("1", "", "Sam"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrResolution))
	assert.Equal(t, 0, store.userCount())
}

func TestResolve_IncompleteProfile(t *testing.T) {
	r := NewIdentityResolver(testLogger())
	for _, p := range []*auth.Profile{nil, {Provider: "github"}, {ExternalID: "1"}} {
		_, err := r.Resolve(context.Background(), newFakeStore(), p)
		assert.True(t, errors.Is(err, apperror.ErrResolution))
	}
}

func TestUsernameBase(t *testing.T) {
	tests := []struct {
		name    string
		profile auth.Profile
		want    string
	}{
		{"display name", auth.Profile{DisplayName: "Jane Doe", ExternalID: "9"}, "jane-doe"},
		{"punctuation collapses", auth.Profile{DisplayName: "  J.  R. R.  Tolkien!! "}, "j-r-r-tolkien"},
		{"underscore kept", auth.Profile{DisplayName: "snake_case"}, "snake_case"},
		{"non-latin falls back to id", auth.Profile{DisplayName: "Жанна", ExternalID: "12345"}, "12345"},
		{"short padded", auth.Profile{DisplayName: "Al"}, "al_"},
		{"single char padded", auth.Profile{ExternalID: "7"}, "7__"},
		{"nothing usable", auth.Profile{DisplayName: "!!!"}, "user"},
		{"long cut", auth.Profile{DisplayName: strings.Repeat("abc", 20)}, strings.Repeat("abc", 8)},
		{"cut never ends in dash", auth.Profile{DisplayName: strings.Repeat("a", 23) + " bcd"}, strings.Repeat("a", 23)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.profile
			got := usernameBase(&p)
			assert.Equal(t, tt.want, got)
			assert.LessOrEqual(t, len(got), usernameMaxLen)
			assert.GreaterOrEqual(t, len(got), usernameMinLen)
		})
	}
}

func TestAvailableUsername_SuffixFitsMaxLength(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	base := strings.Repeat("x", usernameMaxLen)
	require.NoError(t, store.CreateUser(ctx, &model.User{Username: base}))

	got, err := availableUsername(ctx, store, base)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("x", usernameMaxLen-2)+"-2", got)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "logged_in", OutcomeLoggedIn.String())
	assert.Equal(t, "linked", OutcomeLinked.String())
	assert.Equal(t, "created", OutcomeCreated.String())
	assert.Equal(t, "failed", OutcomeFailed.String())
}
