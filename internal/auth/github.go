package auth

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

const githubAPIBase = "https://api.github.com"

// githubUser is the portion of the GitHub /user API response we care about.
// GitHub returns a much larger object; we only unmarshal the fields we need.
//
// GitHub API docs: https://docs.github.com/en/rest/users/users#get-the-authenticated-user
type githubUser struct {
	ID        int64  `json:"id"`    // numeric user ID, stable across renames
	Login     string `json:"login"` // GitHub username, e.g. "sakif"
	Name      string `json:"name"`
	Email     string `json:"email"` // empty if hidden in GitHub settings
	AvatarURL string `json:"avatar_url"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// GitHubProvider signs users in with a GitHub OAuth App.
//
// Register the app at https://github.com/settings/developers and set its
// "Authorization callback URL" to {BASE_URL}/auth/github/callback.
//
// Scopes we request:
//   - "read:user" for the public profile (ID, login, name, avatar)
//   - "user:email" so /user/emails works when the public email is hidden
type GitHubProvider struct {
	*oauthClient
	apiBase string
}

var _ Provider = (*GitHubProvider)(nil)

// NewGitHubProvider creates a GitHubProvider.
func NewGitHubProvider(cfg ProviderConfig) *GitHubProvider {
	apiBase := githubAPIBase
	if cfg.Endpoints.APIBaseURL != "" {
		apiBase = strings.TrimRight(cfg.Endpoints.APIBaseURL, "/")
	}
	return &GitHubProvider{
		oauthClient: newOAuthClient(ProviderGitHub, cfg, github.Endpoint, []string{"read:user", "user:email"}),
		apiBase:     apiBase,
	}
}

// FetchProfile calls GET /user and, when the public email is empty, falls
// back to the primary verified address from GET /user/emails. A failure of
// the fallback is not fatal: the profile is returned without an email.
func (p *GitHubProvider) FetchProfile(ctx context.Context, token *oauth2.Token) (*Profile, error) {
	if err := checkToken(token); err != nil {
		return nil, p.profileError(err)
	}

	var u githubUser
	if err := p.getJSON(ctx, token, p.apiBase+"/user", githubHeader(), &u); err != nil {
		return nil, p.profileError(err)
	}
	if u.ID == 0 {
		return nil, p.profileError(errMissingID)
	}

	email := u.Email
	if email == "" {
		email = p.primaryEmail(ctx, token)
	}

	name := strings.TrimSpace(u.Name)
	if name == "" {
		name = u.Login
	}

	return &Profile{
		Provider:    p.Name(),
		ExternalID:  strconv.FormatInt(u.ID, 10),
		Email:       normalizeEmail(email),
		DisplayName: name,
		AvatarURL:   u.AvatarURL,
	}, nil
}

func (p *GitHubProvider) primaryEmail(ctx context.Context, token *oauth2.Token) string {
	var emails []githubEmail
	if err := p.getJSON(ctx, token, p.apiBase+"/user/emails", githubHeader(), &emails); err != nil {
		return ""
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email
		}
	}
	return ""
}

func githubHeader() http.Header {
	h := http.Header{}
	h.Set("X-GitHub-Api-Version", "2022-11-28")
	return h
}
