package auth

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const googleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

var errMissingID = errors.New("profile has no account id")

// googleUserInfo is the OpenID Connect userinfo document.
type googleUserInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// GoogleProvider signs users in with a Google OAuth client.
// An email Google has not verified is dropped, since it would otherwise
// be enough to take over a local account with the same address.
type GoogleProvider struct {
	*oauthClient
	userInfoURL string
}

var _ Provider = (*GoogleProvider)(nil)

func NewGoogleProvider(cfg ProviderConfig) *GoogleProvider {
	userInfo := googleUserInfoURL
	if cfg.Endpoints.UserInfoURL != "" {
		userInfo = cfg.Endpoints.UserInfoURL
	}
	return &GoogleProvider{
		oauthClient: newOAuthClient(ProviderGoogle, cfg, google.Endpoint, []string{"openid", "email", "profile"}),
		userInfoURL: userInfo,
	}
}

func (p *GoogleProvider) FetchProfile(ctx context.Context, token *oauth2.Token) (*Profile, error) {
	if err := checkToken(token); err != nil {
		return nil, p.profileError(err)
	}

	var info googleUserInfo
	if err := p.getJSON(ctx, token, p.userInfoURL, nil, &info); err != nil {
		return nil, p.profileError(err)
	}
	if info.Sub == "" {
		return nil, p.profileError(errMissingID)
	}

	email := ""
	if info.EmailVerified {
		email = normalizeEmail(info.Email)
	}

	return &Profile{
		Provider:    p.Name(),
		ExternalID:  info.Sub,
		Email:       email,
		DisplayName: strings.TrimSpace(info.Name),
		AvatarURL:   info.Picture,
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
