package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unsetenv removes variables for the duration of the test.
// t.Setenv first so the original values are restored on cleanup.
func unsetenv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestParse_Defaults(t *testing.T) {
	unsetenv(t, "PORT", "BASE_URL", "APP_SECRET", "DB_URL", "SESSION_TTL",
		"OAUTH_STATE_TTL", "OAUTH_HTTP_TIMEOUT",
		"GOOGLE_CLIENT_ID", "GOOGLE_CLIENT_SECRET", "GITHUB_CLIENT_ID", "GITHUB_CLIENT_SECRET")

	cfg, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "http://localhost:8080", cfg.BaseURL)
	assert.Equal(t, "sqlite://data/chatcode.db", cfg.DBURL)
	assert.Equal(t, 720*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 10*time.Minute, cfg.OAuthStateTTL)
	assert.Equal(t, 5*time.Second, cfg.OAuthHTTPTimeout)
	assert.False(t, cfg.Google.Configured())
	assert.False(t, cfg.GitHub.Configured())

	// No APP_SECRET: a random one is generated and flagged
	assert.True(t, cfg.GeneratedSecret)
	assert.Len(t, cfg.AppSecret, 64)
}

func TestParse_ProvidersAndBaseURL(t *testing.T) {
	unsetenv(t, "PORT")
	t.Setenv("BASE_URL", "https://chatcode.example/ ")
	t.Setenv("APP_SECRET", "a-very-long-application-secret")
	t.Setenv("GITHUB_CLIENT_ID", "gh-id")
	t.Setenv("GITHUB_CLIENT_SECRET", "gh-secret")
	t.Setenv("GOOGLE_CLIENT_ID", "only-the-id")
	t.Setenv("GOOGLE_CLIENT_SECRET", "")
	t.Setenv("ADMIN_USERNAMES", "alice, ,bob")

	cfg, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, "https://chatcode.example", cfg.BaseURL)
	assert.Equal(t, "https://chatcode.example/auth/github/callback", cfg.CallbackURL("github"))
	assert.False(t, cfg.GeneratedSecret)
	assert.True(t, cfg.GitHub.Configured())
	assert.False(t, cfg.Google.Configured(), "a provider needs both id and secret")
	assert.Equal(t, []string{"alice", "bob"}, cfg.AdminUsernames)
}

func TestParse_InvalidPort(t *testing.T) {
	t.Setenv("PORT", "0")

	_, err := Parse()
	assert.Error(t, err)
}

func TestParse_MalformedDuration(t *testing.T) {
	unsetenv(t, "PORT")
	t.Setenv("SESSION_TTL", "forever")

	_, err := Parse()
	assert.Error(t, err)
}
