// Package config loads the application configuration from the environment.
//
// CONFIGURATION SOURCES (later wins):
//  1. defaults declared in the envDefault struct tags below
//  2. a .env file in the working directory, if one exists (development)
//  3. real environment variables
//
// godotenv.Load never overrides a variable that is already set, which is
// what gives real environment variables priority over the .env file.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// ProviderCredentials are the OAuth client credentials of one provider.
// A provider with either value empty is disabled: its login button is
// hidden and its routes answer with a "provider unavailable" redirect.
type ProviderCredentials struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
}

// Configured reports whether both credentials are present.
func (p ProviderCredentials) Configured() bool {
	return p.ClientID != "" && p.ClientSecret != ""
}

// Config is the full application configuration.
type Config struct {
	Port    int    `env:"PORT"     envDefault:"8080"`
	BaseURL string `env:"BASE_URL"` // public origin, used to build OAuth callback URLs

	// AppSecret signs session and state cookies. See Load for the fallback.
	AppSecret string `env:"APP_SECRET"`

	// DBURL selects the backend: sqlite://path, a bare file path, or
	// postgres:// / postgresql:// for PostgreSQL.
	DBURL string `env:"DB_URL" envDefault:"sqlite://data/chatcode.db"`

	TemplateDir string `env:"TEMPLATE_DIR" envDefault:"web/templates"`
	StaticDir   string `env:"STATIC_DIR"   envDefault:"web/static"`

	SessionTTL       time.Duration `env:"SESSION_TTL"        envDefault:"720h"`
	OAuthStateTTL    time.Duration `env:"OAUTH_STATE_TTL"    envDefault:"10m"`
	OAuthHTTPTimeout time.Duration `env:"OAUTH_HTTP_TIMEOUT" envDefault:"5s"`
	CookieSecure     bool          `env:"COOKIE_SECURE"`

	Google ProviderCredentials `envPrefix:"GOOGLE_"`
	GitHub ProviderCredentials `envPrefix:"GITHUB_"`

	AdminUsernames []string `env:"ADMIN_USERNAMES" envSeparator:","`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile  string `env:"LOG_FILE"`

	// GeneratedSecret is true when AppSecret was not configured and a
	// random one was generated for this process.
	GeneratedSecret bool `env:"-"`
}

// Load reads .env (if present) and the environment into a Config.
//
// A missing APP_SECRET does not stop the server: a random secret is
// generated instead. Sessions then stop being valid after a restart,
// which main logs as a warning.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: loading .env: %w", err)
	}
	return Parse()
}

// Parse reads the environment into a Config without touching .env files.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("config: invalid PORT %d", cfg.Port)
	}

	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = fmt.Sprintf("http://localhost:%d", cfg.Port)
	}

	if cfg.AppSecret == "" {
		secret, err := randomSecret()
		if err != nil {
			return Config{}, err
		}
		cfg.AppSecret = secret
		cfg.GeneratedSecret = true
	}

	cfg.AdminUsernames = trimCSV(cfg.AdminUsernames)
	return cfg, nil
}

// CallbackURL returns the redirect URI registered with a provider.
func (c Config) CallbackURL(provider string) string {
	return c.BaseURL + "/auth/" + provider + "/callback"
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("config: generating APP_SECRET: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// trimCSV removes empty entries from a string slice.
func trimCSV(values []string) []string {
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			result = append(result, v)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
