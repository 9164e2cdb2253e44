package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/sakif/chatcode/internal/apperror"
)

// DefaultHTTPTimeout bounds every call to a provider (token exchange and
// profile fetch). Provider calls are never retried.
const DefaultHTTPTimeout = 5 * time.Second

// Provider names, as used in routes and stored in users.social_provider.
const (
	ProviderGoogle = "google"
	ProviderGitHub = "github"
)

// Profile is the provider-neutral view of an external account.
// ExternalID is the provider's stable identifier and is never empty.
// Email is empty when the provider did not supply a verified one.
type Profile struct {
	Provider    string
	ExternalID  string
	Email       string
	DisplayName string
	AvatarURL   string
}

// Provider is one OAuth identity provider.
//
// OAUTH 2.0 AUTHORIZATION CODE FLOW:
//  1. The server redirects the user to the provider's authorization
//     endpoint (AuthURL), carrying the client ID, scopes and a state token.
//  2. The user approves (or denies) the request on the provider's site.
//  3. The provider redirects back to our callback with a short-lived "code".
//  4. The server trades the code for an access token (Exchange). This is a
//     server-to-server call authenticated with the client secret, so the
//     access token never touches the browser.
//  5. The server uses the access token to read the user's profile
//     (FetchProfile) and maps it to a local account.
type Provider interface {
	// Name is the lower-case key used in URLs: "github", "google".
	Name() string

	// AuthURL builds the authorization redirect. It performs no I/O.
	AuthURL(state string) (string, error)

	// Exchange trades an authorization code for an access token.
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)

	// FetchProfile reads and normalizes the user's profile.
	FetchProfile(ctx context.Context, token *oauth2.Token) (*Profile, error)
}

// Endpoints overrides a provider's default URLs. Empty fields keep the
// provider default. Tests point these at httptest servers.
type Endpoints struct {
	AuthURL     string
	TokenURL    string
	APIBaseURL  string // GitHub REST API root
	UserInfoURL string // Google OpenID userinfo endpoint
}

// ProviderConfig holds the settings shared by every provider adapter.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string // must match the callback registered with the provider
	HTTPTimeout  time.Duration
	Endpoints    Endpoints
}

// oauthClient is the plumbing every adapter embeds: the oauth2 config and
// a bounded HTTP client.
type oauthClient struct {
	name   string
	config *oauth2.Config
	http   *http.Client
}

func newOAuthClient(name string, cfg ProviderConfig, endpoint oauth2.Endpoint, scopes []string) *oauthClient {
	if cfg.Endpoints.AuthURL != "" {
		endpoint.AuthURL = cfg.Endpoints.AuthURL
	}
	if cfg.Endpoints.TokenURL != "" {
		endpoint.TokenURL = cfg.Endpoints.TokenURL
	}
	// Credentials always go in the POST body. AuthStyleAutoDetect would
	// try the header style first and silently re-send the code on failure.
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}

	return &oauthClient{
		name: name,
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		http: &http.Client{Timeout: timeout},
	}
}

func (c *oauthClient) Name() string {
	return c.name
}

func (c *oauthClient) configured() bool {
	return c.config.ClientID != "" && c.config.ClientSecret != ""
}

func (c *oauthClient) AuthURL(state string) (string, error) {
	if !c.configured() {
		return "", apperror.OAuth(apperror.ErrConfiguration,
			fmt.Errorf("%s: missing client credentials", c.name))
	}
	return c.config.AuthCodeURL(state, oauth2.AccessTypeOnline), nil
}

func (c *oauthClient) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if !c.configured() {
		return nil, apperror.OAuth(apperror.ErrConfiguration,
			fmt.Errorf("%s: missing client credentials", c.name))
	}
	if code == "" {
		return nil, apperror.OAuth(apperror.ErrOAuthExchange,
			fmt.Errorf("%s: empty authorization code", c.name))
	}

	// oauth2 picks up the HTTP client from the context.
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)

	tok, err := c.config.Exchange(ctx, code)
	if err != nil {
		return nil, apperror.OAuth(apperror.ErrOAuthExchange,
			fmt.Errorf("%s: exchanging code: %w", c.name, err))
	}
	if tok.AccessToken == "" {
		return nil, apperror.OAuth(apperror.ErrOAuthExchange,
			fmt.Errorf("%s: token response has no access token", c.name))
	}
	return tok, nil
}

// errUnexpectedStatus marks a non-200 answer from a provider API.
var errUnexpectedStatus = errors.New("unexpected status")

// getJSON performs an authenticated GET and decodes the JSON body into dst.
func (c *oauthClient) getJSON(ctx context.Context, token *oauth2.Token, url string, header http.Header, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	token.SetAuthHeader(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %w %d", url, errUnexpectedStatus, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decoding %s: %w", url, err)
	}
	return nil
}

func (c *oauthClient) profileError(err error) error {
	return apperror.OAuth(apperror.ErrOAuthProfile, fmt.Errorf("%s: %w", c.name, err))
}

func checkToken(token *oauth2.Token) error {
	if token == nil || token.AccessToken == "" {
		return errors.New("missing access token")
	}
	return nil
}

// Registry maps provider names to adapters. It is built once at startup
// and holds only providers whose credentials are configured, so Names is
// also the list of login buttons worth showing.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates a Registry holding the given providers. Nil entries
// are skipped; a later provider replaces an earlier one with the same name.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds or replaces a provider.
func (r *Registry) Register(p Provider) {
	if p == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns the named provider, or an ErrConfiguration error when the
// name is unknown or the provider was not configured.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	p, ok := r.providers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, apperror.OAuth(apperror.ErrConfiguration,
			fmt.Errorf("provider %q is not configured", name))
	}
	return p, nil
}

// Names lists the configured providers in alphabetical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
