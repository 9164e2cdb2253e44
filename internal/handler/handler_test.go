package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/chatcode/internal/auth"
	"github.com/sakif/chatcode/internal/metrics"
	"github.com/sakif/chatcode/internal/repository/sqlstore"
	"github.com/sakif/chatcode/internal/service"
)

// =========================================================================
// TEST APPLICATION
// =========================================================================

// fakeGitHub is an httptest server standing in for github.com and
// api.github.com.
type fakeGitHub struct {
	*httptest.Server
	tokenStatus atomic.Int32
	tokenCalls  atomic.Int32
	userID      atomic.Int64
}

func newFakeGitHub(t *testing.T) *fakeGitHub {
	t.Helper()
	gh := &fakeGitHub{}
	gh.tokenStatus.Store(http.StatusOK)
	gh.userID.Store(42)

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		gh.tokenCalls.Add(1)
		if s := int(gh.tokenStatus.Load()); s != http.StatusOK {
			w.WriteHeader(s)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"gho_test","token_type":"bearer"}`))
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":    gh.userID.Load(),
			"login": "octocat",
			"name":  "The Octocat",
		})
	})
	mux.HandleFunc("/user/emails", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"email":"octo@example.com","primary":true,"verified":true}]`))
	})

	gh.Server = httptest.NewServer(mux)
	t.Cleanup(gh.Close)
	return gh
}

type testApp struct {
	router  http.Handler
	store   *sqlstore.Store
	github  *fakeGitHub
	metrics *metrics.Metrics
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestApp wires the real services over an in-memory SQLite database and
// a fake GitHub, with the same routes and middleware as the server.
func newTestApp(t *testing.T) *testApp {
	t.Helper()
	logger := testLogger()

	store, err := sqlstore.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("sqlstore.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	tokens, err := auth.NewTokenService("test-secret-at-least-16-chars!!", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}

	gh := newFakeGitHub(t)
	registry := auth.NewRegistry(auth.NewGitHubProvider(auth.ProviderConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "http://chatcode.test/auth/github/callback",
		HTTPTimeout:  time.Second,
		Endpoints: auth.Endpoints{
			AuthURL:    gh.URL + "/authorize",
			TokenURL:   gh.URL + "/token",
			APIBaseURL: gh.URL,
		},
	}))

	pages, err := NewRenderer("../../web/templates", logger)
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}

	m := metrics.New()
	cookies := CookieConfig{SessionTTL: time.Hour, StateTTL: 10 * time.Minute}

	accounts := service.NewAuthService(store, tokens, auth.NewPasswordServiceForTest(4), logger)
	oauth := service.NewOAuthService(registry, auth.NewMemoryStateStore(10*time.Minute),
		service.NewIdentityResolver(logger), store, tokens, logger)
	codes := service.NewQRService(store, logger)

	authH := NewAuthHandler(accounts, oauth, pages, m, cookies, logger)
	qrH := NewQRHandler(accounts, codes, pages, cookies, logger)
	adminH := NewAdminHandler(accounts, logger)

	r := chi.NewRouter()
	r.Get("/health", NewHealthHandler().HandleHealth)
	r.Get("/qr.png", qrH.HandleQRImage)
	r.Get("/u/{username}", qrH.HandlePublicPage)
	r.Post("/logout", authH.HandleLogout)
	r.Get("/auth/{provider}/login", authH.HandleOAuthLogin)
	r.Get("/auth/{provider}/callback", authH.HandleOAuthCallback)
	r.Group(func(r chi.Router) {
		r.Use(auth.OptionalAuth(tokens))
		r.Get("/", authH.HandleHome)
		r.Get("/register", authH.HandleRegisterPage)
		r.Post("/register", authH.HandleRegister)
		r.Get("/login", authH.HandleLoginPage)
		r.Post("/login", authH.HandleLogin)
	})
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireLogin(tokens))
		r.Get("/dashboard", qrH.HandleDashboard)
		r.Get("/profile", qrH.HandleProfile)
		r.Post("/settings", qrH.HandleSettings)
	})
	r.Route("/api", func(r chi.Router) {
		r.Use(auth.RequireAuth(tokens))
		r.Get("/me", authH.HandleMe)
		r.With(auth.RequireAdmin(accounts)).Get("/admin/users", adminH.HandleListUsers)
	})

	return &testApp{router: r, store: store, github: gh, metrics: m}
}

// do sends one request through the router. form, when non-nil, is sent
// as an urlencoded POST body.
func (a *testApp) do(t *testing.T, method, target string, form url.Values, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for _, c := range cookies {
		if c != nil {
			req.AddCookie(c)
		}
	}
	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)
	return rr
}

func responseCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// register signs up a password user and returns the session cookie.
func (a *testApp) register(t *testing.T, username, email string) *http.Cookie {
	t.Helper()
	rr := a.do(t, http.MethodPost, "/register", url.Values{
		"username": {username},
		"password": {"secret1"},
		"email":    {email},
		"phone":    {"+77011234567"},
		"preset":   {"Hi there"},
	})
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("POST /register status = %d, body = %s", rr.Code, rr.Body.String())
	}
	c := responseCookie(rr, auth.SessionCookieName)
	if c == nil || c.Value == "" {
		t.Fatal("POST /register did not set a session cookie")
	}
	return c
}

// oauthLogin runs /auth/github/login then /auth/github/callback and
// returns the callback response.
func (a *testApp) oauthLogin(t *testing.T) *httptest.ResponseRecorder {
	t.Helper()
	rr := a.do(t, http.MethodGet, "/auth/github/login", nil)
	if rr.Code != http.StatusFound {
		t.Fatalf("GET /auth/github/login status = %d", rr.Code)
	}
	loc, err := url.Parse(rr.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parsing Location: %v", err)
	}
	state := loc.Query().Get("state")
	stateCookie := responseCookie(rr, stateCookieName)
	if state == "" || stateCookie == nil || stateCookie.Value != state {
		t.Fatalf("state %q not bound to cookie %+v", state, stateCookie)
	}

	return a.do(t, http.MethodGet, "/auth/github/callback?code=abc&state="+url.QueryEscape(state), nil, stateCookie)
}

func (a *testApp) userCount(t *testing.T) int {
	t.Helper()
	n, err := a.store.CountUsers(context.Background())
	if err != nil {
		t.Fatalf("CountUsers: %v", err)
	}
	return n
}
