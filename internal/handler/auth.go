package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/chatcode/internal/apperror"
	"github.com/sakif/chatcode/internal/auth"
	"github.com/sakif/chatcode/internal/metrics"
	"github.com/sakif/chatcode/internal/service"
)

// stateCookieName binds an OAuth attempt to the browser that started it.
const stateCookieName = "oauth_state"

// Error codes carried by /login?error=. They are the only thing a failed
// OAuth attempt tells the browser.
const (
	errCodeProviderUnavailable = "provider_unavailable"
	errCodeInvalidState        = "invalid_state"
	errCodeOAuthFailed         = "oauth_failed"
	errCodeSignupFailed        = "signup_failed"
	errCodeDenied              = "denied"
)

var loginErrorMessages = map[string]string{
	errCodeProviderUnavailable: "This sign-in option is not available right now.",
	errCodeInvalidState:        "Your sign-in attempt expired or was not recognised. Please try again.",
	errCodeOAuthFailed:         "We could not complete sign-in with the provider. Please try again.",
	errCodeSignupFailed:        "We could not set up your account. Please try again.",
	errCodeDenied:              "Sign-in was cancelled.",
}

// loginErrorCode maps an OAuth flow failure to its /login?error= code.
func loginErrorCode(err error) string {
	switch {
	case errors.Is(err, apperror.ErrConfiguration):
		return errCodeProviderUnavailable
	case errors.Is(err, apperror.ErrInvalidState):
		return errCodeInvalidState
	case errors.Is(err, apperror.ErrOAuthExchange), errors.Is(err, apperror.ErrOAuthProfile):
		return errCodeOAuthFailed
	default:
		return errCodeSignupFailed
	}
}

// CookieConfig controls the session and state cookies.
type CookieConfig struct {
	Secure     bool          // set the Secure flag (HTTPS deployments)
	SessionTTL time.Duration // lifetime of the session cookie
	StateTTL   time.Duration // lifetime of the oauth_state cookie
}

// AuthHandler serves password registration and login, the OAuth redirect
// and callback, logout, and /api/me.
//
// DEPENDENCY CHAIN:
//   - accounts *service.AuthService   → password accounts and sessions
//   - oauth    *service.OAuthService  → provider sign-in
//   - pages    *Renderer              → login and register forms
//   - metrics  *metrics.Metrics       → sign-in counters (may be nil)
type AuthHandler struct {
	accounts *service.AuthService
	oauth    *service.OAuthService
	pages    *Renderer
	metrics  *metrics.Metrics
	cookies  CookieConfig
	logger   *slog.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(
	accounts *service.AuthService,
	oauth *service.OAuthService,
	pages *Renderer,
	m *metrics.Metrics,
	cookies CookieConfig,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		accounts: accounts,
		oauth:    oauth,
		pages:    pages,
		metrics:  m,
		cookies:  cookies,
		logger:   logger,
	}
}

// HandleHome serves the landing page. Signed-in users go straight to
// their dashboard.
//
// HTTP: GET /   (OptionalAuth)
func (h *AuthHandler) HandleHome(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.UserIDFromContext(r.Context()); ok {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}
	h.pages.Render(w, http.StatusOK, pageHome, map[string]any{
		"Title": "ChatCode: a WhatsApp QR code for you",
	})
}

// HandleRegisterPage shows the sign-up form.
//
// HTTP: GET /register   (OptionalAuth)
func (h *AuthHandler) HandleRegisterPage(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.UserIDFromContext(r.Context()); ok {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}
	h.renderRegister(w, http.StatusOK, nil, "", "")
}

func (h *AuthHandler) renderRegister(w http.ResponseWriter, status int, form map[string]string, field, msg string) {
	if form == nil {
		form = map[string]string{}
	}
	h.pages.Render(w, status, pageRegister, map[string]any{
		"Title":     "Sign up · ChatCode",
		"Form":      form,
		"Field":     field,
		"Error":     msg,
		"Providers": h.oauth.Providers(),
	})
}

// HandleRegister creates a password account.
//
// HTTP: POST /register (form: username, password, email, phone, preset)
//
// Validation failures and a taken username re-render the form with the
// message and the submitted values (never the password).
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderRegister(w, http.StatusBadRequest, nil, "", "Could not read the form.")
		return
	}

	in := service.RegisterInput{
		Username: r.PostFormValue("username"),
		Password: r.PostFormValue("password"),
		Email:    r.PostFormValue("email"),
		Phone:    r.PostFormValue("phone"),
		Preset:   r.PostFormValue("preset"),
	}

	result, err := h.accounts.Register(r.Context(), in)
	if err != nil {
		h.metrics.Registration(false)
		form := map[string]string{
			"username": in.Username,
			"email":    in.Email,
			"phone":    in.Phone,
			"preset":   in.Preset,
		}

		var appErr *apperror.AppError
		if errors.As(err, &appErr) && (errors.Is(err, apperror.ErrValidation) || errors.Is(err, apperror.ErrConflict)) {
			status, _ := errorStatus(err)
			h.renderRegister(w, status, form, appErr.Field, appErr.Message)
			return
		}

		h.logger.Error("registration failed", slog.String("error", err.Error()))
		h.renderRegister(w, http.StatusInternalServerError, form, "", "Something went wrong. Please try again.")
		return
	}

	h.metrics.Registration(true)
	h.setSession(w, result.Token)
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

// HandleLoginPage shows the login form with one button per configured
// provider. ?error=<code> shows the matching generic message; unknown
// codes are ignored so provider text can never be echoed.
//
// HTTP: GET /login   (OptionalAuth)
func (h *AuthHandler) HandleLoginPage(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.UserIDFromContext(r.Context()); ok {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}
	h.renderLogin(w, http.StatusOK, "", loginErrorMessages[r.URL.Query().Get("error")])
}

func (h *AuthHandler) renderLogin(w http.ResponseWriter, status int, username, msg string) {
	h.pages.Render(w, status, pageLogin, map[string]any{
		"Title":     "Log in · ChatCode",
		"Form":      map[string]string{"username": username},
		"Error":     msg,
		"Providers": h.oauth.Providers(),
	})
}

// HandleLogin checks a username and password.
//
// HTTP: POST /login (form: username, password)
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderLogin(w, http.StatusBadRequest, "", "Could not read the form.")
		return
	}
	username := r.PostFormValue("username")

	result, err := h.accounts.Login(r.Context(), username, r.PostFormValue("password"))
	if err != nil {
		h.metrics.PasswordLogin(false)
		if errors.Is(err, apperror.ErrUnauthorized) {
			h.renderLogin(w, http.StatusUnauthorized, username, "Invalid username or password.")
			return
		}
		h.logger.Error("login failed", slog.String("error", err.Error()))
		h.renderLogin(w, http.StatusInternalServerError, username, "Something went wrong. Please try again.")
		return
	}

	h.metrics.PasswordLogin(true)
	h.setSession(w, result.Token)
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

// HandleLogout clears the session cookie. The JWT itself stays valid until
// it expires, but without the cookie the browser can no longer send it.
//
// HTTP: POST /logout, GET /logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	h.clearCookie(w, auth.SessionCookieName)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// HandleOAuthLogin starts the authorization-code flow.
//
// HTTP: GET /auth/{provider}/login
//
// The state token goes to the provider in the redirect URL and to the
// browser in an HttpOnly cookie. The callback requires both to match
// before the state store is even consulted.
func (h *AuthHandler) HandleOAuthLogin(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	authURL, state, err := h.oauth.BeginLogin(r.Context(), provider)
	if err != nil {
		code := loginErrorCode(err)
		h.metrics.OAuthLogin(h.metricLabel(provider), code)
		h.redirectLoginError(w, r, code)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/auth/",
		MaxAge:   int(h.cookies.StateTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleOAuthCallback completes the flow.
//
// HTTP: GET /auth/{provider}/callback?code=…&state=…
//
// FLOW:
//  1. provider reported an error (user denied)  → /login?error=denied
//  2. state query must equal the oauth_state cookie
//  3. OAuthService: consume state, exchange code, fetch profile, resolve
//  4. set the session cookie and go to /dashboard, or /profile when a new
//     account still needs a phone number
//
// Every failure ends at /login?error=<code>.
func (h *AuthHandler) HandleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	q := r.URL.Query()
	state := q.Get("state")

	// Single use whatever happens next.
	cookie, cookieErr := r.Cookie(stateCookieName)
	h.clearCookie(w, stateCookieName)

	if q.Get("error") != "" {
		h.logger.Info("oauth authorization denied", slog.String("provider", provider))
		h.metrics.OAuthLogin(h.metricLabel(provider), errCodeDenied)
		h.redirectLoginError(w, r, errCodeDenied)
		return
	}

	if cookieErr != nil || cookie.Value == "" || state == "" || cookie.Value != state {
		h.logger.Warn("oauth callback: state cookie missing or mismatched",
			slog.String("provider", provider),
		)
		h.metrics.OAuthLogin(h.metricLabel(provider), errCodeInvalidState)
		h.redirectLoginError(w, r, errCodeInvalidState)
		return
	}

	result, err := h.oauth.CompleteLogin(r.Context(), provider, q.Get("code"), state)
	if err != nil {
		code := loginErrorCode(err)
		h.metrics.OAuthLogin(h.metricLabel(provider), code)
		h.redirectLoginError(w, r, code)
		return
	}

	h.metrics.OAuthLogin(h.metricLabel(provider), result.Outcome.String())
	h.setSession(w, result.Token)

	next := "/dashboard"
	if result.NeedsProfile {
		next = "/profile"
	}
	http.Redirect(w, r, next, http.StatusSeeOther)
}

// HandleMe returns the signed-in user as JSON.
//
// HTTP: GET /api/me   (RequireAuth)
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	user, err := h.accounts.GetUserByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			// Valid token for a user that no longer exists.
			writeError(w, apperror.Unauthorized("valid authentication required"))
			return
		}
		h.logger.Error("HandleMe: fetching user", slog.String("userID", userID), slog.String("error", err.Error()))
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

func (h *AuthHandler) redirectLoginError(w http.ResponseWriter, r *http.Request, code string) {
	http.Redirect(w, r, "/login?error="+url.QueryEscape(code), http.StatusSeeOther)
}

func (h *AuthHandler) setSession(w http.ResponseWriter, token string) {
	setSessionCookie(w, token, h.cookies)
}

func (h *AuthHandler) clearCookie(w http.ResponseWriter, name string) {
	path := "/"
	if name == stateCookieName {
		path = "/auth/"
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// setSessionCookie stores the session JWT. HttpOnly keeps it away from
// scripts; SameSite=Lax keeps it off cross-site POSTs.
func setSessionCookie(w http.ResponseWriter, token string, cfg CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(cfg.SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// metricLabel keeps the provider label bounded: the path segment is user
// input, so anything not configured is counted as "unknown".
func (h *AuthHandler) metricLabel(provider string) string {
	for _, name := range h.oauth.Providers() {
		if name == provider {
			return provider
		}
	}
	return "unknown"
}
