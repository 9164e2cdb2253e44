package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoUser writes the context user ID (or "anonymous") as the body.
var echoUser = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	id, ok := UserIDFromContext(r.Context())
	if !ok {
		id = "anonymous"
	}
	_, _ = w.Write([]byte(id))
})

type fakeAdminChecker struct {
	admins map[string]bool
	err    error
}

func (f fakeAdminChecker) IsAdmin(_ context.Context, userID string) (bool, error) {
	return f.admins[userID], f.err
}

func newRequest(t *testing.T, tokens *TokenService, userID string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if userID != "" {
		token, err := tokens.Generate(userID)
		require.NoError(t, err)
		req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: token})
	}
	return req
}

func TestRequireAuth(t *testing.T) {
	tokens := newTestTokenService(t)
	h := RequireAuth(tokens)(echoUser)

	t.Run("valid session", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, newRequest(t, tokens, "user-1"))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "user-1", rr.Body.String())
	})

	t.Run("no cookie", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, newRequest(t, tokens, ""))

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
		assert.JSONEq(t, `{"error":"unauthorized","message":"valid authentication required"}`, rr.Body.String())
	})

	t.Run("expired session", func(t *testing.T) {
		expired, err := tokens.GenerateWithDuration("user-1", -time.Minute)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: expired})

		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func TestRequireLogin_RedirectsAnonymous(t *testing.T) {
	tokens := newTestTokenService(t)
	h := RequireLogin(tokens)(echoUser)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, newRequest(t, tokens, ""))

	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/login", rr.Header().Get("Location"))

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, newRequest(t, tokens, "user-2"))
	assert.Equal(t, "user-2", rr.Body.String())
}

func TestOptionalAuth(t *testing.T) {
	tokens := newTestTokenService(t)
	h := OptionalAuth(tokens)(echoUser)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, newRequest(t, tokens, ""))
	assert.Equal(t, "anonymous", rr.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "garbage"})
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, "anonymous", rr.Body.String())

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, newRequest(t, tokens, "user-3"))
	assert.Equal(t, "user-3", rr.Body.String())
}

func TestRequireAdmin(t *testing.T) {
	tokens := newTestTokenService(t)
	checker := fakeAdminChecker{admins: map[string]bool{"boss": true}}

	tests := []struct {
		name   string
		userID string
		check  AdminChecker
		want   int
	}{
		{"admin", "boss", checker, http.StatusOK},
		{"regular user", "worker", checker, http.StatusForbidden},
		{"anonymous", "", checker, http.StatusUnauthorized},
		{"checker error", "boss", fakeAdminChecker{err: errors.New("db down")}, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := RequireAuth(tokens)(RequireAdmin(tt.check)(echoUser))
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, newRequest(t, tokens, tt.userID))
			assert.Equal(t, tt.want, rr.Code)
		})
	}
}
