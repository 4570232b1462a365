package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa-proxy/internal/config"
	"docqa-proxy/internal/model"
)

const (
	testSecret = "session-secret-for-tests"
	testCookie = "next-auth.session-token"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(allowed ...string) *config.Config {
	return &config.Config{
		Session: config.SessionConfig{
			CookieNames:   []string{"__Secure-next-auth.session-token", testCookie},
			AllowedEmails: allowed,
		},
	}
}

func signToken(t *testing.T, email, name string, ttl time.Duration) string {
	t.Helper()
	tok, err := NewJWTStore(testSecret).Sign(Claims{
		Email: email,
		Name:  name,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	})
	require.NoError(t, err)
	return tok
}

func requestWithCookie(name, value string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/proxy-query", http.NoBody)
	if value != "" {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	return req
}

// stubStore returns a fixed identity or error.
type stubStore struct {
	id  *model.Identity
	err error
}

func (s stubStore) Lookup(context.Context, string) (*model.Identity, error) {
	return s.id, s.err
}

func TestVerifier_Verify(t *testing.T) {
	valid := signToken(t, " Alice@Example.com ", "Alice", time.Hour)

	tests := []struct {
		name      string
		allowed   []string
		cookie    string
		token     string
		wantEmail string
		wantErr   bool
	}{
		{
			name:      "valid token, allowed email normalized",
			allowed:   []string{"alice@example.com"},
			cookie:    testCookie,
			token:     valid,
			wantEmail: "alice@example.com",
		},
		{
			name:      "secure cookie name accepted",
			allowed:   []string{"ALICE@example.com"},
			cookie:    "__Secure-next-auth.session-token",
			token:     valid,
			wantEmail: "alice@example.com",
		},
		{
			name:    "no cookie",
			allowed: []string{"alice@example.com"},
			cookie:  testCookie,
			wantErr: true,
		},
		{
			name:    "unknown cookie name",
			allowed: []string{"alice@example.com"},
			cookie:  "other",
			token:   valid,
			wantErr: true,
		},
		{
			name:    "email not allowed",
			allowed: []string{"bob@example.com"},
			cookie:  testCookie,
			token:   valid,
			wantErr: true,
		},
		{
			name:    "empty allow-list denies everyone",
			cookie:  testCookie,
			token:   valid,
			wantErr: true,
		},
		{
			name:    "expired token",
			allowed: []string{"alice@example.com"},
			cookie:  testCookie,
			token:   signToken(t, "alice@example.com", "Alice", -time.Minute),
			wantErr: true,
		},
		{
			name:    "token without email",
			allowed: []string{"alice@example.com"},
			cookie:  testCookie,
			token:   signToken(t, "", "Alice", time.Hour),
			wantErr: true,
		},
		{
			name:    "garbage token",
			allowed: []string{"alice@example.com"},
			cookie:  testCookie,
			token:   "not-a-jwt",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewVerifier(testConfig(tt.allowed...), NewJWTStore(testSecret), discardLogger())
			id, err := v.Verify(requestWithCookie(tt.cookie, tt.token))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnauthorized)
				assert.Nil(t, id)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantEmail, id.Email)
			assert.Equal(t, "Alice", id.Name)
		})
	}
}

func TestVerifier_StoreErrorsCollapse(t *testing.T) {
	cfg := testConfig("alice@example.com")

	for name, store := range map[string]Store{
		"store error":  stubStore{err: errors.New("redis down")},
		"nil identity": stubStore{},
	} {
		t.Run(name, func(t *testing.T) {
			v := NewVerifier(cfg, store, discardLogger())
			_, err := v.Verify(requestWithCookie(testCookie, "tok"))
			assert.ErrorIs(t, err, ErrUnauthorized)
		})
	}
}

func TestVerifier_TrimsName(t *testing.T) {
	v := NewVerifier(testConfig("alice@example.com"),
		stubStore{id: &model.Identity{Email: "alice@example.com", Name: "  "}}, discardLogger())

	id, err := v.Verify(requestWithCookie(testCookie, "tok"))
	require.NoError(t, err)
	assert.Empty(t, id.Name)
}

func TestRequireIdentity(t *testing.T) {
	v := NewVerifier(testConfig("alice@example.com"), NewJWTStore(testSecret), discardLogger())

	var rejected int
	e := echo.New()
	e.POST("/api/proxy-query", func(c echo.Context) error {
		id, ok := IdentityFrom(c)
		require.True(t, ok)
		return c.String(http.StatusOK, id.Email)
	}, RequireIdentity(v, func(echo.Context) { rejected++ }))

	t.Run("rejects without session", func(t *testing.T) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/proxy-query", http.NoBody))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.JSONEq(t, `{"message":"Unauthorized"}`, rec.Body.String())
		assert.Equal(t, 1, rejected)
	})

	t.Run("passes identity through", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/proxy-query", http.NoBody)
		req.AddCookie(&http.Cookie{Name: testCookie, Value: signToken(t, "alice@example.com", "", time.Hour)})
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "alice@example.com", rec.Body.String())
	})
}

func TestIdentityFrom_Unset(t *testing.T) {
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/", http.NoBody), httptest.NewRecorder())
	_, ok := IdentityFrom(c)
	assert.False(t, ok)
}
