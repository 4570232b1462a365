package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa-proxy/internal/config"
	"docqa-proxy/internal/model"
)

func TestIdentityStrategy_Apply(t *testing.T) {
	s := NewIdentityStrategy("s3cret")
	req := httptest.NewRequest(http.MethodPost, "/api/proxy-upload", http.NoBody)

	tests := []struct {
		name     string
		id       *model.Identity
		wantName string
	}{
		{"named", &model.Identity{Email: "a@b.com", Name: "A B"}, "A B"},
		{"unnamed", &model.Identity{Email: "a@b.com"}, DefaultUserName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := make(http.Header)
			require.NoError(t, s.Apply(h, req, tt.id))
			assert.Equal(t, "a@b.com", h.Get(HeaderUserEmail))
			assert.Equal(t, tt.wantName, h.Get(HeaderUserName))
			assert.Equal(t, "s3cret", h.Get(HeaderInternalSecret))
		})
	}
}

func TestIdentityStrategy_Errors(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/proxy-query", http.NoBody)
	id := &model.Identity{Email: "alice@example.com"}

	h := make(http.Header)
	assert.ErrorIs(t, NewIdentityStrategy("").Apply(h, req, id), ErrSecretNotConfigured)
	assert.Empty(t, h)

	assert.ErrorIs(t, NewIdentityStrategy("s").Apply(h, req, nil), ErrMissingIdentity)
	assert.ErrorIs(t, NewIdentityStrategy("s").Apply(h, req, &model.Identity{Name: "x"}), ErrMissingIdentity)
	assert.Empty(t, h)
}

func TestBearerStrategy_Apply(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/proxy-chat-sessions", http.NoBody)
	req.Header.Set("Authorization", "Bearer abc.def")

	h := make(http.Header)
	require.NoError(t, BearerStrategy{}.Apply(h, req, nil))
	assert.Equal(t, "Bearer abc.def", h.Get("Authorization"))
	assert.Empty(t, h.Get(HeaderInternalSecret))
	assert.Empty(t, h.Get(HeaderUserEmail))

	bare := httptest.NewRequest(http.MethodGet, "/api/proxy-chat-sessions", http.NoBody)
	bare.Header.Set("Authorization", "   ")
	assert.ErrorIs(t, BearerStrategy{}.Apply(make(http.Header), bare, nil), ErrMissingCredential)
}

func TestNewStrategy(t *testing.T) {
	s, err := NewStrategy(config.SchemeIdentity, "x")
	require.NoError(t, err)
	assert.Equal(t, SchemeIdentity, s.Scheme())
	assert.True(t, s.RequiresSession())

	s, err = NewStrategy(config.SchemeBearer, "x")
	require.NoError(t, err)
	assert.Equal(t, SchemeBearer, s.Scheme())
	assert.False(t, s.RequiresSession())

	_, err = NewStrategy("apikey", "x")
	assert.Error(t, err)
}

func TestTranslator_Translate(t *testing.T) {
	tr := NewTranslator(NewIdentityStrategy("s3cret"))
	req := httptest.NewRequest(http.MethodPost, "/api/proxy-upload", http.NoBody)
	req.Header.Set("Cookie", "next-auth.session-token=abc")
	req.Header.Set("X-Forwarded-For", "10.0.0.1")
	req.Header.Set(HeaderUserEmail, "mallory@example.com")

	h, err := tr.Translate(req, &model.Identity{Email: "alice@example.com"}, "multipart/form-data; boundary=b")
	require.NoError(t, err)

	want := http.Header{}
	want.Set(HeaderUserEmail, "alice@example.com")
	want.Set(HeaderUserName, DefaultUserName)
	want.Set(HeaderInternalSecret, "s3cret")
	want.Set("Content-Type", "multipart/form-data; boundary=b")
	want.Set("Accept", "application/json")
	want.Set("User-Agent", userAgent)
	assert.Equal(t, want, h)

	again, err := tr.Translate(req, &model.Identity{Email: "alice@example.com"}, "multipart/form-data; boundary=b")
	require.NoError(t, err)
	assert.Equal(t, h, again)
}

func TestTranslator_NoContentType(t *testing.T) {
	tr := NewTranslator(BearerStrategy{})
	req := httptest.NewRequest(http.MethodGet, "/api/proxy-chat-sessions", http.NoBody)
	req.Header.Set("Authorization", "Bearer t")

	h, err := tr.Translate(req, nil, "")
	require.NoError(t, err)
	assert.Empty(t, h.Get("Content-Type"))
}

func TestNewTranslators(t *testing.T) {
	cfg := &config.Config{
		Backend: config.BackendConfig{SharedSecret: "s"},
		Routes:  config.RoutesConfig{Documents: config.SchemeIdentity, ChatSessions: config.SchemeBearer},
	}
	tr, err := NewTranslators(cfg)
	require.NoError(t, err)
	assert.Equal(t, SchemeIdentity, tr.Documents.Strategy().Scheme())
	assert.Equal(t, SchemeBearer, tr.ChatSessions.Strategy().Scheme())

	cfg.Routes.ChatSessions = "oauth"
	_, err = NewTranslators(cfg)
	assert.ErrorContains(t, err, "routes.chat_sessions")
}
