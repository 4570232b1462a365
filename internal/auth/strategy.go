// Package auth translates a verified caller into the headers the backend trusts.
//
// Two schemes coexist. Document and upload routes send the session identity
// together with a shared secret; chat-session routes hand the caller's bearer
// credential to the backend, which verifies it on its own. The scheme is
// chosen per route category by configuration.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"docqa-proxy/internal/config"
	"docqa-proxy/internal/model"
)

// Header names understood by the backend.
const (
	HeaderUserEmail      = "X-User-Email"
	HeaderUserName       = "X-User-Name"
	HeaderInternalSecret = "X-Internal-Secret" //nolint:gosec // header name, not a credential
)

// DefaultUserName is sent when the session carries no display name.
const DefaultUserName = "Unknown User"

const (
	headerAuthorization = "Authorization"
	userAgent           = "docqa-proxy/1.0"
)

var (
	// ErrMissingIdentity is returned when the identity scheme has no verified caller.
	ErrMissingIdentity = errors.New("auth: no verified identity")
	// ErrMissingCredential is returned when the bearer scheme finds no Authorization header.
	ErrMissingCredential = errors.New("auth: no bearer credential")
	// ErrSecretNotConfigured is returned when the shared secret is unset.
	ErrSecretNotConfigured = errors.New("auth: shared secret not configured")
)

// Scheme names an auth translation variant.
type Scheme string

const (
	// SchemeIdentity sends email, name and the shared secret.
	SchemeIdentity Scheme = config.SchemeIdentity
	// SchemeBearer forwards the inbound Authorization header unchanged.
	SchemeBearer Scheme = config.SchemeBearer
)

// Strategy builds backend headers for one auth scheme.
type Strategy interface {
	Scheme() Scheme
	// RequiresSession reports whether a verified session must precede Apply.
	RequiresSession() bool
	// Apply writes the auth headers for the request into dst.
	Apply(dst http.Header, r *http.Request, id *model.Identity) error
}

// IdentityStrategy sends the verified identity with the shared secret.
type IdentityStrategy struct {
	secret string
}

// NewIdentityStrategy creates an IdentityStrategy. An empty secret makes
// every Apply fail.
func NewIdentityStrategy(secret string) *IdentityStrategy {
	return &IdentityStrategy{secret: secret}
}

// Scheme implements Strategy.
func (s *IdentityStrategy) Scheme() Scheme { return SchemeIdentity }

// RequiresSession implements Strategy.
func (s *IdentityStrategy) RequiresSession() bool { return true }

// Apply implements Strategy.
func (s *IdentityStrategy) Apply(dst http.Header, _ *http.Request, id *model.Identity) error {
	if s.secret == "" {
		return ErrSecretNotConfigured
	}
	if id == nil || id.Email == "" {
		return ErrMissingIdentity
	}

	name := id.Name
	if name == "" {
		name = DefaultUserName
	}
	dst.Set(HeaderUserEmail, id.Email)
	dst.Set(HeaderUserName, name)
	dst.Set(HeaderInternalSecret, s.secret)
	return nil
}

// BearerStrategy forwards the caller's Authorization header.
type BearerStrategy struct{}

// Scheme implements Strategy.
func (BearerStrategy) Scheme() Scheme { return SchemeBearer }

// RequiresSession implements Strategy.
func (BearerStrategy) RequiresSession() bool { return false }

// Apply implements Strategy.
func (BearerStrategy) Apply(dst http.Header, r *http.Request, _ *model.Identity) error {
	v := strings.TrimSpace(r.Header.Get(headerAuthorization))
	if v == "" {
		return ErrMissingCredential
	}
	dst.Set(headerAuthorization, v)
	return nil
}

// NewStrategy returns the Strategy for a configured scheme name.
func NewStrategy(scheme, secret string) (Strategy, error) {
	switch Scheme(scheme) {
	case SchemeIdentity:
		return NewIdentityStrategy(secret), nil
	case SchemeBearer:
		return BearerStrategy{}, nil
	default:
		return nil, fmt.Errorf("auth: unknown scheme %q", scheme)
	}
}

// Translator builds the full backend header set for a request.
type Translator struct {
	strategy Strategy
}

// NewTranslator wraps a Strategy.
func NewTranslator(s Strategy) *Translator {
	return &Translator{strategy: s}
}

// Strategy returns the wrapped auth strategy.
func (t *Translator) Strategy() Strategy { return t.strategy }

// Translate returns a fresh header set for the backend. Nothing is copied from
// the inbound request except what the strategy forwards; the content type is
// decided by the body relay and left unset when empty.
func (t *Translator) Translate(r *http.Request, id *model.Identity, contentType string) (http.Header, error) {
	h := make(http.Header)
	if err := t.strategy.Apply(h, r, id); err != nil {
		return nil, err
	}

	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	h.Set("Accept", "application/json")
	h.Set("User-Agent", userAgent)
	return h, nil
}

// Translators holds one Translator per route category.
type Translators struct {
	Documents    *Translator
	ChatSessions *Translator
}

// NewTranslators builds the per-category translators from config.
func NewTranslators(cfg *config.Config) (*Translators, error) {
	docs, err := NewStrategy(cfg.Routes.Documents, cfg.Backend.SharedSecret)
	if err != nil {
		return nil, fmt.Errorf("routes.documents: %w", err)
	}
	chats, err := NewStrategy(cfg.Routes.ChatSessions, cfg.Backend.SharedSecret)
	if err != nil {
		return nil, fmt.Errorf("routes.chat_sessions: %w", err)
	}
	return &Translators{
		Documents:    NewTranslator(docs),
		ChatSessions: NewTranslator(chats),
	}, nil
}
