// Package session resolves the caller identity from a trusted session.
//
// The session itself is issued by the external identity provider; this
// package only looks it up. Every failure, including missing configuration,
// collapses to ErrUnauthorized so that callers cannot accidentally treat a
// misconfigured verifier as permissive.
package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"docqa-proxy/internal/config"
	"docqa-proxy/internal/model"
)

// ErrUnauthorized is returned when no valid session with an email is attached.
var ErrUnauthorized = errors.New("session: unauthorized")

// identityKey is the echo context key holding the verified identity.
const identityKey = "session.identity"

// Store looks up a session token and returns the identity it belongs to.
type Store interface {
	Lookup(ctx context.Context, token string) (*model.Identity, error)
}

// Verifier extracts the session token from a request and resolves it through a Store.
type Verifier struct {
	store   Store
	cookies []string
	allowed map[string]struct{}
	logger  *slog.Logger
}

// NewVerifier creates a Verifier from config.
func NewVerifier(cfg *config.Config, store Store, logger *slog.Logger) *Verifier {
	allowed := make(map[string]struct{}, len(cfg.Session.AllowedEmails))
	for _, e := range cfg.Session.AllowedEmails {
		if e = normalizeEmail(e); e != "" {
			allowed[e] = struct{}{}
		}
	}
	return &Verifier{
		store:   store,
		cookies: cfg.Session.CookieNames,
		allowed: allowed,
		logger:  logger.With("component", "session_verifier"),
	}
}

// Verify returns the identity for the request or ErrUnauthorized.
func (v *Verifier) Verify(r *http.Request) (*model.Identity, error) {
	token := v.token(r)
	if token == "" {
		return nil, ErrUnauthorized
	}

	id, err := v.store.Lookup(r.Context(), token)
	if err != nil {
		v.logger.Debug("session lookup failed", "err", err)
		return nil, ErrUnauthorized
	}
	if id == nil {
		return nil, ErrUnauthorized
	}

	email := normalizeEmail(id.Email)
	if email == "" {
		return nil, ErrUnauthorized
	}
	// An empty allow-list admits nobody.
	if _, ok := v.allowed[email]; !ok {
		v.logger.Warn("session email not in allow-list", "email", email)
		return nil, ErrUnauthorized
	}

	return &model.Identity{Email: email, Name: strings.TrimSpace(id.Name)}, nil
}

func (v *Verifier) token(r *http.Request) string {
	for _, name := range v.cookies {
		if ck, err := r.Cookie(name); err == nil && ck.Value != "" {
			return ck.Value
		}
	}
	return ""
}

// RequireIdentity returns middleware that rejects requests without a verified
// session and stores the identity on the context otherwise.
func RequireIdentity(v *Verifier, onReject func(c echo.Context)) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, err := v.Verify(c.Request())
			if err != nil {
				if onReject != nil {
					onReject(c)
				}
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"message": "Unauthorized",
				})
			}
			c.Set(identityKey, id)
			return next(c)
		}
	}
}

// IdentityFrom returns the identity stored by RequireIdentity, if any.
func IdentityFrom(c echo.Context) (*model.Identity, bool) {
	id, ok := c.Get(identityKey).(*model.Identity)
	return id, ok && id != nil
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
