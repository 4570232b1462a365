package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"docqa-proxy/internal/model"
)

var errNoSecret = errors.New("session secret is not configured")

// Claims is the payload of a signed session token.
type Claims struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// JWTStore verifies HS256-signed session tokens.
type JWTStore struct {
	secret []byte
	parser *jwt.Parser
}

// NewJWTStore creates a JWTStore. An empty secret rejects every token.
func NewJWTStore(secret string) *JWTStore {
	return &JWTStore{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}
}

// Lookup parses and validates the token.
func (s *JWTStore) Lookup(_ context.Context, token string) (*model.Identity, error) {
	if len(s.secret) == 0 {
		return nil, errNoSecret
	}

	var claims Claims
	_, err := s.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse session token: %w", err)
	}

	return &model.Identity{Email: claims.Email, Name: claims.Name}, nil
}

// Sign issues a session token for the given claims. The proxy never hands
// tokens to browsers; this exists for tooling and tests that stand in for the
// identity provider.
func (s *JWTStore) Sign(claims Claims) (string, error) {
	if len(s.secret) == 0 {
		return "", errNoSecret
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}
