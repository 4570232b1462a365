// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
	"net/url"
)

// Identity is the caller identity resolved from a trusted session.
// It is never built from client-supplied headers.
type Identity struct {
	Email string
	Name  string
}

// RelayRequest represents a client request translated for the backend.
//
// ContentLength follows net/http semantics: -1 means unknown (chunked),
// 0 with a nil Body means no body at all.
type RelayRequest struct {
	Ctx           context.Context
	Method        string
	Path          string
	Query         url.Values
	Header        http.Header
	Body          io.Reader
	ContentLength int64
}

// BackendResponse represents the backend response to be normalized.
type BackendResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}
