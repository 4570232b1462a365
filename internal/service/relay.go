// Package service implements the core forwarding logic to the backend.
package service

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"docqa-proxy/internal/client"
	"docqa-proxy/internal/config"
	"docqa-proxy/internal/model"
)

// forwardableResponseHeaders are the only response headers kept from the backend.
var forwardableResponseHeaders = map[string]bool{
	"Content-Type": true,
	"Date":         true,
	"X-Request-Id": true,
}

// RelayService sends translated requests to the backend.
type RelayService struct {
	client  *client.BackendClient
	logger  *slog.Logger
	baseURL *url.URL
}

// NewRelayService creates a RelayService.
func NewRelayService(c *client.BackendClient, cfg *config.Config, logger *slog.Logger) (*RelayService, error) {
	u, err := url.Parse(cfg.Backend.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse backend base_url: %w", err)
	}

	return &RelayService{
		client:  c,
		logger:  logger.With("component", "relay_service"),
		baseURL: u,
	}, nil
}

// Forward sends a RelayRequest to the backend and returns the response.
// The caller is responsible for closing the response body.
//
// Forward makes exactly one backend call; failures are returned, never retried,
// since backend operations such as chat message creation are not idempotent.
func (s *RelayService) Forward(rr *model.RelayRequest) (*model.BackendResponse, error) {
	backendURL := s.buildBackendURL(rr.Path, rr.Query)

	s.logger.Debug("forwarding request",
		"method", rr.Method,
		"path", rr.Path,
		"content_length", rr.ContentLength,
	)

	resp, err := s.client.DoStream(rr.Ctx, rr.Method, backendURL, rr.Header, rr.Body, rr.ContentLength)
	if err != nil {
		return nil, fmt.Errorf("forward to backend: %w", err)
	}

	resp.Header = filterResponseHeaders(resp.Header)
	return resp, nil
}

// buildBackendURL joins path onto the base URL, keeping any base path prefix.
func (s *RelayService) buildBackendURL(path string, query url.Values) string {
	u := *s.baseURL
	u.Path = strings.TrimSuffix(s.baseURL.Path, "/") + path
	u.RawPath = ""
	u.RawQuery = query.Encode()
	u.Fragment = ""
	return u.String()
}

func filterResponseHeaders(src http.Header) http.Header {
	dst := make(http.Header)
	for key, vals := range src {
		if forwardableResponseHeaders[http.CanonicalHeaderKey(key)] {
			dst[key] = vals
		}
	}
	return dst
}
