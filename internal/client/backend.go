// Package client provides the HTTP client for the backend retrieval API.
package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"docqa-proxy/internal/config"
	"docqa-proxy/internal/metrics"
	"docqa-proxy/internal/model"
)

// BackendClient sends requests to the backend retrieval API.
type BackendClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewBackendClient creates a BackendClient with connection pooling.
// The metrics parameter is optional; pass nil to disable backend metrics recording.
//
// The client carries no overall timeout: uploads and queries need different
// deadlines, so each call is bounded by its context instead. Redirects are
// never followed, which keeps the shared secret on the configured host.
func NewBackendClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *BackendClient {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          cfg.Backend.IdleConnections,
		MaxIdleConnsPerHost:   cfg.Backend.IdleConnections,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &BackendClient{
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(transport),
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:  logger.With("component", "backend_client"),
		metrics: m,
	}
}

// Do executes an HTTP request against the backend and returns the raw response.
// The caller is responsible for closing the response body.
func (c *BackendClient) Do(req *http.Request) (*model.BackendResponse, error) {
	c.logger.Debug("backend request",
		"method", req.Method,
		"path", req.URL.Path,
		"content_length", req.ContentLength,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via BackendResponse
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(req.Method)

	if err != nil {
		if c.metrics != nil {
			c.metrics.BackendDuration.WithLabelValues(method).Observe(duration)
		}
		return nil, fmt.Errorf("backend request: %w", err)
	}

	if c.metrics != nil {
		status := strconv.Itoa(resp.StatusCode)
		c.metrics.BackendDuration.WithLabelValues(method).Observe(duration)
		c.metrics.BackendResponses.WithLabelValues(method, status).Inc()
	}

	return &model.BackendResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// DoStream executes a request whose body is read from body as the transport
// sends it. contentLength follows http.Request semantics: -1 sends the body
// chunked, 0 with a nil body sends none.
// The provided context controls the lifetime of the backend request:
// when the context is canceled (e.g. client disconnects), the backend
// request is also canceled.
func (c *BackendClient) DoStream(ctx context.Context, method, url string, header http.Header, body io.Reader, contentLength int64) (*model.BackendResponse, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build backend request: %w", err)
	}
	req.Header = header
	if body != nil {
		req.ContentLength = contentLength
	}

	return c.Do(req)
}
