package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"docqa-proxy/internal/auth"
	"docqa-proxy/internal/config"
	"docqa-proxy/internal/metrics"
	"docqa-proxy/internal/model"
	"docqa-proxy/internal/relay"
	"docqa-proxy/internal/service"
	"docqa-proxy/internal/session"
)

// Route describes how one client route maps onto the backend.
type Route struct {
	// Name labels logs and metrics.
	Name string
	// Kind is the payload shape.
	Kind relay.Kind
	// Strategy applies to binary routes; empty means the configured default.
	Strategy relay.Strategy
	// Timeout bounds the backend call.
	Timeout time.Duration
	// Translator builds the backend auth headers.
	Translator *auth.Translator
	// Fallback is the detail sent when a backend error body is unusable.
	Fallback string
	// Target returns the backend path for the request.
	Target func(c echo.Context) (string, error)
}

// RelayHandler forwards client requests to the backend retrieval API.
type RelayHandler struct {
	service     *service.RelayService
	relay       *relay.Relay
	metrics     *metrics.Metrics
	secret      string
	maxResponse int64
	logger      *slog.Logger
}

// NewRelayHandler creates a RelayHandler. The metrics parameter is optional.
func NewRelayHandler(svc *service.RelayService, r *relay.Relay, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) *RelayHandler {
	return &RelayHandler{
		service:     svc,
		relay:       r,
		metrics:     m,
		secret:      cfg.Backend.SharedSecret,
		maxResponse: cfg.Backend.MaxResponseBytes,
		logger:      logger.With("component", "relay_handler"),
	}
}

// Handle returns the echo handler for rt. Auth translation happens before the
// body is read and before any backend call; each request yields exactly one
// response.
func (h *RelayHandler) Handle(rt Route) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()

		id, _ := session.IdentityFrom(c)
		header, err := rt.Translator.Translate(req, id, relay.ContentType(req, rt.Kind))
		if err != nil {
			return h.authError(c, rt, err)
		}

		backendPath, err := rt.Target(c)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{
				"message": "Invalid path",
			})
		}

		body, err := h.relay.Prepare(req, rt.Kind, rt.Strategy)
		if err != nil {
			return h.bodyError(c, rt, err)
		}
		if body.Reader == nil {
			header.Del("Content-Type")
		}

		ctx, cancel := context.WithTimeout(req.Context(), rt.Timeout)
		defer cancel()

		resp, err := h.service.Forward(&model.RelayRequest{
			Ctx:           ctx,
			Method:        req.Method,
			Path:          backendPath,
			Query:         req.URL.Query(),
			Header:        header,
			Body:          body.Reader,
			ContentLength: body.ContentLength,
		})
		if rerr := body.Err(); rerr != nil {
			if resp != nil {
				_ = resp.Body.Close()
			}
			return h.bodyError(c, rt, rerr)
		}
		if err != nil {
			return h.relayFailure(c, rt, err)
		}
		defer func() { _ = resp.Body.Close() }()

		if h.metrics != nil {
			h.metrics.RelayBytes.WithLabelValues(rt.Name, body.Mode).Add(float64(body.BytesSent()))
		}

		return h.normalize(c, rt, resp)
	}
}

func (h *RelayHandler) authError(c echo.Context, rt Route, err error) error {
	if errors.Is(err, auth.ErrSecretNotConfigured) {
		h.logger.Error("shared secret not configured; rejecting request", "route", rt.Name)
	} else {
		h.logger.Debug("auth translation rejected request", "route", rt.Name, "err", err)
	}
	h.countAuthRejection(rt.Name)
	return c.JSON(http.StatusUnauthorized, map[string]string{
		"message": "Unauthorized",
	})
}

func (h *RelayHandler) bodyError(c echo.Context, rt Route, err error) error {
	var he *echo.HTTPError
	switch {
	case errors.Is(err, relay.ErrBodyTooLarge),
		errors.As(err, &he) && he.Code == http.StatusRequestEntityTooLarge:
		h.logger.Warn("request body too large", "route", rt.Name)
		return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{
			"message": "Payload too large",
		})
	case errors.Is(err, relay.ErrInvalidJSON):
		return c.JSON(http.StatusBadRequest, map[string]string{
			"message": "Invalid JSON body",
		})
	default:
		return h.relayFailure(c, rt, err)
	}
}

func (h *RelayHandler) countAuthRejection(route string) {
	if h.metrics != nil {
		h.metrics.AuthRejections.WithLabelValues(route).Inc()
	}
}
