package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"docqa-proxy/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns proxy status information. Secrets are reported only as
// configured or not.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":          "ok",
		"version":         string(h.version),
		"backend_url":     h.cfg.Backend.BaseURL,
		"upload_strategy": h.cfg.Upload.Strategy,
		"session_store":   h.cfg.Session.Store,
		"auth_schemes": map[string]string{
			"documents":     h.cfg.Routes.Documents,
			"chat_sessions": h.cfg.Routes.ChatSessions,
		},
		"shared_secret_configured": h.cfg.Backend.SharedSecret != "",
	})
}
