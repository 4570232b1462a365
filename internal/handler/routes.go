package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"docqa-proxy/internal/auth"
	"docqa-proxy/internal/config"
	"docqa-proxy/internal/metrics"
	"docqa-proxy/internal/relay"
	"docqa-proxy/internal/session"
)

var errInvalidPath = errors.New("invalid backend path")

var (
	jsonMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete}
	listMethods = []string{http.MethodGet, http.MethodPost}
)

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(
	e *echo.Echo,
	proxy *RelayHandler,
	health *HealthHandler,
	verifier *session.Verifier,
	translators *auth.Translators,
	m *metrics.Metrics,
	cfg *config.Config,
) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	queryTimeout := time.Duration(cfg.Backend.TimeoutSeconds) * time.Second
	uploadTimeout := time.Duration(cfg.Backend.UploadTimeoutSeconds) * time.Second
	jsonLimit := echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes))

	// guard returns the per-route middleware: session verification for
	// translators that need it, plus the JSON body limit.
	guard := func(name string, t *auth.Translator, kind relay.Kind) []echo.MiddlewareFunc {
		var mws []echo.MiddlewareFunc
		if t.Strategy().RequiresSession() {
			mws = append(mws, session.RequireIdentity(verifier, func(echo.Context) {
				proxy.countAuthRejection(name)
			}))
		}
		if kind == relay.KindJSON {
			mws = append(mws, jsonLimit)
		}
		return mws
	}

	backend := Route{
		Name:       "backend",
		Kind:       relay.KindJSON,
		Timeout:    queryTimeout,
		Translator: translators.Documents,
		Fallback:   "Request failed",
		Target:     backendTarget,
	}
	e.Match(jsonMethods, "/api/proxy-backend/*", proxy.Handle(backend), guard(backend.Name, backend.Translator, backend.Kind)...)

	query := Route{
		Name:       "query",
		Kind:       relay.KindJSON,
		Timeout:    queryTimeout,
		Translator: translators.Documents,
		Fallback:   "Request failed",
		Target:     fixedTarget("/query"),
	}
	e.POST("/api/proxy-query", proxy.Handle(query), guard(query.Name, query.Translator, query.Kind)...)

	// The three upload routes share one relay; they differ only in strategy.
	for _, up := range []struct {
		path     string
		name     string
		strategy relay.Strategy
	}{
		{"/api/proxy-upload", "upload", ""},
		{"/api/direct-upload", "direct_upload", relay.StrategyBuffer},
		{"/api/stream-upload", "stream_upload", relay.StrategyStream},
	} {
		rt := Route{
			Name:       up.name,
			Kind:       relay.KindBinary,
			Strategy:   up.strategy,
			Timeout:    uploadTimeout,
			Translator: translators.Documents,
			Fallback:   "Upload failed",
			Target:     fixedTarget("/api/upload"),
		}
		e.POST(up.path, proxy.Handle(rt), guard(rt.Name, rt.Translator, rt.Kind)...)
	}

	sessions := Route{
		Name:       "chat_sessions",
		Kind:       relay.KindJSON,
		Timeout:    queryTimeout,
		Translator: translators.ChatSessions,
		Fallback:   "Request failed",
		Target:     fixedTarget("/chat-sessions"),
	}
	e.Match(listMethods, "/api/proxy-chat-sessions", proxy.Handle(sessions), guard(sessions.Name, sessions.Translator, sessions.Kind)...)

	sessionByID := sessions
	sessionByID.Name = "chat_session"
	sessionByID.Target = chatSessionTarget
	e.Match(jsonMethods, "/api/proxy-chat-sessions/:sessionId", proxy.Handle(sessionByID), guard(sessionByID.Name, sessionByID.Translator, sessionByID.Kind)...)
}

func fixedTarget(p string) func(echo.Context) (string, error) {
	return func(echo.Context) (string, error) { return p, nil }
}

// backendTarget maps /api/proxy-backend/<path> onto /api/<path>, refusing
// anything that would escape /api/. Params arrive still escaped when the
// request path carried encoded bytes.
func backendTarget(c echo.Context) (string, error) {
	raw, err := url.PathUnescape(c.Param("*"))
	if err != nil || raw == "" {
		return "", errInvalidPath
	}
	p := path.Clean("/api/" + raw)
	if !strings.HasPrefix(p, "/api/") {
		return "", errInvalidPath
	}
	if strings.HasSuffix(raw, "/") {
		p += "/"
	}
	return p, nil
}

func chatSessionTarget(c echo.Context) (string, error) {
	id, err := url.PathUnescape(c.Param("sessionId"))
	if err != nil || id == "" || id == "." || id == ".." || strings.ContainsAny(id, "/\\") {
		return "", errInvalidPath
	}
	return "/chat-sessions/" + id, nil
}
