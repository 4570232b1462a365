package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"

	"docqa-proxy/internal/auth"
	"docqa-proxy/internal/client"
	"docqa-proxy/internal/config"
	"docqa-proxy/internal/handler"
	"docqa-proxy/internal/metrics"
	"docqa-proxy/internal/middleware"
	"docqa-proxy/internal/relay"
	"docqa-proxy/internal/service"
	"docqa-proxy/internal/session"
	"docqa-proxy/internal/telemetry"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("docqa-proxy"),
		kong.Description("Authenticating relay in front of the document Q&A backend."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			newEcho,
			client.NewBackendClient,
			service.NewRelayService,
			relay.New,
			newSessionStore,
			session.NewVerifier,
			auth.NewTranslators,
			handler.NewRelayHandler,
			handler.NewHealthHandler,
		),
		fx.Invoke(startTracing, handler.RegisterRoutes, warnConfig, startServer),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Streamed uploads are read while the backend call runs, so the inbound
	// read deadline follows the upload timeout.
	e.Server.ReadTimeout = time.Duration(cfg.Backend.UploadTimeoutSeconds)*time.Second + 30*time.Second
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.RequestLogger(logger))
	e.Use(middleware.SecurityHeaders())

	if cfg.Metrics.Enabled {
		e.Use(middleware.MetricsMiddleware(m))
	}
	if cfg.Tracing.Enabled {
		e.Use(telemetry.Middleware(cfg.Tracing.ServiceName, cfg.Metrics.Path))
	}
	// Body limits are per route: JSON routes use server.body_max_bytes,
	// uploads are bounded by the relay.

	if cfg.Server.RateLimit.Enabled {
		e.Use(middleware.RateLimiter(cfg.Server.RateLimit.RequestsPerSecond, "/healthz", cfg.Metrics.Path))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	return e
}

// newSessionStore builds the configured session backend. The Redis client is
// checked on start and closed on stop.
func newSessionStore(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) session.Store {
	if cfg.Session.Store != config.StoreRedis {
		return session.NewJWTStore(cfg.Session.Secret)
	}

	rdb := session.NewRedisClient(cfg)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := rdb.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis ping %s: %w", cfg.Session.RedisAddr, err)
			}
			logger.Info("redis session store connected", "addr", cfg.Session.RedisAddr)
			return nil
		},
		OnStop: func(context.Context) error {
			return rdb.Close()
		},
	})
	return session.NewRedisStore(rdb, cfg.Session.RedisPrefix, logger)
}

func startTracing(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) error {
	if !cfg.Tracing.Enabled {
		return nil
	}
	shutdown, err := telemetry.InitTracer(cfg.Tracing.ServiceName, os.Stdout, logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	lc.Append(fx.Hook{OnStop: shutdown})
	return nil
}

func warnConfig(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
	cfg.WarnInsecure(logger)
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server",
				"addr", addr,
				"backend", cfg.Backend.BaseURL,
				"upload_strategy", cfg.Upload.Strategy,
			)
			go func() {
				if err := e.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}
