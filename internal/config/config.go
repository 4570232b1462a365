// Package config handles TOML configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/docqa-proxy/config.toml",
	"configs/config.toml",
}

// placeholderSecret is the shared secret shipped in sample environments.
const placeholderSecret = "your-internal-secret-change-in-production"

// Auth schemes selectable per route category.
const (
	SchemeIdentity = "identity"
	SchemeBearer   = "bearer"
)

// Upload relay strategies.
const (
	StrategyAuto   = "auto"
	StrategyBuffer = "buffer"
	StrategyStream = "stream"
)

// Session store kinds.
const (
	StoreJWT   = "jwt"
	StoreRedis = "redis"
)

// CLI holds command-line arguments parsed by Kong. Every flag can also be
// provided through the environment.
type CLI struct {
	Config            string   `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host              string   `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port              int      `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	BackendURL        string   `kong:"help='Backend retrieval API base URL.',env='BACKEND_URL'"`
	SharedSecret      string   `kong:"help='Shared secret sent to the backend as X-Internal-Secret.',env='INTERNAL_API_SECRET'"`
	SessionSecret     string   `kong:"help='HMAC secret used to verify session tokens.',env='NEXTAUTH_SECRET'"`
	AllowedEmails     []string `kong:"help='Comma-separated list of emails allowed through.',env='ALLOWED_TEST_USERS'"`
	UploadBufferLimit int64    `kong:"help='Maximum upload size relayed with the buffer strategy, in bytes.',env='UPLOAD_BUFFER_LIMIT'"`
	UploadTimeout     int      `kong:"help='Backend timeout for upload routes, in seconds.',env='UPLOAD_TIMEOUT_SECONDS'"`
	RedisAddr         string   `kong:"help='Redis host:port for the redis session store.',env='REDIS_ADDR'"`
	LogLevel          string   `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Backend BackendConfig `toml:"backend"`
	Session SessionConfig `toml:"session"`
	Routes  RoutesConfig  `toml:"routes"`
	Upload  UploadConfig  `toml:"upload"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`
	Tracing TracingConfig `toml:"tracing"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8080)
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// BackendConfig holds backend retrieval API settings.
type BackendConfig struct {
	BaseURL              string `toml:"base_url"`
	SharedSecret         string `toml:"shared_secret"`
	TimeoutSeconds       int    `toml:"timeout_seconds"`
	UploadTimeoutSeconds int    `toml:"upload_timeout_seconds"`
	IdleConnections      int    `toml:"idle_connections"`
	MaxResponseBytes     int64  `toml:"max_response_bytes"`
}

// SessionConfig controls how caller sessions are verified.
type SessionConfig struct {
	Store         string   `toml:"store"`
	Secret        string   `toml:"secret"`
	CookieNames   []string `toml:"cookie_names"`
	AllowedEmails []string `toml:"allowed_emails"`
	RedisAddr     string   `toml:"redis_addr"`
	RedisPassword string   `toml:"redis_password"`
	RedisDB       int      `toml:"redis_db"`
	RedisPrefix   string   `toml:"redis_prefix"`
}

// RoutesConfig selects the auth scheme per route category.
type RoutesConfig struct {
	Documents    string `toml:"documents"`
	ChatSessions string `toml:"chat_sessions"`
}

// UploadConfig controls the upload body relay.
type UploadConfig struct {
	Strategy         string `toml:"strategy"`
	BufferLimitBytes int64  `toml:"buffer_limit_bytes"`
	MaxBytes         int64  `toml:"max_bytes"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `toml:"enabled"`
	ServiceName string `toml:"service_name"`
}

// Load reads the optional TOML config file and applies CLI/env overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/docqa-proxy/config.toml then configs/config.toml; if neither exists
// the configuration comes from flags and environment alone.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.BackendURL != "" {
		c.Backend.BaseURL = cli.BackendURL
	}
	if cli.SharedSecret != "" {
		c.Backend.SharedSecret = cli.SharedSecret
	}
	if cli.SessionSecret != "" {
		c.Session.Secret = cli.SessionSecret
	}
	if len(cli.AllowedEmails) > 0 {
		c.Session.AllowedEmails = cli.AllowedEmails
	}
	if cli.UploadBufferLimit != 0 {
		c.Upload.BufferLimitBytes = cli.UploadBufferLimit
	}
	if cli.UploadTimeout != 0 {
		c.Backend.UploadTimeoutSeconds = cli.UploadTimeout
	}
	if cli.RedisAddr != "" {
		c.Session.RedisAddr = cli.RedisAddr
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	if c.Backend.SharedSecret == placeholderSecret {
		return errors.New("backend.shared_secret contains the sample placeholder; set a real secret")
	}

	// Backend URL: required, http or https.
	if c.Backend.BaseURL == "" {
		return errors.New("backend.base_url is required")
	}
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil {
		return fmt.Errorf("backend.base_url is not a valid URL: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("backend.base_url must use http or https; got %q", c.Backend.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("backend.base_url has no host; got %q", c.Backend.BaseURL)
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Backend.TimeoutSeconds < 0 {
		return fmt.Errorf("backend.timeout_seconds must be non-negative; got %d", c.Backend.TimeoutSeconds)
	}
	if c.Backend.UploadTimeoutSeconds < 0 {
		return fmt.Errorf("backend.upload_timeout_seconds must be non-negative; got %d", c.Backend.UploadTimeoutSeconds)
	}
	if c.Backend.IdleConnections < 0 {
		return fmt.Errorf("backend.idle_connections must be non-negative; got %d", c.Backend.IdleConnections)
	}
	if c.Backend.MaxResponseBytes < 0 {
		return fmt.Errorf("backend.max_response_bytes must be non-negative; got %d", c.Backend.MaxResponseBytes)
	}
	if c.Upload.BufferLimitBytes < 0 {
		return fmt.Errorf("upload.buffer_limit_bytes must be non-negative; got %d", c.Upload.BufferLimitBytes)
	}
	if c.Upload.MaxBytes < 0 {
		return fmt.Errorf("upload.max_bytes must be non-negative; got %d", c.Upload.MaxBytes)
	}
	if c.Upload.MaxBytes > 0 && c.Upload.BufferLimitBytes > c.Upload.MaxBytes {
		return fmt.Errorf("upload.buffer_limit_bytes (%d) exceeds upload.max_bytes (%d)", c.Upload.BufferLimitBytes, c.Upload.MaxBytes)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	switch strings.ToLower(c.Upload.Strategy) {
	case StrategyAuto, StrategyBuffer, StrategyStream, "":
	default:
		return fmt.Errorf("upload.strategy must be one of: auto, buffer, stream; got %q", c.Upload.Strategy)
	}

	for name, scheme := range map[string]string{
		"routes.documents":     c.Routes.Documents,
		"routes.chat_sessions": c.Routes.ChatSessions,
	} {
		switch strings.ToLower(scheme) {
		case SchemeIdentity, SchemeBearer, "":
		default:
			return fmt.Errorf("%s must be one of: identity, bearer; got %q", name, scheme)
		}
	}

	switch strings.ToLower(c.Session.Store) {
	case StoreJWT, "":
	case StoreRedis:
		if c.Session.RedisAddr == "" {
			return errors.New("session.redis_addr is required when session.store is redis")
		}
	default:
		return fmt.Errorf("session.store must be one of: jwt, redis; got %q", c.Session.Store)
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range []string{"/api", "/healthz", "/proxy/status"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// Secrets and the allow-list are deliberately left empty when unset so that
// authentication fails closed.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 1 * 1024 * 1024 // 1 MB
	}
	if c.Backend.TimeoutSeconds == 0 {
		c.Backend.TimeoutSeconds = 30
	}
	if c.Backend.UploadTimeoutSeconds == 0 {
		c.Backend.UploadTimeoutSeconds = 120
	}
	if c.Backend.IdleConnections == 0 {
		c.Backend.IdleConnections = 100
	}
	if c.Backend.MaxResponseBytes == 0 {
		c.Backend.MaxResponseBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Upload.Strategy == "" {
		c.Upload.Strategy = StrategyAuto
	}
	c.Upload.Strategy = strings.ToLower(c.Upload.Strategy)
	if c.Upload.BufferLimitBytes == 0 {
		c.Upload.BufferLimitBytes = 50 * 1024 * 1024 // 50 MB
	}
	if c.Upload.MaxBytes == 0 {
		c.Upload.MaxBytes = 512 * 1024 * 1024 // 512 MB
	}
	if c.Upload.MaxBytes < c.Upload.BufferLimitBytes {
		c.Upload.MaxBytes = c.Upload.BufferLimitBytes
	}
	if c.Routes.Documents == "" {
		c.Routes.Documents = SchemeIdentity
	}
	c.Routes.Documents = strings.ToLower(c.Routes.Documents)
	if c.Routes.ChatSessions == "" {
		c.Routes.ChatSessions = SchemeBearer
	}
	c.Routes.ChatSessions = strings.ToLower(c.Routes.ChatSessions)
	if c.Session.Store == "" {
		c.Session.Store = StoreJWT
	}
	c.Session.Store = strings.ToLower(c.Session.Store)
	if len(c.Session.CookieNames) == 0 {
		c.Session.CookieNames = []string{"__Secure-next-auth.session-token", "next-auth.session-token"}
	}
	if c.Session.RedisPrefix == "" {
		c.Session.RedisPrefix = "session:"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "docqa-proxy"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}

// WarnInsecure logs the settings that make authentication deny every request.
func (c *Config) WarnInsecure(logger *slog.Logger) {
	if c.Backend.SharedSecret == "" {
		logger.Warn("backend.shared_secret is not set; identity routes will reject every request")
	}
	if len(c.Session.AllowedEmails) == 0 {
		logger.Warn("session.allowed_emails is empty; no user will be let through")
	}
	if c.Session.Store == StoreJWT && c.Session.Secret == "" {
		logger.Warn("session.secret is not set; session tokens cannot be verified")
	}
}
