package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"docqa-proxy/internal/config"
	"docqa-proxy/internal/model"
)

var (
	errSessionNotFound = errors.New("session not found")
	errSessionExpired  = errors.New("session expired")
)

// redisGetter is the subset of redis.Cmdable used by RedisStore.
type redisGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// redisSession is the JSON document stored per session token.
type redisSession struct {
	Email   string    `json:"email"`
	Name    string    `json:"name"`
	Expires time.Time `json:"expires"`
}

// RedisStore resolves database-style sessions kept in Redis.
type RedisStore struct {
	client redisGetter
	prefix string
	logger *slog.Logger
	now    func() time.Time
}

// NewRedisStore creates a RedisStore reading keys of the form prefix+token.
func NewRedisStore(client redisGetter, prefix string, logger *slog.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: prefix,
		logger: logger.With("component", "redis_session_store"),
		now:    time.Now,
	}
}

// Lookup fetches and decodes the session stored under the token.
func (s *RedisStore) Lookup(ctx context.Context, token string) (*model.Identity, error) {
	raw, err := s.client.Get(ctx, s.prefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errSessionNotFound
	}
	if err != nil {
		s.logger.Error("redis session lookup", "err", err)
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var sess redisSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if sess.Expires.IsZero() || !s.now().Before(sess.Expires) {
		return nil, errSessionExpired
	}

	return &model.Identity{Email: sess.Email, Name: sess.Name}, nil
}

// NewRedisClient creates the Redis client backing RedisStore.
func NewRedisClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Session.RedisAddr,
		Password: cfg.Session.RedisPassword,
		DB:       cfg.Session.RedisDB,
	})
}
