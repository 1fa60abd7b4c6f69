package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultKeyPrefix namespaces the dedup keys.
	DefaultKeyPrefix = "safeglove:transition:"
	// DefaultTimeout bounds dialing and every socket read or write.
	DefaultTimeout = 250 * time.Millisecond
)

// Redis stores keys in Redis so several engines share one dedup window.
type Redis struct {
	client    *redis.Client
	keyPrefix string
}

// RedisConfig holds the connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Timeout bounds dialing and socket IO; zero means DefaultTimeout.
	Timeout time.Duration
}

// NewRedis connects to the configured server. Commands are not retried and
// honor context deadlines, so a stalled server fails fast.
func NewRedis(cfg RedisConfig) *Redis {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:                  cfg.Addr,
		Password:              cfg.Password,
		DB:                    cfg.DB,
		DialTimeout:           timeout,
		ReadTimeout:           timeout,
		WriteTimeout:          timeout,
		PoolTimeout:           timeout,
		MaxRetries:            -1,
		ContextTimeoutEnabled: true,
	})

	return NewRedisWithClient(client)
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client) *Redis {
	return &Redis{
		client:    client,
		keyPrefix: DefaultKeyPrefix,
	}
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	return nil
}

// MarkOnce records key for ttl and reports whether it was absent.
func (r *Redis) MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	created, err := r.client.SetNX(ctx, r.keyPrefix+key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("mark transition key: %w", err)
	}

	return created, nil
}

// Close releases the connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
