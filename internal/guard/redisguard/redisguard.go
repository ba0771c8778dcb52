// Package redisguard implements guard.Locker with Redis SET NX and a
// token-checked unlock script.
package redisguard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"mediaflow/internal/guard"
	"mediaflow/internal/logging"
)

var luaUnlock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

// Locker holds per-job locks in Redis. Locks expire after ttl so a crashed
// holder cannot wedge a job.
type Locker struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

var _ guard.Locker = (*Locker)(nil)

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// New connects to Redis and verifies the server responds.
func New(ctx context.Context, opts Options, logger *slog.Logger) (*Locker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return NewWithClient(client, opts.TTL, logger), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, ttl time.Duration, logger *slog.Logger) *Locker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Locker{client: client, ttl: ttl, logger: logger}
}

// Acquire polls SET NX until the key is free or ctx ends.
func (l *Locker) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	err := guard.Poll(ctx, func() (bool, error) {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return false, fmt.Errorf("redis setnx %s: %w", key, err)
		}
		return ok, nil
	})
	if err != nil {
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, token) })
	}, nil
}

func (l *Locker) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := luaUnlock.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
		logging.WarnWithContext(l.logger, "redis unlock failed", "lock_release_failed",
			logging.String("key", key),
			logging.Error(err),
			logging.String(logging.FieldImpact, "lock expires after its ttl"),
		)
	}
}

// Ping checks the Redis connection.
func (l *Locker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (l *Locker) Close() error {
	return l.client.Close()
}
