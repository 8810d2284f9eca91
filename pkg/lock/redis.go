package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// releaseScript deletes the lease only when the stored token still belongs
// to the holder, so an expired lease re-acquired by someone else is never
// released by the original holder.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// RedisLocker implements Locker with SET NX PX leases.
type RedisLocker struct {
	client redis.UniversalClient
	logger *slog.Logger
	prefix string
}

// NewRedisLocker creates a locker backed by the given Redis URL.
func NewRedisLocker(url string, logger *slog.Logger) (*RedisLocker, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	return &RedisLocker{
		client: redis.NewClient(options),
		logger: logger.With("module", "redis_locker"),
		prefix: "cadence:lease:",
	}, nil
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.New().String()
	leaseKey := l.prefix + key

	acquired, err := l.client.SetNX(ctx, leaseKey, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lease %s: %w", leaseKey, err)
	}

	if !acquired {
		return nil, false, nil
	}

	release := func() {
		err := l.client.Eval(context.WithoutCancel(ctx), releaseScript, []string{leaseKey}, token).Err()
		if err != nil && err != redis.Nil {
			l.logger.Error("failed to release lease", "key", leaseKey, "error", err)
		}
	}

	return release, true, nil
}

// Close closes the underlying Redis client.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}
