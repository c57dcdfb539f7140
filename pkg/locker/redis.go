package locker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const (
	lockTTL       = 30 * time.Second
	retryInterval = 50 * time.Millisecond
)

// releaseScript deletes the lock only when it still carries our token, so an
// expired-and-reacquired lock is never released by the previous holder.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// RedisLocker implements Locker with a SET NX lease per key.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLocker creates a locker from a redis connection URL.
func NewRedisLocker(url string) (*RedisLocker, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	return &RedisLocker{
		client: redis.NewClient(options),
		prefix: "approvalflow:lock:",
	}, nil
}

// Acquire polls SET NX until the lease is obtained or ctx is done.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (UnlockFunc, error) {
	token := uuid.NewString()
	lockKey := l.prefix + key

	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, lockKey, token, lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}

		if ok {
			return func() {
				releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancel()

				_ = l.client.Eval(releaseCtx, releaseScript, []string{lockKey}, token).Err()
			}, nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close releases the underlying redis client.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}
