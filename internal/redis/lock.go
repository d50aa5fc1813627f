package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseIfMatches deletes KEYS[1] only while it still holds ARGV[1].
var releaseIfMatches = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out short-lived named locks. A lock expires on its own after
// its TTL, so a crashed holder never blocks other instances for long.
type Locker struct {
	client *Client
	logger *zap.Logger
}

func NewLocker(client *Client, logger *zap.Logger) *Locker {
	return &Locker{client: client, logger: logger}
}

func lockKey(name string) string {
	return fmt.Sprintf("lock:%s", name)
}

// Acquire tries to take the lock once. When acquired is false the release
// function is nil.
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (release func(context.Context) error, acquired bool, err error) {
	key := lockKey(name)
	token := uuid.NewString()

	ok, err := l.client.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		l.logger.Debug("lock held elsewhere", zap.String("lock", name))
		return nil, false, nil
	}

	release = func(ctx context.Context) error {
		err := releaseIfMatches.Run(ctx, l.client.rdb, []string{key}, token).Err()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("release lock %s: %w", name, err)
		}
		return nil
	}
	return release, true, nil
}
