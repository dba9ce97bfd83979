package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker serialises scheduler runs across processes.
type Locker interface {
	// Acquire tries once to take key. When acquired is false the caller must
	// not run; release is only valid when acquired is true.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, acquired bool, err error)
}

// NoopLocker always grants the lock. Overlapping runs are then unguarded.
type NoopLocker struct{}

func (NoopLocker) Acquire(context.Context, string, time.Duration) (func(context.Context) error, bool, error) {
	return func(context.Context) error { return nil }, true, nil
}

// RedisClient is the subset of *redis.Client used by RedisLocker.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// releaseScript deletes the key only while it still holds our token.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

// RedisLocker holds the lock as a key with a random token and a TTL.
type RedisLocker struct {
	client RedisClient
}

// NewRedisLocker wraps an existing client.
func NewRedisLocker(client RedisClient) *RedisLocker {
	return &RedisLocker{client: client}
}

// DialRedisLocker connects to url (redis://...) and returns the locker and the
// client's Close.
func DialRedisLocker(ctx context.Context, url string) (*RedisLocker, func() error, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisLocker(client), client.Close, nil
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		return l.client.Eval(ctx, releaseScript, []string{key}, token).Err()
	}
	return release, true, nil
}
