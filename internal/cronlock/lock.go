// Package cronlock implements an optional, off-by-default distributed
// lock for the cron-promoter task: when multiple dispatcher processes
// share a Redis instance, the promoter takes one lock per cron class
// (cron:lock:<class>) around each firing, and only the holder runs it,
// so a fleet of dispatchers doesn't each run the same cron job.
package cronlock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lock is a Redis-backed mutual-exclusion lock scoped to a single key.
type Lock struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
}

// Acquire attempts to take the lock at key for ttl. Returns (nil, nil)
// if another holder currently owns it.
func Acquire(ctx context.Context, client *redis.Client, key string, ttl time.Duration) (*Lock, error) {
	token := uuid.New().String()

	acquired, err := client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !acquired {
		return nil, nil
	}

	return &Lock{client: client, key: key, token: token, ttl: ttl}, nil
}

// releaseScript deletes the key only if it still holds our token, so a
// lock we let expire can't be released out from under its new owner.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// Release drops the lock if this instance still owns it.
func (l *Lock) Release(ctx context.Context) error {
	_, err := l.client.Eval(ctx, releaseScript, []string{l.key}, l.token).Result()
	if err != nil {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	return nil
}

const extendScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end
`

// Extend pushes the lock's expiry out to ttl, if this instance still
// owns it.
func (l *Lock) Extend(ctx context.Context, ttl time.Duration) error {
	result, err := l.client.Eval(ctx, extendScript, []string{l.key}, l.token, ttl.Milliseconds()).Result()
	if err != nil {
		return fmt.Errorf("extend lock %s: %w", l.key, err)
	}
	if result == int64(0) {
		return fmt.Errorf("extend lock %s: no longer owned by this instance", l.key)
	}
	l.ttl = ttl
	return nil
}

// Key returns the Redis key backing this lock.
func (l *Lock) Key() string { return l.key }

// Token returns this instance's ownership token.
func (l *Lock) Token() string { return l.token }
