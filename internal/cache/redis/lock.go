package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/quorumlabs/foresight/internal/domain"
)

// releaseScript deletes a lock key only when its value matches the holder's
// token, so one holder cannot release another holder's lock.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

// LockManager implements domain.LockManager using Redis SETNX with a TTL
// and a token-checked release. The settlement pipeline takes one of these
// locks per market so only one worker drives a market's resolution at a
// time.
type LockManager struct {
	rdb *redis.Client
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{rdb: c.Underlying()}
}

// Acquire takes the distributed lock for key with the given TTL. On success
// it returns a release function that is safe to call more than once. It
// returns domain.ErrLockHeld when another holder owns the lock.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	name := "lock:" + key
	token := uuid.NewString()

	ok, err := lm.rdb.SetNX(ctx, name, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// Release on a fresh context so unlock works during shutdown.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = releaseScript.Run(ctx, lm.rdb, []string{name}, token).Err()
		})
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
