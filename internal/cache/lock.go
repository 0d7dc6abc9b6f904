package cache

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Lock is a SET NX lock with a random owner value, so a holder never
// releases a lock that expired and was taken by someone else.
type Lock struct {
	redis *RedisClient
	key   string
	ttl   time.Duration
}

// NewLock creates a lock on "lock:<name>".
func NewLock(redis *RedisClient, name string, ttl time.Duration) *Lock {
	return &Lock{redis: redis, key: fmt.Sprintf("lock:%s", name), ttl: ttl}
}

// Acquire tries once to take the lock. It returns a release func when
// acquired, or ok=false if someone else holds it.
func (l *Lock) Acquire(ctx context.Context) (release func(context.Context) error, ok bool, err error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return nil, false, err
	}
	owner := hex.EncodeToString(b)

	ok, err = l.redis.SetNX(ctx, l.key, owner, l.ttl)
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", l.key, err)
	}
	if !ok {
		return nil, false, nil
	}

	release = func(ctx context.Context) error {
		return releaseScript.Run(ctx, l.redis.client, []string{l.key}, owner).Err()
	}
	return release, true, nil
}
