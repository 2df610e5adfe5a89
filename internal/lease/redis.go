// Package lease provides a cross-instance run lease so that only one retention
// sweep runs at a time.
package lease

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLease is a SET NX lease with a TTL. An expired holder simply loses the lease.
type RedisLease struct {
	rdb goredis.UniversalClient
	key string
	ttl time.Duration
}

// NewRedisLease connects to addr and verifies it with PING.
func NewRedisLease(addr, key string, ttl time.Duration) (*RedisLease, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return newRedisLease(rdb, key, ttl), nil
}

func newRedisLease(rdb goredis.UniversalClient, key string, ttl time.Duration) *RedisLease {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisLease{rdb: rdb, key: key, ttl: ttl}
}

// TryAcquire takes the lease if nobody holds it. The returned release func is
// nil when ok is false.
func (l *RedisLease) TryAcquire(ctx context.Context) (release func(context.Context) error, ok bool, err error) {
	token := uuid.NewString()
	ok, err = l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lease %s: %w", l.key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.rdb, []string{l.key}, token).Err(); err != nil {
			return fmt.Errorf("release lease %s: %w", l.key, err)
		}
		return nil
	}, true, nil
}

func (l *RedisLease) Close() error {
	return l.rdb.Close()
}
