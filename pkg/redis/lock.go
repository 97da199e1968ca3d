package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lock is a single-holder lease used to keep scheduled scenario refreshes
// from overlapping across instances
// ⭐ SSOT: 분산 락은 여기서만
type Lock struct {
	client *Client
	prefix string
}

// NewLock creates a lock helper
func NewLock(client *Client, prefix string) *Lock {
	return &Lock{
		client: client,
		prefix: prefix,
	}
}

// releaseScript deletes the key only if the caller still owns it
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// Acquire tries to take the lease for ttl.
// Returns (release, acquired, error). When Redis is disabled the lease is
// always granted and release is a no-op.
func (l *Lock) Acquire(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, bool, error) {
	noop := func(context.Context) error { return nil }
	if !l.client.Enabled() {
		return noop, true, nil
	}

	key := fmt.Sprintf("%s:lock:%s", l.prefix, name)
	token := uuid.NewString()

	ok, err := l.client.Redis().SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return noop, false, fmt.Errorf("lock acquire %s: %w", name, err)
	}
	if !ok {
		return noop, false, nil
	}

	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client.Redis(), []string{key}, token).Err(); err != nil {
			return fmt.Errorf("lock release %s: %w", name, err)
		}
		return nil
	}
	return release, true, nil
}
