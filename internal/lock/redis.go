package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockLua deletes a lock key only if it still carries the caller's token,
// so an expired holder cannot release a lock someone else now owns.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// RedisLocker is a Locker shared by every engine instance pointed at the same
// Redis. Each key is a SETNX with a TTL; acquisition polls until Wait elapses.
type RedisLocker struct {
	rdb      redis.UniversalClient
	unlockSc *redis.Script
	ttl      time.Duration
	wait     time.Duration
	poll     time.Duration
}

// NewRedisLocker creates a RedisLocker. ttl bounds how long a crashed holder
// can block a key; wait bounds how long Acquire keeps retrying.
func NewRedisLocker(rdb redis.UniversalClient, ttl, wait time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisLocker{
		rdb:      rdb,
		unlockSc: redis.NewScript(unlockLua),
		ttl:      ttl,
		wait:     wait,
		poll:     25 * time.Millisecond,
	}
}

func redisKey(key string) string {
	return "lock:" + key
}

// Acquire takes every key or none. On failure, keys taken so far are released.
func (l *RedisLocker) Acquire(ctx context.Context, keys ...string) (func(), error) {
	keys = normalize(keys)
	token := uuid.New().String()
	held := make([]string, 0, len(keys))

	release := func() {
		// Background context so unlock succeeds even if the caller's
		// context is already cancelled.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, k := range held {
			_ = l.unlockSc.Run(unlockCtx, l.rdb, []string{redisKey(k)}, token).Err()
		}
		held = held[:0]
	}

	deadline := time.Now().Add(l.wait)
	for _, k := range keys {
		for {
			ok, err := l.rdb.SetNX(ctx, redisKey(k), token, l.ttl).Result()
			if err != nil {
				release()
				return nil, fmt.Errorf("redis: acquire lock %s: %w", k, err)
			}
			if ok {
				held = append(held, k)
				break
			}
			if time.Now().After(deadline) {
				release()
				return nil, fmt.Errorf("%w: %s", ErrLockHeld, k)
			}
			select {
			case <-time.After(l.poll):
			case <-ctx.Done():
				release()
				return nil, fmt.Errorf("%w: %s: %v", ErrLockHeld, k, ctx.Err())
			}
		}
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		release()
	}, nil
}

// Compile-time interface checks.
var (
	_ Locker = (*RedisLocker)(nil)
	_ Locker = (*KeyedMutex)(nil)
)
