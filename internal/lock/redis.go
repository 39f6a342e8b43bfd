package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/xid"
)

// RedisLocker serializes a key across every server instance that shares
// the same redis. The lock is a "SET key token NX PX ttl"; release runs a
// script that deletes the key only if it still holds our token, so a lock
// that expired and was taken by someone else is never released by us.
//
// While a lock is held a watchdog pushes its expiry out every ttl/3, so a
// holder slower than ttl keeps it. The ttl only matters once the holder
// process is gone.
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	retry  time.Duration
	logger *slog.Logger
}

var _ Locker = (*RedisLocker)(nil)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// NewRedisLocker returns a locker whose locks expire after ttl even if the
// holder dies without releasing them.
func NewRedisLocker(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLocker{
		client: client,
		prefix: "clipstream:lock:",
		ttl:    ttl,
		retry:  25 * time.Millisecond,
		logger: logger,
	}
}

// NewRedisClient connects to addr and pings it. An empty addr returns
// (nil, nil): redis is optional and the caller falls back to KeyedMutex.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	if addr == "" {
		return nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("lock: connecting to redis %s: %w", addr, err)
	}
	return rdb, nil
}

// Lock polls until the key is acquired or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.prefix + key
	token := xid.New().String()

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("lock: acquiring %s: %w", key, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	stop := make(chan struct{})
	go l.watchdog(redisKey, key, token, stop)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)

			// Release even if the caller's context is already cancelled.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
				l.logger.Warn("failed to release redis lock",
					slog.String("key", key),
					slog.String("error", err.Error()),
				)
			}
		})
	}, nil
}

// watchdog extends the lock until stop is closed or the lock is found
// taken by someone else.
func (l *RedisLocker) watchdog(redisKey, key, token string, stop <-chan struct{}) {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
		n, err := extendScript.Run(ctx, l.client, []string{redisKey}, token, l.ttl.Milliseconds()).Int64()
		cancel()
		switch {
		case err != nil:
			// Try again on the next tick; the key still has time left.
			l.logger.Warn("failed to extend redis lock",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		case n == 0:
			l.logger.Error("redis lock expired while held", slog.String("key", key))
			return
		}
	}
}
