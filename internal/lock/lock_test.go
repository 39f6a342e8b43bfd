package lock

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lockerContract checks mutual exclusion: n goroutines increment a plain
// int under the same key, and the final value must be n.
func lockerContract(t *testing.T, l Locker) {
	t.Helper()

	const n = 20
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "pair:u1:v1")
			if err != nil {
				t.Errorf("Lock() error = %v", err)
				return
			}
			defer unlock()
			v := counter
			time.Sleep(time.Millisecond)
			counter = v + 1
		}()
	}
	wg.Wait()

	assert.Equal(t, n, counter)
}

func TestKeyedMutex_MutualExclusion(t *testing.T) {
	k := NewKeyedMutex()
	lockerContract(t, k)
	assert.Equal(t, 0, k.size(), "slots should be dropped once released")
}

func TestKeyedMutex_DifferentKeysDoNotBlock(t *testing.T) {
	k := NewKeyedMutex()

	unlockA, err := k.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := k.Lock(ctx, "b")
	require.NoError(t, err)
	unlockB()
}

func TestKeyedMutex_ContextCancelled(t *testing.T) {
	k := NewKeyedMutex()

	unlock, err := k.Lock(context.Background(), "busy")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = k.Lock(ctx, "busy")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	unlock()
	unlock() // second call is a no-op
	assert.Equal(t, 0, k.size())
}

// TestRedisLocker needs a live redis; set REDIS_ADDR to run it.
func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	db, _ := strconv.Atoi(os.Getenv("REDIS_DB"))

	client, err := NewRedisClient(context.Background(), addr, os.Getenv("REDIS_PASSWORD"), db)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	l := NewRedisLocker(client, 5*time.Second, logger)
	l.prefix = "clipstream:test:" + t.Name() + ":"

	lockerContract(t, l)
}

func newTestRedisLocker(t *testing.T, ttl time.Duration) *RedisLocker {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	db, _ := strconv.Atoi(os.Getenv("REDIS_DB"))

	client, err := NewRedisClient(context.Background(), addr, os.Getenv("REDIS_PASSWORD"), db)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	l := NewRedisLocker(client, ttl, nil)
	l.prefix = "clipstream:test:" + t.Name() + ":"
	return l
}

// A holder that outlives the ttl keeps the lock; releasing it lets the
// next caller in right away.
func TestRedisLocker_HeldPastTTL(t *testing.T) {
	l := newTestRedisLocker(t, 300*time.Millisecond)

	unlock, err := l.Lock(context.Background(), "slow")
	require.NoError(t, err)

	time.Sleep(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	_, err = l.Lock(ctx, "slow")
	cancel()
	assert.ErrorIs(t, err, context.DeadlineExceeded, "lock was taken while still held")

	unlock()

	ctx, cancel = context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlock2, err := l.Lock(ctx, "slow")
	require.NoError(t, err)
	unlock2()
}

func TestRedisLocker_DoubleUnlock(t *testing.T) {
	l := newTestRedisLocker(t, time.Second)

	unlock, err := l.Lock(context.Background(), "twice")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock()
		}()
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlock2, err := l.Lock(ctx, "twice")
	require.NoError(t, err)
	// A stale unlock must not release someone else's lock.
	unlock()
	ctx2, cancel2 := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel2()
	_, err = l.Lock(ctx2, "twice")
	assert.Error(t, err)
	unlock2()
}

func TestNewRedisClient_EmptyAddr(t *testing.T) {
	client, err := NewRedisClient(context.Background(), "", "", 0)
	assert.NoError(t, err)
	assert.Nil(t, client)
}
