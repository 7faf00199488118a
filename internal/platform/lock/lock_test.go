package lock

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestBookingKey(t *testing.T) {
	id := uuid.MustParse("6f1c2a4e-0000-4000-8000-000000000001")
	got := BookingKey(id, "2026-10-17")
	want := "lock:booking:6f1c2a4e-0000-4000-8000-000000000001:2026-10-17"
	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestNoop_RunsFn(t *testing.T) {
	called := false
	err := Noop{}.WithLock(context.Background(), "k", func(context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected fn to run")
	}
}

func TestNoop_PropagatesError(t *testing.T) {
	want := errors.New("boom")
	err := Noop{}.WithLock(context.Background(), "k", func(context.Context) error { return want })
	if !errors.Is(err, want) {
		t.Errorf("expected %v, got %v", want, err)
	}
}

// redisLocker connects to TEST_REDIS_URL or skips.
func redisLocker(t *testing.T, ttl, wait time.Duration) *RedisLocker {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	client, err := NewRedisClient(context.Background(), url)
	if err != nil {
		t.Fatalf("connect redis: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return NewRedisLocker(client, ttl, wait)
}

func TestRedisLocker_MutualExclusion(t *testing.T) {
	l := redisLocker(t, 2*time.Second, 5*time.Second)
	key := "lock:test:" + uuid.NewString()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.WithLock(context.Background(), key, func(context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Errorf("expected at most 1 holder at a time, saw %d", maxInside)
	}
}

func TestRedisLocker_GivesUpAfterWait(t *testing.T) {
	l := redisLocker(t, 2*time.Second, 50*time.Millisecond)
	key := "lock:test:" + uuid.NewString()

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = l.WithLock(context.Background(), key, func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	err := l.WithLock(context.Background(), key, func(context.Context) error { return nil })
	if !errors.Is(err, ErrNotAcquired) {
		t.Errorf("expected ErrNotAcquired, got %v", err)
	}
}
