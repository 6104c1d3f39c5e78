package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bsm/redislock"
	"github.com/mmdatafocus/closing_backend/config"
	"github.com/mmdatafocus/closing_backend/models"
	"github.com/redis/go-redis/v9"
)

func assertExclusive(t *testing.T, locker DateLocker) {
	t.Helper()
	ctx := context.Background()

	release, err := locker.Obtain(ctx, testDate)
	if err != nil {
		t.Fatalf("first obtain: %v", err)
	}
	if _, err := locker.Obtain(ctx, testDate.Add(5*time.Hour)); !errors.Is(err, models.ErrReconciliationInProgress) {
		t.Fatalf("expected ErrReconciliationInProgress for the same date, got %v", err)
	}
	other, err := locker.Obtain(ctx, testDate.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("another date must not be blocked: %v", err)
	}
	other()

	release()
	release()
	again, err := locker.Obtain(ctx, testDate)
	if err != nil {
		t.Fatalf("obtain after release: %v", err)
	}
	again()
}

func TestLocalDateLocker(t *testing.T) {
	assertExclusive(t, NewLocalDateLocker())
}

func TestRedisDateLocker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker := &RedisDateLocker{Client: redislock.New(client), TTL: time.Minute, Logger: config.GetLogger()}
	assertExclusive(t, locker)

	release, err := locker.Obtain(context.Background(), testDate)
	if err != nil {
		t.Fatalf("obtain: %v", err)
	}
	defer release()
	if !mr.Exists("closing-ingest:2024-11-29") {
		t.Fatalf("expected the lock key in redis, keys: %v", mr.Keys())
	}
}

func TestRedisDateLockerExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := &RedisDateLocker{Client: redislock.New(client), TTL: time.Second, Logger: config.GetLogger()}

	if _, err := locker.Obtain(context.Background(), testDate); err != nil {
		t.Fatalf("obtain: %v", err)
	}
	mr.FastForward(2 * time.Second)
	release, err := locker.Obtain(context.Background(), testDate)
	if err != nil {
		t.Fatalf("expired lock must be obtainable: %v", err)
	}
	release()
}

func TestNewDateLockerFallsBackToLocal(t *testing.T) {
	config.SetRedisClient(nil)
	if _, ok := NewDateLocker(config.GetLogger()).(*LocalDateLocker); !ok {
		t.Fatalf("expected the in-process locker without redis")
	}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	config.SetRedisClient(client)
	t.Cleanup(func() {
		config.SetRedisClient(nil)
		_ = client.Close()
	})
	if _, ok := NewDateLocker(config.GetLogger()).(*RedisDateLocker); !ok {
		t.Fatalf("expected the redis locker")
	}
}
