package lock_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"retailsync/internal/lock"
	"retailsync/internal/synerr"
)

func setupRedisTest(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set, skipping lock integration test")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("connecting to test redis: %v", err)
	}
	return client
}

func TestAcquire_SecondHolderIsRejected(t *testing.T) {
	client := setupRedisTest(t)
	defer client.Close()
	l := lock.New(client, zap.NewNop())
	ctx := context.Background()

	h, err := l.Acquire(ctx, "test-change-detect", 5*time.Second)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	defer l.Release(ctx, h)

	_, err = l.Acquire(ctx, "test-change-detect", 5*time.Second)
	if err != synerr.ErrLockHeld {
		t.Fatalf("expected ErrLockHeld, got %v", err)
	}
}

func TestReleaseThenAcquire_Succeeds(t *testing.T) {
	client := setupRedisTest(t)
	defer client.Close()
	l := lock.New(client, zap.NewNop())
	ctx := context.Background()

	h, err := l.Acquire(ctx, "test-full-sync", 5*time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := l.Release(ctx, h); err != nil {
		t.Fatalf("release: %v", err)
	}

	h2, err := l.Acquire(ctx, "test-full-sync", 5*time.Second)
	if err != nil {
		t.Fatalf("second acquire after release: %v", err)
	}
	l.Release(ctx, h2)
}

func TestRefresh_FailsAfterAnotherHolderTakesTheKey(t *testing.T) {
	client := setupRedisTest(t)
	defer client.Close()
	l := lock.New(client, zap.NewNop())
	ctx := context.Background()

	h, err := l.Acquire(ctx, "test-maintenance", 200*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	time.Sleep(300 * time.Millisecond) // let it expire

	h2, err := l.Acquire(ctx, "test-maintenance", 5*time.Second)
	if err != nil {
		t.Fatalf("second acquire after expiry: %v", err)
	}
	defer l.Release(ctx, h2)

	if err := l.Refresh(ctx, h); err == nil {
		t.Fatal("expected refresh on expired handle to fail")
	}
}

func TestStartHolding_RefreshesUntilReleased(t *testing.T) {
	client := setupRedisTest(t)
	defer client.Close()
	l := lock.New(client, zap.NewNop())
	ctx := context.Background()

	holder, err := lock.StartHolding(ctx, l, "test-holder", 300*time.Millisecond)
	if err != nil {
		t.Fatalf("start holding: %v", err)
	}

	select {
	case <-holder.Lost():
		t.Fatal("lock reported lost before it should have")
	case <-time.After(500 * time.Millisecond):
	}

	if err := holder.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
}
