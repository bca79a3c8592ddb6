package redislock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/pdfsum-backend/internal/platform/logger"
)

func exerciseLocker(t *testing.T, l Locker) {
	t.Helper()
	ctx := context.Background()

	ok, err := l.Acquire(ctx, "doc-1:summarize", "job-a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	ok, err = l.Acquire(ctx, "doc-1:summarize", "job-b", time.Minute)
	if err != nil || ok {
		t.Fatalf("second acquire must fail: ok=%v err=%v", ok, err)
	}
	ok, err = l.Acquire(ctx, "doc-1:embed", "job-c", time.Minute)
	if err != nil || !ok {
		t.Fatalf("other key: ok=%v err=%v", ok, err)
	}

	if err := l.Release(ctx, "doc-1:summarize", "job-b"); err != nil {
		t.Fatalf("foreign release: %v", err)
	}
	if ok, _ := l.Acquire(ctx, "doc-1:summarize", "job-b", time.Minute); ok {
		t.Fatalf("foreign token must not release the lock")
	}

	if err := l.Release(ctx, "doc-1:summarize", "job-a"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, err := l.Acquire(ctx, "doc-1:summarize", "job-b", time.Minute); err != nil || !ok {
		t.Fatalf("acquire after release: ok=%v err=%v", ok, err)
	}
}

func TestLocal(t *testing.T) {
	exerciseLocker(t, NewLocal())
}

func TestLocalExpiry(t *testing.T) {
	l := NewLocal()
	now := time.Now()
	l.now = func() time.Time { return now }
	ctx := context.Background()

	if ok, _ := l.Acquire(ctx, "k", "a", time.Second); !ok {
		t.Fatalf("acquire failed")
	}
	now = now.Add(2 * time.Second)
	if ok, _ := l.Acquire(ctx, "k", "b", time.Second); !ok {
		t.Fatalf("expired lock should be acquirable")
	}
	_ = l.Release(ctx, "k", "a")
	if ok, _ := l.Acquire(ctx, "k", "c", time.Second); ok {
		t.Fatalf("stale owner released a lock it no longer holds")
	}
}

func TestRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	l := NewRedis(rdb, "test:lock:", logger.Nop())
	exerciseLocker(t, l)

	if ttl := mr.TTL("test:lock:doc-1:embed"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("lock ttl: %v", ttl)
	}
	mr.FastForward(2 * time.Minute)
	if ok, err := l.Acquire(context.Background(), "doc-1:embed", "job-d", time.Minute); err != nil || !ok {
		t.Fatalf("acquire after expiry: ok=%v err=%v", ok, err)
	}
}
