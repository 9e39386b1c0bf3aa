package cache_test

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"assessengine/internal/common/cache"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisCache(t *testing.T) (*cache.RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc, err := cache.NewRedisCacheWithConfig(&cache.RedisConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("new redis cache: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return rc, mr
}

func loadCounter(calls *int, value int, err error) func(context.Context) (int, error) {
	return func(context.Context) (int, error) {
		*calls++
		return value, err
	}
}

func getInt(ctx context.Context, c cache.Cache, key string, fn func(context.Context) (int, error)) (int, error) {
	return cache.GetWithCached[int](ctx, c, key, time.Minute, time.Second,
		func(v int) bool { return v == 0 },
		func(v int) (string, error) { return strconv.Itoa(v), nil },
		strconv.Atoi,
		fn,
	)
}

func TestGetWithCached_ReadThrough(t *testing.T) {
	rc, mr := newRedisCache(t)
	ctx := context.Background()
	calls := 0

	for i := 0; i < 3; i++ {
		got, err := getInt(ctx, rc, "k", loadCounter(&calls, 42, nil))
		if err != nil || got != 42 {
			t.Fatalf("got %d, %v", got, err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one load, got %d", calls)
	}
	if ttl := mr.TTL("k"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected ttl %v", ttl)
	}
}

func TestGetWithCached_CachesEmpty(t *testing.T) {
	rc, mr := newRedisCache(t)
	ctx := context.Background()
	calls := 0

	for i := 0; i < 2; i++ {
		got, err := getInt(ctx, rc, "missing", loadCounter(&calls, 0, nil))
		if err != nil || got != 0 {
			t.Fatalf("got %d, %v", got, err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one load, got %d", calls)
	}
	if v, _ := mr.Get("missing"); v != cache.NullCacheValue {
		t.Fatalf("expected null marker, got %q", v)
	}
}

func TestGetWithCached_LoadErrorNotCached(t *testing.T) {
	rc, mr := newRedisCache(t)
	ctx := context.Background()
	calls := 0
	boom := errors.New("boom")

	if _, err := getInt(ctx, rc, "k", loadCounter(&calls, 0, boom)); !errors.Is(err, boom) {
		t.Fatalf("expected load error, got %v", err)
	}
	if mr.Exists("k") {
		t.Fatalf("error must not be cached")
	}
}

func TestGetWithCached_CacheDownFallsBack(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	rc, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("new redis cache: %v", err)
	}
	defer func() { _ = rc.Close() }()
	calls := 0

	got, err := getInt(context.Background(), rc, "k", loadCounter(&calls, 7, nil))
	if err != nil || got != 7 || calls != 1 {
		t.Fatalf("got %d, %v", got, err)
	}
}

func TestGetWithCached_NilCache(t *testing.T) {
	calls := 0
	got, err := getInt(context.Background(), nil, "k", loadCounter(&calls, 5, nil))
	if err != nil || got != 5 || calls != 1 {
		t.Fatalf("got %d, %v after %d calls", got, err, calls)
	}
}

func TestRedisLocker_TokenGuarded(t *testing.T) {
	rc, mr := newRedisCache(t)
	ctx := context.Background()

	ok, err := rc.TryLock(ctx, "lock", "a", time.Second)
	if err != nil || !ok {
		t.Fatalf("first lock: %v %v", ok, err)
	}
	if ok, _ := rc.TryLock(ctx, "lock", "b", time.Second); ok {
		t.Fatalf("second holder must be rejected")
	}
	if ok, _ := rc.ExtendLock(ctx, "lock", "b", time.Minute); ok {
		t.Fatalf("foreign token must not extend")
	}
	if err := rc.Unlock(ctx, "lock", "b"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if !mr.Exists("lock") {
		t.Fatalf("foreign token must not release")
	}
	if ok, err := rc.ExtendLock(ctx, "lock", "a", time.Minute); err != nil || !ok {
		t.Fatalf("extend: %v %v", ok, err)
	}
	if ttl := mr.TTL("lock"); ttl != time.Minute {
		t.Fatalf("expected extended ttl, got %v", ttl)
	}
	if err := rc.Unlock(ctx, "lock", "a"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if mr.Exists("lock") {
		t.Fatalf("lock should be released")
	}
}

func TestLocalLocker(t *testing.T) {
	l := cache.NewLocalLocker()
	ctx := context.Background()

	if ok, _ := l.TryLock(ctx, "k", "a", time.Minute); !ok {
		t.Fatalf("expected lock")
	}
	if ok, _ := l.TryLock(ctx, "k", "b", time.Minute); ok {
		t.Fatalf("expected contention")
	}
	_ = l.Unlock(ctx, "k", "b")
	if ok, _ := l.ExtendLock(ctx, "k", "a", time.Minute); !ok {
		t.Fatalf("holder should still own the lock")
	}
	_ = l.Unlock(ctx, "k", "a")
	if ok, _ := l.TryLock(ctx, "k", "b", time.Minute); !ok {
		t.Fatalf("expected lock after release")
	}
	if ok, _ := l.TryLock(ctx, "other", "c", -time.Second); !ok {
		t.Fatalf("expected lock on other key")
	}
	if ok, _ := l.TryLock(ctx, "other", "d", time.Minute); !ok {
		t.Fatalf("expired lease should be replaced")
	}
}
