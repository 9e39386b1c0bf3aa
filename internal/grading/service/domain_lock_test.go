package service

import (
	"context"
	"testing"
	"time"

	"assessengine/internal/common/cache"
	appErr "assessengine/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisLocker(t *testing.T) (*miniredis.Miniredis, *cache.RedisCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rc, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("redis cache: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return mr, rc
}

func TestDomainLockExcludesSecondHolder(t *testing.T) {
	mr, rc := newRedisLocker(t)
	lock := newDomainLock(rc, time.Second, 0)
	lock.retry = 5 * time.Millisecond

	first, err := lock.acquire(context.Background(), 7)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !mr.Exists("grading:finalize:domain:7") {
		t.Fatalf("lock key not written")
	}

	_, err = lock.acquire(context.Background(), 7)
	if !appErr.Is(err, appErr.FinalizationBusy) {
		t.Fatalf("expected FinalizationBusy, got %v", err)
	}

	other, err := lock.acquire(context.Background(), 8)
	if err != nil {
		t.Fatalf("other domains must not be blocked: %v", err)
	}
	other.release()

	first.release()
	if mr.Exists("grading:finalize:domain:7") {
		t.Fatalf("lock key not released")
	}
	again, err := lock.acquire(context.Background(), 7)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	again.release()
}

func TestDomainLockReleaseKeepsForeignLock(t *testing.T) {
	mr, rc := newRedisLocker(t)
	lock := newDomainLock(rc, time.Second, 0)

	ls, err := lock.acquire(context.Background(), 3)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	// Another instance took over after our lease expired.
	if err := mr.Set("grading:finalize:domain:3", "someone-else"); err != nil {
		t.Fatalf("set: %v", err)
	}
	ls.release()
	got, err := mr.Get("grading:finalize:domain:3")
	if err != nil || got != "someone-else" {
		t.Fatalf("release must not delete a foreign lock, got %q %v", got, err)
	}
}

func TestDomainLockWatchdogCancelsOnLoss(t *testing.T) {
	mr, rc := newRedisLocker(t)
	lock := newDomainLock(rc, 60*time.Millisecond, 0)

	ls, err := lock.acquire(context.Background(), 9)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer ls.release()

	mr.Del("grading:finalize:domain:9")
	select {
	case <-ls.ctx.Done():
	case <-time.After(time.Second):
		t.Fatalf("lease context not cancelled after lock loss")
	}
	if !ls.lost() {
		t.Fatalf("lease must report loss")
	}
}

func TestDomainLockWatchdogExtends(t *testing.T) {
	_, rc := newRedisLocker(t)
	lock := newDomainLock(rc, 90*time.Millisecond, 0)

	ls, err := lock.acquire(context.Background(), 4)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	if ls.ctx.Err() != nil || ls.lost() {
		t.Fatalf("lease must stay alive while extended")
	}
	ls.release()
	if ls.ctx.Err() == nil {
		t.Fatalf("release must cancel the lease context")
	}
}
