package service

import (
	"context"
	"strconv"
	"sync"
	"time"

	"assessengine/internal/common/cache"
	appErr "assessengine/pkg/errors"
	"assessengine/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	domainLockKeyPrefix    = "grading:finalize:domain:"
	defaultLockTTL         = 30 * time.Second
	defaultLockWait        = 5 * time.Second
	defaultLockRetryPeriod = 100 * time.Millisecond
	lockReleaseTimeout     = 2 * time.Second
)

// domainLock serializes rank rewrites per domain across instances.
type domainLock struct {
	locker cache.Locker
	ttl    time.Duration
	wait   time.Duration
	retry  time.Duration
}

func newDomainLock(locker cache.Locker, ttl, wait time.Duration) *domainLock {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	if wait < 0 {
		wait = 0
	}
	return &domainLock{locker: locker, ttl: ttl, wait: wait, retry: defaultLockRetryPeriod}
}

// lease is a held domain lock. Its context is cancelled as soon as the lock
// can no longer be extended, which aborts any transaction running under it.
type lease struct {
	ctx    context.Context
	cancel context.CancelFunc
	key    string
	token  string
	locker cache.Locker

	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
	lostMu   sync.Mutex
	lostFlag bool
}

// acquire polls until the lock is taken or the wait budget is spent.
func (l *domainLock) acquire(ctx context.Context, domainID int64) (*lease, error) {
	key := domainLockKeyPrefix + strconv.FormatInt(domainID, 10)
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.locker.TryLock(ctx, key, token, l.ttl)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.LockFailed, "acquire domain lock failed")
		}
		if ok {
			break
		}
		if !time.Now().Before(deadline) {
			return nil, appErr.TryAgain(appErr.FinalizationBusy, "")
		}
		timer := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, appErr.Wrapf(ctx.Err(), appErr.Timeout, "wait for domain lock interrupted")
		case <-timer.C:
		}
	}

	leaseCtx, cancel := context.WithCancel(ctx)
	ls := &lease{
		ctx:    leaseCtx,
		cancel: cancel,
		key:    key,
		token:  token,
		locker: l.locker,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go ls.watch(l.ttl)
	return ls, nil
}

func (ls *lease) watch(ttl time.Duration) {
	defer close(ls.done)
	interval := ttl / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ls.stop:
			return
		case <-ls.ctx.Done():
			return
		case <-ticker.C:
			ok, err := ls.locker.ExtendLock(ls.ctx, ls.key, ls.token, ttl)
			if err == nil && ok {
				continue
			}
			logger.Error(ls.ctx, "domain lock lost", zap.String("key", ls.key), zap.Bool("held", ok), zap.Error(err))
			ls.lostMu.Lock()
			ls.lostFlag = true
			ls.lostMu.Unlock()
			ls.cancel()
			return
		}
	}
}

func (ls *lease) lost() bool {
	ls.lostMu.Lock()
	defer ls.lostMu.Unlock()
	return ls.lostFlag
}

// release stops the watchdog and deletes the lock if this lease still owns it.
func (ls *lease) release() {
	ls.once.Do(func() {
		close(ls.stop)
		<-ls.done
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ls.ctx), lockReleaseTimeout)
		defer cancel()
		if err := ls.locker.Unlock(ctx, ls.key, ls.token); err != nil {
			logger.Warn(ctx, "release domain lock failed", zap.String("key", ls.key), zap.Error(err))
		}
		ls.cancel()
	})
}
