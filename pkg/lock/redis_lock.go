package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// RedisLockManager 基于 redislock 的跨实例锁管理器
type RedisLockManager struct {
	client *redislock.Client
	prefix string
}

func NewRedisLockManager(rdb redis.UniversalClient, prefix string) *RedisLockManager {
	return &RedisLockManager{
		client: redislock.New(rdb),
		prefix: prefix,
	}
}

func (m *RedisLockManager) NewLock(key string, opts *LockOptions) DistributedLock {
	return &redisLock{
		client: m.client,
		key:    m.prefix + key,
		opts:   mergeOptions(opts),
	}
}

func (m *RedisLockManager) Close() error {
	return nil
}

type redisLock struct {
	client *redislock.Client
	key    string
	opts   *LockOptions

	mu     sync.Mutex
	lock   *redislock.Lock
	cancel context.CancelFunc
}

func (l *redisLock) obtain(ctx context.Context, retry redislock.RetryStrategy) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.lock != nil {
		return NewLockError(ErrCodeLockAlreadyHeld, "锁已被当前句柄持有", nil)
	}

	lk, err := l.client.Obtain(ctx, l.key, l.opts.TTL, &redislock.Options{RetryStrategy: retry})
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) {
			return NewLockError(ErrCodeLockTimeout, "等待锁超时: "+l.key, err)
		}
		return err
	}

	l.lock = lk
	renewCtx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	go l.keepAlive(renewCtx, lk)
	return nil
}

// keepAlive 持有期间按 TTL/3 续期，避免长时间部署时锁过期
func (l *redisLock) keepAlive(ctx context.Context, lk *redislock.Lock) {
	ticker := time.NewTicker(l.opts.TTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := lk.Refresh(ctx, l.opts.TTL, nil); err != nil {
				return
			}
		}
	}
}

func (l *redisLock) Lock(ctx context.Context) error {
	return l.obtain(ctx, redislock.LinearBackoff(l.opts.RetryInterval))
}

func (l *redisLock) TryLock(ctx context.Context) (bool, error) {
	err := l.obtain(ctx, redislock.NoRetry())
	if err != nil {
		if IsTimeout(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (l *redisLock) LockWithTimeout(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return l.Lock(ctx)
}

func (l *redisLock) Unlock(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.lock == nil {
		return NewLockError(ErrCodeLockNotHeld, "锁未被持有", nil)
	}
	l.cancel()
	err := l.lock.Release(ctx)
	l.lock = nil
	if err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
		return err
	}
	if errors.Is(err, redislock.ErrLockNotHeld) {
		return NewLockError(ErrCodeLockExpired, "锁已过期: "+l.key, err)
	}
	return nil
}

func (l *redisLock) IsLocked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lock != nil
}

func (l *redisLock) GetLockKey() string {
	return l.key
}
