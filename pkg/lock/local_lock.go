package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// LocalLockManager 进程内按 key 互斥的锁管理器
type LocalLockManager struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewLocalLockManager() *LocalLockManager {
	return &LocalLockManager{slots: make(map[string]chan struct{})}
}

func (m *LocalLockManager) slot(key string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		m.slots[key] = ch
	}
	return ch
}

func (m *LocalLockManager) NewLock(key string, opts *LockOptions) DistributedLock {
	return &localLock{key: key, slot: m.slot(key)}
}

func (m *LocalLockManager) Close() error {
	return nil
}

type localLock struct {
	key  string
	slot chan struct{}

	mu   sync.Mutex
	held bool
}

func (l *localLock) Lock(ctx context.Context) error {
	if l.IsLocked() {
		return NewLockError(ErrCodeLockAlreadyHeld, "锁已被当前句柄持有", nil)
	}
	select {
	case l.slot <- struct{}{}:
		l.setHeld(true)
		return nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return NewLockError(ErrCodeLockTimeout, "等待锁超时: "+l.key, ctx.Err())
		}
		return ctx.Err()
	}
}

func (l *localLock) TryLock(ctx context.Context) (bool, error) {
	if l.IsLocked() {
		return false, NewLockError(ErrCodeLockAlreadyHeld, "锁已被当前句柄持有", nil)
	}
	select {
	case l.slot <- struct{}{}:
		l.setHeld(true)
		return true, nil
	default:
		return false, nil
	}
}

func (l *localLock) LockWithTimeout(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return l.Lock(ctx)
}

func (l *localLock) Unlock(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return NewLockError(ErrCodeLockNotHeld, "锁未被持有", nil)
	}
	<-l.slot
	l.held = false
	return nil
}

func (l *localLock) IsLocked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

func (l *localLock) GetLockKey() string {
	return l.key
}

func (l *localLock) setHeld(v bool) {
	l.mu.Lock()
	l.held = v
	l.mu.Unlock()
}
