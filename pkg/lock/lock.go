package lock

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DistributedLock 互斥锁句柄。每个句柄不可重入，持有期间对同一 key 的其它句柄互斥
type DistributedLock interface {
	// Lock 获取锁，阻塞直到成功或 ctx 结束
	Lock(ctx context.Context) error

	// TryLock 尝试获取锁，不阻塞
	TryLock(ctx context.Context) (bool, error)

	// LockWithTimeout 带超时的获取锁，超时返回 ErrCodeLockTimeout
	LockWithTimeout(ctx context.Context, timeout time.Duration) error

	// Unlock 释放锁
	Unlock(ctx context.Context) error

	// IsLocked 检查锁是否被当前句柄持有
	IsLocked() bool

	// GetLockKey 获取锁的键
	GetLockKey() string
}

// LockOptions 锁配置选项
type LockOptions struct {
	// TTL 锁的生存时间，仅对需要过期的后端生效
	TTL time.Duration

	// RetryInterval 重试间隔
	RetryInterval time.Duration
}

// DefaultLockOptions 默认锁配置
func DefaultLockOptions() *LockOptions {
	return &LockOptions{
		TTL:           30 * time.Second,
		RetryInterval: 100 * time.Millisecond,
	}
}

// LockManager 锁管理器接口
type LockManager interface {
	// NewLock 创建新的锁句柄
	NewLock(key string, opts *LockOptions) DistributedLock

	// Close 关闭锁管理器
	Close() error
}

// LockError 锁相关错误
type LockError struct {
	Code    string
	Message string
	Cause   error
}

func (e *LockError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("锁错误 [%s]: %s, 原因: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("锁错误 [%s]: %s", e.Code, e.Message)
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

const (
	ErrCodeLockTimeout     = "LOCK_TIMEOUT"
	ErrCodeLockNotHeld     = "LOCK_NOT_HELD"
	ErrCodeLockAlreadyHeld = "LOCK_ALREADY_HELD"
	ErrCodeLockExpired     = "LOCK_EXPIRED"
	ErrCodeInvalidKey      = "INVALID_KEY"
)

func NewLockError(code, message string, cause error) *LockError {
	return &LockError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// IsTimeout 判断是否为等待锁超时
func IsTimeout(err error) bool {
	var le *LockError
	return errors.As(err, &le) && le.Code == ErrCodeLockTimeout
}

func mergeOptions(opts *LockOptions) *LockOptions {
	def := DefaultLockOptions()
	if opts == nil {
		return def
	}
	merged := *opts
	if merged.TTL <= 0 {
		merged.TTL = def.TTL
	}
	if merged.RetryInterval <= 0 {
		merged.RetryInterval = def.RetryInterval
	}
	return &merged
}
