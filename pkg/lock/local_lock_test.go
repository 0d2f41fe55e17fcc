package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLockMutualExclusion(t *testing.T) {
	m := NewLocalLockManager()
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l := m.NewLock("target-1", nil)
			if !assert.NoError(t, l.Lock(ctx)) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				old := atomic.LoadInt32(&maxInside)
				if n <= old || atomic.CompareAndSwapInt32(&maxInside, old, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			assert.NoError(t, l.Unlock(ctx))
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestLocalLockTimeoutAndKeys(t *testing.T) {
	m := NewLocalLockManager()
	ctx := context.Background()

	holder := m.NewLock("target-1", nil)
	require.NoError(t, holder.Lock(ctx))
	assert.True(t, holder.IsLocked())

	waiter := m.NewLock("target-1", nil)
	err := waiter.LockWithTimeout(ctx, 20*time.Millisecond)
	require.Error(t, err)
	assert.True(t, IsTimeout(err))

	ok, err := waiter.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	other := m.NewLock("target-2", nil)
	ok, err = other.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "不同 key 互不影响")

	require.NoError(t, holder.Unlock(ctx))
	assert.Error(t, holder.Unlock(ctx), "重复释放应报错")

	require.NoError(t, waiter.LockWithTimeout(ctx, 20*time.Millisecond))
	assert.Equal(t, "target-1", waiter.GetLockKey())
}
