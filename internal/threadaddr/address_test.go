package threadaddr

import (
	"sync"
	"testing"
	"time"

	"github.com/matthewtolman/peak-threads/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_BoundsChecking(t *testing.T) {
	memory := make([]byte, 16)

	addr, err := New[int32](memory, 0, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, addr.Count())
	assert.Equal(t, TagInt32, addr.Tag())

	_, err = New[int32](memory, 0, 5)
	require.Error(t, err)
	kind, ok := core.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, core.KindOutOfBounds, kind)

	_, err = New[int32](memory, -1, 1)
	require.Error(t, err)
}

func TestGetSet_PlainAccess(t *testing.T) {
	memory := make([]byte, 8)
	addr, err := New[int32](memory, 0, 2)
	require.NoError(t, err)

	require.NoError(t, addr.Set(0, 42))
	require.NoError(t, addr.Set(1, -7))

	v0, err := addr.Get(0)
	require.NoError(t, err)
	assert.EqualValues(t, 42, v0)

	v1, err := addr.Get(1)
	require.NoError(t, err)
	assert.EqualValues(t, -7, v1)

	_, err = addr.Get(2)
	require.Error(t, err)
}

func TestFloatAddress_RejectsAtomics(t *testing.T) {
	memory := make([]byte, 8)
	addr, err := New[float64](memory, 0, 1)
	require.NoError(t, err)

	_, err = addr.Load(0)
	require.Error(t, err)
	kind, _ := core.KindOf(err)
	assert.Equal(t, core.KindInvalidLayout, kind)

	err = addr.Store(0, 1.5)
	require.Error(t, err)
}

func TestLoadStore_Int32(t *testing.T) {
	memory := make([]byte, 4)
	addr, err := New[int32](memory, 0, 1)
	require.NoError(t, err)

	require.NoError(t, addr.Store(0, 100))
	v, err := addr.Load(0)
	require.NoError(t, err)
	assert.EqualValues(t, 100, v)
}

func TestLoadStore_NarrowWidths(t *testing.T) {
	memory := make([]byte, 2)
	addr, err := New[int8](memory, 0, 2)
	require.NoError(t, err)

	require.NoError(t, addr.Store(0, 5))
	require.NoError(t, addr.Store(1, -5))

	v0, err := addr.Load(0)
	require.NoError(t, err)
	assert.EqualValues(t, 5, v0)

	v1, err := addr.Load(1)
	require.NoError(t, err)
	assert.EqualValues(t, -5, v1)
}

func TestAdd_ConcurrentIncrements(t *testing.T) {
	memory := make([]byte, 4)
	addr, err := New[uint32](memory, 0, 1)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = addr.Add(0, 1)
		}()
	}
	wg.Wait()

	v, err := addr.Load(0)
	require.NoError(t, err)
	assert.EqualValues(t, 100, v)
}

func TestCompareExchange(t *testing.T) {
	memory := make([]byte, 4)
	addr, err := New[int32](memory, 0, 1)
	require.NoError(t, err)
	require.NoError(t, addr.Store(0, 10))

	prev, swapped, err := addr.CompareExchange(0, 10, 20)
	require.NoError(t, err)
	assert.True(t, swapped)
	assert.EqualValues(t, 10, prev)

	prev, swapped, err = addr.CompareExchange(0, 10, 30)
	require.NoError(t, err)
	assert.False(t, swapped)
	assert.EqualValues(t, 20, prev)
}

func TestBitwise_AndOrXor(t *testing.T) {
	memory := make([]byte, 4)
	addr, err := New[uint32](memory, 0, 1)
	require.NoError(t, err)
	require.NoError(t, addr.Store(0, 0b1010))

	old, err := Or(addr, 0, 0b0101)
	require.NoError(t, err)
	assert.EqualValues(t, 0b1010, old)

	v, _ := addr.Load(0)
	assert.EqualValues(t, 0b1111, v)

	_, err = And(addr, 0, 0b1100)
	require.NoError(t, err)
	v, _ = addr.Load(0)
	assert.EqualValues(t, 0b1100, v)

	_, err = Xor(addr, 0, 0b1111)
	require.NoError(t, err)
	v, _ = addr.Load(0)
	assert.EqualValues(t, 0b0011, v)
}

func TestWaitNotify_NotifyOneWakesWaiter(t *testing.T) {
	memory := make([]byte, 4)
	addr, err := New[int32](memory, 0, 1)
	require.NoError(t, err)
	require.NoError(t, addr.Store(0, 0))

	done := make(chan WaitResult, 1)
	go func() {
		res, err := addr.Wait(0, 0, 2*time.Second)
		require.NoError(t, err)
		done <- res
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, addr.Store(0, 1))
	n, err := addr.NotifyOne(0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	select {
	case res := <-done:
		assert.Equal(t, WaitOK, res)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Wait to return")
	}
}

func TestWait_ValueAlreadyChanged(t *testing.T) {
	memory := make([]byte, 4)
	addr, err := New[int32](memory, 0, 1)
	require.NoError(t, err)
	require.NoError(t, addr.Store(0, 5))

	res, err := addr.Wait(0, 0, time.Second)
	require.NoError(t, err)
	assert.Equal(t, WaitNotEqual, res)
}

func TestWait_Timeout(t *testing.T) {
	memory := make([]byte, 4)
	addr, err := New[int32](memory, 0, 1)
	require.NoError(t, err)

	res, err := addr.Wait(0, 0, 30*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, WaitTimedOut, res)
}

func TestWaitAsync_ReturnsChannel(t *testing.T) {
	memory := make([]byte, 4)
	addr, err := New[int32](memory, 0, 1)
	require.NoError(t, err)

	ch, err := addr.WaitAsync(0, 0, 20*time.Millisecond)
	require.NoError(t, err)

	select {
	case res := <-ch:
		assert.Equal(t, WaitTimedOut, res)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for WaitAsync channel")
	}
}

func TestNotifyAll_WakesEveryWaiter(t *testing.T) {
	memory := make([]byte, 4)
	addr, err := New[int32](memory, 0, 1)
	require.NoError(t, err)

	const waiters = 5
	var wg sync.WaitGroup
	results := make(chan WaitResult, waiters)

	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := addr.Wait(0, 0, 2*time.Second)
			require.NoError(t, err)
			results <- res
		}()
	}

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, addr.Store(0, 1))
	n, err := addr.NotifyAll(0)
	require.NoError(t, err)
	assert.Equal(t, waiters, n)

	wg.Wait()
	close(results)
	for res := range results {
		assert.Equal(t, WaitOK, res)
	}
}
