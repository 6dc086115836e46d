package syncprim

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSemaphore_SingleSlotFourWorkers200Each is the spec's end-to-end
// scenario: a capacity-1 semaphore serializes four goroutines each
// doing 200 protected increments of a shared counter, totalling 800 —
// and the invariant that concurrent-holder count never exceeds 1.
func TestSemaphore_SingleSlotFourWorkers200Each(t *testing.T) {
	s, err := MakeSemaphore(1)
	require.NoError(t, err)

	var counter int32
	var concurrent int32
	var maxConcurrent int32
	var mu sync.Mutex

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				ok, err := s.Acquire(2 * time.Second)
				require.NoError(t, err)
				require.True(t, ok)

				cur := atomic.AddInt32(&concurrent, 1)
				mu.Lock()
				if cur > maxConcurrent {
					maxConcurrent = cur
				}
				mu.Unlock()

				counter++

				atomic.AddInt32(&concurrent, -1)
				require.NoError(t, s.Release())
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 800, counter)
	assert.LessOrEqual(t, maxConcurrent, int32(1))
}

func TestSemaphore_BoundsConcurrentAcquisitions(t *testing.T) {
	s, err := MakeSemaphore(2)
	require.NoError(t, err)

	ok, err := s.Acquire(time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.Acquire(time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Acquire(30 * time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Release())
	ok, err = s.Acquire(time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

// TestSemaphore_ExpiringWaitersNeverOverAcquire guards against a past bug
// where a waiter whose Wait returned right at its deadline would read the
// counter and fabricate a true result without ever doing the CAS that
// actually claims a permit — letting more holders in than value allows.
// Many goroutines race a near-simultaneous timeout against a single
// Release of a semaphore already held by someone else; at most one of
// them may ever see ok == true.
func TestSemaphore_ExpiringWaitersNeverOverAcquire(t *testing.T) {
	s, err := MakeSemaphore(1)
	require.NoError(t, err)
	ok, err := s.Acquire(time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	var acquired int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := s.Acquire(15 * time.Millisecond); ok {
				atomic.AddInt32(&acquired, 1)
			}
		}()
	}

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.Release())
	wg.Wait()

	assert.LessOrEqual(t, acquired, int32(1))
}

func TestSemaphore_RejectsZeroValue(t *testing.T) {
	_, err := MakeSemaphore(0)
	require.Error(t, err)
}

func TestSemaphore_HasAcquired(t *testing.T) {
	s, err := MakeSemaphore(1)
	require.NoError(t, err)
	assert.False(t, s.HasAcquired())

	ok, err := s.Acquire(time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, s.HasAcquired())

	require.NoError(t, s.Release())
	assert.False(t, s.HasAcquired())
}
