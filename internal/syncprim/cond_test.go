package syncprim

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestConditionVariable_HandoffReachesTwelve is the spec's end-to-end
// condition-variable scenario: a producer and consumer hand a shared
// counter back and forth via predicate-recheck waits until it reaches
// 12.
func TestConditionVariable_HandoffReachesTwelve(t *testing.T) {
	mux, err := MakeMutex()
	require.NoError(t, err)
	cv, err := MakeConditionVariable()
	require.NoError(t, err)

	counter := 0
	const target = 12
	var wg sync.WaitGroup

	for g := 0; g < 2; g++ {
		wg.Add(1)
		go func(turn int) {
			defer wg.Done()
			for {
				ok, err := mux.Lock(2 * time.Second)
				require.NoError(t, err)
				require.True(t, ok)

				for counter%2 != turn && counter < target {
					_, err := cv.Wait(mux, 2*time.Second)
					require.NoError(t, err)
				}
				if counter >= target {
					mux.Unlock()
					return
				}
				counter++
				_, err = cv.NotifyAll()
				require.NoError(t, err)
				mux.Unlock()
			}
		}(g)
	}

	wg.Wait()
	assert.Equal(t, target, counter)
}

func TestConditionVariable_WaitTimesOutAndReacquires(t *testing.T) {
	mux, err := MakeMutex()
	require.NoError(t, err)
	cv, err := MakeConditionVariable()
	require.NoError(t, err)

	ok, err := mux.Lock(time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	woke, err := cv.Wait(mux, 30*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, woke)

	// Wait must reacquire mux before returning, even on timeout.
	assert.True(t, mux.HasLock())
	require.NoError(t, mux.Unlock())
}

func TestConditionVariable_DehydrateHydrate(t *testing.T) {
	cv, err := MakeConditionVariable()
	require.NoError(t, err)

	d := cv.DehydrateSelf()
	assert.Equal(t, ConditionVariableHydrationKey, d.Type)

	clone, err := HydrateConditionVariable(d.Value.(ConditionVariableValue))
	require.NoError(t, err)
	assert.NotNil(t, clone)
}
