package syncprim

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestWaitGroup_FourWorkersConverge is the spec's end-to-end scenario:
// the test goroutine adds 4 up front and then {4,5,6,7} on behalf of
// four workers, which each call Done once per task (the first 4 are
// released by the test goroutine itself); a waiter blocked on Wait
// must observe convergence to zero only once every one of the
// 4+4+5+6+7=26 matching Done calls has run.
func TestWaitGroup_FourWorkersConverge(t *testing.T) {
	wgPrim, err := MakeWaitGroup()
	require.NoError(t, err)

	require.NoError(t, wgPrim.Add(4))

	contributions := []int32{4, 5, 6, 7}
	for _, n := range contributions {
		require.NoError(t, wgPrim.Add(n))
	}

	waitResult := make(chan bool, 1)
	go func() {
		ok, err := wgPrim.Wait(2 * time.Second)
		require.NoError(t, err)
		waitResult <- ok
	}()

	var workers sync.WaitGroup
	for _, n := range contributions {
		workers.Add(1)
		go func(tasks int32) {
			defer workers.Done()
			for i := int32(0); i < tasks; i++ {
				require.NoError(t, wgPrim.Done())
			}
		}(n)
	}
	for i := 0; i < 4; i++ {
		require.NoError(t, wgPrim.Done())
	}

	workers.Wait()
	select {
	case ok := <-waitResult:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Wait never converged")
	}
}

func TestWaitGroup_WaitTimeout(t *testing.T) {
	wgPrim, err := MakeWaitGroup()
	require.NoError(t, err)
	require.NoError(t, wgPrim.Add(1))

	ok, err := wgPrim.Wait(30 * time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWaitGroup_WaitAsync(t *testing.T) {
	wgPrim, err := MakeWaitGroup()
	require.NoError(t, err)
	require.NoError(t, wgPrim.Add(1))

	ch, err := wgPrim.WaitAsync(time.Second)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, wgPrim.Done())

	select {
	case res := <-ch:
		assert.Equal(t, 0, int(res))
	case <-time.After(time.Second):
		t.Fatal("WaitAsync never resolved")
	}
}
