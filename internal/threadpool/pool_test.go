package threadpool

import (
	"testing"
	"time"

	"github.com/matthewtolman/peak-threads/internal/workerrt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoWorker(rt *workerrt.Runtime) {
	rt.OnWork(func(work any) (any, error) { return work, nil })
}

func testConfig() Config {
	return Config{
		MaxThreads:                3,
		MinThreads:                1,
		QueueRetries:              2,
		RespawnBreakerMaxFailures: 2,
		RespawnBreakerWindow:      50 * time.Millisecond,
	}
}

func TestPool_SpawnsMinThreadsOnNew(t *testing.T) {
	p, err := New(echoWorker, testConfig(), nil, nil)
	require.NoError(t, err)
	defer p.Kill()
	assert.Equal(t, 1, p.Size())
}

func TestPool_SendWorkRoundTrip(t *testing.T) {
	p, err := New(echoWorker, testConfig(), nil, nil)
	require.NoError(t, err)
	defer p.Kill()

	result, err := p.SendWork("hi")
	require.NoError(t, err)
	assert.Equal(t, "hi", result)
}

func TestPool_GrowsUpToMax(t *testing.T) {
	gate := make(chan struct{})
	blocking := func(rt *workerrt.Runtime) {
		rt.OnWork(func(work any) (any, error) {
			<-gate
			return work, nil
		})
	}
	p, err := New(blocking, testConfig(), nil, nil)
	require.NoError(t, err)
	defer func() {
		close(gate)
		p.Kill()
	}()

	done := make(chan struct{})
	for i := 0; i < 3; i++ {
		go func() { p.SendWork(1); done <- struct{}{} }()
	}
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 3, p.Size())
}

func TestPool_EvictMidIndex(t *testing.T) {
	p, err := New(echoWorker, testConfig(), nil, nil)
	require.NoError(t, err)
	defer p.Kill()

	// Grow to 3 live slots (index 0 is the min-thread slot; 1 and 2
	// are above-minimum and evict rather than respawn on close).
	p.mu.Lock()
	s1, err := p.growLocked()
	require.NoError(t, err)
	s2, err := p.growLocked()
	require.NoError(t, err)
	p.mu.Unlock()
	require.Equal(t, 3, p.Size())

	// Close the middle slot (index 1); eviction should swap the last
	// live slot (index 2, which was s2) into index 1 and shrink to 2.
	require.NoError(t, s1.thread.Close())
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 2, p.Size())
	p.mu.Lock()
	assert.Same(t, s2.thread, p.slots[1].thread)
	p.mu.Unlock()
}

func TestPool_RespawnsBelowMinimumSlot(t *testing.T) {
	p, err := New(echoWorker, testConfig(), nil, nil)
	require.NoError(t, err)
	defer p.Kill()

	p.mu.Lock()
	minSlot := p.slots[0]
	p.mu.Unlock()

	oldID := minSlot.thread.ID()
	require.NoError(t, minSlot.thread.Close())
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 1, p.Size())
	p.mu.Lock()
	newID := p.slots[0].thread.ID()
	p.mu.Unlock()
	assert.NotEqual(t, oldID, newID)
}

func TestPool_Close(t *testing.T) {
	p, err := New(echoWorker, testConfig(), nil, nil)
	require.NoError(t, err)
	require.NoError(t, p.Close())

	_, err = p.SendWork("x")
	require.Error(t, err)
}
