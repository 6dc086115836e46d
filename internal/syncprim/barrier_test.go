package syncprim

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBarrier_ThreePartiesTwoEpochs is the spec's end-to-end scenario:
// a barrier of 3 parties is crossed twice in a row, proving it is
// reusable across epochs rather than a one-shot countdown latch.
func TestBarrier_ThreePartiesTwoEpochs(t *testing.T) {
	b, err := MakeBarrier(3)
	require.NoError(t, err)

	var epochsCrossed int32
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for e := 0; e < 2; e++ {
				require.NoError(t, b.Wait())
				mu.Lock()
				epochsCrossed++
				mu.Unlock()
			}
		}()
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("barrier never released all parties across both epochs")
	}

	assert.EqualValues(t, 6, epochsCrossed)
}

func TestBarrier_RejectsZeroParties(t *testing.T) {
	_, err := MakeBarrier(0)
	require.Error(t, err)
}

func TestBarrier_WaitAsync(t *testing.T) {
	b, err := MakeBarrier(2)
	require.NoError(t, err)

	ch1 := b.WaitAsync()
	ch2 := b.WaitAsync()

	select {
	case res1 := <-ch1:
		assert.Equal(t, 0, int(res1))
	case <-time.After(time.Second):
		t.Fatal("first WaitAsync never resolved")
	}
	select {
	case res2 := <-ch2:
		assert.Equal(t, 0, int(res2))
	case <-time.After(time.Second):
		t.Fatal("second WaitAsync never resolved")
	}
}

func TestBarrier_DehydrateHydrate(t *testing.T) {
	b, err := MakeBarrier(4)
	require.NoError(t, err)

	d := b.DehydrateSelf()
	assert.Equal(t, BarrierHydrationKey, d.Type)

	clone, err := HydrateBarrier(d.Value.(BarrierValue))
	require.NoError(t, err)
	assert.EqualValues(t, 4, clone.maxNeeded)
}
