package thread

import (
	"testing"
	"time"

	"github.com/matthewtolman/peak-threads/internal/core"
	"github.com/matthewtolman/peak-threads/internal/workerrt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doublingWorker(rt *workerrt.Runtime) {
	rt.OnWork(func(work any) (any, error) {
		n := work.(int)
		return n * 2, nil
	})
}

func TestSpawn_InitAndID(t *testing.T) {
	th, err := Spawn("", doublingWorker, SpawnOptions{})
	require.NoError(t, err)
	assert.Contains(t, th.ID(), "main>")
	require.NoError(t, th.Close())
}

func TestSpawn_InitDataReachesHandler(t *testing.T) {
	var seen any
	worker := func(rt *workerrt.Runtime) {
		rt.OnInit(func(initData any) error {
			seen = initData
			return nil
		})
	}
	th, err := Spawn("", worker, SpawnOptions{InitData: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", seen)
	require.NoError(t, th.Close())
}

func TestSpawn_InitFailureReturnsError(t *testing.T) {
	worker := func(rt *workerrt.Runtime) {
		rt.OnInit(func(any) error { return core.NewThreadError(core.KindInvalidOperation, "nope") })
	}
	_, err := Spawn("", worker, SpawnOptions{})
	require.Error(t, err)
}

func TestSendWork_RoundTrip(t *testing.T) {
	th, err := Spawn("", doublingWorker, SpawnOptions{})
	require.NoError(t, err)
	defer th.Close()

	result, err := th.SendWork(21)
	require.NoError(t, err)
	assert.Equal(t, 42, result)
}

func TestSendWork_WorkerErrorPropagates(t *testing.T) {
	worker := func(rt *workerrt.Runtime) {
		rt.OnWork(func(any) (any, error) {
			return nil, core.NewThreadError(core.KindWorkerError, "boom")
		})
	}
	th, err := Spawn("", worker, SpawnOptions{})
	require.NoError(t, err)
	defer th.Close()

	_, err = th.SendWork("x")
	require.Error(t, err)
}

func TestSendEvent_InvokesOnEventHandler(t *testing.T) {
	worker := func(rt *workerrt.Runtime) {
		rt.OnEvent(func(e any) { rt.Transfer(e, nil) })
	}
	received := make(chan any, 1)
	th, err := Spawn("", worker, SpawnOptions{
		OnTransferHandler: func(message any, items []any) { received <- message },
	})
	require.NoError(t, err)
	defer th.Close()

	require.NoError(t, th.SendEvent("ping"))
	select {
	case msg := <-received:
		assert.Equal(t, "ping", msg)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event roundtrip")
	}
}

func TestShare_Acknowledged(t *testing.T) {
	var gotItem, gotMsg any
	worker := func(rt *workerrt.Runtime) {
		rt.OnShare(func(item, message any) { gotItem, gotMsg = item, message })
	}
	th, err := Spawn("", worker, SpawnOptions{})
	require.NoError(t, err)
	defer th.Close()

	require.NoError(t, th.Share("payload", "note"))
	assert.Equal(t, "payload", gotItem)
	assert.Equal(t, "note", gotMsg)
}

func TestTransfer_Acknowledged(t *testing.T) {
	var gotMsg any
	var gotItems []any
	worker := func(rt *workerrt.Runtime) {
		rt.OnTransfer(func(message any, items []any) { gotMsg, gotItems = message, items })
	}
	th, err := Spawn("", worker, SpawnOptions{})
	require.NoError(t, err)
	defer th.Close()

	require.NoError(t, th.Transfer("go", []any{1, 2, 3}))
	assert.Equal(t, "go", gotMsg)
	assert.Equal(t, []any{1, 2, 3}, gotItems)
}

func TestClose_RejectsFurtherOperations(t *testing.T) {
	th, err := Spawn("", doublingWorker, SpawnOptions{})
	require.NoError(t, err)
	require.NoError(t, th.Close())

	_, err = th.SendWork(1)
	require.Error(t, err)
	kind, ok := core.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, core.KindInvalidOperation, kind)

	err = th.Close()
	require.Error(t, err)
}

func TestKill_RejectsOutstandingWork(t *testing.T) {
	gate := make(chan struct{})
	worker := func(rt *workerrt.Runtime) {
		rt.OnWork(func(any) (any, error) {
			<-gate
			return "late", nil
		})
	}
	th, err := Spawn("", worker, SpawnOptions{})
	require.NoError(t, err)

	resultCh := make(chan error, 1)
	go func() {
		_, sendErr := th.SendWork("x")
		resultCh <- sendErr
	}()

	time.Sleep(20 * time.Millisecond)
	th.Kill()
	close(gate)

	err = <-resultCh
	require.Error(t, err)
	kind, ok := core.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, core.KindThreadStopped, kind)
}

func TestKill_InvokesCloseHandlerOnce(t *testing.T) {
	calls := 0
	th, err := Spawn("", doublingWorker, SpawnOptions{
		CloseHandler: func(t *Thread) { calls++ },
	})
	require.NoError(t, err)

	th.Kill()
	th.Kill()
	assert.Equal(t, 1, calls)
}

func TestNextID_CountersArePerParent(t *testing.T) {
	parentA := "parentA-" + nextID("")
	parentB := "parentB-" + nextID("")

	firstA := nextID(parentA)
	firstB := nextID(parentB)
	secondA := nextID(parentA)

	assert.Equal(t, parentA+">1", firstA)
	assert.Equal(t, parentB+">1", firstB)
	assert.Equal(t, parentA+">2", secondA)
}

func TestClose_RejectsRequestLeftPendingByRace(t *testing.T) {
	th, err := Spawn("", doublingWorker, SpawnOptions{})
	require.NoError(t, err)

	// Simulate a Share whose KindShare message lost the race against a
	// concurrent Close's KindClose and was never dispatched: register the
	// pending entry directly rather than going through Share, since
	// reproducing the actual channel-ordering race deterministically isn't
	// possible from a test.
	ackCh := make(chan error, 1)
	th.mu.Lock()
	th.pendingShare["stuck"] = ackCh
	th.mu.Unlock()

	require.NoError(t, th.Close())

	select {
	case err := <-ackCh:
		require.Error(t, err)
		kind, ok := core.KindOf(err)
		require.True(t, ok)
		assert.Equal(t, core.KindShuttingDown, kind)
	case <-time.After(time.Second):
		t.Fatal("pending share was never rejected by Close")
	}
}

func TestPoolClaimRelease_AffectsPendingCount(t *testing.T) {
	th, err := Spawn("", doublingWorker, SpawnOptions{})
	require.NoError(t, err)
	defer th.Close()

	assert.Equal(t, 0, th.NumPendingRequests())
	th.PoolClaim()
	assert.Equal(t, 1, th.NumPendingRequests())
	th.PoolRelease()
	assert.Equal(t, 0, th.NumPendingRequests())
}
