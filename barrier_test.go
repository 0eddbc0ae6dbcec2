package jobsystem

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func testSystem(t *testing.T) *System {
	t.Helper()
	cfg := DefaultConfig()
	cfg.MaxWorkers = 2
	cfg.MaxJobsPerWorker = 64
	cfg.MaxBarriers = 4
	sys := NewSystem(cfg)
	t.Cleanup(sys.Shutdown)
	return sys
}

func TestBarrierWaitsForEveryDependent(t *testing.T) {
	sys := testSystem(t)

	bh := sys.CreateBarrier()
	var completed atomic.Int32
	for i := 0; i < 10; i++ {
		h := sys.CreateVoidTask(func() error {
			completed.Add(1)
			return nil
		}, Metadata{Label: uint64(i)})
		require.NoError(t, h.Schedule(bh))
	}

	require.NoError(t, sys.WaitOnBarrier(bh))
	require.EqualValues(t, 10, completed.Load())
	require.NoError(t, sys.DestroyBarrier(bh))
}

func TestDestroyBarrierWithPendingIsFatal(t *testing.T) {
	sys := testSystem(t)

	bh := sys.CreateBarrier()
	block := make(chan struct{})
	h := sys.CreateVoidTask(func() error {
		<-block
		return nil
	}, Metadata{Label: 1})
	require.NoError(t, h.Schedule(bh))

	require.Panics(t, func() {
		_ = sys.DestroyBarrier(bh)
	})
	close(block)
	require.NoError(t, sys.WaitOnBarrier(bh))
}

func TestBarrierPoolExhaustionIsFatal(t *testing.T) {
	sys := testSystem(t)
	for i := 0; i < sys.cfg.MaxBarriers; i++ {
		sys.CreateBarrier()
	}
	require.Panics(t, func() {
		sys.CreateBarrier()
	})
}

func TestWaitOnBarrierRejectsStaleHandle(t *testing.T) {
	sys := testSystem(t)
	bh := sys.CreateBarrier()
	require.NoError(t, sys.DestroyBarrier(bh))

	require.Panics(t, func() {
		_ = sys.WaitOnBarrier(bh)
	})
}
