package jobsystem

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-foundations/jobsystem/scheduler"
)

func TestFanOutRunsEveryKernelExactlyOnce(t *testing.T) {
	sys := testSystem(t)

	const n = 50
	var executed [n]atomic.Int32
	for i := 0; i < n; i++ {
		i := i
		h := sys.CreateVoidTask(func() error {
			executed[i].Add(1)
			return nil
		}, Metadata{Label: uint64(i)})
		require.NoError(t, h.Schedule())
	}
	sys.Wait()

	for i := 0; i < n; i++ {
		require.EqualValues(t, 1, executed[i].Load(), "job %d", i)
	}
}

func TestDiamondJoinRunsAfterBothBranches(t *testing.T) {
	sys := testSystem(t)

	var leftDone, rightDone atomic.Bool
	var joinSawBoth atomic.Bool

	root := sys.CreateVoidTask(func() error { return nil }, Metadata{Label: 1})
	left := sys.CreateVoidTask(func() error { leftDone.Store(true); return nil }, Metadata{Label: 2})
	right := sys.CreateVoidTask(func() error { rightDone.Store(true); return nil }, Metadata{Label: 3})
	join := sys.CreateVoidTask(func() error {
		joinSawBoth.Store(leftDone.Load() && rightDone.Load())
		return nil
	}, Metadata{Label: 4})

	require.NoError(t, root.AddChild(left))
	require.NoError(t, root.AddChild(right))
	require.NoError(t, left.AddChild(join))
	require.NoError(t, right.AddChild(join))
	require.NoError(t, root.Schedule())

	sys.Wait()
	require.True(t, joinSawBoth.Load())
}

func TestBarrierCompletesOnlyAfterAllWired(t *testing.T) {
	sys := testSystem(t)

	bh := sys.CreateBarrier()
	var n atomic.Int32
	for i := 0; i < 20; i++ {
		h := sys.CreateVoidTask(func() error { n.Add(1); return nil }, Metadata{Label: uint64(i)})
		require.NoError(t, h.Schedule(bh))
	}
	require.NoError(t, sys.WaitOnBarrier(bh))
	require.EqualValues(t, 20, n.Load())
	require.NoError(t, sys.DestroyBarrier(bh))
}

func TestPreemptionRunsExactlyOnce(t *testing.T) {
	sys := testSystem(t)

	var runs atomic.Int32
	h := sys.CreateVoidTask(func() error {
		runs.Add(1)
		return nil
	}, Metadata{Label: 1, WorkerAffinity: AffinityMain}) // keeps it off background workers so the race is deterministic

	require.NoError(t, h.Schedule())
	ran, err := sys.TryPreemptAndExecute(h)
	require.NoError(t, err)
	require.True(t, ran)
	require.True(t, sys.IsWorkDone(h))

	// A second preemption attempt must not re-run the kernel.
	ran2, err := sys.TryPreemptAndExecute(h)
	require.NoError(t, err)
	require.False(t, ran2)

	sys.Wait()
	require.EqualValues(t, 1, runs.Load())
}

func TestFutureErrorPropagatesToReader(t *testing.T) {
	sys := testSystem(t)

	boom := errors.New("kernel failed")
	h, fut := CreateTask(sys, func() (int, error) {
		return 0, boom
	}, Metadata{Label: 1})

	require.NoError(t, h.Schedule())
	require.NoError(t, sys.WaitFor(h))

	_, err := fut.Get()
	require.ErrorIs(t, err, boom)
}

func TestUnreadKernelErrorIsNotFatal(t *testing.T) {
	sys := testSystem(t)

	h := sys.CreateVoidTask(func() error { return errors.New("nobody reads this") }, Metadata{Label: 1})
	require.NoError(t, h.Schedule())
	require.NotPanics(t, func() { sys.Wait() })
	require.True(t, sys.IsWorkDone(h))
}

func TestMinLoadScheduling(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxWorkers = 2
	cfg.MaxJobsPerWorker = 64
	cfg.SchedulingAlgorithm = scheduler.MinLoadAlgorithm
	sys := NewSystem(cfg)
	defer sys.Shutdown()

	var n atomic.Int32
	for i := 0; i < 30; i++ {
		h := sys.CreateVoidTask(func() error {
			time.Sleep(time.Millisecond)
			n.Add(1)
			return nil
		}, Metadata{Label: uint64(i % 3)})
		require.NoError(t, h.Schedule())
	}
	sys.Wait()
	require.EqualValues(t, 30, n.Load())
}

func TestDaemonRunsUntilTTLExpires(t *testing.T) {
	sys := testSystem(t)

	var ticks atomic.Int32
	h := sys.CreateDaemon(func() error {
		ticks.Add(1)
		return nil
	}, DaemonSchedule{IntervalMS: 10, TTL: 3}, Metadata{Label: 1})

	for i := 0; i < 6; i++ {
		sys.UpdateDaemons(10)
		sys.Wait()
	}
	sys.KillDaemon(h)
	sys.UpdateDaemons(10)
	sys.Wait()

	require.EqualValues(t, 3, ticks.Load())
}
