package jobsystem

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-foundations/jobsystem/monitor"
	"github.com/go-foundations/jobsystem/queue"
	"github.com/go-foundations/jobsystem/scheduler"
)

// worker owns one queue of runnable jobs and, for every id but 0, a
// goroutine that pops/steals/executes in a loop (spec.md §4.3). Worker 0 is
// the foreground worker: its queue exists like any other, but it is drained
// by explicit ForegroundWork calls from Wait/WaitOnBarrier rather than by a
// background goroutine, per spec.md §4.1 ("job allocation and the public
// façade run on the caller's thread").
type worker struct {
	id    int
	sys   *System
	bit   scheduler.Affinity
	queue *queue.Queue[*job]
	dead  *queue.Queue[*job]

	doneCh chan struct{}

	executed      atomic.Uint64
	stolen        atomic.Uint64
	resubmitted   atomic.Uint64
	scheduledByMe atomic.Uint64
	activeUS      atomic.Int64
	idleUS        atomic.Int64
}

func (w *worker) asSchedulerWorker() scheduler.Worker {
	return scheduler.Worker{ID: w.id, Affinity: w.bit}
}

// loop is the background worker's run loop: pop own queue, else try to
// steal from a random peer, else wait to be woken, matching spec.md §4.3.
func (w *worker) loop() {
	defer close(w.doneCh)
	for {
		if j, ok := w.popClaimed(); ok {
			w.execute(j)
			continue
		}
		if w.sys.cfg.EnableWorkStealing {
			if j, ok := w.stealClaimed(); ok {
				w.execute(j)
				continue
			}
		}
		if !w.sys.running.Load() {
			return
		}
		w.waitForWork()
		if !w.sys.running.Load() && w.queue.IsEmpty() {
			return
		}
	}
}

// popClaimed pops from this worker's own queue, silently discarding any job
// a concurrent TryPreemptAndExecute already claimed or has already run to
// completion — the "flag flip + lazy skip" removal spec.md §4.8 calls for,
// since the ring buffer has no mid-queue remove. A preempted job stays
// physically present in its worker's queue even after it finishes running,
// so finished/preempted must be checked on every pop, not just the
// executing CAS: executing itself is cleared back to false once execute
// returns, so by itself it no longer distinguishes "never run" from
// "already run via preemption".
func (w *worker) popClaimed() (*job, bool) {
	for {
		j, ok := w.queue.Pop()
		if !ok {
			return nil, false
		}
		if j.finished.Load() || j.preempted.Load() {
			continue
		}
		if j.executing.CompareAndSwap(false, true) {
			return j, true
		}
	}
}

// stealClaimed tries up to MaxStealingAttempts random peers' queues. A
// stolen job incompatible with this worker's affinity is pushed back without
// ever being claimed, so it keeps its place for a worker that can actually
// run it and a concurrent TryPreemptAndExecute never sees it as taken.
func (w *worker) stealClaimed() (*job, bool) {
	attempts := 0
	for _, peerID := range w.sys.randomPeerOrder(w.id) {
		if attempts >= w.sys.cfg.MaxStealingAttempts {
			break
		}
		attempts++

		peer := w.sys.workers[peerID]
		j, ok := peer.queue.Steal()
		if !ok {
			continue
		}
		if j.finished.Load() || j.preempted.Load() {
			continue // already run via preemption while still queued
		}
		if !scheduler.Compatible(w.asSchedulerWorker(), scheduler.Request{Label: j.meta.Label, Affinity: j.meta.WorkerAffinity}) {
			peer.queue.Push(j)
			w.resubmitted.Add(1)
			continue
		}
		if !j.executing.CompareAndSwap(false, true) {
			continue // claimed by preemption between Steal and here
		}
		w.stolen.Add(1)
		return j, true
	}
	return nil, false
}

// waitForWork parks until this worker's own queue has something, or (only
// when stealing is enabled) until there's system-wide pending work worth
// trying to steal. Gating on the global pending count even with stealing
// disabled would let an unrelated enqueue wake a worker that has nothing to
// do and can't take anyone else's job, spinning it instead of sleeping.
func (w *worker) waitForWork() {
	start := time.Now()
	w.sys.wakeMu.Lock()
	for w.sys.running.Load() && w.queue.IsEmpty() && !w.stealableWorkPending() {
		w.sys.wakeCond.Wait()
	}
	w.sys.wakeMu.Unlock()
	w.idleUS.Add(time.Since(start).Microseconds())
}

func (w *worker) stealableWorkPending() bool {
	return w.sys.cfg.EnableWorkStealing && atomic.LoadInt64(&w.sys.pending) > 0
}

// execute runs j's kernel and performs the full completion protocol:
// capture the outcome, record it with the monitor and policy, decrement any
// barrier, release now-schedulable children, and hand j to the dead-job
// queue for garbage collection (spec.md §4.4). Callers — popClaimed,
// stealClaimed, and TryPreemptAndExecute — must already hold j's execution
// claim (j.executing CAS'd false->true) before calling this.
func (w *worker) execute(j *job) {
	start := time.Now()

	var span trace.Span
	if w.sys.tracer != nil {
		_, span = w.sys.tracer.Start(context.Background(), spanName(j), trace.WithAttributes(
			attribute.Int64("job.label", int64(j.meta.Label)),
			attribute.String("job.category", j.meta.ProfileCategory),
			attribute.Int("worker.id", w.id),
		))
	}

	err := runKernel(j.kernel)
	if err != nil {
		j.err = &KernelError{Label: j.meta.Label, Err: err}
	}
	if span != nil {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}

	us := time.Since(start).Microseconds()
	j.executionTimeUS = us
	j.finished.Store(true)
	j.executing.Store(false)

	w.sys.monitor.RecordExecution(j.meta.Label, us)
	// Complete must reference the worker the policy's Select originally
	// charged for this job's load, not necessarily the one that actually
	// ran it: TryPreemptAndExecute always executes on worker 0 regardless
	// of which worker j.worker names.
	w.sys.policy.Complete(j.worker, j.meta.Label)

	if j.barrier != noBarrier {
		w.sys.barriers.removeDependency(int(j.barrier))
	}

	for _, c := range j.children {
		if atomic.AddInt32(&c.depCount, -1) == 0 {
			w.sys.scheduleReady(c, w.id)
		}
	}

	w.executed.Add(1)
	w.activeUS.Add(us)
	if !w.dead.Push(j) {
		w.sys.fatal("dead-job queue full", errQueueFull)
	}
	atomic.AddInt64(&w.sys.pending, -1)
	w.sys.monitor.Push(monitor.ActivityRecord{
		WorkerID: w.id,
		ActiveUS: us,
		Executed: 1,
	})
	w.sys.wakeAll()
}

func runKernel(k Kernel) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicToError(r)
		}
	}()
	return k()
}

func panicToError(r any) error {
	if err, ok := r.(error); ok {
		return &KernelError{Err: err}
	}
	return &KernelError{Err: &stringError{msg: "recovered panic"}}
}

type stringError struct{ msg string }

func (e *stringError) Error() string { return e.msg }

func spanName(j *job) string {
	if j.meta.ProfileCategory != "" {
		return j.meta.ProfileCategory
	}
	return "jobsystem.kernel"
}

// randomPeerOrder is used by stealClaimed to avoid always hammering the same
// neighbor when several workers are idle at once.
func (s *System) randomPeerOrder(excludeID int) []int {
	s.stealRandMu.Lock()
	perm := s.stealRand.Perm(len(s.workers))
	s.stealRandMu.Unlock()

	order := make([]int, 0, len(perm)-1)
	for _, id := range perm {
		if id != excludeID {
			order = append(order, id)
		}
	}
	return order
}
