package jobsystem

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"

	"github.com/go-foundations/jobsystem/daemon"
	"github.com/go-foundations/jobsystem/future"
	"github.com/go-foundations/jobsystem/monitor"
	"github.com/go-foundations/jobsystem/queue"
	"github.com/go-foundations/jobsystem/scheduler"
)

// System is the job-system façade (spec.md §3, JobSystem). Construction,
// CreateTask/CreateVoidTask, Schedule, CreateBarrier, and the daemon API are
// meant to be called from a single "main" goroutine; background workers only
// ever touch the pieces that are safe for them (queues, the arena's job
// slots post-allocation, the monitor's Push, the barrier pool's atomics).
type System struct {
	cfg Config

	arenaMu sync.Mutex
	arena   *arena

	barriers *barrierPool

	workers []*worker
	policy  scheduler.Policy
	monitor *monitor.Monitor
	daemons *daemon.Scheduler[TaskHandle]

	pending int64 // atomic: scheduled jobs whose execute has not yet completed
	running atomic.Bool

	wakeMu   sync.Mutex
	wakeCond *sync.Cond

	stealRandMu sync.Mutex
	stealRand   *rand.Rand

	logger Logger
	tracer trace.Tracer

	shutdownOnce sync.Once
}

// NewSystem constructs a System and starts its background worker
// goroutines. Worker 0 is the foreground worker and never gets a goroutine
// of its own — it is driven by ForegroundWork from Wait/WaitOnBarrier, and
// TryPreemptAndExecute runs preempted jobs on it directly, matching spec.md
// §4.1.
func NewSystem(cfg Config) *System {
	cfg.sanitize()

	total := cfg.MaxWorkers + 1 // +1 for the foreground worker at id 0

	s := &System{
		cfg:       cfg,
		arena:     newArena(cfg.MaxJobsPerWorker * total),
		barriers:  newBarrierPool(cfg.MaxBarriers),
		logger:    cfg.Logger,
		tracer:    cfg.Tracer,
		monitor:   monitor.New(cfg.MonitorBufferSize),
		stealRand: rand.New(rand.NewSource(1)),
	}
	s.wakeCond = sync.NewCond(&s.wakeMu)
	s.running.Store(true)
	s.policy = scheduler.NewFactory().Create(cfg.SchedulingAlgorithm, s.monitor)
	s.daemons = daemon.NewScheduler[TaskHandle](s)

	s.workers = make([]*worker, total)
	for id := 0; id < total; id++ {
		s.workers[id] = &worker{
			id:     id,
			bit:    scheduler.Affinity(1) << uint(id),
			sys:    s,
			queue:  queue.New[*job](cfg.MaxJobsPerWorker),
			dead:   queue.New[*job](cfg.MaxJobsPerWorker),
			doneCh: make(chan struct{}),
		}
	}
	close(s.workers[0].doneCh) // worker 0 never runs loop(); nothing to join

	if cfg.ProfileFilePath != "" {
		if err := s.monitor.LoadProfile(cfg.ProfileFilePath); err != nil {
			s.logger.Warn("could not load execution-time profile", "path", cfg.ProfileFilePath, "error", err)
		}
	}
	if cfg.Registry != nil {
		s.registerMetrics(cfg.Registry)
	}

	for id := 1; id < total; id++ {
		go s.workers[id].loop()
	}

	return s
}

func (s *System) schedulerWorkers() []scheduler.Worker {
	out := make([]scheduler.Worker, len(s.workers))
	for i, w := range s.workers {
		out[i] = w.asSchedulerWorker()
	}
	return out
}

func (s *System) wakeAll() {
	s.wakeMu.Lock()
	s.wakeCond.Broadcast()
	s.wakeMu.Unlock()
}

// fatal logs and panics, matching spec.md §7's "a handful of conditions are
// fatal rather than recoverable" stance (pool exhaustion, destroying a
// barrier with pending dependents, scheduling with no compatible worker).
func (s *System) fatal(msg string, err error) {
	s.logger.Error(msg, "error", err)
	panic(fmt.Errorf("%s: %w", msg, err))
}

// createTask allocates a job from the arena. Shared by CreateVoidTask and
// the package-level generic CreateTask.
func (s *System) createTask(kernel Kernel, meta Metadata) TaskHandle {
	s.arenaMu.Lock()
	defer s.arenaMu.Unlock()

	j, idx, gen, ok := s.arena.alloc()
	if !ok {
		s.fatal("job pool exhausted", errJobPoolExhausted)
	}
	j.meta = meta.defaulted()
	j.kernel = kernel
	return TaskHandle{sys: s, slot: idx, gen: gen}
}

// CreateVoidTask allocates a job whose kernel returns only an error
// (spec.md §3, §6).
func (s *System) CreateVoidTask(kernel Kernel, meta Metadata) TaskHandle {
	return s.createTask(kernel, meta)
}

// CreateTask allocates a job whose kernel produces a T, wiring a pooled
// Future that every dependent can read the result from exactly once it's
// set (spec.md §4.5). Note this is a package-level function, not a method:
// Go methods can't introduce new type parameters, so the generic
// constructor has to live alongside System rather than on it.
func CreateTask[T any](s *System, kernel func() (T, error), meta Metadata) (TaskHandle, *future.Future[T]) {
	fut := future.Acquire[T]()
	wrapped := func() error {
		v, err := kernel()
		fut.Set(v, err)
		return err
	}
	h := s.createTask(wrapped, meta)
	j, _ := h.resolve()
	j.errConsumed = func() bool { return fut.Consumed() }
	return h, fut
}

// schedule is job.go's TaskHandle.Schedule implementation point (spec.md
// §4.2 step 3): binds barrier to the job and its whole dependency subgraph,
// then places the job on a worker's queue.
func (s *System) schedule(h TaskHandle, bh BarrierHandle) error {
	j, err := h.resolve()
	if err != nil {
		return err
	}
	if j.scheduled.Load() {
		return ErrAlreadyScheduled
	}
	if !s.running.Load() {
		return ErrShuttingDown
	}
	if !bh.empty() {
		if bh.sys != s || !s.barriers.isUsed(bh.idx) {
			return ErrBarrierNotInUse
		}
		s.assignBarrier(j, bh.idx, make(map[*job]bool))
	}
	return s.enqueueRoot(j)
}

// assignBarrier walks j's dependency subgraph once, wiring idx to every job
// not already bound to a barrier and incrementing the barrier's pending
// count for each (spec.md §4.2 step 3: "assign to this job and all
// descendants not already bound"). The visited set keeps diamond-shaped
// graphs (a shared descendant reached through two parents) from being
// double-counted.
func (s *System) assignBarrier(j *job, idx int, visited map[*job]bool) {
	if visited[j] {
		return
	}
	visited[j] = true
	if j.barrier == noBarrier {
		j.barrier = barrierHandleInternal(idx)
		s.barriers.addDependency(idx)
	}
	for _, c := range j.children {
		s.assignBarrier(c, idx, visited)
	}
}

// enqueueRoot places a just-scheduled root job (no outstanding dependency
// count) onto the worker the policy selects.
func (s *System) enqueueRoot(j *job) error {
	id, ok := s.policy.Select(s.schedulerWorkers(), scheduler.Request{Label: j.meta.Label, Affinity: j.meta.WorkerAffinity})
	if !ok {
		s.fatal("no worker compatible with job affinity", errNoCompatibleWorker)
	}
	j.worker = id
	j.scheduled.Store(true)
	atomic.AddInt64(&s.pending, 1)
	if !s.workers[id].queue.Push(j) {
		s.fatal("worker queue full", errQueueFull)
	}
	// Broadcast, not signal: a single Cond has no notion of which parked
	// goroutine belongs to worker id, so signaling one arbitrary waiter can
	// wake a worker that isn't id and leave id's owner asleep forever. Every
	// worker rechecks its own queue/steal condition on wake, so a spurious
	// wake among the rest is harmless.
	s.wakeAll()
	return nil
}

// scheduleReady places a job whose last dependency just finished. Per
// spec.md §4.4 step 4, it prefers the completing worker's own queue when
// that worker is affinity-compatible, for cache locality; otherwise it goes
// through the normal placement policy.
func (s *System) scheduleReady(j *job, fromWorker int) {
	bit := s.workers[fromWorker].bit
	j.scheduled.Store(true)
	atomic.AddInt64(&s.pending, 1)

	if bit&j.meta.WorkerAffinity != 0 {
		if !s.workers[fromWorker].queue.Push(j) {
			s.fatal("worker queue full", errQueueFull)
		}
		j.worker = fromWorker
		s.workers[fromWorker].scheduledByMe.Add(1)
		return
	}

	id, ok := s.policy.Select(s.schedulerWorkers(), scheduler.Request{Label: j.meta.Label, Affinity: j.meta.WorkerAffinity})
	if !ok {
		s.fatal("no worker compatible with job affinity", errNoCompatibleWorker)
	}
	j.worker = id
	if !s.workers[id].queue.Push(j) {
		s.fatal("worker queue full", errQueueFull)
	}
}

// ForegroundWork performs at most one pop/steal/execute step on worker 0,
// returning whether it found anything to do. Wait, WaitOnBarrier, and
// WaitFor all spin on this rather than blocking the caller's goroutine in
// the wake condition, since worker 0 has no background loop of its own.
func (s *System) ForegroundWork() bool {
	w := s.workers[0]
	if j, ok := w.popClaimed(); ok {
		w.execute(j)
		return true
	}
	if s.cfg.EnableWorkStealing {
		if j, ok := w.stealClaimed(); ok {
			w.execute(j)
			return true
		}
	}
	return false
}

// drainDead sweeps every worker's dead-job queue: reports any kernel error
// that no dependent ever read, marks the job processed, and — unless the
// job is a keep-alive daemon task — returns its slot to the arena (spec.md
// §4.11).
func (s *System) drainDead() {
	s.monitor.Drain()
	for _, w := range s.workers {
		for _, j := range w.dead.Drain() {
			if j.err != nil {
				consumed := j.errConsumed != nil && j.errConsumed()
				if !consumed {
					s.logger.Error("job kernel failed", "label", j.meta.Label, "category", j.meta.ProfileCategory, "error", j.err)
				}
			}
			j.processed.Store(true)
			if j.keepAlive {
				continue
			}
			s.arenaMu.Lock()
			s.arena.release(j.selfIndex)
			s.arenaMu.Unlock()
		}
	}
}

// IsBusy reports whether any scheduled job has not yet finished executing
// (it may still be waiting for drainDead to mark it processed afterwards).
func (s *System) IsBusy() bool {
	return atomic.LoadInt64(&s.pending) > 0
}

// IsWorkDone reports whether h's job has been processed (executed and swept
// by drainDead). A stale or invalid handle is considered done.
func (s *System) IsWorkDone(h TaskHandle) bool {
	j, err := h.resolve()
	if err != nil {
		return true
	}
	return j.processed.Load()
}

// Wait blocks the calling goroutine, performing foreground work and
// garbage collection until no job is outstanding (spec.md §4.1, "Wait").
func (s *System) Wait() {
	s.WaitUntil(func() bool { return atomic.LoadInt64(&s.pending) == 0 })
}

// WaitUntil drives foreground work and garbage collection until done
// returns true.
func (s *System) WaitUntil(done func() bool) {
	for !done() {
		if !s.ForegroundWork() {
			s.drainDead()
		}
	}
	s.drainDead()
}

// WaitFor blocks until h's job has been processed.
func (s *System) WaitFor(h TaskHandle) error {
	if _, err := h.resolve(); err != nil {
		return err
	}
	s.WaitUntil(func() bool { return s.IsWorkDone(h) })
	return nil
}

// TryPreemptAndExecute claims h's job — if it is scheduled but not yet
// claimed by a worker — and runs it immediately on the calling goroutine,
// as worker 0 would (spec.md §4.8). The executing flag is the single
// arbiter of who actually runs the kernel: whichever of a worker's
// popClaimed/stealClaimed or this CAS wins, the other treats the job as
// already spoken for.
func (s *System) TryPreemptAndExecute(h TaskHandle) (bool, error) {
	j, err := h.resolve()
	if err != nil {
		return false, err
	}
	if !j.scheduled.Load() || j.finished.Load() {
		return false, nil
	}
	if !j.executing.CompareAndSwap(false, true) {
		return false, nil
	}
	j.preempted.Store(true)
	s.workers[0].execute(j)
	// execute only pushes j onto worker 0's dead queue; processed (and the
	// IsWorkDone/arena-release bookkeeping that follows it) is only ever
	// set by drainDead. Wait and friends reach it eventually, but a caller
	// that preempts and immediately checks IsWorkDone shouldn't have to wait
	// for an unrelated Wait call to sweep it first.
	s.drainDead()
	return true, nil
}

// Shutdown drains remaining work, stops every background worker, and
// persists the execution-time profile if configured (spec.md §6). Safe to
// call more than once.
func (s *System) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.Wait()
		s.running.Store(false)
		s.wakeAll()
		for id := 1; id < len(s.workers); id++ {
			<-s.workers[id].doneCh
		}
		if s.cfg.ProfileFilePath != "" {
			if err := s.monitor.SaveProfile(s.cfg.ProfileFilePath); err != nil {
				s.logger.Warn("could not persist execution-time profile", "path", s.cfg.ProfileFilePath, "error", err)
			}
		}
	})
}

// --- daemon API (spec.md §4.9) -------------------------------------------

// DaemonHandle identifies a daemon created with CreateDaemon.
type DaemonHandle = daemon.Handle

// DaemonSchedule configures a daemon's cadence; an alias so callers don't
// need to import the daemon package directly.
type DaemonSchedule = daemon.SchedulingData

// CreateDaemon wires kernel up as a keep-alive job and registers it with the
// daemon scheduler, which will reschedule it every sd.IntervalMS until its
// TTL is exhausted or it is killed.
func (s *System) CreateDaemon(kernel Kernel, sd DaemonSchedule, meta Metadata) DaemonHandle {
	h := s.createTask(kernel, meta)
	j, _ := h.resolve()
	j.keepAlive = true
	return s.daemons.Create(h, sd)
}

// KillDaemon marks a daemon for release; it is actually freed on the next
// UpdateDaemons call.
func (s *System) KillDaemon(h DaemonHandle) {
	s.daemons.Kill(h)
}

// UpdateDaemons advances every daemon's cooldown by deltaMS, rescheduling
// any that have elapsed (spec.md §4.9). Call once per tick from the same
// goroutine that owns the System.
func (s *System) UpdateDaemons(deltaMS int64) {
	s.daemons.Update(deltaMS)
}

// Reschedule implements daemon.Host: reset a keep-alive job's completion
// state and resubmit it.
func (s *System) Reschedule(task TaskHandle) error {
	j, err := task.resolve()
	if err != nil {
		return err
	}
	j.finished.Store(false)
	j.processed.Store(false)
	j.executing.Store(false)
	j.preempted.Store(false)
	j.scheduled.Store(false)
	j.err = nil
	atomic.StoreInt32(&j.depCount, 0)
	return s.enqueueRoot(j)
}

// Release implements daemon.Host: stop treating task as keep-alive, freeing
// its arena slot immediately if it already finished its last run, or as
// soon as drainDead next sweeps it otherwise.
func (s *System) Release(task TaskHandle) {
	j, err := task.resolve()
	if err != nil {
		return
	}
	j.keepAlive = false
	if j.processed.Load() {
		s.arenaMu.Lock()
		s.arena.release(task.slot)
		s.arenaMu.Unlock()
	}
}
