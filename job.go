package jobsystem

import (
	"sync/atomic"

	"github.com/go-foundations/jobsystem/scheduler"
)

// Affinity is a worker-selection bitmask; bit 0 is the main/foreground
// worker (spec.md §3, §6).
type Affinity = scheduler.Affinity

// Affinity constants (spec.md §6).
const (
	AffinityMain  = scheduler.AffinityMain
	AffinityAny   = scheduler.AffinityAny
	AffinityAsync = scheduler.AffinityAsync
)

// Label uniquely identifies a job for profiling and the min-load scheduler.
type Label = uint64

// Kernel is a nullary unit of work. A non-nil return value is captured as
// the job's exception (spec.md §3, "exception slot").
type Kernel func() error

// Metadata describes a job (spec.md §3).
type Metadata struct {
	Label           Label
	WorkerAffinity  Affinity
	ProfileCategory string
}

// defaulted fills in the zero-value affinity (no affinity specified) as
// AffinityAny, matching the original's default WORKER_AFFINITY_ANY.
func (m Metadata) defaulted() Metadata {
	if m.WorkerAffinity == 0 {
		m.WorkerAffinity = AffinityAny
	}
	return m
}

// job is the internal, arena-allocated representation of a unit of work
// (spec.md §3). It is never exposed directly; callers only ever see a
// TaskHandle. Jobs live in a preallocated, never-resized slice so pointers
// into it are stable for the process lifetime of the arena (see arena.go).
type job struct {
	meta   Metadata
	kernel Kernel

	children []*job
	barrier  barrierHandleInternal

	depCount int32 // atomic: unfinished parent count

	finished  atomic.Bool
	processed atomic.Bool
	alive     atomic.Bool
	keepAlive bool
	scheduled atomic.Bool
	executing atomic.Bool
	preempted atomic.Bool

	executionTimeUS int64 // atomic

	err error // captured kernel error, for unread-future reporting

	// errConsumed, when non-nil, lets garbage collection ask the
	// type-erased future associated with this job whether its error (if
	// any) was ever read by a dependent (spec.md §4.11).
	errConsumed func() bool

	worker int // worker id the job is/was assigned to; -1 if unassigned

	gen       uint32 // generation, bumped on every allocation from the arena
	selfIndex uint32 // this job's slot index in the owning arena
}

func (j *job) reset() {
	j.meta = Metadata{}
	j.kernel = nil
	j.children = j.children[:0]
	j.barrier = noBarrier
	j.depCount = 0
	j.finished.Store(false)
	j.processed.Store(false)
	j.alive.Store(true)
	j.keepAlive = false
	j.scheduled.Store(false)
	j.executing.Store(false)
	j.preempted.Store(false)
	j.executionTimeUS = 0
	j.err = nil
	j.errConsumed = nil
	j.worker = -1
}

// TaskHandle is an opaque, generation-checked reference to a job. It is the
// only thing callers hold onto between CreateTask/CreateVoidTask and
// Schedule.
type TaskHandle struct {
	sys  *System
	slot uint32
	gen  uint32
}

// IsValid reports whether the handle still refers to the job it was issued
// for (i.e. the slot has been neither released to the arena nor reused
// since).
func (h TaskHandle) IsValid() bool {
	if h.sys == nil {
		return false
	}
	j := &h.sys.arena.jobs[h.slot]
	return j.gen == h.gen && j.alive.Load()
}

func (h TaskHandle) resolve() (*job, error) {
	if h.sys == nil {
		return nil, ErrStaleHandle
	}
	j := &h.sys.arena.jobs[h.slot]
	if j.gen != h.gen {
		return nil, ErrStaleHandle
	}
	return j, nil
}

// AddChild registers child as dependent on h: child becomes schedulable only
// once h (and every other parent it's wired to) has finished. Must be
// called before h is scheduled (spec.md §4.2).
func (h TaskHandle) AddChild(child TaskHandle) error {
	parent, err := h.resolve()
	if err != nil {
		return err
	}
	c, err := child.resolve()
	if err != nil {
		return err
	}
	parent.children = append(parent.children, c)
	atomic.AddInt32(&c.depCount, 1)
	return nil
}

// AddParent registers h as dependent on parent; equivalent to
// parent.AddChild(h), provided for symmetry with the original API
// (spec.md §6).
func (h TaskHandle) AddParent(parent TaskHandle) error {
	return parent.AddChild(h)
}

// Schedule submits h for execution, optionally binding it (and every
// descendant not already bound) to a barrier (spec.md §4.2 step 3).
// Scheduling is one-shot: a second call returns ErrAlreadyScheduled.
func (h TaskHandle) Schedule(barrier ...BarrierHandle) error {
	var bh BarrierHandle
	if len(barrier) > 0 {
		bh = barrier[0]
	}
	return h.sys.schedule(h, bh)
}
