// Package daemon implements the periodic re-scheduling of long-lived,
// reusable jobs described in spec.md §4.9. It is generic over the job
// system's task-handle type (Host[H]) rather than importing the jobsystem
// package directly, so the dependency only runs one way: jobsystem imports
// daemon and satisfies Host itself. The daemon scheduler runs entirely on
// the caller's thread of control and uses no locks on its map, exactly as
// spec.md §5 specifies ("the daemon scheduler runs entirely on the main
// thread and uses no locks on its map") — Update, Create, and Kill must all
// be called from the same goroutine.
package daemon

// Host is the subset of job-system behavior a daemon scheduler needs: the
// ability to reset a kept-alive job and resubmit it, and to release one once
// its time-to-live has expired.
type Host[H any] interface {
	// Reschedule resets the task's completion state and submits it again.
	Reschedule(task H) error
	// Release returns the task to the job system once it will never be
	// rescheduled again.
	Release(task H)
}

// SchedulingData configures one daemon's cadence (spec.md §4.9).
type SchedulingData struct {
	IntervalMS int64
	// TTL is the number of remaining reschedules; -1 means infinite.
	TTL int64
}

// Handle identifies a created daemon.
type Handle uint64

type record[H any] struct {
	task       H
	intervalMS int64
	cooldownMS int64
	ttl        int64
	killed     bool
}

// Scheduler is the main-thread-only, lock-free (by construction, not by
// synchronization) registry of live daemons.
type Scheduler[H any] struct {
	host    Host[H]
	next    Handle
	daemons map[Handle]*record[H]
}

// NewScheduler constructs a daemon scheduler bound to the given host.
func NewScheduler[H any](host Host[H]) *Scheduler[H] {
	return &Scheduler[H]{
		host:    host,
		daemons: make(map[Handle]*record[H]),
	}
}

// Create registers a new daemon and returns its handle. The first cooldown
// equals the interval, so the daemon's task first runs one interval after
// creation.
func (s *Scheduler[H]) Create(task H, sd SchedulingData) Handle {
	s.next++
	h := s.next
	s.daemons[h] = &record[H]{
		task:       task,
		intervalMS: sd.IntervalMS,
		cooldownMS: sd.IntervalMS,
		ttl:        sd.TTL,
	}
	return h
}

// Kill marks a daemon for deletion; it is released and erased on the next
// Update call (spec.md §4.9: "if daemon is marked for deletion: release job
// and erase").
func (s *Scheduler[H]) Kill(h Handle) {
	if r, ok := s.daemons[h]; ok {
		r.killed = true
	}
}

// Len reports the number of daemons still tracked (including ones marked
// for deletion but not yet swept by Update).
func (s *Scheduler[H]) Len() int {
	return len(s.daemons)
}

// Update advances every daemon's cooldown by deltaMS and fires (reschedules)
// any whose cooldown has elapsed, per spec.md §4.9:
//
//   - decrement cooldown of every live daemon;
//   - when cooldown <= 0: reset cooldown to interval, decrement TTL, then
//     reset the job and schedule it;
//   - a daemon whose TTL has just reached zero fires one last time, then is
//     released and erased on the *following* Update call — it is not killed
//     mid-tick, since the job it just scheduled still needs to run;
//   - a daemon marked for deletion (via Kill) is released and erased
//     immediately, without waiting for its cooldown.
func (s *Scheduler[H]) Update(deltaMS int64) {
	for h, r := range s.daemons {
		if r.killed {
			s.host.Release(r.task)
			delete(s.daemons, h)
			continue
		}
		if r.ttl == 0 {
			// The last scheduled run already happened; this daemon has
			// nothing left to do.
			s.host.Release(r.task)
			delete(s.daemons, h)
			continue
		}

		r.cooldownMS -= deltaMS
		if r.cooldownMS <= 0 {
			r.cooldownMS = r.intervalMS
			if r.ttl > 0 {
				r.ttl--
			}
			_ = s.host.Reschedule(r.task)
		}
	}
}
