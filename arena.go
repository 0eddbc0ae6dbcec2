package jobsystem

// arena is the fixed-capacity job pool (spec.md §4.1). It is never resized:
// jobs is allocated once, at its final capacity, so pointers into it remain
// valid for the arena's entire lifetime — callers hold *job pointers
// directly (via the children slice) rather than indices, the same way the
// original's raw Job* pointers stay valid because the pool never
// reallocates.
//
// Allocation and deallocation are confined to the goroutine that owns the
// System façade (spec.md §4.1: "All job operations requiring allocation
// execute on the main thread; workers never allocate jobs"). The free list
// is therefore a plain slice, not a concurrent structure.
type arena struct {
	jobs []job
	free []uint32
}

func newArena(capacity int) *arena {
	a := &arena{
		jobs: make([]job, capacity),
		free: make([]uint32, capacity),
	}
	for i := range a.free {
		// Populate back-to-front so slot 0 is handed out first.
		a.free[i] = uint32(capacity - 1 - i)
	}
	return a
}

// alloc pops a free slot, resets it, and bumps its generation. Returns
// ok=false when the pool is exhausted — callers treat that as fatal
// (spec.md §4.1: "Out-of-memory is fatal").
func (a *arena) alloc() (*job, uint32, uint32, bool) {
	if len(a.free) == 0 {
		return nil, 0, 0, false
	}
	idx := a.free[len(a.free)-1]
	a.free = a.free[:len(a.free)-1]

	j := &a.jobs[idx]
	j.reset()
	j.gen++
	j.selfIndex = idx
	return j, idx, j.gen, true
}

// release returns a slot to the free list. Callers must only do this once a
// job is processed and not keep-alive (spec.md §4.2 step 6).
func (a *arena) release(idx uint32) {
	a.jobs[idx].alive.Store(false)
	a.free = append(a.free, idx)
}

func (a *arena) capacity() int {
	return len(a.jobs)
}

func (a *arena) available() int {
	return len(a.free)
}
