// Package monitor aggregates per-worker activity statistics pushed by
// workers and maintains the execution-time profile the min-load scheduler
// reads from (spec.md §4.10). Aggregation happens only when Drain is called
// — by convention, from the main/foreground goroutine, exactly as spec.md
// §5 requires ("the monitor receives data through a lock-free queue and
// aggregates on main thread only"); a buffered Go channel stands in for that
// queue, which is the idiomatic MPSC primitive for this shape in Go.
package monitor

import "sync"

// ActivityRecord is the per-wake-cycle statistics a worker reports.
type ActivityRecord struct {
	WorkerID      int
	ActiveUS      int64
	IdleUS        int64
	Executed      uint64
	Stolen        uint64
	Resubmitted   uint64
	ScheduledByMe uint64
}

// WorkerStats is the aggregated, cumulative view of one worker's activity.
type WorkerStats struct {
	ActiveUS      int64
	IdleUS        int64
	Executed      uint64
	Stolen        uint64
	Resubmitted   uint64
	ScheduledByMe uint64
}

// ProfileEntry is the persisted per-label execution-time estimate.
type ProfileEntry struct {
	MeanUS float64
	Count  uint64
}

// Monitor owns per-worker statistics and the execution-time profile used by
// the min-load scheduler. All exported methods are safe to call
// concurrently. Worker goroutines call Push and RecordExecution (and
// EstimateUS, through the min-load policy); Drain is main-thread
// bookkeeping.
type Monitor struct {
	records chan ActivityRecord

	mu          sync.RWMutex
	perWorker   map[int]*WorkerStats
	profile     map[uint64]*ProfileEntry
	globalMean  float64
	globalCount uint64
}

// New creates a Monitor whose activity-record channel has the given buffer
// size. A full channel means Push drops the record rather than blocking the
// worker — losing one wake-cycle's stats is preferable to stalling a worker
// on bookkeeping.
func New(bufferSize int) *Monitor {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Monitor{
		records:   make(chan ActivityRecord, bufferSize),
		perWorker: make(map[int]*WorkerStats),
		profile:   make(map[uint64]*ProfileEntry),
	}
}

// Push is called by a worker on each wake cycle to report its activity
// since the last report. Non-blocking: a full buffer drops the record.
func (m *Monitor) Push(rec ActivityRecord) {
	select {
	case m.records <- rec:
	default:
	}
}

// Drain aggregates every buffered activity record. Call from the
// main/foreground goroutine only (conventionally from within Wait/GC, as
// spec.md §4.10 prescribes).
func (m *Monitor) Drain() {
	for {
		select {
		case rec := <-m.records:
			m.aggregate(rec)
		default:
			return
		}
	}
}

func (m *Monitor) aggregate(rec ActivityRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.perWorker[rec.WorkerID]
	if !ok {
		s = &WorkerStats{}
		m.perWorker[rec.WorkerID] = s
	}
	s.ActiveUS += rec.ActiveUS
	s.IdleUS += rec.IdleUS
	s.Executed += rec.Executed
	s.Stolen += rec.Stolen
	s.Resubmitted += rec.Resubmitted
	s.ScheduledByMe += rec.ScheduledByMe
}

// WorkerStatsFor returns a copy of the aggregated stats for one worker.
func (m *Monitor) WorkerStatsFor(id int) WorkerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.perWorker[id]; ok {
		return *s
	}
	return WorkerStats{}
}

// RecordExecution folds one completed job's execution time (microseconds)
// into the execution-time profile, as a simple moving average, and updates
// the global mean used as the default estimate for unseen labels.
func (m *Monitor) RecordExecution(label uint64, us int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.profile[label]
	if !ok {
		e = &ProfileEntry{}
		m.profile[label] = e
	}
	e.Count++
	e.MeanUS += (float64(us) - e.MeanUS) / float64(e.Count)

	m.globalCount++
	m.globalMean += (float64(us) - m.globalMean) / float64(m.globalCount)
}

// EstimateUS implements scheduler.LoadEstimator: the profile's mean for a
// known label, or the global mean as the default estimate for an unseen one
// (spec.md §4.6).
func (m *Monitor) EstimateUS(label uint64) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.profile[label]; ok {
		return e.MeanUS
	}
	return m.globalMean
}

// Snapshot returns a copy of the whole execution-time profile, keyed by
// label. Used for persistence and for tests asserting round-trip behavior.
func (m *Monitor) Snapshot() map[uint64]ProfileEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[uint64]ProfileEntry, len(m.profile))
	for label, e := range m.profile {
		out[label] = *e
	}
	return out
}

// LoadSnapshot replaces the profile wholesale, e.g. after reading it back
// from the persistence file on startup.
func (m *Monitor) LoadSnapshot(entries map[uint64]ProfileEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.profile = make(map[uint64]*ProfileEntry, len(entries))
	var sum float64
	var count uint64
	for label, e := range entries {
		cp := e
		m.profile[label] = &cp
		sum += e.MeanUS * float64(e.Count)
		count += e.Count
	}
	if count > 0 {
		m.globalMean = sum / float64(count)
		m.globalCount = count
	}
}
