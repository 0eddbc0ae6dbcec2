// Package scheduler implements the job system's worker-selection policies
// (spec.md §4.6). It mirrors the split the teacher package uses for job
// distribution strategies (workerpool/strategies: one file per algorithm
// behind a common interface, plus a factory keyed by an enum) but answers a
// narrower question — which worker id should receive this job — rather than
// owning the whole run loop.
package scheduler

import (
	"math"
	"sync"
	"sync/atomic"
)

// Affinity is a per-worker-bit mask: bit 0 is the main/foreground worker,
// every other bit is a background worker slot.
type Affinity uint32

// AffinityAny matches every worker. AffinityMain matches only the
// foreground worker. AffinityAsync matches every background worker.
const (
	AffinityMain  Affinity = 1 << 0
	AffinityAny   Affinity = math.MaxUint32
	AffinityAsync Affinity = AffinityAny &^ AffinityMain
)

// Worker describes one candidate for job placement.
type Worker struct {
	ID       int
	Affinity Affinity
}

// Request describes the job being placed.
type Request struct {
	Label    uint64
	Affinity Affinity
}

// Compatible reports whether a worker's affinity bit is set in the request.
func Compatible(w Worker, req Request) bool {
	return w.Affinity&req.Affinity != 0
}

// LoadEstimator supplies the per-label mean execution time (microseconds)
// the min-load policy needs. The monitor package implements this.
type LoadEstimator interface {
	EstimateUS(label uint64) float64
}

// Policy selects a worker id for an incoming job. Select returns false only
// when no worker is compatible with the request's affinity — the façade
// treats that as the fatal "no compatible worker" condition from spec.md §7.
type Policy interface {
	Select(workers []Worker, req Request) (int, bool)
	// Complete is called once a job finishes, so load-tracking policies can
	// release the capacity they reserved for it in Select. Policies that
	// don't track in-flight load (e.g. RoundRobin) ignore it.
	Complete(workerID int, label uint64)
	Name() string
}

func compatibleWorkers(workers []Worker, req Request) []Worker {
	out := make([]Worker, 0, len(workers))
	for _, w := range workers {
		if Compatible(w, req) {
			out = append(out, w)
		}
	}
	return out
}

// RoundRobin cycles through the workers compatible with each request's
// affinity using a single counter shared by all requests, taken modulo the
// number of compatible workers; requests of different affinity classes
// advance the same counter.
type RoundRobin struct {
	counter uint64
}

// NewRoundRobin constructs a round-robin policy.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

// Select implements Policy.
func (r *RoundRobin) Select(workers []Worker, req Request) (int, bool) {
	compatible := compatibleWorkers(workers, req)
	if len(compatible) == 0 {
		return 0, false
	}
	n := atomic.AddUint64(&r.counter, 1) - 1
	return compatible[n%uint64(len(compatible))].ID, true
}

// Complete implements Policy; round-robin tracks no per-worker state.
func (r *RoundRobin) Complete(int, uint64) {}

// Name implements Policy.
func (r *RoundRobin) Name() string { return "round_robin" }

// MinLoad picks the compatible worker with the smallest estimated
// in-flight load, where load is the sum of the profile's execution-time
// estimate for every label currently assigned to that worker. Per spec.md
// §9's resolution of the open question about the in-flight table, the table
// is maintained strictly by Select (add) and Complete (subtract) — never
// reconstructed by inspecting queues.
type MinLoad struct {
	mu       sync.Mutex
	profile  LoadEstimator
	inFlight map[int]float64
}

// NewMinLoad constructs a min-load policy backed by the given estimator.
func NewMinLoad(profile LoadEstimator) *MinLoad {
	return &MinLoad{
		profile:  profile,
		inFlight: make(map[int]float64),
	}
}

// Select implements Policy.
func (m *MinLoad) Select(workers []Worker, req Request) (int, bool) {
	compatible := compatibleWorkers(workers, req)
	if len(compatible) == 0 {
		return 0, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	best := compatible[0].ID
	bestLoad := m.inFlight[best]
	for _, w := range compatible[1:] {
		load := m.inFlight[w.ID]
		if load < bestLoad || (load == bestLoad && w.ID < best) {
			best = w.ID
			bestLoad = load
		}
	}

	m.inFlight[best] += m.estimateLocked(req.Label)
	return best, true
}

// Complete implements Policy.
func (m *MinLoad) Complete(workerID int, label uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.inFlight[workerID] -= m.estimateLocked(label)
	if m.inFlight[workerID] < 0 {
		m.inFlight[workerID] = 0
	}
}

func (m *MinLoad) estimateLocked(label uint64) float64 {
	if m.profile == nil {
		return 0
	}
	return m.profile.EstimateUS(label)
}

// Name implements Policy.
func (m *MinLoad) Name() string { return "min_load" }

// Algorithm enumerates the scheduling policies selectable at construction
// (spec.md §6, JobSystemScheme.scheduling_algorithm).
type Algorithm int

const (
	RoundRobinAlgorithm Algorithm = iota
	MinLoadAlgorithm
)

// Factory constructs a Policy from an Algorithm, exactly mirroring the
// teacher package's strategies.StrategyFactory.
type Factory struct{}

// NewFactory constructs a policy factory.
func NewFactory() *Factory {
	return &Factory{}
}

// Create builds the policy for the given algorithm. Unknown algorithms fall
// back to round-robin, matching the teacher factory's default case.
func (f *Factory) Create(algo Algorithm, profile LoadEstimator) Policy {
	switch algo {
	case MinLoadAlgorithm:
		return NewMinLoad(profile)
	case RoundRobinAlgorithm:
		return NewRoundRobin()
	default:
		return NewRoundRobin()
	}
}

// Name returns the human-readable name for an algorithm, mirroring the
// teacher's GetStrategyName helper.
func Name(algo Algorithm) string {
	switch algo {
	case RoundRobinAlgorithm:
		return "Round Robin"
	case MinLoadAlgorithm:
		return "Minimum Load"
	default:
		return "Unknown"
	}
}
