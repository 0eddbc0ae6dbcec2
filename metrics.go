package jobsystem

import (
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// registerMetrics exposes the monitor's live counters through reg, rather
// than the package-global prometheus.DefaultRegisterer, per spec.md §9 ("no
// process-wide mutable state"). Each gauge reads straight from the
// underlying atomic counters at scrape time, so there is nothing to update
// on the hot path.
func (s *System) registerMetrics(reg *prometheus.Registry) {
	factory := promauto.With(reg)

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "jobsystem_pending_jobs",
		Help: "Jobs scheduled but not yet finished executing.",
	}, func() float64 { return float64(s.IsBusyCount()) })

	for _, w := range s.workers {
		w := w
		id := strconv.Itoa(w.id)

		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "jobsystem_worker_executed_total",
			Help:        "Jobs executed by this worker.",
			ConstLabels: prometheus.Labels{"worker": id},
		}, func() float64 { return float64(w.executed.Load()) })

		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "jobsystem_worker_stolen_total",
			Help:        "Jobs this worker stole from a peer.",
			ConstLabels: prometheus.Labels{"worker": id},
		}, func() float64 { return float64(w.stolen.Load()) })

		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "jobsystem_worker_resubmitted_total",
			Help:        "Jobs this worker stole then had to push back due to an affinity mismatch.",
			ConstLabels: prometheus.Labels{"worker": id},
		}, func() float64 { return float64(w.resubmitted.Load()) })

		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "jobsystem_worker_active_microseconds_total",
			Help:        "Cumulative time this worker spent executing kernels.",
			ConstLabels: prometheus.Labels{"worker": id},
		}, func() float64 { return float64(w.activeUS.Load()) })

		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "jobsystem_worker_idle_microseconds_total",
			Help:        "Cumulative time this worker spent waiting for work.",
			ConstLabels: prometheus.Labels{"worker": id},
		}, func() float64 { return float64(w.idleUS.Load()) })
	}
}

// IsBusyCount reports the number of jobs currently scheduled but not yet
// finished executing; used by the Prometheus gauge and exported for callers that want
// the raw count rather than the IsBusy boolean.
func (s *System) IsBusyCount() int64 {
	return atomic.LoadInt64(&s.pending)
}
