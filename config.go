package jobsystem

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-foundations/jobsystem/scheduler"
)

// Config configures a System at construction (spec.md §6, JobSystemScheme).
type Config struct {
	// MaxWorkers is the number of background worker goroutines; 0 means
	// (CPU cores - 1), matching the original's default.
	MaxWorkers int
	// MaxStealingAttempts bounds how many peers a worker tries before
	// giving up and waiting.
	MaxStealingAttempts int
	// MaxBarriers sizes the fixed barrier pool.
	MaxBarriers int
	// MaxJobsPerWorker sizes the job arena: MaxJobsPerWorker * (MaxWorkers+1).
	MaxJobsPerWorker int
	// EnableWorkStealing toggles whether idle workers may steal from peers.
	EnableWorkStealing bool
	// SchedulingAlgorithm selects the worker-placement policy.
	SchedulingAlgorithm scheduler.Algorithm
	// ProfileFilePath, if set, is loaded at construction and saved at
	// shutdown (spec.md §6).
	ProfileFilePath string

	// Logger receives the job system's own diagnostic messages. Defaults to
	// a no-op logger if nil.
	Logger Logger
	// Registry, if set, receives the Prometheus gauges the System registers
	// for pending jobs and per-worker counters. Metrics are not registered
	// against the global default
	// registry (spec.md §9: no process-wide mutable state).
	Registry *prometheus.Registry
	// Tracer, if set, receives one span per executed job kernel, standing
	// in for the original's Chrome-tracing JSON output (spec.md §6).
	Tracer trace.Tracer

	// MonitorBufferSize sizes the monitor's activity-record channel.
	MonitorBufferSize int
}

// DefaultConfig returns sensible defaults, mirroring the teacher package's
// DefaultConfig helper.
func DefaultConfig() Config {
	workers := runtime.NumCPU() - 1
	if workers < 1 {
		workers = 1
	}
	return Config{
		MaxWorkers:          workers,
		MaxStealingAttempts: 16,
		MaxBarriers:         64,
		MaxJobsPerWorker:    1024,
		EnableWorkStealing:  true,
		SchedulingAlgorithm: scheduler.RoundRobinAlgorithm,
		MonitorBufferSize:   4096,
	}
}

func (c *Config) sanitize() {
	if c.MaxWorkers <= 0 {
		workers := runtime.NumCPU() - 1
		if workers < 1 {
			workers = 1
		}
		c.MaxWorkers = workers
	}
	if c.MaxStealingAttempts <= 0 {
		c.MaxStealingAttempts = 16
	}
	if c.MaxBarriers <= 0 {
		c.MaxBarriers = 64
	}
	if c.MaxJobsPerWorker <= 0 {
		c.MaxJobsPerWorker = 1024
	}
	if c.MonitorBufferSize <= 0 {
		c.MonitorBufferSize = 4096
	}
	if c.Logger == nil {
		c.Logger = noopLogger{}
	}
}
