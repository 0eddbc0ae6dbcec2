// Package benchmarks measures job-system throughput under the shapes
// spec.md §8 exercises functionally: a flat fan-out under each of the two
// scheduling policies, a four-job diamond, and a round-robin fan-out across
// varying worker counts.
package benchmarks

import (
	"fmt"
	"testing"

	jobsystem "github.com/go-foundations/jobsystem"
	"github.com/go-foundations/jobsystem/scheduler"
)

func newSystem(workers int, algo scheduler.Algorithm) *jobsystem.System {
	cfg := jobsystem.DefaultConfig()
	cfg.MaxWorkers = workers
	cfg.SchedulingAlgorithm = algo
	cfg.MaxJobsPerWorker = 4096
	return jobsystem.NewSystem(cfg)
}

func BenchmarkFanOutRoundRobin(b *testing.B) {
	benchmarkFanOut(b, scheduler.RoundRobinAlgorithm)
}

func BenchmarkFanOutMinLoad(b *testing.B) {
	benchmarkFanOut(b, scheduler.MinLoadAlgorithm)
}

func benchmarkFanOut(b *testing.B, algo scheduler.Algorithm) {
	sys := newSystem(4, algo)
	defer sys.Shutdown()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for j := 0; j < 100; j++ {
			h := sys.CreateVoidTask(func() error { return nil }, jobsystem.Metadata{Label: uint64(j)})
			if err := h.Schedule(); err != nil {
				b.Fatal(err)
			}
		}
		sys.Wait()
	}
}

func BenchmarkWorkerCounts(b *testing.B) {
	for _, workers := range []int{1, 2, 4, 8, 16} {
		b.Run(fmt.Sprintf("Workers_%d", workers), func(b *testing.B) {
			sys := newSystem(workers, scheduler.RoundRobinAlgorithm)
			defer sys.Shutdown()

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				for j := 0; j < 100; j++ {
					h := sys.CreateVoidTask(func() error { return nil }, jobsystem.Metadata{Label: uint64(j)})
					if err := h.Schedule(); err != nil {
						b.Fatal(err)
					}
				}
				sys.Wait()
			}
		})
	}
}

func BenchmarkDiamond(b *testing.B) {
	sys := newSystem(4, scheduler.RoundRobinAlgorithm)
	defer sys.Shutdown()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		root := sys.CreateVoidTask(func() error { return nil }, jobsystem.Metadata{Label: 1})
		left := sys.CreateVoidTask(func() error { return nil }, jobsystem.Metadata{Label: 2})
		right := sys.CreateVoidTask(func() error { return nil }, jobsystem.Metadata{Label: 3})
		join := sys.CreateVoidTask(func() error { return nil }, jobsystem.Metadata{Label: 4})

		if err := root.AddChild(left); err != nil {
			b.Fatal(err)
		}
		if err := root.AddChild(right); err != nil {
			b.Fatal(err)
		}
		if err := left.AddChild(join); err != nil {
			b.Fatal(err)
		}
		if err := right.AddChild(join); err != nil {
			b.Fatal(err)
		}
		if err := root.Schedule(); err != nil {
			b.Fatal(err)
		}
		sys.Wait()
	}
}
