// Command jobsystem-demo exercises the job system end to end: fan-out,
// diamond dependencies, barriers, worker affinity, exception propagation,
// preemption, and a daemon — the scenarios the original's
// examples/job_example.cpp and examples/job_affinity.cpp walk through one at
// a time (spec.md §8, §9).
package main

import (
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/rs/zerolog"

	jobsystem "github.com/go-foundations/jobsystem"
)

func main() {
	mode := flag.String("mode", "fanout", "demo to run: fanout, diamond, barrier, affinity, exceptions, preemption, daemon")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	cfg := jobsystem.DefaultConfig()
	cfg.Logger = jobsystem.NewZerologAdapter(log)

	sys := jobsystem.NewSystem(cfg)
	defer sys.Shutdown()

	var err error
	switch *mode {
	case "fanout":
		err = runFanOut(sys)
	case "diamond":
		err = runDiamond(sys)
	case "barrier":
		err = runBarrier(sys)
	case "affinity":
		err = runAffinity(sys)
	case "exceptions":
		err = runExceptions(sys)
	case "preemption":
		err = runPreemption(sys)
	case "daemon":
		err = runDaemon(sys)
	default:
		err = fmt.Errorf("unknown mode %q", *mode)
	}
	if err != nil {
		log.Error().Err(err).Msg("demo failed")
		os.Exit(1)
	}
}

// runFanOut schedules a flat batch of independent sleeps and waits for all
// of them, the simplest shape in spec.md §8.
func runFanOut(sys *jobsystem.System) error {
	const n = 16
	for i := 0; i < n; i++ {
		i := i
		h := sys.CreateVoidTask(func() error {
			time.Sleep(time.Duration(rand.Intn(5)) * time.Millisecond)
			fmt.Printf("fanout: job %d done\n", i)
			return nil
		}, jobsystem.Metadata{Label: uint64(i), ProfileCategory: "fanout"})
		if err := h.Schedule(); err != nil {
			return err
		}
	}
	sys.Wait()
	return nil
}

// runDiamond builds root -> {left, right} -> join and prints each step as it
// runs, so the output shows the join after both branches (spec.md §8
// "diamond determinism").
func runDiamond(sys *jobsystem.System) error {
	root := sys.CreateVoidTask(func() error { fmt.Println("diamond: root"); return nil }, jobsystem.Metadata{Label: 1})
	left := sys.CreateVoidTask(func() error { fmt.Println("diamond: left"); return nil }, jobsystem.Metadata{Label: 2})
	right := sys.CreateVoidTask(func() error { fmt.Println("diamond: right"); return nil }, jobsystem.Metadata{Label: 3})
	join := sys.CreateVoidTask(func() error { fmt.Println("diamond: join"); return nil }, jobsystem.Metadata{Label: 4})

	if err := root.AddChild(left); err != nil {
		return err
	}
	if err := root.AddChild(right); err != nil {
		return err
	}
	if err := left.AddChild(join); err != nil {
		return err
	}
	if err := right.AddChild(join); err != nil {
		return err
	}
	if err := root.Schedule(); err != nil {
		return err
	}
	sys.Wait()
	return nil
}

// runBarrier schedules a batch under one barrier and waits on it directly,
// rather than on the whole system, so other unrelated work could proceed
// concurrently (spec.md §4.7).
func runBarrier(sys *jobsystem.System) error {
	bh := sys.CreateBarrier()
	for i := 0; i < 8; i++ {
		i := i
		h := sys.CreateVoidTask(func() error {
			fmt.Printf("barrier: job %d\n", i)
			return nil
		}, jobsystem.Metadata{Label: uint64(i)})
		if err := h.Schedule(bh); err != nil {
			return err
		}
	}
	if err := sys.WaitOnBarrier(bh); err != nil {
		return err
	}
	return sys.DestroyBarrier(bh)
}

// runAffinity pins one job to the foreground worker and another to any
// background worker, demonstrating worker_affinity_t from spec.md §6.
func runAffinity(sys *jobsystem.System) error {
	onMain := sys.CreateVoidTask(func() error {
		fmt.Println("affinity: ran on the foreground worker")
		return nil
	}, jobsystem.Metadata{Label: 1, WorkerAffinity: jobsystem.AffinityMain})

	background := sys.CreateVoidTask(func() error {
		fmt.Println("affinity: ran on a background worker")
		return nil
	}, jobsystem.Metadata{Label: 2, WorkerAffinity: jobsystem.AffinityAsync})

	if err := onMain.Schedule(); err != nil {
		return err
	}
	if err := background.Schedule(); err != nil {
		return err
	}
	sys.Wait()
	return nil
}

// runExceptions demonstrates a kernel error both read (via the future) and
// left unread (reported by garbage collection instead), per spec.md §4.11.
func runExceptions(sys *jobsystem.System) error {
	boom := errors.New("kernel exploded")

	handle, fut := jobsystem.CreateTask(sys, func() (int, error) {
		return 0, boom
	}, jobsystem.Metadata{Label: 1, ProfileCategory: "exceptions"})
	if err := handle.Schedule(); err != nil {
		return err
	}
	if err := sys.WaitFor(handle); err != nil {
		return err
	}
	if _, err := fut.Get(); err != nil {
		fmt.Printf("exceptions: read the error back: %v\n", err)
	}

	unread := sys.CreateVoidTask(func() error { return boom }, jobsystem.Metadata{Label: 2, ProfileCategory: "exceptions"})
	if err := unread.Schedule(); err != nil {
		return err
	}
	sys.Wait() // the unread error is logged here, during garbage collection
	return nil
}

// runPreemption schedules a job, then immediately tries to preempt it and
// run it on the calling goroutine, per spec.md §4.8. If a worker has already
// claimed it, TryPreemptAndExecute reports false and the worker runs it.
func runPreemption(sys *jobsystem.System) error {
	h := sys.CreateVoidTask(func() error {
		fmt.Println("preemption: ran inline")
		return nil
	}, jobsystem.Metadata{Label: 1})

	if err := h.Schedule(); err != nil {
		return err
	}
	ran, err := sys.TryPreemptAndExecute(h)
	if err != nil {
		return err
	}
	fmt.Printf("preemption: claimed and ran it myself: %v\n", ran)
	sys.Wait()
	return nil
}

// runDaemon registers a recurring job with a finite TTL and drives its own
// tick loop, since daemons are advanced explicitly rather than by a
// background goroutine (spec.md §4.9).
func runDaemon(sys *jobsystem.System) error {
	count := 0
	h := sys.CreateDaemon(func() error {
		count++
		fmt.Printf("daemon: tick %d\n", count)
		return nil
	}, jobsystem.DaemonSchedule{IntervalMS: 50, TTL: 4}, jobsystem.Metadata{Label: 1, ProfileCategory: "daemon"})
	defer sys.KillDaemon(h)

	for i := 0; i < 10; i++ {
		sys.UpdateDaemons(50)
		sys.Wait()
		time.Sleep(10 * time.Millisecond)
	}
	fmt.Printf("daemon: ran %d times\n", count)
	return nil
}
