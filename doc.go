// Package jobsystem implements a task-graph executor that parallelizes
// heterogeneous units of work across a pool of worker goroutines with work
// stealing, barrier-based fan-in synchronization, per-worker affinities,
// future-based result propagation, preemption, and optional recurring-task
// scheduling.
//
// A caller creates tasks with CreateTask or CreateVoidTask, wires
// parent/child dependencies with TaskHandle.AddChild/AddParent, optionally
// assigns a Barrier, and submits the root with TaskHandle.Schedule. The
// façade (System) then picks a compatible worker for each job as its
// dependencies clear, and the caller synchronizes with Wait, WaitFor, or
// WaitUntil.
package jobsystem
