// Package workflow drives jobs through their stage tasks.
//
// In-process mode uses the Orchestrator: one goroutine per job walks the
// tasks in resolved order, skipping completed ones, threading upstream
// outputs into downstream workers, and failing the job at the first task
// failure. The Runner bounds how many jobs run at once and resumes unfinished
// jobs on start.
//
// Distributed mode splits the same loop across processes. The Dispatcher
// claims and publishes one task at a time, WorkerPools execute dispatched
// tasks per stage, and the Advancer turns completion events into the next
// dispatch. Both modes share the executor, so task transitions, timeouts,
// and progress reporting are identical.
//
// The Reaper fails tasks that outlive their stage timeout.
package workflow
