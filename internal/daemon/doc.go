// Package daemon coordinates the long-running mediaflow process.
//
// It wires configuration, the job store, the stage registry, and the
// workflow engine into a single lifecycle with flock-based locking to prevent
// multiple instances. In in-process mode the daemon owns a bounded runner
// pool; in distributed mode it owns the dispatcher and the completion
// advancer, plus in-process worker pools when the bus is the memory bus. The
// timeout reaper and the HTTP trigger API run in both modes.
//
// Keep orchestration logic here: individual stages live in internal/workers
// and the execution loop in internal/workflow, while the daemon focuses on
// startup, shutdown, and high level coordination.
package daemon
