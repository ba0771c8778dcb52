// Package stage defines the contract between the orchestrator and the stage
// workers, and the registry mapping each stage to its worker and declared
// upstream dependencies.
package stage
