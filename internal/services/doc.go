// Package services defines shared utilities consumed by the orchestrator, the
// stage workers, and the external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp job, media, task, and stage identifiers plus
//     correlation ids for logging.
//   - Structured error markers and the Wrap helper that classify failures
//     (stage execution, dependency unavailable, persistence, timeout, fatal)
//     so task error messages and log fields stay uniform.
//
// Use these helpers when wiring new stage logic so operational behaviour stays
// consistent across the pipeline.
package services
