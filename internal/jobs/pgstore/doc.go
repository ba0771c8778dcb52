// Package pgstore implements jobs.Store on PostgreSQL through pgxpool for
// distributed deployments where stage workers on several hosts share state.
//
// Statements mirror the sqlitestore package: each task command is one guarded
// UPDATE keyed by (job_id, task_id), and the owning job's updated_at follows
// through a CTE instead of a trigger.
package pgstore
