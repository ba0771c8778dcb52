// Package jobs defines the job and task model shared by every mediaflow
// component and the Store contract that persists it.
//
// A Job owns an ordered list of Tasks, one per configured stage. Tasks are
// mutated only through TaskCommand values (SetStatus, SetProgress, SetOutput,
// Fail) applied to a single row, so concurrent progress writes for one task
// never clobber sibling tasks. Completed tasks are immutable; a retry resets
// failed tasks only.
//
// Backends live in the sqlitestore and pgstore subpackages.
package jobs
