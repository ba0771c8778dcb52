// Package sqlitestore implements jobs.Store on SQLite for single-host
// deployments.
//
// The database runs in WAL mode with a busy timeout, and every write retries
// with backoff when SQLite reports the database busy. Each task command is a
// single guarded UPDATE on the tasks table, so progress writes never rewrite
// sibling tasks. Schema changes bump schemaVersion; older databases are
// rejected with ErrSchemaMismatch rather than migrated.
package sqlitestore
