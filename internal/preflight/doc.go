// Package preflight provides readiness checks for the filesystem paths,
// external binaries and backends mediaflow depends on.
//
// These checks run in two contexts:
//   - The daemon runs RunAll at startup and logs every failure so a broken
//     host is visible before the first job is dispatched.
//   - The CLI "mediaflow check" command prints the same results as a table
//     and exits non-zero when a required check fails.
//
// Checks are gated by configuration: the whisper binary is only required
// when the subtitle stage is enabled, the LLM only when a stage uses it.
package preflight
