// Package api is the HTTP trigger API and its wire-format types.
//
// NewRouter serves job ensure, retry, show, and list routes plus health and
// Prometheus metrics on a chi router. JobService translates persisted jobs
// into camelCase DTOs and forwards triggers to whichever workflow driver the
// daemon runs: the in-process Runner or the distributed Dispatcher. Client is
// the matching HTTP client used by the CLI.
//
// Errors are classified with the services markers and mapped to status codes
// by StatusForError; every error body is an ErrorResponse.
package api
