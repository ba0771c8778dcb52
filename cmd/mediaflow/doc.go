// Package main hosts the mediaflow CLI entrypoint and command graph.
//
// The Cobra-based command tree runs the daemon and standalone stage workers,
// executes one-shot in-process pipeline runs, talks to a running daemon over
// its HTTP trigger API, scaffolds configuration, and reports preflight
// checks. It centralizes configuration resolution and API client setup so
// subcommands can focus on user experience instead of wiring.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
