// Package progress turns per-phase progress reported by a stage worker into a
// single monotonic 0-100 task value.
//
// Phases carry fixed weights that sum to 1. The subtitle stage splits its
// translate weight evenly across target languages. A Relay forwards each new
// high-water mark to a Sink, normally the job store's SetProgress command.
package progress
