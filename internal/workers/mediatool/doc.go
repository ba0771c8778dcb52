// Package mediatool runs the external media binaries (ffmpeg, whisper) used
// by the stage workers, streaming their stderr so progress can be parsed
// while the tool runs.
package mediatool
