package mediatool

import (
	"net/url"
	"path/filepath"
	"strings"
)

// LocalPath resolves a file:// URL or bare path to a local filesystem path.
// Remote URLs report false.
func LocalPath(sourceURL string) (string, bool) {
	source := strings.TrimSpace(sourceURL)
	if source == "" {
		return "", false
	}
	if filepath.IsAbs(source) {
		return filepath.Clean(source), true
	}
	parsed, err := url.Parse(source)
	if err != nil || parsed.Scheme != "file" {
		return "", false
	}
	if parsed.Path == "" {
		return "", false
	}
	return filepath.Clean(parsed.Path), true
}

// InputArg returns the value to hand ffmpeg's -i: a local path when the
// source is a file, the URL otherwise.
func InputArg(sourceURL string) string {
	if path, ok := LocalPath(sourceURL); ok {
		return path
	}
	return strings.TrimSpace(sourceURL)
}
