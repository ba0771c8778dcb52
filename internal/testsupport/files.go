package testsupport

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// WriteFile fills the target path with the requested number of bytes using a
// simple repeating pattern. A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	const chunkSize = 32 * 1024
	buf := make([]byte, chunkSize)
	for i := range buf {
		buf[i] = 0x42
	}

	remaining := size
	for remaining > 0 {
		toWrite := int64(chunkSize)
		if remaining < toWrite {
			toWrite = remaining
		}
		if _, err := f.Write(buf[:toWrite]); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
		remaining -= toWrite
	}
}

// WriteTool writes an executable shell script standing in for an external
// binary and returns its path. The body runs under /bin/sh with the original
// arguments; "$last" holds the final argument.
func WriteTool(t testing.TB, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	script := "#!/bin/sh\nfor last; do :; done\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write tool %s: %v", name, err)
	}
	return path
}

// Recorder collects reporter progress for assertions.
type Recorder struct {
	mu      sync.Mutex
	Updates []Update
}

// Update is one recorded progress report.
type Update struct {
	Phase   string
	Percent float64
}

// Progress implements stage.Reporter.
func (r *Recorder) Progress(phase string, percent float64) {
	r.mu.Lock()
	r.Updates = append(r.Updates, Update{Phase: phase, Percent: percent})
	r.mu.Unlock()
}

// Phases lists phases in the order first reported.
func (r *Recorder) Phases() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var phases []string
	seen := map[string]bool{}
	for _, u := range r.Updates {
		if !seen[u.Phase] {
			seen[u.Phase] = true
			phases = append(phases, u.Phase)
		}
	}
	return phases
}
