package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"mediaflow/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.WorkDir = filepath.Join(base, "work")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Store.SQLitePath = filepath.Join(base, "data", "mediaflow.db")
	cfgVal.LLM.APIKey = "test"
	cfgVal.Logging.Level = "debug"
	cfgVal.Metrics.Enabled = false

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithStages overrides the configured stage list.
func WithStages(stages ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.Stages = append([]string(nil), stages...)
	}
}

// WithMode sets the pipeline execution mode.
func WithMode(mode string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.Mode = mode
	}
}

// WithStageTimeout sets every stage timeout to the given number of seconds.
func WithStageTimeout(seconds int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.Timeouts = config.StageTimeouts{
			Thumbnail:  seconds,
			Subtitle:   seconds,
			Enrichment: seconds,
			Transcode:  seconds,
		}
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, the default mediaflow external
// binaries are stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"ffmpeg", "ffprobe", b.cfg.Subtitle.WhisperBinary}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.WorkDir)
}
