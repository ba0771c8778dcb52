package testsupport

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"mediaflow/internal/jobs"
	"mediaflow/internal/progress"
	"mediaflow/internal/stage"
)

// ProcessFunc scripts a FakeWorker's behaviour for one call.
type ProcessFunc func(ctx context.Context, req stage.Request, reporter stage.Reporter) (*jobs.Output, error)

// FakeWorker is a scripted stage worker that records every request.
type FakeWorker struct {
	Stage  jobs.Stage
	Layout progress.Phases

	mu    sync.Mutex
	fn    ProcessFunc
	calls []stage.Request
}

// NewFakeWorker returns a worker that reports 50% then succeeds with
// DefaultOutput.
func NewFakeWorker(s jobs.Stage) *FakeWorker {
	return &FakeWorker{Stage: s}
}

// SetProcess replaces the scripted behaviour.
func (f *FakeWorker) SetProcess(fn ProcessFunc) {
	f.mu.Lock()
	f.fn = fn
	f.mu.Unlock()
}

// Fail makes every call return err.
func (f *FakeWorker) Fail(err error) {
	f.SetProcess(func(context.Context, stage.Request, stage.Reporter) (*jobs.Output, error) {
		return nil, err
	})
}

// Process records the request and runs the scripted behaviour.
func (f *FakeWorker) Process(ctx context.Context, req stage.Request, reporter stage.Reporter) (*jobs.Output, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	fn := f.fn
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, req, reporter)
	}
	reporter.Progress("", 50)
	return DefaultOutput(f.Stage, req.OutputDir), nil
}

// Phases returns Layout, or a single implicit phase when unset.
func (f *FakeWorker) Phases() progress.Phases {
	if len(f.Layout) == 0 {
		return progress.Single("")
	}
	return f.Layout
}

// HealthCheck always reports ready.
func (f *FakeWorker) HealthCheck(context.Context) stage.Health {
	return stage.Healthy(f.Stage)
}

// Calls returns a copy of the recorded requests.
func (f *FakeWorker) Calls() []stage.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]stage.Request(nil), f.calls...)
}

// CallCount returns how many times Process ran.
func (f *FakeWorker) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// DefaultOutput builds a valid output for s rooted at dir.
func DefaultOutput(s jobs.Stage, dir string) *jobs.Output {
	switch s {
	case jobs.StageThumbnail:
		return jobs.NewThumbnailOutput(jobs.ThumbnailOutput{Path: filepath.Join(dir, "thumbnail.jpg"), Width: 640, OffsetSeconds: 10})
	case jobs.StageSubtitle:
		return jobs.NewSubtitleOutput(jobs.SubtitleOutput{
			SourceLanguage: "en",
			Tracks:         []jobs.SubtitleTrack{{Language: "en", Path: filepath.Join(dir, "en.srt")}},
			Transcript:     "hello world",
		})
	case jobs.StageEnrichment:
		return jobs.NewEnrichmentOutput(jobs.EnrichmentOutput{Title: "Title", Summary: "Summary", Tags: []string{"tag"}})
	case jobs.StageTranscode:
		return jobs.NewTranscodeOutput(jobs.TranscodeOutput{Path: filepath.Join(dir, "output.mkv")})
	default:
		panic(fmt.Sprintf("no default output for stage %q", s))
	}
}

// FakeRegistry registers a FakeWorker for every stage with the production
// dependency declarations: enrichment requires subtitle and transcode uses
// enrichment when present.
func FakeRegistry() (*stage.Registry, map[jobs.Stage]*FakeWorker) {
	registry := stage.NewRegistry()
	workers := make(map[jobs.Stage]*FakeWorker)
	for _, s := range jobs.AllStages() {
		workers[s] = NewFakeWorker(s)
	}
	registry.Register(jobs.StageThumbnail, workers[jobs.StageThumbnail])
	registry.Register(jobs.StageSubtitle, workers[jobs.StageSubtitle])
	registry.Register(jobs.StageEnrichment, workers[jobs.StageEnrichment], stage.Requires(jobs.StageSubtitle))
	registry.Register(jobs.StageTranscode, workers[jobs.StageTranscode], stage.Uses(jobs.StageEnrichment))
	return registry, workers
}
