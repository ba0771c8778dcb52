package stage

import (
	"context"
	"fmt"

	"mediaflow/internal/jobs"
	"mediaflow/internal/progress"
)

// Worker is the contract every stage implementation satisfies. Process is
// awaited by the executor; a returned error is recorded on the task and
// fails the job.
type Worker interface {
	Process(ctx context.Context, req Request, reporter Reporter) (*jobs.Output, error)
	// Phases declares how the stage's progress range is weighted.
	Phases() progress.Phases
	HealthCheck(ctx context.Context) Health
}

// Health is a stage worker's readiness as reported by HealthCheck.
type Health struct {
	Stage  jobs.Stage
	Ready  bool
	Detail string
}

// Healthy reports s as ready to take tasks.
func Healthy(s jobs.Stage) Health {
	return Health{Stage: s, Ready: true}
}

// Unhealthy reports s as not ready, with a formatted reason.
func Unhealthy(s jobs.Stage, format string, args ...any) Health {
	return Health{Stage: s, Detail: fmt.Sprintf(format, args...)}
}

// Reporter receives a worker's progress for one of its declared phases.
type Reporter interface {
	Progress(phase string, percent float64)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(phase string, percent float64)

// Progress calls f.
func (f ReporterFunc) Progress(phase string, percent float64) {
	if f != nil {
		f(phase, percent)
	}
}

// NopReporter discards progress.
var NopReporter Reporter = ReporterFunc(nil)

// Request is everything a worker needs to run one task.
type Request struct {
	JobID     string
	MediaID   string
	TaskID    string
	Stage     jobs.Stage
	SourceURL string
	OutputDir string
	Inputs    Inputs
	Options   map[string]string
}

// Option returns a request option or the fallback when unset.
func (r Request) Option(key, fallback string) string {
	if value, ok := r.Options[key]; ok && value != "" {
		return value
	}
	return fallback
}
