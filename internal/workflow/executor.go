package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"mediaflow/internal/config"
	"mediaflow/internal/jobs"
	"mediaflow/internal/logging"
	"mediaflow/internal/metrics"
	"mediaflow/internal/progress"
	"mediaflow/internal/services"
	"mediaflow/internal/stage"
)

// errTaskNotRunnable reports that a task could not be moved to running,
// usually because another run already finished or failed it.
var errTaskNotRunnable = errors.New("task is not runnable")

// taskRun identifies one execution of a task.
type taskRun struct {
	JobID         string
	MediaID       string
	SourceURL     string
	TaskID        string
	Stage         jobs.Stage
	Inputs        stage.Inputs
	CorrelationID string
	// StaleBefore allows restarting a task still marked running when it
	// started at or before this time. Zero only starts pending tasks.
	StaleBefore time.Time
}

// executor runs a single task through its stage worker. In-process runs and
// distributed worker pools share it so both record the same transitions.
type executor struct {
	cfg      *config.Config
	store    jobs.Store
	registry *stage.Registry
	metrics  *metrics.Recorder
	writer   *writer
	logger   *slog.Logger
}

func newExecutor(deps Deps, w *writer) *executor {
	return &executor{
		cfg:      deps.Config,
		store:    deps.Store,
		registry: deps.Registry,
		metrics:  deps.Metrics,
		writer:   w,
		logger:   deps.logger("workflow-executor"),
	}
}

type outcome struct {
	output *jobs.Output
	err    error
}

// execute marks the task running, invokes the worker under the stage
// timeout, and records the result. The returned error is the classified
// task failure, ctx.Err() when interrupted by shutdown (the task is left
// running), or errTaskNotRunnable.
func (e *executor) execute(ctx context.Context, run taskRun) (*jobs.Output, error) {
	ctx = services.WithTask(services.WithJob(ctx, run.JobID, run.MediaID), run.TaskID, string(run.Stage))
	ctx = services.WithRequestID(ctx, run.CorrelationID)
	logger := logging.WithContext(ctx, e.logger)

	worker, ok := e.registry.Worker(run.Stage)
	if !ok {
		err := services.Wrap(services.ErrConfiguration, string(run.Stage), "lookup worker", "no worker registered", nil)
		return nil, e.recordFailure(ctx, logger, run, err, 0)
	}

	applied, err := e.writer.applyTask(ctx, run.JobID, run.TaskID, run.Stage, jobs.StartRunning(run.StaleBefore))
	if err != nil {
		return nil, err
	}
	if !applied {
		logger.Info("task no longer runnable; skipping", logging.String(logging.FieldEventType, "task_skipped"))
		return nil, errTaskNotRunnable
	}

	started := time.Now()
	logger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("stage_label", StageLabel(run.Stage)),
		logging.String("source_url", strings.TrimSpace(run.SourceURL)),
		logging.Int("inputs", len(run.Inputs)),
	)

	relay, err := progress.NewRelay(ctx, worker.Phases(), e.progressSink(run), logger)
	if err != nil {
		wrapped := services.Wrap(services.ErrConfiguration, string(run.Stage), "progress phases", "invalid phase weights", err)
		return nil, e.recordFailure(ctx, logger, run, wrapped, time.Since(started))
	}

	output, err := e.invoke(ctx, worker, run, relay)
	if err != nil {
		if ctx.Err() != nil {
			logger.Info("stage interrupted by shutdown", logging.String(logging.FieldEventType, "stage_interrupted"))
			return nil, ctx.Err()
		}
		return nil, e.recordFailure(ctx, logger, run, err, time.Since(started))
	}

	applied, err = e.writer.applyTask(ctx, run.JobID, run.TaskID, run.Stage, jobs.SetOutput(output))
	if err == nil && !applied {
		err = services.Wrap(services.ErrPersistence, string(run.Stage), "record output",
			"task left the running state before its output was recorded", nil)
	}
	if err == nil {
		_, err = e.writer.applyTask(ctx, run.JobID, run.TaskID, run.Stage, jobs.SetStatus(jobs.StatusCompleted))
	}
	if err != nil {
		logging.ErrorWithContext(logger, "failed to record stage result", "stage_persist_failed",
			append(logging.ErrorDetails(err), logging.String(logging.FieldErrorHint, "check store connectivity"))...,
		)
		e.metrics.TaskFinished(string(run.Stage), string(jobs.StatusFailed), services.Kind(err), time.Since(started))
		return nil, err
	}

	e.metrics.TaskFinished(string(run.Stage), string(jobs.StatusCompleted), "", time.Since(started))
	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Duration("stage_duration", time.Since(started)),
	)
	return output, nil
}

// invoke runs the worker in its own goroutine so a worker that ignores its
// context still yields to the stage deadline. Panics become task failures.
func (e *executor) invoke(ctx context.Context, worker stage.Worker, run taskRun, relay *progress.Relay) (*jobs.Output, error) {
	timeout := e.cfg.StageTimeout(string(run.Stage))
	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	req := stage.Request{
		JobID:     run.JobID,
		MediaID:   run.MediaID,
		TaskID:    run.TaskID,
		Stage:     run.Stage,
		SourceURL: run.SourceURL,
		OutputDir: e.cfg.JobDir(run.MediaID, string(run.Stage)),
		Inputs:    run.Inputs,
		Options:   map[string]string{"correlation_id": run.CorrelationID},
	}

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: services.Wrap(services.ErrOrchestratorFatal, string(run.Stage), "process",
					fmt.Sprintf("worker panic: %v", r), nil)}
			}
		}()
		output, err := worker.Process(runCtx, req, stage.ReporterFunc(relay.Report))
		done <- outcome{output: output, err: err}
	}()

	var res outcome
	select {
	case res = <-done:
	case <-runCtx.Done():
		res = outcome{err: runCtx.Err()}
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return nil, services.WithHint(
			services.Wrap(services.ErrTimeout, string(run.Stage), "process", fmt.Sprintf("exceeded %s", timeout), nil),
			"raise pipeline.timeouts."+string(run.Stage)+" if the source is large",
		)
	}
	if res.err != nil {
		var svcErr *services.Error
		if errors.As(res.err, &svcErr) {
			return nil, res.err
		}
		return nil, services.Wrap(services.ErrStageExecution, string(run.Stage), "process", "", res.err)
	}
	if res.output == nil {
		return nil, services.Wrap(services.ErrStageExecution, string(run.Stage), "process", "worker returned no output", nil)
	}
	if res.output.Stage != run.Stage {
		return nil, services.Wrap(services.ErrStageExecution, string(run.Stage), "process",
			fmt.Sprintf("worker returned %s output", res.output.Stage), nil)
	}
	if err := res.output.Validate(); err != nil {
		return nil, services.Wrap(services.ErrStageExecution, string(run.Stage), "process", "invalid output", err)
	}
	return res.output, nil
}

func (e *executor) progressSink(run taskRun) progress.Sink {
	return func(ctx context.Context, percent int) error {
		_, err := e.store.ApplyTask(ctx, run.JobID, run.TaskID, jobs.SetProgress(percent))
		return err
	}
}

// recordFailure fails the task and returns the stage error.
func (e *executor) recordFailure(ctx context.Context, logger *slog.Logger, run taskRun, stageErr error, elapsed time.Duration) error {
	message := services.Message(stageErr)
	details := services.Details(stageErr)
	attrs := []logging.Attr{
		logging.String("resolved_status", string(jobs.StatusFailed)),
		logging.String("error_message", message),
		logging.Alert("stage_failure"),
		logging.String(logging.FieldErrorKind, details.Kind),
		logging.String(logging.FieldErrorOperation, details.Operation),
		logging.String(logging.FieldErrorHint, details.Hint),
		logging.String(logging.FieldEventType, "stage_failure"),
	}
	if details.Cause != nil {
		attrs = append(attrs, logging.Error(details.Cause))
	} else {
		attrs = append(attrs, logging.Error(stageErr))
	}
	logger.Error("stage failed", logging.Args(attrs...)...)

	if _, err := e.writer.applyTask(ctx, run.JobID, run.TaskID, run.Stage, jobs.Fail(message)); err != nil {
		logging.ErrorWithContext(logger, "failed to persist stage failure", "stage_persist_failed", logging.Error(err))
	}
	e.metrics.TaskFinished(string(run.Stage), string(jobs.StatusFailed), details.Kind, elapsed)
	return stageErr
}
