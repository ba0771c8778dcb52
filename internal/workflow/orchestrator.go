package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"mediaflow/internal/jobs"
	"mediaflow/internal/logging"
	"mediaflow/internal/services"
)

// JobRequest asks for a media item to be processed. Stages overrides the
// configured stage list when set.
type JobRequest struct {
	MediaID   string
	SourceURL string
	Stages    []jobs.Stage
}

// Orchestrator runs a job's tasks sequentially in this process.
type Orchestrator struct {
	deps   Deps
	writer *writer
	exec   *executor
	logger *slog.Logger
}

// NewOrchestrator validates deps and builds an in-process orchestrator.
func NewOrchestrator(deps Deps) (*Orchestrator, error) {
	if err := deps.validate(false); err != nil {
		return nil, err
	}
	logger := deps.logger("workflow-orchestrator")
	w := newWriter(deps.Store, deps.Metrics, logger)
	return &Orchestrator{
		deps:   deps,
		writer: w,
		exec:   newExecutor(deps, w),
		logger: logger,
	}, nil
}

// EnsureJob returns the job for req.MediaID, creating it with one pending
// task per stage in resolved order when none exists.
func (o *Orchestrator) EnsureJob(ctx context.Context, req JobRequest) (*jobs.Job, bool, error) {
	return ensureJob(ctx, o.deps, req)
}

// Run drives the job for req to completion or failure and returns its final
// state. A failed job is reset and resumed; a completed job is returned
// unchanged. The error is the failure that stopped the job, if any.
func (o *Orchestrator) Run(ctx context.Context, req JobRequest) (job *jobs.Job, err error) {
	job, _, err = o.EnsureJob(ctx, req)
	if err != nil {
		return nil, err
	}
	if job.Status == jobs.StatusCompleted {
		return job, nil
	}

	ctx = services.WithJob(ctx, job.ID, job.MediaID)
	logger := logging.WithContext(ctx, o.logger)
	jobID := job.ID

	defer func() {
		if r := recover(); r != nil {
			err = services.Wrap(services.ErrOrchestratorFatal, "", "run job", fmt.Sprintf("panic: %v", r), nil)
		}
		if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		var failure stageFailure
		if errors.As(err, &failure) {
			err = failure.err
		} else {
			logging.ErrorWithContext(logger, "job run aborted", "job_fatal", logging.ErrorDetails(err)...)
			_ = o.writer.failJob(ctx, jobID, services.Message(err))
		}
		if reloaded, loadErr := o.deps.Store.GetJob(context.WithoutCancel(ctx), jobID); loadErr == nil && reloaded != nil {
			job = reloaded
		}
	}()

	return o.run(ctx, logger, job)
}

// stageFailure wraps a failure already recorded on the task and job.
type stageFailure struct{ err error }

func (f stageFailure) Error() string { return f.err.Error() }
func (f stageFailure) Unwrap() error { return f.err }

func (o *Orchestrator) run(ctx context.Context, logger *slog.Logger, job *jobs.Job) (*jobs.Job, error) {
	if job.Status == jobs.StatusFailed {
		reset, err := o.deps.Store.ResetFailedTasks(ctx, job.ID)
		if err != nil {
			return job, services.Wrap(services.ErrPersistence, "", "reset failed tasks", "", err)
		}
		logger.Info("retrying failed job",
			logging.String(logging.FieldEventType, "job_retry"),
			logging.Int("reset_tasks", reset),
		)
	}
	if err := o.writer.setJobStatus(ctx, job.ID, jobs.StatusRunning, ""); err != nil {
		return job, err
	}
	o.deps.Metrics.JobStarted()
	defer o.deps.Metrics.JobStopped()

	job, err := o.deps.Store.GetJob(ctx, job.ID)
	if err != nil {
		return job, services.Wrap(services.ErrPersistence, "", "reload job", "", err)
	}
	if job == nil {
		return nil, services.Wrap(services.ErrNotFound, "", "reload job", "job disappeared", nil)
	}
	logger.Info("job started",
		logging.String(logging.FieldEventType, "job_start"),
		logging.String("stages", stageList(job.Stages())),
	)

	cache := make(map[jobs.Stage]*jobs.Output, len(job.Tasks))
	for _, task := range job.Tasks {
		if task.Status == jobs.StatusCompleted {
			logger.Debug("skipping completed task", logging.String(logging.FieldTaskID, task.TaskID))
			continue
		}
		if err := ctx.Err(); err != nil {
			return job, err
		}

		inputs, err := resolveInputs(o.deps.Registry, job, task.Stage, cache)
		if err != nil {
			logging.WarnWithContext(logger, "dependency unavailable", "dependency_unavailable",
				logging.String(logging.FieldTaskID, task.TaskID),
				logging.Error(err),
			)
			_ = o.writer.failTaskAndJob(ctx, job.ID, task, err)
			return job, stageFailure{err}
		}

		// A task left running by a crashed run is restarted.
		output, err := o.exec.execute(ctx, taskRun{
			JobID:       job.ID,
			MediaID:     job.MediaID,
			SourceURL:   job.SourceURL,
			TaskID:      task.TaskID,
			Stage:       task.Stage,
			Inputs:      inputs,
			StaleBefore: time.Now(),
		})
		switch {
		case err == nil:
			cache[task.Stage] = output
		case ctx.Err() != nil:
			return job, ctx.Err()
		case errors.Is(err, errTaskNotRunnable):
			return job, services.Wrap(services.ErrStageExecution, string(task.Stage), "start task",
				"task was changed by another run", err)
		case errors.Is(err, services.ErrPersistence):
			return job, err
		default:
			_ = o.writer.failJob(ctx, job.ID, jobFailureMessage(task.TaskID, services.Message(err)))
			return job, stageFailure{err}
		}
	}

	if err := o.writer.completeJob(ctx, job.ID); err != nil {
		return job, err
	}
	logger.Info("job completed", logging.String(logging.FieldEventType, "job_complete"))
	return job, nil
}

func stageList(stages []jobs.Stage) string {
	names := make([]string, 0, len(stages))
	for _, s := range stages {
		names = append(names, string(s))
	}
	return strings.Join(names, ",")
}

// ensureJob finds or creates the job for req. Stage order is resolved from
// the registry's constraints when the job is created.
func ensureJob(ctx context.Context, deps Deps, req JobRequest) (*jobs.Job, bool, error) {
	mediaID := strings.TrimSpace(req.MediaID)
	if mediaID == "" {
		return nil, false, services.Wrap(services.ErrValidation, "", "ensure job", "media id is required", nil)
	}
	job, err := deps.Store.FindJobByMediaID(ctx, mediaID)
	if err != nil {
		return nil, false, services.Wrap(services.ErrPersistence, "", "find job", "", err)
	}
	if job != nil {
		return job, false, nil
	}
	if strings.TrimSpace(req.SourceURL) == "" {
		return nil, false, services.Wrap(services.ErrValidation, "", "ensure job", "source url is required", nil)
	}

	stages := req.Stages
	if len(stages) == 0 {
		stages, err = jobs.ParseStages(deps.Config.Pipeline.Stages)
		if err != nil {
			return nil, false, services.Wrap(services.ErrConfiguration, "", "ensure job", "invalid pipeline.stages", err)
		}
	}
	ordered, err := deps.Registry.Plan(stages)
	if err != nil {
		return nil, false, err
	}
	job, created, err := deps.Store.CreateJob(ctx, jobs.NewJob{
		MediaID:   mediaID,
		SourceURL: strings.TrimSpace(req.SourceURL),
		Stages:    ordered,
	})
	if err != nil {
		return nil, false, services.Wrap(services.ErrPersistence, "", "create job", "", err)
	}
	return job, created, nil
}
