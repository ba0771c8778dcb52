package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"mediaflow/internal/bus"
	"mediaflow/internal/guard"
	"mediaflow/internal/jobs"
	"mediaflow/internal/logging"
	"mediaflow/internal/services"
)

// Dispatcher advances distributed jobs one task at a time by publishing
// dispatch messages. Every decision happens under the job's guard lock and
// each task is claimed in the store before it is published.
type Dispatcher struct {
	deps   Deps
	writer *writer
	logger *slog.Logger
}

// NewDispatcher validates deps for distributed mode.
func NewDispatcher(deps Deps) (*Dispatcher, error) {
	if err := deps.validate(true); err != nil {
		return nil, err
	}
	logger := deps.logger("workflow-dispatcher")
	return &Dispatcher{
		deps:   deps,
		writer: newWriter(deps.Store, deps.Metrics, logger),
		logger: logger,
	}, nil
}

// Ensure finds or creates the job and dispatches its next task. Calling it
// again for the same media id returns the same job and publishes nothing
// new while a task is claimed.
func (d *Dispatcher) Ensure(ctx context.Context, req JobRequest) (*jobs.Job, error) {
	job, created, err := ensureJob(ctx, d.deps, req)
	if err != nil {
		return nil, err
	}
	if created {
		d.logger.Info("job created",
			logging.String(logging.FieldJobID, job.ID),
			logging.String(logging.FieldMediaID, job.MediaID),
			logging.String("stages", stageList(job.Stages())),
			logging.String(logging.FieldEventType, "job_created"),
		)
	}
	if job.Status.IsTerminal() {
		return job, nil
	}
	if err := d.Advance(ctx, job.ID); err != nil {
		return nil, err
	}
	return d.reload(ctx, job.ID)
}

// Retry resets a failed job's failed tasks and dispatches the first of them.
func (d *Dispatcher) Retry(ctx context.Context, mediaID string) (*jobs.Job, error) {
	job, err := d.deps.Store.FindJobByMediaID(ctx, mediaID)
	if err != nil {
		return nil, services.Wrap(services.ErrPersistence, "", "find job", "", err)
	}
	if job == nil {
		return nil, services.Wrap(services.ErrNotFound, "", "retry job", "no job for media "+mediaID, nil)
	}
	if job.Status != jobs.StatusFailed {
		return job, nil
	}

	release, err := d.deps.Locker.Acquire(ctx, guard.Key(job.ID))
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "", "retry job", "job lock unavailable", err)
	}
	reset, err := d.deps.Store.ResetFailedTasks(ctx, job.ID)
	release()
	if err != nil {
		return nil, services.Wrap(services.ErrPersistence, "", "reset failed tasks", "", err)
	}
	d.logger.Info("retrying failed job",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldMediaID, job.MediaID),
		logging.Int("reset_tasks", reset),
		logging.String(logging.FieldEventType, "job_retry"),
	)
	if err := d.Advance(ctx, job.ID); err != nil {
		return nil, err
	}
	return d.reload(ctx, job.ID)
}

// Advance re-reads the job and publishes exactly one dispatch for its next
// pending task. It does nothing when the job is terminal or a task is
// already running or claimed, and completes the job when no task is left.
func (d *Dispatcher) Advance(ctx context.Context, jobID string) error {
	release, err := d.deps.Locker.Acquire(ctx, guard.Key(jobID))
	if err != nil {
		return services.Wrap(services.ErrTransient, "", "advance job", "job lock unavailable", err)
	}
	defer release()

	job, err := d.deps.Store.GetJob(ctx, jobID)
	if err != nil {
		return services.Wrap(services.ErrTransient, "", "advance job", "load job", err)
	}
	if job == nil {
		return services.Wrap(services.ErrNotFound, "", "advance job", "job "+jobID+" not found", nil)
	}
	ctx = services.WithJob(ctx, job.ID, job.MediaID)
	logger := logging.WithContext(ctx, d.logger)

	if job.Status.IsTerminal() {
		logger.Debug("job is terminal; nothing to dispatch", logging.String("status", string(job.Status)))
		return nil
	}
	if running, ok := job.RunningTask(); ok {
		logger.Debug("task still running", logging.String(logging.FieldTaskID, running.TaskID))
		return nil
	}
	for _, task := range job.Tasks {
		if task.Status == jobs.StatusFailed {
			return d.writer.failJob(ctx, job.ID, jobFailureMessage(task.TaskID, task.ErrorMessage))
		}
	}

	next, ok := job.NextPending()
	if !ok {
		if !job.AllCompleted() {
			return nil
		}
		if err := d.writer.completeJob(ctx, job.ID); err != nil {
			return err
		}
		logger.Info("job completed", logging.String(logging.FieldEventType, "job_complete"))
		return nil
	}
	if next.DispatchedAt != nil {
		d.deps.Metrics.Dispatch(string(next.Stage), "skipped")
		logger.Debug("task already dispatched", logging.String(logging.FieldTaskID, next.TaskID))
		return nil
	}

	inputs, err := resolveInputs(d.deps.Registry, job, next.Stage, nil)
	if err != nil {
		logging.WarnWithContext(logger, "dependency unavailable", "dependency_unavailable",
			logging.String(logging.FieldTaskID, next.TaskID),
			logging.Error(err),
		)
		return d.writer.failTaskAndJob(ctx, job.ID, *next, err)
	}

	claimed, err := d.deps.Store.ClaimDispatch(ctx, job.ID, next.TaskID)
	if err != nil {
		return services.Wrap(services.ErrTransient, string(next.Stage), "claim dispatch", "", err)
	}
	if !claimed {
		d.deps.Metrics.Dispatch(string(next.Stage), "skipped")
		return nil
	}
	if job.Status != jobs.StatusRunning {
		if err := d.writer.setJobStatus(ctx, job.ID, jobs.StatusRunning, ""); err != nil {
			return err
		}
	}

	correlationID, _ := services.RequestIDFromContext(ctx)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	msg := bus.DispatchMessage{
		JobID:            job.ID,
		TaskID:           next.TaskID,
		MediaID:          job.MediaID,
		Stage:            next.Stage,
		SourceURL:        job.SourceURL,
		DependencyInputs: inputs,
		CorrelationID:    correlationID,
	}
	if err := d.deps.Bus.PublishDispatch(ctx, msg); err != nil {
		d.deps.Metrics.Dispatch(string(next.Stage), "failed")
		publishErr := services.Wrap(services.ErrStageExecution, string(next.Stage), "publish dispatch", "", err)
		logging.ErrorWithContext(logger, "dispatch publish failed", "dispatch_failed",
			logging.String(logging.FieldTaskID, next.TaskID),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the message bus; retry the job once it is reachable"),
		)
		return errors.Join(publishErr, d.writer.failTaskAndJob(ctx, job.ID, *next, publishErr))
	}
	d.deps.Metrics.Dispatch(string(next.Stage), "published")
	logger.Info("task dispatched",
		logging.String(logging.FieldTaskID, next.TaskID),
		logging.String(logging.FieldStage, string(next.Stage)),
		logging.String(logging.FieldCorrelationID, correlationID),
		logging.String(logging.FieldEventType, "task_dispatched"),
	)
	return nil
}

// ReleaseStaleClaims clears dispatch claims on pending tasks whose message
// was never consumed and advances their jobs so the task is published again.
// claimedBefore returns the cutoff for a stage; a zero time keeps the claim.
func (d *Dispatcher) ReleaseStaleClaims(ctx context.Context, claimedBefore func(jobs.Stage) time.Time) (int, error) {
	latest := time.Time{}
	for _, s := range jobs.AllStages() {
		if cutoff := claimedBefore(s); cutoff.After(latest) {
			latest = cutoff
		}
	}
	if latest.IsZero() {
		return 0, nil
	}
	claimed, err := d.deps.Store.ClaimedPendingTasks(ctx, latest)
	if err != nil {
		return 0, services.Wrap(services.ErrPersistence, "", "list claimed tasks", "", err)
	}

	released := 0
	var jobIDs []string
	var errs []error
	for _, task := range claimed {
		cutoff := claimedBefore(task.Stage)
		if task.DispatchedAt == nil || cutoff.IsZero() || !task.DispatchedAt.Before(cutoff) {
			continue
		}
		applied, err := d.deps.Store.ApplyTask(ctx, task.JobID, task.TaskID, jobs.ReleaseDispatch())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !applied {
			continue
		}
		released++
		d.deps.Metrics.Dispatch(string(task.Stage), "released")
		logging.WarnWithContext(d.logger, "dispatch claim released; task will be published again", "dispatch_released",
			logging.String(logging.FieldJobID, task.JobID),
			logging.String(logging.FieldTaskID, task.TaskID),
			logging.String(logging.FieldStage, string(task.Stage)),
		)
		if !slices.Contains(jobIDs, task.JobID) {
			jobIDs = append(jobIDs, task.JobID)
		}
	}
	for _, jobID := range jobIDs {
		if err := d.Advance(ctx, jobID); err != nil {
			errs = append(errs, err)
		}
	}
	return released, errors.Join(errs...)
}

func (d *Dispatcher) reload(ctx context.Context, jobID string) (*jobs.Job, error) {
	job, err := d.deps.Store.GetJob(ctx, jobID)
	if err != nil {
		return nil, services.Wrap(services.ErrPersistence, "", "reload job", "", err)
	}
	if job == nil {
		return nil, fmt.Errorf("job %s disappeared", jobID)
	}
	return job, nil
}
