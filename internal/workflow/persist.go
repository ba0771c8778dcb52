package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"mediaflow/internal/jobs"
	"mediaflow/internal/logging"
	"mediaflow/internal/metrics"
	"mediaflow/internal/services"
)

const (
	terminalWriteAttempts = 3
	terminalWriteBackoff  = 100 * time.Millisecond
)

// writer applies store mutations. Terminal writes are retried and surfaced
// as persistence errors; progress writes go straight to the store.
type writer struct {
	store   jobs.Store
	metrics *metrics.Recorder
	logger  *slog.Logger
	backoff time.Duration
}

func newWriter(store jobs.Store, recorder *metrics.Recorder, logger *slog.Logger) *writer {
	return &writer{store: store, metrics: recorder, logger: logger, backoff: terminalWriteBackoff}
}

func (w *writer) retry(ctx context.Context, stageName, operation string, fn func(context.Context) error) error {
	delay := w.backoff
	var err error
	for attempt := 1; attempt <= terminalWriteAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if errors.Is(err, jobs.ErrJobNotFound) || errors.Is(err, jobs.ErrTaskNotFound) || ctx.Err() != nil {
			break
		}
		if attempt == terminalWriteAttempts {
			break
		}
		w.metrics.WriteRetried(operation)
		w.logger.Debug("retrying store write",
			logging.String("operation", operation),
			logging.Int("attempt", attempt),
			logging.Error(err),
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return services.Wrap(services.ErrPersistence, stageName, operation, "store write interrupted", ctx.Err())
		}
		delay *= 2
	}
	return services.Wrap(services.ErrPersistence, stageName, operation, "store write failed", err)
}

// applyTask applies a terminal task command with retries. The write runs even
// when ctx has been cancelled so a task never stays running because of
// shutdown or a timeout.
func (w *writer) applyTask(ctx context.Context, jobID, taskID string, stage jobs.Stage, cmd jobs.TaskCommand) (bool, error) {
	ctx = context.WithoutCancel(ctx)
	var applied bool
	err := w.retry(ctx, string(stage), cmd.String(), func(ctx context.Context) error {
		var err error
		applied, err = w.store.ApplyTask(ctx, jobID, taskID, cmd)
		return err
	})
	return applied, err
}

// setJobStatus updates a job's status with retries.
func (w *writer) setJobStatus(ctx context.Context, jobID string, status jobs.Status, message string) error {
	ctx = context.WithoutCancel(ctx)
	return w.retry(ctx, "", "set job "+string(status), func(ctx context.Context) error {
		return w.store.SetJobStatus(ctx, jobID, status, message)
	})
}

// failJob marks a job failed and records the outcome.
func (w *writer) failJob(ctx context.Context, jobID, message string) error {
	if err := w.setJobStatus(ctx, jobID, jobs.StatusFailed, message); err != nil {
		logging.ErrorWithContext(logging.WithContext(ctx, w.logger), "failed to mark job failed", "job_fail_persist_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check store connectivity; the reaper will fail the job later"),
		)
		return err
	}
	w.metrics.JobFinished(string(jobs.StatusFailed))
	return nil
}

// completeJob marks a job completed and records the outcome.
func (w *writer) completeJob(ctx context.Context, jobID string) error {
	if err := w.setJobStatus(ctx, jobID, jobs.StatusCompleted, ""); err != nil {
		return err
	}
	w.metrics.JobFinished(string(jobs.StatusCompleted))
	return nil
}

// failTaskAndJob records a task failure that happened outside the worker
// (missing dependency, publish failure) and fails its job.
func (w *writer) failTaskAndJob(ctx context.Context, jobID string, task jobs.Task, cause error) error {
	message := services.Message(cause)
	_, taskErr := w.applyTask(ctx, jobID, task.TaskID, task.Stage, jobs.Fail(message))
	jobErr := w.failJob(ctx, jobID, jobFailureMessage(task.TaskID, message))
	w.metrics.TaskFinished(string(task.Stage), string(jobs.StatusFailed), services.Kind(cause), 0)
	return errors.Join(taskErr, jobErr)
}

func jobFailureMessage(taskID, message string) string {
	return taskID + ": " + message
}
