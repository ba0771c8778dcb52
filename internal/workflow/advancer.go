package workflow

import (
	"context"
	"errors"
	"log/slog"

	"mediaflow/internal/bus"
	"mediaflow/internal/jobs"
	"mediaflow/internal/logging"
	"mediaflow/internal/services"
)

// Advancer listens for completion events and moves each job forward: a
// failure fails the job, a success dispatches the next pending task.
type Advancer struct {
	dispatcher *Dispatcher
	logger     *slog.Logger
}

// NewAdvancer builds the completion listener around a dispatcher.
func NewAdvancer(dispatcher *Dispatcher) *Advancer {
	return &Advancer{
		dispatcher: dispatcher,
		logger:     dispatcher.deps.logger("workflow-advancer"),
	}
}

// Run consumes completion events until ctx is cancelled.
func (a *Advancer) Run(ctx context.Context) error {
	err := a.dispatcher.deps.Bus.ConsumeCompletions(ctx, a.Handle)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Handle applies one completion event. A failure reported for a task that
// another delivery already completed advances the job instead of failing it.
// Lock and store errors are returned as transient so the bus redelivers the
// event.
func (a *Advancer) Handle(ctx context.Context, event bus.CompletionEvent) error {
	ctx = services.WithTask(services.WithJob(ctx, event.JobID, ""), event.TaskID, string(event.Stage))
	logger := logging.WithContext(ctx, a.logger)
	d := a.dispatcher

	if event.Failed() {
		job, err := d.deps.Store.GetJob(ctx, event.JobID)
		if err != nil {
			return services.Wrap(services.ErrTransient, string(event.Stage), "load job", "", err)
		}
		if job == nil {
			logging.WarnWithContext(logger, "completion for unknown job dropped", "completion_dropped")
			return nil
		}
		if task, ok := job.Task(event.TaskID); ok && task.Status == jobs.StatusCompleted {
			logger.Info("failure reported for a completed task; advancing instead",
				logging.String("error_message", event.Error),
				logging.String(logging.FieldEventType, "completion_stale_failure"),
			)
			return a.advance(ctx, logger, event)
		}
		logging.WarnWithContext(logger, "task failed", "task_failed",
			logging.String("error_message", event.Error),
			logging.String(logging.FieldErrorKind, event.ErrorKind),
		)
		if _, err := d.deps.Store.ApplyTask(ctx, event.JobID, event.TaskID, jobs.Fail(event.Error)); err != nil && !errors.Is(err, jobs.ErrTaskNotFound) {
			return services.Wrap(services.ErrTransient, string(event.Stage), "record failure", "", err)
		}
		err = d.deps.Store.SetJobStatus(ctx, event.JobID, jobs.StatusFailed, jobFailureMessage(event.TaskID, event.Error))
		switch {
		case errors.Is(err, jobs.ErrJobNotFound):
			return nil
		case err != nil:
			return services.Wrap(services.ErrTransient, string(event.Stage), "fail job", "", err)
		}
		d.deps.Metrics.JobFinished(string(jobs.StatusFailed))
		return nil
	}

	logger.Debug("task completed; advancing job", logging.String(logging.FieldEventType, "task_completed"))
	return a.advance(ctx, logger, event)
}

func (a *Advancer) advance(ctx context.Context, logger *slog.Logger, event bus.CompletionEvent) error {
	err := a.dispatcher.Advance(ctx, event.JobID)
	if errors.Is(err, services.ErrNotFound) {
		logging.WarnWithContext(logger, "completion for unknown job dropped", "completion_dropped")
		return nil
	}
	if errors.Is(err, services.ErrPersistence) {
		return services.Wrap(services.ErrTransient, string(event.Stage), "advance job", "", err)
	}
	return err
}
