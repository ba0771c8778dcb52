package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"mediaflow/internal/bus"
	"mediaflow/internal/jobs"
	"mediaflow/internal/logging"
	"mediaflow/internal/services"
	"mediaflow/internal/stage"
)

// WorkerPool consumes one stage's dispatch channel, executes tasks through
// the shared executor, and publishes a completion event for each.
type WorkerPool struct {
	deps      Deps
	stage     jobs.Stage
	consumers int
	exec      *executor
	logger    *slog.Logger
}

// NewWorkerPool builds a pool of consumers for stage.
func NewWorkerPool(deps Deps, s jobs.Stage, consumers int) (*WorkerPool, error) {
	if err := deps.validate(true); err != nil {
		return nil, err
	}
	if _, ok := deps.Registry.Worker(s); !ok {
		return nil, services.Wrap(services.ErrConfiguration, string(s), "start worker pool", "no worker registered", nil)
	}
	logger := deps.logger("workflow-pool").With(logging.String(logging.FieldStage, string(s)))
	return &WorkerPool{
		deps:      deps,
		stage:     s,
		consumers: max(consumers, 1),
		exec:      newExecutor(deps, newWriter(deps.Store, deps.Metrics, logger)),
		logger:    logger,
	}, nil
}

// Run consumes dispatches until ctx is cancelled.
func (p *WorkerPool) Run(ctx context.Context) error {
	p.logger.Info("worker pool started",
		logging.Int("consumers", p.consumers),
		logging.String(logging.FieldEventType, "pool_start"),
	)
	err := p.deps.Bus.ConsumeDispatch(ctx, p.stage, p.consumers, p.Handle)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Handle executes one dispatched task. Redelivered messages for completed
// tasks republish the recorded completion. Messages for failed tasks, and for
// running tasks still inside their stage timeout, are dropped.
func (p *WorkerPool) Handle(ctx context.Context, msg bus.DispatchMessage) error {
	ctx = services.WithRequestID(services.WithJob(ctx, msg.JobID, msg.MediaID), msg.CorrelationID)
	logger := logging.WithContext(ctx, p.logger).With(logging.String(logging.FieldTaskID, msg.TaskID))

	job, err := p.deps.Store.GetJob(ctx, msg.JobID)
	if err != nil {
		return services.Wrap(services.ErrTransient, string(msg.Stage), "load job", "", err)
	}
	if job == nil {
		logging.WarnWithContext(logger, "dispatch for unknown job dropped", "dispatch_dropped")
		return nil
	}
	task, ok := job.Task(msg.TaskID)
	if !ok || task.Stage != msg.Stage {
		logging.WarnWithContext(logger, "dispatch for unknown task dropped", "dispatch_dropped")
		return nil
	}

	var staleBefore time.Time
	if timeout := p.deps.Config.StageTimeout(string(task.Stage)); timeout > 0 {
		staleBefore = time.Now().Add(-timeout)
	}

	switch {
	case task.Status == jobs.StatusCompleted:
		logger.Info("task already completed; republishing completion", logging.String(logging.FieldEventType, "dispatch_duplicate"))
		return p.publish(ctx, bus.CompletionEvent{JobID: job.ID, TaskID: task.TaskID, Stage: task.Stage, Output: task.Output})
	case task.Status == jobs.StatusFailed, job.Status == jobs.StatusFailed:
		logger.Info("task or job failed; dispatch dropped", logging.String(logging.FieldEventType, "dispatch_dropped"))
		return nil
	case task.Status == jobs.StatusRunning && (staleBefore.IsZero() || task.StartTime == nil || task.StartTime.After(staleBefore)):
		logger.Info("task already running; duplicate dispatch dropped", logging.String(logging.FieldEventType, "dispatch_duplicate"))
		return nil
	}

	output, err := p.exec.execute(ctx, taskRun{
		JobID:         job.ID,
		MediaID:       job.MediaID,
		SourceURL:     job.SourceURL,
		TaskID:        task.TaskID,
		Stage:         task.Stage,
		Inputs:        stage.Inputs(msg.DependencyInputs),
		CorrelationID: msg.CorrelationID,
		StaleBefore:   staleBefore,
	})
	switch {
	case err == nil:
		return p.publish(ctx, bus.CompletionEvent{JobID: job.ID, TaskID: task.TaskID, Stage: task.Stage, Output: output})
	case ctx.Err() != nil:
		return services.Wrap(services.ErrTransient, string(task.Stage), "process", "interrupted by shutdown", ctx.Err())
	case errors.Is(err, errTaskNotRunnable):
		return nil
	default:
		details := services.Details(err)
		return p.publish(ctx, bus.CompletionEvent{
			JobID:     job.ID,
			TaskID:    task.TaskID,
			Stage:     task.Stage,
			Error:     services.Message(err),
			ErrorKind: details.Kind,
		})
	}
}

func (p *WorkerPool) publish(ctx context.Context, event bus.CompletionEvent) error {
	if err := p.deps.Bus.PublishCompletion(context.WithoutCancel(ctx), event); err != nil {
		logging.ErrorWithContext(logging.WithContext(ctx, p.logger), "completion publish failed", "completion_publish_failed",
			logging.String(logging.FieldTaskID, event.TaskID),
			logging.Error(err),
		)
		return services.Wrap(services.ErrTransient, string(event.Stage), "publish completion", "", err)
	}
	return nil
}
