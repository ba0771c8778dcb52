package jobs

import (
	"context"
	"errors"
	"time"
)

// ErrJobNotFound is returned when a job id does not exist.
var ErrJobNotFound = errors.New("job not found")

// ErrTaskNotFound is returned when a task id does not exist within a job.
var ErrTaskNotFound = errors.New("task not found")

// Store persists jobs and their tasks. Task mutations update exactly one row
// keyed by job and task id.
type Store interface {
	// FindJobByMediaID returns the job for a media id, or nil when none exists.
	FindJobByMediaID(ctx context.Context, mediaID string) (*Job, error)
	// GetJob returns the job with its tasks, or nil when none exists.
	GetJob(ctx context.Context, jobID string) (*Job, error)
	// ListJobs returns jobs ordered by creation time, filtered by status when given.
	ListJobs(ctx context.Context, statuses ...Status) ([]*Job, error)
	// CreateJob inserts the job and one pending task per stage. When a job for
	// the media id already exists it is returned with created=false.
	CreateJob(ctx context.Context, req NewJob) (*Job, bool, error)
	// SetJobStatus updates job status and error. A completed job never moves.
	SetJobStatus(ctx context.Context, jobID string, status Status, message string) error
	// ApplyTask applies one command to a task. applied reports whether the
	// row changed; a guarded no-op is not an error.
	ApplyTask(ctx context.Context, jobID, taskID string, cmd TaskCommand) (bool, error)
	// ResetFailedTasks moves failed tasks back to pending and a failed job to
	// pending in one transaction.
	ResetFailedTasks(ctx context.Context, jobID string) (int, error)
	// ClaimDispatch marks a pending, unclaimed task as dispatched.
	ClaimDispatch(ctx context.Context, jobID, taskID string) (bool, error)
	// StaleRunningTasks lists running tasks started before the cutoff.
	StaleRunningTasks(ctx context.Context, startedBefore time.Time) ([]Task, error)
	// ClaimedPendingTasks lists pending tasks of unfinished jobs whose
	// dispatch claim is older than the cutoff.
	ClaimedPendingTasks(ctx context.Context, claimedBefore time.Time) ([]Task, error)
	Ping(ctx context.Context) error
	Close() error
}

// UpdateTaskStatus sets a task's status and, for running tasks, an optional
// initial progress. Failed is rejected; use FailTask.
func UpdateTaskStatus(ctx context.Context, store Store, jobID, taskID string, status Status, progress ...int) error {
	if _, err := store.ApplyTask(ctx, jobID, taskID, SetStatus(status)); err != nil {
		return err
	}
	if len(progress) > 0 && status == StatusRunning {
		return UpdateTaskProgress(ctx, store, jobID, taskID, progress[0])
	}
	return nil
}

// UpdateTaskProgress records a running task's progress.
func UpdateTaskProgress(ctx context.Context, store Store, jobID, taskID string, percent int) error {
	_, err := store.ApplyTask(ctx, jobID, taskID, SetProgress(percent))
	return err
}

// UpdateTaskOutput attaches a stage output to a task.
func UpdateTaskOutput(ctx context.Context, store Store, jobID, taskID string, output *Output) error {
	_, err := store.ApplyTask(ctx, jobID, taskID, SetOutput(output))
	return err
}

// FailTask marks a task failed with a message.
func FailTask(ctx context.Context, store Store, jobID, taskID, message string) error {
	_, err := store.ApplyTask(ctx, jobID, taskID, Fail(message))
	return err
}
