package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"mediaflow/internal/jobs"
)

// FindJobByMediaID returns the job for a media id, or nil when none exists.
func (s *Store) FindJobByMediaID(ctx context.Context, mediaID string) (*jobs.Job, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE media_id = ?", strings.TrimSpace(mediaID))
	return s.loadJob(ctx, row)
}

// GetJob fetches a job and its tasks by id.
func (s *Store) GetJob(ctx context.Context, jobID string) (*jobs.Job, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", jobID)
	return s.loadJob(ctx, row)
}

func (s *Store) loadJob(ctx context.Context, row *sql.Row) (*jobs.Job, error) {
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	tasks, err := s.loadTasks(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	job.Tasks = tasks
	return job, nil
}

func (s *Store) loadTasks(ctx context.Context, jobID string) ([]jobs.Task, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE job_id = ? ORDER BY position", jobID)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []jobs.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// ListJobs returns jobs ordered by creation time, optionally filtered by status.
func (s *Store) ListJobs(ctx context.Context, statuses ...jobs.Status) ([]*jobs.Job, error) {
	ctx = ensureContext(ctx)
	query := "SELECT " + jobColumns + " FROM jobs"
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += " WHERE status IN (" + makePlaceholders(len(statuses)) + ")"
		for _, status := range statuses {
			args = append(args, status)
		}
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	var result []*jobs.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan job: %w", err)
		}
		result = append(result, job)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, job := range result {
		tasks, err := s.loadTasks(ctx, job.ID)
		if err != nil {
			return nil, err
		}
		job.Tasks = tasks
	}
	return result, nil
}

// CreateJob inserts a job with one pending task per stage. The insert is
// idempotent on media id: an existing job is returned with created=false.
func (s *Store) CreateJob(ctx context.Context, req jobs.NewJob) (*jobs.Job, bool, error) {
	if err := req.Validate(); err != nil {
		return nil, false, err
	}
	mediaID := strings.TrimSpace(req.MediaID)
	jobID := uuid.NewString()
	now := formatTime(time.Now())

	created := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		created = false
		res, err := tx.ExecContext(ctx,
			`INSERT INTO jobs (id, media_id, source_url, status, created_at, updated_at)
             VALUES (?, ?, ?, ?, ?, ?)
             ON CONFLICT(media_id) DO NOTHING`,
			jobID, mediaID, req.SourceURL, jobs.StatusPending, now, now,
		)
		if err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return nil
		}
		for i, stage := range req.Stages {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO tasks (job_id, task_id, position, stage, status, progress, updated_at)
                 VALUES (?, ?, ?, ?, ?, 0, ?)`,
				jobID, jobs.TaskID(stage, i), i, stage, jobs.StatusPending, now,
			); err != nil {
				return fmt.Errorf("insert task %s: %w", stage, err)
			}
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	job, err := s.FindJobByMediaID(ctx, mediaID)
	if err != nil {
		return nil, false, err
	}
	if job == nil {
		return nil, false, fmt.Errorf("job for media %q missing after insert", mediaID)
	}
	return job, created, nil
}

// SetJobStatus updates a job's status and error. Completed jobs are never moved.
func (s *Store) SetJobStatus(ctx context.Context, jobID string, status jobs.Status, message string) error {
	if _, ok := jobs.ParseStatus(string(status)); !ok {
		return fmt.Errorf("unknown job status %q", status)
	}
	if status != jobs.StatusFailed {
		message = ""
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET status = ?, error_message = ?, updated_at = ?
         WHERE id = ? AND status <> ?`,
		status, nullableString(message), formatTime(time.Now()), jobID, jobs.StatusCompleted,
	)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return s.jobExists(ctx, jobID)
	}
	return nil
}

func (s *Store) jobExists(ctx context.Context, jobID string) error {
	var count int
	if err := s.db.QueryRowContext(ensureContext(ctx), "SELECT COUNT(1) FROM jobs WHERE id = ?", jobID).Scan(&count); err != nil {
		return fmt.Errorf("check job: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("%w: %s", jobs.ErrJobNotFound, jobID)
	}
	return nil
}
