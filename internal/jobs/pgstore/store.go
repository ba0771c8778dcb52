package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"mediaflow/internal/config"
	"mediaflow/internal/jobs"
)

// Store implements jobs.Store on PostgreSQL so workers on several hosts
// share one source of truth.
type Store struct {
	pool *pgxpool.Pool
}

var _ jobs.Store = (*Store)(nil)

const jobColumns = "id, media_id, source_url, status, error_message, created_at, updated_at"

const taskColumns = "job_id, task_id, position, stage, status, progress, error_message, start_time, end_time, dispatched_at, output_json, updated_at"

// querier is satisfied by the pool and by transactions.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// Open connects using the configured DSN and ensures the schema exists.
func Open(ctx context.Context, cfg *config.Config) (*Store, error) {
	return OpenDSN(ctx, cfg.Store.PostgresDSN, cfg.Store.MaxConns)
}

// OpenDSN connects to dsn with at most maxConns pooled connections.
func OpenDSN(ctx context.Context, dsn string, maxConns int) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}
	pool, err := pgxpool.ConnectConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store := &Store{pool: pool}
	if err := store.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// Ping verifies the pool can reach the server.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

// Close releases pooled connections.
func (s *Store) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func scanJob(row pgx.Row) (*jobs.Job, error) {
	var (
		job          jobs.Job
		status       string
		errorMessage *string
	)
	if err := row.Scan(&job.ID, &job.MediaID, &job.SourceURL, &status, &errorMessage, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return nil, err
	}
	job.Status = jobs.Status(status)
	if errorMessage != nil {
		job.ErrorMessage = *errorMessage
	}
	return &job, nil
}

func scanTask(row pgx.Row) (jobs.Task, error) {
	var (
		task         jobs.Task
		stage        string
		status       string
		errorMessage *string
		outputRaw    *string
	)
	if err := row.Scan(
		&task.JobID,
		&task.TaskID,
		&task.Position,
		&stage,
		&status,
		&task.Progress,
		&errorMessage,
		&task.StartTime,
		&task.EndTime,
		&task.DispatchedAt,
		&outputRaw,
		&task.UpdatedAt,
	); err != nil {
		return jobs.Task{}, err
	}
	task.Stage = jobs.Stage(stage)
	task.Status = jobs.Status(status)
	if errorMessage != nil {
		task.ErrorMessage = *errorMessage
	}
	if outputRaw != nil {
		output, err := jobs.UnmarshalOutput(*outputRaw)
		if err != nil {
			return jobs.Task{}, err
		}
		task.Output = output
	}
	return task, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

// FindJobByMediaID returns the job for a media id, or nil when none exists.
func (s *Store) FindJobByMediaID(ctx context.Context, mediaID string) (*jobs.Job, error) {
	return s.loadJob(ctx, s.pool, "SELECT "+jobColumns+" FROM jobs WHERE media_id = $1", strings.TrimSpace(mediaID))
}

// GetJob fetches a job and its tasks by id.
func (s *Store) GetJob(ctx context.Context, jobID string) (*jobs.Job, error) {
	return s.loadJob(ctx, s.pool, "SELECT "+jobColumns+" FROM jobs WHERE id = $1", jobID)
}

func (s *Store) loadJob(ctx context.Context, q querier, query string, arg any) (*jobs.Job, error) {
	job, err := scanJob(q.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	if job.Tasks, err = loadTasks(ctx, q, job.ID); err != nil {
		return nil, err
	}
	return job, nil
}

func loadTasks(ctx context.Context, q querier, jobID string) ([]jobs.Task, error) {
	rows, err := q.Query(ctx, "SELECT "+taskColumns+" FROM tasks WHERE job_id = $1 ORDER BY position", jobID)
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
	query := "SELECT " + jobColumns + " FROM jobs"
	var args []any
	if len(statuses) > 0 {
		values := make([]string, 0, len(statuses))
		for _, status := range statuses {
			values = append(values, string(status))
		}
		query += " WHERE status = ANY($1)"
		args = append(args, values)
	}
	query += " ORDER BY created_at, id"

	rows, err := s.pool.Query(ctx, query, args...)
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
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, job := range result {
		if job.Tasks, err = loadTasks(ctx, s.pool, job.ID); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// CreateJob inserts a job with one pending task per stage, idempotent on media id.
func (s *Store) CreateJob(ctx context.Context, req jobs.NewJob) (*jobs.Job, bool, error) {
	if err := req.Validate(); err != nil {
		return nil, false, err
	}
	mediaID := strings.TrimSpace(req.MediaID)
	jobID := uuid.NewString()
	now := time.Now().UTC()

	created := false
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`INSERT INTO jobs (id, media_id, source_url, status, created_at, updated_at)
             VALUES ($1, $2, $3, $4, $5, $5)
             ON CONFLICT (media_id) DO NOTHING`,
			jobID, mediaID, req.SourceURL, string(jobs.StatusPending), now,
		)
		if err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		batch := &pgx.Batch{}
		for i, stage := range req.Stages {
			batch.Queue(
				`INSERT INTO tasks (job_id, task_id, position, stage, status, progress, updated_at)
                 VALUES ($1, $2, $3, $4, $5, 0, $6)`,
				jobID, jobs.TaskID(stage, i), i, string(stage), string(jobs.StatusPending), now,
			)
		}
		results := tx.SendBatch(ctx, batch)
		for range req.Stages {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return fmt.Errorf("insert task: %w", err)
			}
		}
		if err := results.Close(); err != nil {
			return err
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
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, error_message = $2, updated_at = $3
         WHERE id = $4 AND status <> $5`,
		string(status), nullableString(message), time.Now().UTC(), jobID, string(jobs.StatusCompleted),
	)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := s.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)", jobID).Scan(&exists); err != nil {
		return fmt.Errorf("check job: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", jobs.ErrJobNotFound, jobID)
	}
	return nil
}
