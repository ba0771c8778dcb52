package sqlitestore

import (
	"database/sql"
	"errors"
	"time"

	"mediaflow/internal/jobs"
)

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const jobColumns = "id, media_id, source_url, status, error_message, created_at, updated_at"

const taskColumns = "job_id, task_id, position, stage, status, progress, error_message, start_time, end_time, dispatched_at, output_json, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(scanner rowScanner) (*jobs.Job, error) {
	var (
		id           string
		mediaID      string
		sourceURL    string
		status       string
		errorMessage sql.NullString
		createdRaw   string
		updatedRaw   string
	)
	if err := scanner.Scan(&id, &mediaID, &sourceURL, &status, &errorMessage, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	job := &jobs.Job{
		ID:           id,
		MediaID:      mediaID,
		SourceURL:    sourceURL,
		Status:       jobs.Status(status),
		ErrorMessage: errorMessage.String,
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = updated
	}
	return job, nil
}

func scanTask(scanner rowScanner) (jobs.Task, error) {
	var (
		jobID        string
		taskID       string
		position     int
		stage        string
		status       string
		progress     int
		errorMessage sql.NullString
		startRaw     sql.NullString
		endRaw       sql.NullString
		dispatchRaw  sql.NullString
		outputRaw    sql.NullString
		updatedRaw   string
	)
	if err := scanner.Scan(
		&jobID,
		&taskID,
		&position,
		&stage,
		&status,
		&progress,
		&errorMessage,
		&startRaw,
		&endRaw,
		&dispatchRaw,
		&outputRaw,
		&updatedRaw,
	); err != nil {
		return jobs.Task{}, err
	}
	task := jobs.Task{
		JobID:        jobID,
		TaskID:       taskID,
		Position:     position,
		Stage:        jobs.Stage(stage),
		Status:       jobs.Status(status),
		Progress:     progress,
		ErrorMessage: errorMessage.String,
		StartTime:    parseNullableTime(startRaw),
		EndTime:      parseNullableTime(endRaw),
		DispatchedAt: parseNullableTime(dispatchRaw),
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		task.UpdatedAt = updated
	}
	output, err := jobs.UnmarshalOutput(outputRaw.String)
	if err != nil {
		return jobs.Task{}, err
	}
	task.Output = output
	return task, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func formatTime(value time.Time) string {
	return value.UTC().Format(timeLayout)
}

func parseNullableTime(raw sql.NullString) *time.Time {
	if !raw.Valid {
		return nil
	}
	t, err := parseTimeString(raw.String)
	if err != nil {
		return nil
	}
	return &t
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(timeLayout, value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
