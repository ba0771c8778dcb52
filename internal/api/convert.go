package api

import (
	"encoding/json"
	"slices"
	"strings"
	"time"

	"mediaflow/internal/jobs"
	"mediaflow/internal/stage"
	"mediaflow/internal/workflow"
)

// FromJob converts a persisted job to its API representation.
func FromJob(job *jobs.Job) Job {
	if job == nil {
		return Job{}
	}
	dto := Job{
		ID:        job.ID,
		MediaID:   job.MediaID,
		SourceURL: job.SourceURL,
		Status:    string(job.Status),
		Tasks:     make([]Task, 0, len(job.Tasks)),
		CreatedAt: FormatTime(job.CreatedAt),
		UpdatedAt: FormatTime(job.UpdatedAt),
		Error:     job.ErrorMessage,
	}
	total := 0
	for i := range job.Tasks {
		task := FromTask(&job.Tasks[i])
		total += task.Progress
		dto.Tasks = append(dto.Tasks, task)
	}
	if len(job.Tasks) > 0 {
		dto.Progress = total / len(job.Tasks)
	}
	return dto
}

// FromJobs converts a slice of jobs into API DTOs.
func FromJobs(list []*jobs.Job) []Job {
	out := make([]Job, 0, len(list))
	for _, job := range list {
		out = append(out, FromJob(job))
	}
	return out
}

// FromTask converts one task record.
func FromTask(task *jobs.Task) Task {
	dto := Task{
		TaskID:       task.TaskID,
		Stage:        string(task.Stage),
		Label:        workflow.StageLabel(task.Stage),
		Status:       string(task.Status),
		Progress:     task.Progress,
		ErrorMessage: task.ErrorMessage,
	}
	if task.Status == jobs.StatusCompleted {
		dto.Progress = 100
	}
	if task.StartTime != nil {
		dto.StartTime = FormatTime(*task.StartTime)
	}
	if task.EndTime != nil {
		dto.EndTime = FormatTime(*task.EndTime)
	}
	if task.Output != nil {
		if raw, err := json.Marshal(task.Output); err == nil {
			dto.Output = raw
		}
	}
	return dto
}

// FromStatusSummary converts workflow diagnostics into the API shape.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	stats := make(map[string]int, len(jobs.AllStatuses()))
	for _, status := range jobs.AllStatuses() {
		stats[string(status)] = summary.JobStats[status]
	}
	return WorkflowStatus{
		Mode:        summary.Mode,
		ActiveJobs:  summary.ActiveJobs,
		JobStats:    stats,
		LastError:   summary.LastError,
		StageHealth: StageHealthSlice(summary.StageHealth),
	}
}

// StageHealthSlice orders stage health by stage name.
func StageHealthSlice(health []stage.Health) []StageHealth {
	if len(health) == 0 {
		return nil
	}
	out := make([]StageHealth, 0, len(health))
	for _, h := range health {
		out = append(out, StageHealth{Name: string(h.Stage), Ready: h.Ready, Detail: h.Detail})
	}
	slices.SortFunc(out, func(a, b StageHealth) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// FormatTime converts a time to RFC3339 or returns empty string.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
