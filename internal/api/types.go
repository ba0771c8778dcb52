package api

import "encoding/json"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Job is the transport form of a persisted job document.
type Job struct {
	ID        string `json:"id"`
	MediaID   string `json:"mediaId"`
	SourceURL string `json:"sourceUrl"`
	Status    string `json:"status"`
	Tasks     []Task `json:"tasks"`
	Progress  int    `json:"progress"`
	CreatedAt string `json:"createdAt,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Task is one stage's execution record within a Job.
type Task struct {
	TaskID       string          `json:"taskId"`
	Stage        string          `json:"stage"`
	Label        string          `json:"label"`
	Status       string          `json:"status"`
	Progress     int             `json:"progress"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	StartTime    string          `json:"startTime,omitempty"`
	EndTime      string          `json:"endTime,omitempty"`
	Output       json.RawMessage `json:"output,omitempty"`
}

// EnsureJobRequest is the body of POST /api/jobs.
type EnsureJobRequest struct {
	MediaID   string   `json:"mediaId"`
	SourceURL string   `json:"sourceUrl"`
	Stages    []string `json:"stages,omitempty"`
}

// JobResponse wraps a single job.
type JobResponse struct {
	Job Job `json:"job"`
}

// JobListResponse wraps a collection of jobs.
type JobListResponse struct {
	Jobs []Job `json:"jobs"`
}

// ErrorResponse is returned for every non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// WorkflowStatus summarizes workflow execution state.
type WorkflowStatus struct {
	Mode        string         `json:"mode"`
	ActiveJobs  []string       `json:"activeJobs,omitempty"`
	JobStats    map[string]int `json:"jobStats"`
	LastError   string         `json:"lastError,omitempty"`
	StageHealth []StageHealth  `json:"stageHealth"`
}

// StageHealth mirrors readiness reporting for workflow stages.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// Health aggregates daemon runtime information for GET /api/health.
type Health struct {
	Ready        bool               `json:"ready"`
	PID          int                `json:"pid"`
	Store        string             `json:"store"`
	Bus          string             `json:"bus,omitempty"`
	LockFilePath string             `json:"lockFilePath,omitempty"`
	Workflow     WorkflowStatus     `json:"workflow"`
	Dependencies []DependencyStatus `json:"dependencies,omitempty"`
}
