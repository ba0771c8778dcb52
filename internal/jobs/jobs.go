package jobs

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Status represents the lifecycle state of a job or task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

var knownStatuses = map[Status]struct{}{
	StatusPending:   {},
	StatusRunning:   {},
	StatusCompleted: {},
	StatusFailed:    {},
}

// AllStatuses returns every status in lifecycle order.
func AllStatuses() []Status {
	return []Status{StatusPending, StatusRunning, StatusCompleted, StatusFailed}
}

// ParseStatus converts a string into a Status value when possible.
func ParseStatus(value string) (Status, bool) {
	status := Status(strings.ToLower(strings.TrimSpace(value)))
	_, ok := knownStatuses[status]
	return status, ok
}

// IsTerminal reports whether the status ends a run.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Stage identifies which stage worker executes a task.
type Stage string

const (
	StageThumbnail  Stage = "thumbnail"
	StageSubtitle   Stage = "subtitle"
	StageEnrichment Stage = "enrichment"
	StageTranscode  Stage = "transcode"
)

// AllStages returns every known stage in canonical order.
func AllStages() []Stage {
	return []Stage{StageThumbnail, StageSubtitle, StageEnrichment, StageTranscode}
}

// ParseStage converts a configured stage name into a Stage.
func ParseStage(value string) (Stage, error) {
	stage := Stage(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range AllStages() {
		if stage == known {
			return stage, nil
		}
	}
	return "", fmt.Errorf("unknown stage %q", value)
}

// ParseStages converts a list of configured stage names.
func ParseStages(values []string) ([]Stage, error) {
	stages := make([]Stage, 0, len(values))
	for _, value := range values {
		stage, err := ParseStage(value)
		if err != nil {
			return nil, err
		}
		stages = append(stages, stage)
	}
	return stages, nil
}

// TaskID returns the stable identifier of the task at the given position.
func TaskID(stage Stage, ordinal int) string {
	return string(stage) + "-" + strconv.Itoa(ordinal)
}

// Task is one stage's execution record within a job.
type Task struct {
	JobID        string     `json:"-"`
	TaskID       string     `json:"taskId"`
	Position     int        `json:"-"`
	Stage        Stage      `json:"stage"`
	Status       Status     `json:"status"`
	Progress     int        `json:"progress"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	StartTime    *time.Time `json:"startTime,omitempty"`
	EndTime      *time.Time `json:"endTime,omitempty"`
	DispatchedAt *time.Time `json:"-"`
	Output       *Output    `json:"output,omitempty"`
	UpdatedAt    time.Time  `json:"-"`
}

// Job is the unit of work for one media item.
type Job struct {
	ID           string    `json:"id"`
	MediaID      string    `json:"mediaId"`
	SourceURL    string    `json:"sourceUrl"`
	Status       Status    `json:"status"`
	ErrorMessage string    `json:"error,omitempty"`
	Tasks        []Task    `json:"tasks"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Task returns the task with the given id.
func (j *Job) Task(taskID string) (*Task, bool) {
	if j == nil {
		return nil, false
	}
	for i := range j.Tasks {
		if j.Tasks[i].TaskID == taskID {
			return &j.Tasks[i], true
		}
	}
	return nil, false
}

// TaskByStage returns the first task executing the given stage.
func (j *Job) TaskByStage(stage Stage) (*Task, bool) {
	if j == nil {
		return nil, false
	}
	for i := range j.Tasks {
		if j.Tasks[i].Stage == stage {
			return &j.Tasks[i], true
		}
	}
	return nil, false
}

// NextPending returns the first pending task in execution order.
func (j *Job) NextPending() (*Task, bool) {
	if j == nil {
		return nil, false
	}
	for i := range j.Tasks {
		if j.Tasks[i].Status == StatusPending {
			return &j.Tasks[i], true
		}
	}
	return nil, false
}

// RunningTask returns the task currently running, if any.
func (j *Job) RunningTask() (*Task, bool) {
	if j == nil {
		return nil, false
	}
	for i := range j.Tasks {
		if j.Tasks[i].Status == StatusRunning {
			return &j.Tasks[i], true
		}
	}
	return nil, false
}

// AllCompleted reports whether every task has completed.
func (j *Job) AllCompleted() bool {
	if j == nil || len(j.Tasks) == 0 {
		return false
	}
	for _, task := range j.Tasks {
		if task.Status != StatusCompleted {
			return false
		}
	}
	return true
}

// Stages returns the job's stages in execution order.
func (j *Job) Stages() []Stage {
	if j == nil {
		return nil
	}
	stages := make([]Stage, 0, len(j.Tasks))
	for _, task := range j.Tasks {
		stages = append(stages, task.Stage)
	}
	return stages
}

// NewJob describes a job to create.
type NewJob struct {
	MediaID   string
	SourceURL string
	Stages    []Stage
}

// Validate checks the request before it reaches a store.
func (n NewJob) Validate() error {
	if strings.TrimSpace(n.MediaID) == "" {
		return fmt.Errorf("media id is required")
	}
	if len(n.Stages) == 0 {
		return fmt.Errorf("at least one stage is required")
	}
	seen := make(map[Stage]struct{}, len(n.Stages))
	for _, stage := range n.Stages {
		if _, err := ParseStage(string(stage)); err != nil {
			return err
		}
		if _, dup := seen[stage]; dup {
			return fmt.Errorf("duplicate stage %q", stage)
		}
		seen[stage] = struct{}{}
	}
	return nil
}
