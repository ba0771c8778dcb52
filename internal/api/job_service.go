package api

import (
	"context"
	"strings"

	"mediaflow/internal/jobs"
	"mediaflow/internal/services"
	"mediaflow/internal/workflow"
)

// Trigger starts and retries jobs. workflow.Runner (in-process) and
// workflow.Dispatcher (distributed) both satisfy it.
type Trigger interface {
	Ensure(ctx context.Context, req workflow.JobRequest) (*jobs.Job, error)
	Retry(ctx context.Context, mediaID string) (*jobs.Job, error)
}

// JobReader abstracts the store queries needed for API reads.
type JobReader interface {
	FindJobByMediaID(ctx context.Context, mediaID string) (*jobs.Job, error)
	ListJobs(ctx context.Context, statuses ...jobs.Status) ([]*jobs.Job, error)
}

// JobService exposes job operations returning API DTOs.
type JobService struct {
	store   JobReader
	trigger Trigger
}

// NewJobService constructs a JobService. trigger may be nil for a
// read-only service.
func NewJobService(store JobReader, trigger Trigger) *JobService {
	if store == nil {
		return nil
	}
	return &JobService{store: store, trigger: trigger}
}

// Ensure creates or finds the job for req and schedules it.
func (s *JobService) Ensure(ctx context.Context, req EnsureJobRequest) (*Job, error) {
	if s == nil || s.trigger == nil {
		return nil, services.Wrap(services.ErrConfiguration, "", "ensure job", "job trigger unavailable", nil)
	}
	mediaID := strings.TrimSpace(req.MediaID)
	sourceURL := strings.TrimSpace(req.SourceURL)
	if mediaID == "" || sourceURL == "" {
		return nil, services.Wrap(services.ErrValidation, "", "ensure job", "mediaId and sourceUrl are required", nil)
	}
	var stages []jobs.Stage
	if len(req.Stages) > 0 {
		parsed, err := jobs.ParseStages(req.Stages)
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "", "ensure job", "invalid stages", err)
		}
		stages = parsed
	}
	job, err := s.trigger.Ensure(ctx, workflow.JobRequest{MediaID: mediaID, SourceURL: sourceURL, Stages: stages})
	if err != nil {
		return nil, err
	}
	dto := FromJob(job)
	return &dto, nil
}

// Retry resets a failed job and schedules it again.
func (s *JobService) Retry(ctx context.Context, mediaID string) (*Job, error) {
	if s == nil || s.trigger == nil {
		return nil, services.Wrap(services.ErrConfiguration, "", "retry job", "job trigger unavailable", nil)
	}
	job, err := s.trigger.Retry(ctx, strings.TrimSpace(mediaID))
	if err != nil {
		return nil, err
	}
	dto := FromJob(job)
	return &dto, nil
}

// Describe fetches the job for a media id, or nil when none exists.
func (s *JobService) Describe(ctx context.Context, mediaID string) (*Job, error) {
	if s == nil {
		return nil, nil
	}
	job, err := s.store.FindJobByMediaID(ctx, strings.TrimSpace(mediaID))
	if err != nil || job == nil {
		return nil, err
	}
	dto := FromJob(job)
	return &dto, nil
}

// List returns jobs filtered by status.
func (s *JobService) List(ctx context.Context, statuses ...jobs.Status) ([]Job, error) {
	if s == nil {
		return nil, nil
	}
	list, err := s.store.ListJobs(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	return FromJobs(list), nil
}
