package services

import "context"

type contextKey string

const (
	jobIDKey     contextKey = "job_id"
	mediaIDKey   contextKey = "media_id"
	taskIDKey    contextKey = "task_id"
	stageKey     contextKey = "stage"
	requestIDKey contextKey = "request_id"
)

// WithJob annotates context with the job and media identifiers.
func WithJob(ctx context.Context, jobID, mediaID string) context.Context {
	if jobID != "" {
		ctx = context.WithValue(ctx, jobIDKey, jobID)
	}
	if mediaID != "" {
		ctx = context.WithValue(ctx, mediaIDKey, mediaID)
	}
	return ctx
}

// JobIDFromContext extracts the job identifier if present.
func JobIDFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, jobIDKey)
}

// MediaIDFromContext extracts the media identifier if present.
func MediaIDFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, mediaIDKey)
}

// WithTask annotates context with the task identifier and its stage.
func WithTask(ctx context.Context, taskID, stage string) context.Context {
	if taskID != "" {
		ctx = context.WithValue(ctx, taskIDKey, taskID)
	}
	return WithStage(ctx, stage)
}

// TaskIDFromContext extracts the task identifier if present.
func TaskIDFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, taskIDKey)
}

// WithStage annotates context with the pipeline stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	if stage == "" {
		return ctx
	}
	return context.WithValue(ctx, stageKey, stage)
}

// StageFromContext returns the stage name if present.
func StageFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, stageKey)
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, requestIDKey)
}

func stringValue(ctx context.Context, key contextKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if v, ok := ctx.Value(key).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
