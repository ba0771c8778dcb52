package services

import (
	"errors"
	"strings"
)

var (
	ErrStageExecution        = errors.New("stage execution error")
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	ErrPersistence           = errors.New("persistence error")
	ErrOrchestratorFatal     = errors.New("orchestrator fatal error")
	ErrTimeout               = errors.New("timeout")
	ErrExternalTool          = errors.New("external tool error")
	ErrValidation            = errors.New("validation error")
	ErrConfiguration         = errors.New("configuration error")
	ErrNotFound              = errors.New("not found")
	ErrTransient             = errors.New("transient failure")
)

var markers = []error{
	ErrStageExecution,
	ErrDependencyUnavailable,
	ErrPersistence,
	ErrOrchestratorFatal,
	ErrTimeout,
	ErrExternalTool,
	ErrValidation,
	ErrConfiguration,
	ErrNotFound,
	ErrTransient,
}

// Error is a classified failure carrying the stage and operation that produced it.
type Error struct {
	Marker    error
	Stage     string
	Operation string
	Message   string
	Hint      string
	Cause     error
}

func (e *Error) Error() string {
	detail := buildDetail(e.Stage, e.Operation, e.Message)
	if e.Cause != nil {
		return e.Marker.Error() + ": " + detail + ": " + e.Cause.Error()
	}
	return e.Marker.Error() + ": " + detail
}

func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Marker}
	}
	return []error{e.Marker, e.Cause}
}

// Wrap builds an error that includes stage context while tagging it with the
// provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	if marker == nil {
		marker = ErrTransient
	}
	return &Error{
		Marker:    marker,
		Stage:     strings.TrimSpace(stage),
		Operation: strings.TrimSpace(operation),
		Message:   strings.TrimSpace(message),
		Cause:     err,
	}
}

// WithHint attaches an operator hint to a classified error. Unclassified errors
// are returned unchanged.
func WithHint(err error, hint string) error {
	var svcErr *Error
	if !errors.As(err, &svcErr) {
		return err
	}
	clone := *svcErr
	clone.Hint = strings.TrimSpace(hint)
	return &clone
}

// ErrorDetails is the structured view of an error used by log and status output.
type ErrorDetails struct {
	Kind      string
	Stage     string
	Operation string
	Message   string
	Hint      string
	Cause     error
}

// Details extracts the classification of err. Unclassified errors report the
// transient kind and their own message.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	details := ErrorDetails{Kind: Kind(err)}
	var svcErr *Error
	if errors.As(err, &svcErr) {
		details.Stage = svcErr.Stage
		details.Operation = svcErr.Operation
		details.Message = svcErr.Message
		details.Hint = svcErr.Hint
		details.Cause = svcErr.Cause
		if details.Message == "" && svcErr.Cause != nil {
			details.Message = strings.TrimSpace(svcErr.Cause.Error())
		}
		return details
	}
	details.Message = strings.TrimSpace(err.Error())
	return details
}

// Kind returns the marker name of err, e.g. "timeout" or "dependency unavailable".
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, marker := range markers {
		if errors.Is(err, marker) {
			return marker.Error()
		}
	}
	return ErrTransient.Error()
}

// Message renders err as the single line recorded on a failed task.
func Message(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimSpace(err.Error())
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
