package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mediaflow/internal/jobs"
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("bus closed")

// CompletionChannel carries completion events from every stage.
const CompletionChannel = "completion"

// DispatchChannel names the channel consumed by the worker pool of stage.
func DispatchChannel(stage jobs.Stage) string {
	return "dispatch." + string(stage)
}

// DispatchMessage asks a stage worker pool to execute one task.
type DispatchMessage struct {
	MessageID        string                      `json:"messageId"`
	JobID            string                      `json:"jobId"`
	TaskID           string                      `json:"taskId"`
	MediaID          string                      `json:"mediaId"`
	Stage            jobs.Stage                  `json:"stage"`
	SourceURL        string                      `json:"sourceUrl"`
	DependencyInputs map[jobs.Stage]*jobs.Output `json:"dependencyInputs,omitempty"`
	CorrelationID    string                      `json:"correlationId,omitempty"`
	PublishedAt      time.Time                   `json:"publishedAt"`
}

// Validate checks the fields every consumer relies on.
func (m DispatchMessage) Validate() error {
	switch {
	case m.JobID == "":
		return errors.New("dispatch message missing job id")
	case m.TaskID == "":
		return errors.New("dispatch message missing task id")
	}
	if _, err := jobs.ParseStage(string(m.Stage)); err != nil {
		return fmt.Errorf("dispatch message: %w", err)
	}
	for stage, output := range m.DependencyInputs {
		if err := output.Validate(); err != nil {
			return fmt.Errorf("dispatch input %s: %w", stage, err)
		}
	}
	return nil
}

// CompletionEvent reports the outcome of one dispatched task.
type CompletionEvent struct {
	MessageID   string       `json:"messageId"`
	JobID       string       `json:"jobId"`
	TaskID      string       `json:"taskId"`
	Stage       jobs.Stage   `json:"stage"`
	Output      *jobs.Output `json:"output,omitempty"`
	Error       string       `json:"error,omitempty"`
	ErrorKind   string       `json:"errorKind,omitempty"`
	CompletedAt time.Time    `json:"completedAt"`
}

// Failed reports whether the task failed.
func (e CompletionEvent) Failed() bool {
	return e.Error != ""
}

// Validate checks the fields the advancer relies on.
func (e CompletionEvent) Validate() error {
	switch {
	case e.JobID == "":
		return errors.New("completion event missing job id")
	case e.TaskID == "":
		return errors.New("completion event missing task id")
	}
	if !e.Failed() && e.Output != nil {
		if err := e.Output.Validate(); err != nil {
			return fmt.Errorf("completion output: %w", err)
		}
	}
	return nil
}

// DispatchHandler processes one dispatch. Returning an error marked
// services.ErrTransient asks the bus to redeliver the message.
type DispatchHandler func(ctx context.Context, msg DispatchMessage) error

// CompletionHandler processes one completion event.
type CompletionHandler func(ctx context.Context, event CompletionEvent) error

// Bus moves dispatch messages to stage worker pools and completion events
// back to the advancer. Delivery is at-least-once.
type Bus interface {
	PublishDispatch(ctx context.Context, msg DispatchMessage) error
	PublishCompletion(ctx context.Context, event CompletionEvent) error
	// ConsumeDispatch runs consumers for stage until ctx is cancelled.
	ConsumeDispatch(ctx context.Context, stage jobs.Stage, consumers int, handler DispatchHandler) error
	// ConsumeCompletions runs one consumer of completion events until ctx is cancelled.
	ConsumeCompletions(ctx context.Context, handler CompletionHandler) error
	Close() error
}

// Stamp fills the message id and publish time when unset.
func (m *DispatchMessage) Stamp() {
	if m.MessageID == "" {
		m.MessageID = uuid.NewString()
	}
	if m.PublishedAt.IsZero() {
		m.PublishedAt = time.Now().UTC()
	}
}

// Stamp fills the message id and completion time when unset.
func (e *CompletionEvent) Stamp() {
	if e.MessageID == "" {
		e.MessageID = uuid.NewString()
	}
	if e.CompletedAt.IsZero() {
		e.CompletedAt = time.Now().UTC()
	}
}

// EncodeDispatch renders a dispatch message as JSON.
func EncodeDispatch(msg DispatchMessage) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeDispatch parses and validates a dispatch message.
func DecodeDispatch(body []byte) (DispatchMessage, error) {
	var msg DispatchMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return DispatchMessage{}, fmt.Errorf("decode dispatch: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return DispatchMessage{}, err
	}
	return msg, nil
}

// EncodeCompletion renders a completion event as JSON.
func EncodeCompletion(event CompletionEvent) ([]byte, error) {
	return json.Marshal(event)
}

// DecodeCompletion parses and validates a completion event.
func DecodeCompletion(body []byte) (CompletionEvent, error) {
	var event CompletionEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return CompletionEvent{}, fmt.Errorf("decode completion: %w", err)
	}
	if err := event.Validate(); err != nil {
		return CompletionEvent{}, err
	}
	return event, nil
}
