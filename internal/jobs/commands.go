package jobs

import (
	"fmt"
	"strings"
	"time"
)

// CommandKind enumerates the field-scoped task updates a store applies.
type CommandKind string

const (
	CommandSetStatus   CommandKind = "set_status"
	CommandSetProgress CommandKind = "set_progress"
	CommandSetOutput   CommandKind = "set_output"
	CommandFail        CommandKind = "fail"
	// CommandReleaseDispatch clears the dispatch claim on a pending task.
	CommandReleaseDispatch CommandKind = "release_dispatch"
)

// TaskCommand is one update applied to a single task row.
type TaskCommand struct {
	Kind     CommandKind
	Status   Status
	Progress int
	Output   *Output
	Message  string
	// StaleBefore lets a running transition take over a running task whose
	// start time is at or before it. Zero means pending tasks only.
	StaleBefore time.Time
}

// SetStatus moves a task to pending, running, or completed. Failures go
// through Fail so an error message is always recorded. A running transition
// only applies to a pending task.
func SetStatus(status Status) TaskCommand {
	return TaskCommand{Kind: CommandSetStatus, Status: status}
}

// StartRunning moves a pending task to running, or restarts a running task
// that started at or before staleBefore.
func StartRunning(staleBefore time.Time) TaskCommand {
	return TaskCommand{Kind: CommandSetStatus, Status: StatusRunning, StaleBefore: staleBefore}
}

// ReleaseDispatch clears the claim on a pending task so it can be
// dispatched again. Running and finished tasks are untouched.
func ReleaseDispatch() TaskCommand {
	return TaskCommand{Kind: CommandReleaseDispatch}
}

// SetProgress records a running task's progress. Stores never lower the
// stored value and cap it below 100 until completion.
func SetProgress(percent int) TaskCommand {
	return TaskCommand{Kind: CommandSetProgress, Progress: percent}
}

// SetOutput attaches a stage output to the task.
func SetOutput(output *Output) TaskCommand {
	return TaskCommand{Kind: CommandSetOutput, Output: output}
}

// Fail marks the task failed with the given message.
func Fail(message string) TaskCommand {
	return TaskCommand{Kind: CommandFail, Message: message}
}

// Validate rejects malformed commands before any SQL runs.
func (c TaskCommand) Validate() error {
	switch c.Kind {
	case CommandSetStatus:
		switch c.Status {
		case StatusPending, StatusRunning, StatusCompleted:
			return nil
		case StatusFailed:
			return fmt.Errorf("use Fail to mark a task failed")
		default:
			return fmt.Errorf("unknown task status %q", c.Status)
		}
	case CommandSetProgress:
		if c.Progress < 0 || c.Progress > 100 {
			return fmt.Errorf("progress %d outside 0..100", c.Progress)
		}
		return nil
	case CommandSetOutput:
		return c.Output.Validate()
	case CommandFail:
		if strings.TrimSpace(c.Message) == "" {
			return fmt.Errorf("failure message is required")
		}
		return nil
	case CommandReleaseDispatch:
		return nil
	default:
		return fmt.Errorf("unknown task command %q", c.Kind)
	}
}

// String renders the command for logs.
func (c TaskCommand) String() string {
	switch c.Kind {
	case CommandSetStatus:
		return "status=" + string(c.Status)
	case CommandSetProgress:
		return fmt.Sprintf("progress=%d", c.Progress)
	case CommandSetOutput:
		if c.Output == nil {
			return "output=<nil>"
		}
		return "output=" + string(c.Output.Stage)
	case CommandFail:
		return "fail=" + c.Message
	case CommandReleaseDispatch:
		return "release_dispatch"
	default:
		return string(c.Kind)
	}
}
