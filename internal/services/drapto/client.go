package drapto

import (
	"context"
	"time"
)

// EventType identifies the Drapto callback that produced an update.
type EventType string

const (
	EventTypeStageProgress     EventType = "stage_progress"
	EventTypeEncodingStarted   EventType = "encoding_started"
	EventTypeEncodingProgress  EventType = "encoding_progress"
	EventTypeEncodingComplete  EventType = "encoding_complete"
	EventTypeValidation        EventType = "validation"
	EventTypeWarning           EventType = "warning"
	EventTypeError             EventType = "error"
	EventTypeInfo              EventType = "info"
	EventTypeOperationComplete EventType = "operation_complete"
)

// ProgressUpdate captures one Drapto event. Percent is negative when the
// event carries no progress.
type ProgressUpdate struct {
	Type    EventType
	Percent float64
	Stage   string
	Message string
	ETA     time.Duration
	Speed   float64
	FPS     float64
	Bitrate string
	Result  *EncodingResult
}

// EncodingResult summarises a finished encode.
type EncodingResult struct {
	OutputPath   string
	OriginalSize int64
	EncodedSize  int64
	Duration     time.Duration
}

// EncodeOptions tunes a single encode.
type EncodeOptions struct {
	Progress func(ProgressUpdate)
}

// Client defines Drapto encoding behaviour.
type Client interface {
	Encode(ctx context.Context, inputPath, outputDir string, opts EncodeOptions) (string, error)
}
