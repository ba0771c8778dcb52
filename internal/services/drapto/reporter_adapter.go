package drapto

import (
	"fmt"
	"strings"

	draptolib "github.com/five82/drapto"
)

// reporter adapts the Drapto Reporter interface to the ProgressUpdate
// callback. Events the transcode stage has no use for surface as info
// messages so they still reach the log.
type reporter struct {
	callback func(ProgressUpdate)
}

func newReporter(callback func(ProgressUpdate)) *reporter {
	return &reporter{callback: callback}
}

func (r *reporter) info(message string) {
	message = strings.TrimSpace(message)
	if message == "" {
		return
	}
	r.callback(ProgressUpdate{Type: EventTypeInfo, Percent: -1, Message: message})
}

func (r *reporter) Hardware(s draptolib.HardwareSummary) {
	r.info("hardware: " + s.Hostname)
}

func (r *reporter) Initialization(s draptolib.InitializationSummary) {
	r.info(fmt.Sprintf("input %v (%v, %v)", s.InputFile, s.Resolution, s.DynamicRange))
}

func (r *reporter) StageProgress(s draptolib.StageProgress) {
	update := ProgressUpdate{
		Type:    EventTypeStageProgress,
		Percent: float64(s.Percent),
		Stage:   s.Stage,
		Message: s.Message,
	}
	if s.ETA != nil {
		update.ETA = *s.ETA
	}
	r.callback(update)
}

func (r *reporter) CropResult(s draptolib.CropSummary) {
	r.info(s.Message)
}

func (r *reporter) EncodingConfig(s draptolib.EncodingConfigSummary) {
	r.info(fmt.Sprintf("encoder %v preset %v quality %v", s.Encoder, s.Preset, s.Quality))
}

func (r *reporter) EncodingStarted(totalFrames uint64) {
	r.callback(ProgressUpdate{
		Type:    EventTypeEncodingStarted,
		Percent: 0,
		Stage:   "encoding",
		Message: fmt.Sprintf("encoding %d frames", totalFrames),
	})
}

func (r *reporter) EncodingProgress(s draptolib.ProgressSnapshot) {
	r.callback(ProgressUpdate{
		Type:    EventTypeEncodingProgress,
		Percent: float64(s.Percent),
		Stage:   "encoding",
		Speed:   float64(s.Speed),
		FPS:     float64(s.FPS),
		ETA:     s.ETA,
		Bitrate: s.Bitrate,
	})
}

func (r *reporter) ValidationComplete(s draptolib.ValidationSummary) {
	failed := make([]string, 0)
	for _, step := range s.Steps {
		if !step.Passed {
			failed = append(failed, step.Name)
		}
	}
	message := "validation passed"
	if !s.Passed {
		message = "validation failed: " + strings.Join(failed, ", ")
	}
	r.callback(ProgressUpdate{Type: EventTypeValidation, Percent: -1, Stage: "validation", Message: message})
}

func (r *reporter) EncodingComplete(s draptolib.EncodingOutcome) {
	r.callback(ProgressUpdate{
		Type:    EventTypeEncodingComplete,
		Percent: 100,
		Stage:   "complete",
		Result: &EncodingResult{
			OutputPath:   s.OutputPath,
			OriginalSize: int64(s.OriginalSize),
			EncodedSize:  int64(s.EncodedSize),
			Duration:     s.TotalTime,
		},
	})
}

func (r *reporter) Warning(message string) {
	r.callback(ProgressUpdate{Type: EventTypeWarning, Percent: -1, Message: strings.TrimSpace(message)})
}

func (r *reporter) Error(e draptolib.ReporterError) {
	message := strings.TrimSpace(e.Title + ": " + e.Message)
	if e.Suggestion != "" {
		message += " (" + e.Suggestion + ")"
	}
	r.callback(ProgressUpdate{Type: EventTypeError, Percent: -1, Message: message})
}

func (r *reporter) OperationComplete(message string) {
	r.callback(ProgressUpdate{Type: EventTypeOperationComplete, Percent: -1, Message: strings.TrimSpace(message)})
}

func (r *reporter) BatchStarted(s draptolib.BatchStartInfo) {
	r.info(fmt.Sprintf("batch of %v files", s.TotalFiles))
}

func (r *reporter) FileProgress(s draptolib.FileProgressContext) {
	r.info(fmt.Sprintf("file %v of %v", s.CurrentFile, s.TotalFiles))
}

func (r *reporter) BatchComplete(s draptolib.BatchSummary) {
	r.info(fmt.Sprintf("batch complete: %v of %v", s.SuccessfulCount, s.TotalFiles))
}

var _ draptolib.Reporter = (*reporter)(nil)
