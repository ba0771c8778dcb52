// Package thumbnail grabs a poster frame from the source with ffmpeg.
package thumbnail

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"mediaflow/internal/config"
	"mediaflow/internal/jobs"
	"mediaflow/internal/logging"
	"mediaflow/internal/progress"
	"mediaflow/internal/services"
	"mediaflow/internal/stage"
	"mediaflow/internal/workers/mediatool"
)

// FileName is the thumbnail written into the task output directory.
const FileName = "thumbnail.jpg"

// Worker extracts a single scaled frame.
type Worker struct {
	ffmpeg        string
	offsetSeconds float64
	width         int
	logger        *slog.Logger
}

// Option customizes the worker.
type Option func(*Worker)

// WithFFmpeg overrides the ffmpeg binary.
func WithFFmpeg(binary string) Option {
	return func(w *Worker) {
		if binary != "" {
			w.ffmpeg = binary
		}
	}
}

// New builds a thumbnail worker from configuration.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *Worker {
	if logger == nil {
		logger = logging.NewNop()
	}
	w := &Worker{
		ffmpeg:        cfg.FFmpegBinary(),
		offsetSeconds: cfg.Thumbnail.OffsetSeconds,
		width:         cfg.Thumbnail.Width,
		logger:        logging.NewComponentLogger(logger, "thumbnail"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Phases declares a single implicit phase.
func (w *Worker) Phases() progress.Phases {
	return progress.Single("")
}

// Process seeks to the configured offset and writes one JPEG frame.
// The request option "offset_seconds" overrides the configured offset.
func (w *Worker) Process(ctx context.Context, req stage.Request, reporter stage.Reporter) (*jobs.Output, error) {
	offset := w.offsetSeconds
	if raw := req.Option("offset_seconds", ""); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed < 0 {
			return nil, services.Wrap(services.ErrValidation, string(jobs.StageThumbnail), "parse offset",
				fmt.Sprintf("invalid offset_seconds %q", raw), err)
		}
		offset = parsed
	}
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrStageExecution, string(jobs.StageThumbnail), "create output dir", req.OutputDir, err)
	}
	target := filepath.Join(req.OutputDir, FileName)
	args := []string{
		"-hide_banner", "-y",
		"-ss", strconv.FormatFloat(offset, 'f', 3, 64),
		"-i", mediatool.InputArg(req.SourceURL),
		"-frames:v", "1",
		"-vf", fmt.Sprintf("scale=%d:-2", w.width),
		"-q:v", "2",
		target,
	}
	logging.WithContext(ctx, w.logger).Debug("grabbing thumbnail",
		logging.String("source", req.SourceURL),
		logging.Float64("offset_seconds", offset),
	)
	reporter.Progress("", 10)
	if err := mediatool.Run(ctx, mediatool.Command{
		Stage:     string(jobs.StageThumbnail),
		Operation: "grab frame",
		Binary:    w.ffmpeg,
		Args:      args,
	}); err != nil {
		return nil, err
	}
	info, err := os.Stat(target)
	if err != nil || info.Size() == 0 {
		return nil, services.Wrap(services.ErrExternalTool, string(jobs.StageThumbnail), "grab frame",
			"ffmpeg produced no frame; offset may be past the end of the source", err)
	}
	reporter.Progress("", 100)
	return jobs.NewThumbnailOutput(jobs.ThumbnailOutput{
		Path:          target,
		Width:         w.width,
		OffsetSeconds: offset,
	}), nil
}

// HealthCheck verifies ffmpeg is resolvable.
func (w *Worker) HealthCheck(context.Context) stage.Health {
	if _, err := exec.LookPath(w.ffmpeg); err != nil {
		return stage.Unhealthy(jobs.StageThumbnail, "%s not found", w.ffmpeg)
	}
	return stage.Healthy(jobs.StageThumbnail)
}

var _ stage.Worker = (*Worker)(nil)
