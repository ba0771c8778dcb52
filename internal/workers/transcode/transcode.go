// Package transcode encodes the source with Drapto and, when enrichment ran,
// writes its chapters next to the encode as an ffmetadata sidecar.
package transcode

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"mediaflow/internal/config"
	"mediaflow/internal/jobs"
	"mediaflow/internal/logging"
	"mediaflow/internal/progress"
	"mediaflow/internal/services"
	"mediaflow/internal/services/drapto"
	"mediaflow/internal/stage"
	"mediaflow/internal/workers/mediatool"
)

// Worker runs the Drapto encode.
type Worker struct {
	client        drapto.Client
	writeChapters bool
	probeBinaries []string
	logger        *slog.Logger
}

// New builds the transcode worker. A nil client uses the Drapto library.
func New(cfg *config.Config, client drapto.Client, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = logging.NewNop()
	}
	if client == nil {
		client = drapto.NewLibrary(cfg.Transcode.Responsive)
	}
	return &Worker{
		client:        client,
		writeChapters: cfg.Transcode.WriteChapters,
		probeBinaries: []string{cfg.FFmpegBinary(), cfg.FFprobeBinary()},
		logger:        logging.NewComponentLogger(logger, "transcode"),
	}
}

// Phases declares a single implicit phase.
func (w *Worker) Phases() progress.Phases {
	return progress.Single("")
}

// Process encodes a local source file into the task output directory.
func (w *Worker) Process(ctx context.Context, req stage.Request, reporter stage.Reporter) (*jobs.Output, error) {
	source, ok := mediatool.LocalPath(req.SourceURL)
	if !ok {
		return nil, services.Wrap(services.ErrValidation, string(jobs.StageTranscode), "resolve source",
			"transcode requires a local file source, got "+req.SourceURL, nil)
	}
	if _, err := os.Stat(source); err != nil {
		return nil, services.Wrap(services.ErrValidation, string(jobs.StageTranscode), "resolve source", "source file not readable", err)
	}
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrStageExecution, string(jobs.StageTranscode), "create output dir", req.OutputDir, err)
	}

	logger := logging.WithContext(ctx, w.logger)
	sampler := logging.NewProgressSampler(10)
	var result *drapto.EncodingResult
	onUpdate := func(update drapto.ProgressUpdate) {
		if update.Percent >= 0 {
			reporter.Progress("", update.Percent)
		}
		if update.Result != nil {
			result = update.Result
		}
		switch update.Type {
		case drapto.EventTypeWarning:
			logging.WarnWithContext(logger, "drapto warning", "drapto_warning", logging.String("message", update.Message))
		case drapto.EventTypeError:
			logging.ErrorWithContext(logger, "drapto error", "drapto_error", logging.String("message", update.Message))
		case drapto.EventTypeStageProgress, drapto.EventTypeEncodingProgress:
			if sampler.ShouldLog(update.Percent, update.Stage) {
				attrs := []logging.Attr{
					logging.Float64("progress_percent", update.Percent),
					logging.String("progress_stage", update.Stage),
				}
				if update.ETA > 0 {
					attrs = append(attrs, logging.Duration("progress_eta", update.ETA))
				}
				logger.Info("drapto progress", logging.Args(attrs...)...)
			}
		default:
			if update.Message != "" {
				logger.Debug("drapto event", logging.String("message", update.Message))
			}
		}
	}

	path, err := w.client.Encode(ctx, source, req.OutputDir, drapto.EncodeOptions{Progress: onUpdate})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, services.Wrap(services.ErrExternalTool, string(jobs.StageTranscode), "drapto encode", "encode failed", err)
	}
	if result != nil && strings.TrimSpace(result.OutputPath) != "" {
		path = result.OutputPath
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, string(jobs.StageTranscode), "drapto encode", "encoded file missing", err)
	}

	out := jobs.TranscodeOutput{
		Path:       path,
		Renditions: []jobs.Rendition{{Name: "av1", Path: path, SizeBytes: info.Size()}},
	}
	if meta := req.Inputs.Enrichment(); meta != nil && w.writeChapters && (len(meta.Chapters) > 0 || meta.Title != "") {
		sidecar, err := WriteChapters(path, meta)
		if err != nil {
			return nil, services.Wrap(services.ErrStageExecution, string(jobs.StageTranscode), "write chapters", sidecar, err)
		}
		out.ChaptersPath = sidecar
	}
	reporter.Progress("", 100)
	logger.Info("transcode complete",
		logging.String("output", path),
		logging.Int64("size_bytes", info.Size()),
		logging.Bool("chapters", out.ChaptersPath != ""),
	)
	return jobs.NewTranscodeOutput(out), nil
}

// HealthCheck verifies the ffmpeg tools Drapto shells out to.
func (w *Worker) HealthCheck(context.Context) stage.Health {
	for _, binary := range w.probeBinaries {
		if _, err := exec.LookPath(binary); err != nil {
			return stage.Unhealthy(jobs.StageTranscode, "%s not found", binary)
		}
	}
	return stage.Healthy(jobs.StageTranscode)
}

var _ stage.Worker = (*Worker)(nil)
