// Package subtitle extracts audio, transcribes it with whisper and translates
// the transcript into the configured target languages.
package subtitle

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"mediaflow/internal/config"
	"mediaflow/internal/jobs"
	"mediaflow/internal/logging"
	"mediaflow/internal/progress"
	"mediaflow/internal/services"
	"mediaflow/internal/services/llm"
	"mediaflow/internal/stage"
	"mediaflow/internal/workers/mediatool"
)

const (
	audioFile      = "audio.wav"
	transcriptFile = "transcript.txt"
)

// Worker runs the extract, transcribe and translate phases.
type Worker struct {
	ffmpeg         string
	whisper        string
	whisperModel   string
	sourceLanguage string
	languages      []string
	phases         progress.Phases
	llm            llm.Completer
	llmConfigured  bool
	logger         *slog.Logger
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

// WithWhisper overrides the whisper binary.
func WithWhisper(binary string) Option {
	return func(w *Worker) {
		if binary != "" {
			w.whisper = binary
		}
	}
}

// New builds a subtitle worker. client may be nil when no target languages
// are configured.
func New(cfg *config.Config, client llm.Completer, logger *slog.Logger, opts ...Option) (*Worker, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	source := strings.ToLower(strings.TrimSpace(cfg.Subtitle.SourceLanguage))
	var languages []string
	for _, lang := range cfg.Subtitle.Languages {
		lang = strings.ToLower(strings.TrimSpace(lang))
		if lang != "" && lang != source {
			languages = append(languages, lang)
		}
	}
	phases, err := progress.SubtitlePhases(cfg.Subtitle.ExtractWeight, cfg.Subtitle.TranscribeWeight, cfg.Subtitle.TranslateWeight, languages)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, string(jobs.StageSubtitle), "build phases", "invalid subtitle weights", err)
	}
	w := &Worker{
		ffmpeg:         cfg.FFmpegBinary(),
		whisper:        cfg.Subtitle.WhisperBinary,
		whisperModel:   cfg.Subtitle.WhisperModel,
		sourceLanguage: source,
		languages:      languages,
		phases:         phases,
		llm:            client,
		logger:         logging.NewComponentLogger(logger, "subtitle"),
	}
	if c, ok := client.(interface{ Configured() bool }); ok {
		w.llmConfigured = c.Configured()
	} else {
		w.llmConfigured = client != nil
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Phases returns extract, transcribe and one translate phase per language.
func (w *Worker) Phases() progress.Phases {
	return w.phases
}

// Process runs the three phases in order.
func (w *Worker) Process(ctx context.Context, req stage.Request, reporter stage.Reporter) (*jobs.Output, error) {
	logger := logging.WithContext(ctx, w.logger)
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrStageExecution, string(jobs.StageSubtitle), "create output dir", req.OutputDir, err)
	}

	audio, err := w.extract(ctx, req, reporter)
	if err != nil {
		return nil, err
	}
	cues, sourceTrack, err := w.transcribe(ctx, req, audio, reporter)
	if err != nil {
		return nil, err
	}
	logger.Info("transcription complete",
		logging.Int("cues", len(cues)),
		logging.String("language", w.sourceLanguage),
	)

	transcript := Transcript(cues)
	transcriptPath := filepath.Join(req.OutputDir, transcriptFile)
	if err := os.WriteFile(transcriptPath, []byte(transcript), 0o644); err != nil {
		return nil, services.Wrap(services.ErrStageExecution, string(jobs.StageSubtitle), "write transcript", transcriptPath, err)
	}

	tracks := []jobs.SubtitleTrack{{Language: w.sourceLanguage, Path: sourceTrack}}
	for _, lang := range w.languages {
		path, err := w.translateTrack(ctx, req, lang, cues, reporter)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, jobs.SubtitleTrack{Language: lang, Path: path})
		logger.Info("translation complete", logging.String("language", lang))
	}
	// Intermediate audio is large and not needed downstream.
	_ = os.Remove(audio)

	return jobs.NewSubtitleOutput(jobs.SubtitleOutput{
		SourceLanguage: w.sourceLanguage,
		Tracks:         tracks,
		TranscriptPath: transcriptPath,
		Transcript:     transcript,
	}), nil
}

func (w *Worker) extract(ctx context.Context, req stage.Request, reporter stage.Reporter) (string, error) {
	target := filepath.Join(req.OutputDir, audioFile)
	var tracker mediatool.FFmpegProgress
	reporter.Progress(progress.PhaseExtract, 0)
	err := mediatool.Run(ctx, mediatool.Command{
		Stage:     string(jobs.StageSubtitle),
		Operation: "extract audio",
		Binary:    w.ffmpeg,
		Args: []string{
			"-hide_banner", "-y",
			"-i", mediatool.InputArg(req.SourceURL),
			"-vn", "-ac", "1", "-ar", "16000",
			"-f", "wav",
			target,
		},
		OnLine: func(line string) {
			if percent, ok := tracker.Parse(line); ok {
				reporter.Progress(progress.PhaseExtract, percent)
			}
		},
	})
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(target); err != nil {
		return "", services.Wrap(services.ErrExternalTool, string(jobs.StageSubtitle), "extract audio", "ffmpeg produced no audio; source may lack an audio stream", err)
	}
	reporter.Progress(progress.PhaseExtract, 100)
	return target, nil
}

func (w *Worker) transcribe(ctx context.Context, req stage.Request, audio string, reporter stage.Reporter) ([]Cue, string, error) {
	reporter.Progress(progress.PhaseTranscribe, 0)
	args := []string{
		audio,
		"--model", w.whisperModel,
		"--output_format", "srt",
		"--output_dir", req.OutputDir,
		"--verbose", "False",
	}
	if w.sourceLanguage != "" {
		args = append(args, "--language", w.sourceLanguage)
	}
	err := mediatool.Run(ctx, mediatool.Command{
		Stage:     string(jobs.StageSubtitle),
		Operation: "transcribe",
		Binary:    w.whisper,
		Args:      args,
		OnLine: func(line string) {
			if percent, ok := mediatool.ParseBarPercent(line); ok {
				reporter.Progress(progress.PhaseTranscribe, percent)
			}
		},
	})
	if err != nil {
		return nil, "", err
	}

	raw := filepath.Join(req.OutputDir, strings.TrimSuffix(audioFile, filepath.Ext(audioFile))+".srt")
	cues, err := readSRT(raw)
	if err != nil {
		return nil, "", services.Wrap(services.ErrExternalTool, string(jobs.StageSubtitle), "transcribe", "whisper produced no readable subtitles", err)
	}
	if len(cues) == 0 {
		return nil, "", services.Wrap(services.ErrStageExecution, string(jobs.StageSubtitle), "transcribe", "no speech detected", nil)
	}
	track := filepath.Join(req.OutputDir, w.sourceLanguage+".srt")
	if err := os.Rename(raw, track); err != nil {
		return nil, "", services.Wrap(services.ErrStageExecution, string(jobs.StageSubtitle), "transcribe", "move subtitle track", err)
	}
	reporter.Progress(progress.PhaseTranscribe, 100)
	return cues, track, nil
}

func (w *Worker) translateTrack(ctx context.Context, req stage.Request, lang string, cues []Cue, reporter stage.Reporter) (string, error) {
	phase := progress.TranslatePhase(lang)
	reporter.Progress(phase, 0)
	if w.llm == nil {
		return "", services.Wrap(services.ErrConfiguration, string(jobs.StageSubtitle), "translate to "+lang, "no LLM client configured", nil)
	}
	translated, err := translate(ctx, w.llm, w.sourceLanguage, lang, cues, func(done float64) {
		reporter.Progress(phase, done*100)
	})
	if err != nil {
		return "", err
	}
	path := filepath.Join(req.OutputDir, lang+".srt")
	if err := os.WriteFile(path, []byte(FormatSRT(translated)), 0o644); err != nil {
		return "", services.Wrap(services.ErrStageExecution, string(jobs.StageSubtitle), "write "+lang+" track", path, err)
	}
	return path, nil
}

func readSRT(path string) ([]Cue, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseSRT(f)
}

// HealthCheck verifies ffmpeg, whisper and, when translating, the LLM key.
func (w *Worker) HealthCheck(context.Context) stage.Health {
	for _, binary := range []string{w.ffmpeg, w.whisper} {
		if _, err := exec.LookPath(binary); err != nil {
			return stage.Unhealthy(jobs.StageSubtitle, "%s not found", binary)
		}
	}
	if len(w.languages) > 0 && !w.llmConfigured {
		return stage.Unhealthy(jobs.StageSubtitle, "LLM api key required to translate into %s", strings.Join(w.languages, ", "))
	}
	return stage.Healthy(jobs.StageSubtitle)
}

var _ stage.Worker = (*Worker)(nil)
