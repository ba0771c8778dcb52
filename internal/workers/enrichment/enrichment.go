// Package enrichment asks the LLM for a title, summary, tags and chapters
// derived from the subtitle transcript.
package enrichment

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"mediaflow/internal/config"
	"mediaflow/internal/jobs"
	"mediaflow/internal/logging"
	"mediaflow/internal/progress"
	"mediaflow/internal/services"
	"mediaflow/internal/services/llm"
	"mediaflow/internal/stage"
)

const systemPrompt = `You write catalogue metadata for a video from its timestamped transcript.
Respond with JSON only, using this shape:
{"title": "...", "summary": "...", "tags": ["..."], "chapters": [{"start_seconds": 0, "title": "..."}]}
Rules:
- title: at most 80 characters.
- summary: two to four sentences.
- tags: at most %d short lowercase topics.
- chapters: ordered by start_seconds, taken from transcript timestamps; empty when the video has no distinct sections.`

type chapter struct {
	StartSeconds float64 `json:"start_seconds"`
	Title        string  `json:"title"`
}

type response struct {
	Title    string    `json:"title"`
	Summary  string    `json:"summary"`
	Tags     []string  `json:"tags"`
	Chapters []chapter `json:"chapters"`
}

// Worker produces enrichment metadata.
type Worker struct {
	client    llm.Completer
	maxTokens int
	maxTags   int
	logger    *slog.Logger

	encoding     string
	tokenizer    llm.Tokenizer
	loadTokenize sync.Once
}

// Option customizes the worker.
type Option func(*Worker)

// WithTokenizer overrides the tokenizer used for transcript budgeting.
func WithTokenizer(tok llm.Tokenizer) Option {
	return func(w *Worker) {
		if tok != nil {
			w.tokenizer = tok
		}
	}
}

// New builds the enrichment worker. The configured token encoding is loaded
// on first use; when it cannot be loaded the worker falls back to an
// approximate tokenizer.
func New(cfg *config.Config, client llm.Completer, logger *slog.Logger, opts ...Option) *Worker {
	if logger == nil {
		logger = logging.NewNop()
	}
	w := &Worker{
		client:    client,
		maxTokens: cfg.Enrichment.MaxTranscriptTokens,
		maxTags:   cfg.Enrichment.MaxTags,
		logger:    logging.NewComponentLogger(logger, "enrichment"),
		encoding:  cfg.Enrichment.TokenEncoding,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Worker) tokens() llm.Tokenizer {
	w.loadTokenize.Do(func() {
		if w.tokenizer != nil {
			return
		}
		tok, err := llm.NewTokenizer(w.encoding)
		if err != nil {
			logging.WarnWithContext(w.logger, "token encoding unavailable; using approximate budget", "tokenizer_fallback",
				logging.String("encoding", w.encoding),
				logging.Error(err),
				logging.String(logging.FieldImpact, "transcript truncation is approximate"),
				logging.String(logging.FieldErrorHint, "set TIKTOKEN_CACHE_DIR to a populated cache for offline hosts"),
			)
			tok = llm.ApproxTokenizer{}
		}
		w.tokenizer = tok
	})
	return w.tokenizer
}

// Phases declares a single implicit phase.
func (w *Worker) Phases() progress.Phases {
	return progress.Single("")
}

// Process requires the subtitle output and returns the parsed metadata.
func (w *Worker) Process(ctx context.Context, req stage.Request, reporter stage.Reporter) (*jobs.Output, error) {
	sub, err := req.Inputs.RequireSubtitle(jobs.StageEnrichment)
	if err != nil {
		return nil, err
	}
	transcript, err := loadTranscript(sub)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(transcript) == "" {
		return nil, services.Wrap(services.ErrValidation, string(jobs.StageEnrichment), "load transcript", "transcript is empty", nil)
	}

	logger := logging.WithContext(ctx, w.logger)
	tok := w.tokens()
	budgeted, truncated := llm.Truncate(tok, transcript, w.maxTokens)
	if truncated {
		logger.Info("transcript truncated to token budget",
			logging.Int("max_tokens", w.maxTokens),
			logging.Int("original_tokens", llm.Count(tok, transcript)),
		)
	}
	reporter.Progress("", 10)

	if w.client == nil {
		return nil, services.Wrap(services.ErrConfiguration, string(jobs.StageEnrichment), "generate metadata", "no LLM client configured", nil)
	}
	user := fmt.Sprintf("Media ID: %s\nTranscript language: %s\n\n%s", req.MediaID, sub.SourceLanguage, budgeted)
	content, err := w.client.CompleteJSON(ctx, fmt.Sprintf(systemPrompt, w.maxTags), user)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, llm.Classify(string(jobs.StageEnrichment), "generate metadata", err)
	}
	reporter.Progress("", 90)

	var parsed response
	if err := llm.DecodeLLMJSON(content, &parsed); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, string(jobs.StageEnrichment), "parse metadata", "LLM returned malformed JSON", err)
	}
	out, err := w.normalize(parsed)
	if err != nil {
		return nil, err
	}
	reporter.Progress("", 100)
	logger.Info("enrichment generated",
		logging.String("title", out.Title),
		logging.Int("tags", len(out.Tags)),
		logging.Int("chapters", len(out.Chapters)),
	)
	return jobs.NewEnrichmentOutput(out), nil
}

func (w *Worker) normalize(r response) (jobs.EnrichmentOutput, error) {
	out := jobs.EnrichmentOutput{
		Title:   strings.TrimSpace(r.Title),
		Summary: strings.TrimSpace(r.Summary),
	}
	if out.Title == "" {
		return out, services.Wrap(services.ErrExternalTool, string(jobs.StageEnrichment), "parse metadata", "LLM response has no title", nil)
	}
	seen := make(map[string]struct{}, len(r.Tags))
	for _, tag := range r.Tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out.Tags = append(out.Tags, tag)
		if w.maxTags > 0 && len(out.Tags) == w.maxTags {
			break
		}
	}
	for _, ch := range r.Chapters {
		title := strings.TrimSpace(ch.Title)
		if title == "" || ch.StartSeconds < 0 {
			continue
		}
		out.Chapters = append(out.Chapters, jobs.Chapter{StartSeconds: ch.StartSeconds, Title: title})
	}
	sort.SliceStable(out.Chapters, func(i, j int) bool {
		return out.Chapters[i].StartSeconds < out.Chapters[j].StartSeconds
	})
	return out, nil
}

func loadTranscript(sub *jobs.SubtitleOutput) (string, error) {
	if sub.Transcript != "" {
		return sub.Transcript, nil
	}
	if sub.TranscriptPath == "" {
		return "", nil
	}
	data, err := os.ReadFile(sub.TranscriptPath)
	if err != nil {
		return "", services.Wrap(services.ErrDependencyUnavailable, string(jobs.StageEnrichment), "load transcript", sub.TranscriptPath, err)
	}
	return string(data), nil
}

// HealthCheck reports whether an LLM client is configured.
func (w *Worker) HealthCheck(context.Context) stage.Health {
	if w.client == nil {
		return stage.Unhealthy(jobs.StageEnrichment, "LLM client not configured")
	}
	if c, ok := w.client.(interface{ Configured() bool }); ok && !c.Configured() {
		return stage.Unhealthy(jobs.StageEnrichment, "LLM api key not configured")
	}
	return stage.Healthy(jobs.StageEnrichment)
}

var _ stage.Worker = (*Worker)(nil)
