// Package workers assembles the production stage registry: one worker per
// stage and the dependency declarations between them.
package workers

import (
	"log/slog"

	"mediaflow/internal/config"
	"mediaflow/internal/jobs"
	"mediaflow/internal/services/drapto"
	"mediaflow/internal/services/llm"
	"mediaflow/internal/stage"
	"mediaflow/internal/workers/enrichment"
	"mediaflow/internal/workers/subtitle"
	"mediaflow/internal/workers/thumbnail"
	"mediaflow/internal/workers/transcode"
)

// Options overrides the external clients, mainly for tests.
type Options struct {
	LLM       llm.Completer
	Drapto    drapto.Client
	Tokenizer llm.Tokenizer
}

// NewRegistry registers every stage worker. Enrichment requires the subtitle
// output; transcode uses enrichment metadata when it is present.
func NewRegistry(cfg *config.Config, logger *slog.Logger, opts Options) (*stage.Registry, error) {
	client := opts.LLM
	if client == nil {
		llmCfg := cfg.GetLLM()
		client = llm.NewClient(llm.Config{
			APIKey:         llmCfg.APIKey,
			BaseURL:        llmCfg.BaseURL,
			Model:          llmCfg.Model,
			TimeoutSeconds: llmCfg.TimeoutSeconds,
			MaxRetries:     llmCfg.MaxRetries,
		})
	}

	subtitleWorker, err := subtitle.New(cfg, client, logger)
	if err != nil {
		return nil, err
	}

	registry := stage.NewRegistry()
	registry.Register(jobs.StageThumbnail, thumbnail.New(cfg, logger))
	registry.Register(jobs.StageSubtitle, subtitleWorker)
	registry.Register(jobs.StageEnrichment, enrichment.New(cfg, client, logger, enrichment.WithTokenizer(opts.Tokenizer)), stage.Requires(jobs.StageSubtitle))
	registry.Register(jobs.StageTranscode, transcode.New(cfg, opts.Drapto, logger), stage.Uses(jobs.StageEnrichment))
	return registry, nil
}
