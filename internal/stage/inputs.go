package stage

import (
	"fmt"

	"mediaflow/internal/jobs"
	"mediaflow/internal/services"
)

// Inputs holds upstream outputs keyed by the stage that produced them.
type Inputs map[jobs.Stage]*jobs.Output

// Get returns the output of an upstream stage.
func (in Inputs) Get(stage jobs.Stage) (*jobs.Output, bool) {
	out, ok := in[stage]
	return out, ok && out != nil
}

// Thumbnail returns the thumbnail payload when present.
func (in Inputs) Thumbnail() *jobs.ThumbnailOutput {
	if out, ok := in.Get(jobs.StageThumbnail); ok {
		return out.Thumbnail
	}
	return nil
}

// Subtitle returns the subtitle payload when present.
func (in Inputs) Subtitle() *jobs.SubtitleOutput {
	if out, ok := in.Get(jobs.StageSubtitle); ok {
		return out.Subtitle
	}
	return nil
}

// Enrichment returns the enrichment payload when present.
func (in Inputs) Enrichment() *jobs.EnrichmentOutput {
	if out, ok := in.Get(jobs.StageEnrichment); ok {
		return out.Enrichment
	}
	return nil
}

// Transcode returns the transcode payload when present.
func (in Inputs) Transcode() *jobs.TranscodeOutput {
	if out, ok := in.Get(jobs.StageTranscode); ok {
		return out.Transcode
	}
	return nil
}

// RequireSubtitle returns the subtitle payload or a dependency error suitable
// for returning from Process.
func (in Inputs) RequireSubtitle(consumer jobs.Stage) (*jobs.SubtitleOutput, error) {
	if sub := in.Subtitle(); sub != nil {
		return sub, nil
	}
	return nil, services.Wrap(services.ErrDependencyUnavailable, string(consumer), "load subtitle input",
		fmt.Sprintf("%s output is required", jobs.StageSubtitle), nil)
}
