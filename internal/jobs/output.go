package jobs

import (
	"encoding/json"
	"fmt"
)

// Output is the result of a completed task. Exactly one payload is set and it
// must match Stage.
type Output struct {
	Stage      Stage             `json:"stage"`
	Thumbnail  *ThumbnailOutput  `json:"thumbnail,omitempty"`
	Subtitle   *SubtitleOutput   `json:"subtitle,omitempty"`
	Enrichment *EnrichmentOutput `json:"enrichment,omitempty"`
	Transcode  *TranscodeOutput  `json:"transcode,omitempty"`
}

// ThumbnailOutput describes the extracted poster frame.
type ThumbnailOutput struct {
	Path          string  `json:"path"`
	Width         int     `json:"width"`
	OffsetSeconds float64 `json:"offsetSeconds"`
}

// SubtitleTrack is one subtitle file in a given language.
type SubtitleTrack struct {
	Language string `json:"language"`
	Path     string `json:"path"`
}

// SubtitleOutput holds the transcription and its translations.
type SubtitleOutput struct {
	SourceLanguage string          `json:"sourceLanguage"`
	Tracks         []SubtitleTrack `json:"tracks"`
	TranscriptPath string          `json:"transcriptPath,omitempty"`
	Transcript     string          `json:"transcript,omitempty"`
}

// Track returns the subtitle track for a language.
func (s *SubtitleOutput) Track(language string) (SubtitleTrack, bool) {
	if s == nil {
		return SubtitleTrack{}, false
	}
	for _, track := range s.Tracks {
		if track.Language == language {
			return track, true
		}
	}
	return SubtitleTrack{}, false
}

// Chapter marks a titled position in the media.
type Chapter struct {
	StartSeconds float64 `json:"startSeconds"`
	Title        string  `json:"title"`
}

// EnrichmentOutput carries AI generated metadata.
type EnrichmentOutput struct {
	Title    string    `json:"title"`
	Summary  string    `json:"summary"`
	Tags     []string  `json:"tags,omitempty"`
	Chapters []Chapter `json:"chapters,omitempty"`
}

// Rendition is one encoded variant of the source.
type Rendition struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	SizeBytes int64  `json:"sizeBytes"`
}

// TranscodeOutput lists the encoded artifacts.
type TranscodeOutput struct {
	Path         string      `json:"path"`
	Renditions   []Rendition `json:"renditions"`
	ChaptersPath string      `json:"chaptersPath,omitempty"`
}

// NewThumbnailOutput wraps a thumbnail payload.
func NewThumbnailOutput(payload ThumbnailOutput) *Output {
	return &Output{Stage: StageThumbnail, Thumbnail: &payload}
}

// NewSubtitleOutput wraps a subtitle payload.
func NewSubtitleOutput(payload SubtitleOutput) *Output {
	return &Output{Stage: StageSubtitle, Subtitle: &payload}
}

// NewEnrichmentOutput wraps an enrichment payload.
func NewEnrichmentOutput(payload EnrichmentOutput) *Output {
	return &Output{Stage: StageEnrichment, Enrichment: &payload}
}

// NewTranscodeOutput wraps a transcode payload.
func NewTranscodeOutput(payload TranscodeOutput) *Output {
	return &Output{Stage: StageTranscode, Transcode: &payload}
}

// Validate ensures exactly one payload is present and that it matches Stage.
func (o *Output) Validate() error {
	if o == nil {
		return fmt.Errorf("output is nil")
	}
	set := 0
	var payloadStage Stage
	if o.Thumbnail != nil {
		set++
		payloadStage = StageThumbnail
	}
	if o.Subtitle != nil {
		set++
		payloadStage = StageSubtitle
	}
	if o.Enrichment != nil {
		set++
		payloadStage = StageEnrichment
	}
	if o.Transcode != nil {
		set++
		payloadStage = StageTranscode
	}
	switch {
	case set == 0:
		return fmt.Errorf("%s output has no payload", o.Stage)
	case set > 1:
		return fmt.Errorf("%s output has %d payloads", o.Stage, set)
	case payloadStage != o.Stage:
		return fmt.Errorf("output tagged %s carries a %s payload", o.Stage, payloadStage)
	}
	return nil
}

// MarshalOutput encodes an output for persistence. A nil output encodes as an
// empty string.
func MarshalOutput(o *Output) (string, error) {
	if o == nil {
		return "", nil
	}
	if err := o.Validate(); err != nil {
		return "", err
	}
	data, err := json.Marshal(o)
	if err != nil {
		return "", fmt.Errorf("encode output: %w", err)
	}
	return string(data), nil
}

// UnmarshalOutput decodes a persisted output. Empty input yields nil.
func UnmarshalOutput(raw string) (*Output, error) {
	if raw == "" {
		return nil, nil
	}
	var out Output
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode output: %w", err)
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return &out, nil
}
