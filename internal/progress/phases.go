package progress

import (
	"fmt"
	"math"
	"strings"
)

// weightTolerance bounds the rounding slack allowed when weights sum to 1.
const weightTolerance = 1e-6

// Phase names used by the subtitle stage.
const (
	PhaseExtract    = "extract"
	PhaseTranscribe = "transcribe"
	PhaseTranslate  = "translate"
)

// Phase is one weighted slice of a stage's 0-100 progress range.
type Phase struct {
	Name   string
	Weight float64
}

// Phases is an ordered list of phases whose weights sum to 1.
type Phases []Phase

// Single returns a one-phase layout for stages without internal phases.
func Single(name string) Phases {
	return Phases{{Name: name, Weight: 1}}
}

// Validate checks names are unique and weights are non-negative and sum to 1.
func (p Phases) Validate() error {
	if len(p) == 0 {
		return fmt.Errorf("no phases declared")
	}
	seen := make(map[string]struct{}, len(p))
	total := 0.0
	for _, phase := range p {
		if _, dup := seen[phase.Name]; dup {
			return fmt.Errorf("phase %q declared twice", phase.Name)
		}
		seen[phase.Name] = struct{}{}
		if phase.Weight < 0 || math.IsNaN(phase.Weight) {
			return fmt.Errorf("phase %q has invalid weight %v", phase.Name, phase.Weight)
		}
		total += phase.Weight
	}
	if math.Abs(total-1) > weightTolerance {
		return fmt.Errorf("phase weights sum to %.6f, want 1", total)
	}
	return nil
}

// Names lists phase names in order.
func (p Phases) Names() []string {
	names := make([]string, 0, len(p))
	for _, phase := range p {
		names = append(names, phase.Name)
	}
	return names
}

// TranslatePhase names the translation phase for one target language.
func TranslatePhase(language string) string {
	return PhaseTranslate + ":" + strings.ToLower(strings.TrimSpace(language))
}

// SubtitlePhases builds extract, transcribe, and one translate phase per
// target language, splitting the translate weight evenly. Without target
// languages the translate weight is redistributed over the remaining phases
// in proportion to their weights.
func SubtitlePhases(extract, transcribe, translate float64, languages []string) (Phases, error) {
	if len(languages) == 0 {
		base := extract + transcribe
		if base <= 0 {
			return nil, fmt.Errorf("extract and transcribe weights are zero")
		}
		phases := Phases{
			{Name: PhaseExtract, Weight: extract / base},
			{Name: PhaseTranscribe, Weight: transcribe / base},
		}
		return phases, phases.Validate()
	}
	phases := Phases{
		{Name: PhaseExtract, Weight: extract},
		{Name: PhaseTranscribe, Weight: transcribe},
	}
	share := translate / float64(len(languages))
	for _, lang := range languages {
		phases = append(phases, Phase{Name: TranslatePhase(lang), Weight: share})
	}
	return phases, phases.Validate()
}
