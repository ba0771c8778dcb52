package subtitle

import (
	"context"
	"encoding/json"
	"fmt"

	"mediaflow/internal/jobs"
	"mediaflow/internal/services/llm"
)

// batchSize bounds how many cues go into one translation request.
const batchSize = 40

const translateSystemPrompt = `You translate subtitle lines for a video.
Translate each input line from %s to %s. Keep line breaks, names and numbers.
Respond with JSON only: {"lines": ["..."]} with exactly %d strings in the same order as the input.`

type translationResponse struct {
	Lines []string `json:"lines"`
}

// translate returns cues with text translated into target, calling onBatch
// with the fraction completed after each request.
func translate(ctx context.Context, client llm.Completer, source, target string, cues []Cue, onBatch func(done float64)) ([]Cue, error) {
	out := make([]Cue, len(cues))
	copy(out, cues)
	for start := 0; start < len(cues); start += batchSize {
		end := min(start+batchSize, len(cues))
		lines := make([]string, 0, end-start)
		for _, cue := range cues[start:end] {
			lines = append(lines, cue.Text)
		}
		translated, err := translateBatch(ctx, client, source, target, lines)
		if err != nil {
			return nil, err
		}
		for i, text := range translated {
			out[start+i].Text = text
		}
		if onBatch != nil {
			onBatch(float64(end) / float64(len(cues)))
		}
	}
	return out, nil
}

func translateBatch(ctx context.Context, client llm.Completer, source, target string, lines []string) ([]string, error) {
	payload, err := json.Marshal(lines)
	if err != nil {
		return nil, err
	}
	system := fmt.Sprintf(translateSystemPrompt, source, target, len(lines))

	var lastErr error
	// One extra attempt covers a model that miscounts lines or a transient
	// rate limit; the SDK already retried the transport.
	for attempt := 0; attempt < 2; attempt++ {
		content, err := client.CompleteJSON(ctx, system, string(payload))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			if llm.Retryable(err) {
				continue
			}
			break
		}
		var resp translationResponse
		if err := llm.DecodeLLMJSON(content, &resp); err != nil {
			lastErr = err
			continue
		}
		if len(resp.Lines) != len(lines) {
			lastErr = fmt.Errorf("expected %d lines, got %d", len(lines), len(resp.Lines))
			continue
		}
		return resp.Lines, nil
	}
	return nil, llm.Classify(string(jobs.StageSubtitle), "translate to "+target, lastErr)
}
