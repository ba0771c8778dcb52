// Package llm provides the chat client shared by the subtitle translation and
// enrichment stages.
//
// Requests go through github.com/openai/openai-go/v2 against any
// OpenAI-compatible endpoint in JSON mode. The SDK owns transport retries
// (408/409/429/5xx with backoff, bounded by max_retries); this package adds
// prompt validation, tolerant JSON decoding of model output and token budgeting.
//
// # Entry Points
//
// NewClient: construct a client from Config.
// Client.CompleteJSON: send system/user prompts, receive a JSON payload.
// Client.HealthCheck: verify the API key and model are usable.
// DecodeLLMJSON: decode model output, stripping code fences and chatter.
// NewTokenizer / Truncate: keep prompts inside a token budget.
//
// When the API key is empty, callers treat the LLM as unavailable and report
// their stage unhealthy rather than failing at request time.
package llm
