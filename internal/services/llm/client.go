package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"

	"mediaflow/internal/services"
)

const (
	defaultHTTPTimeout = 60 * time.Second
	defaultMaxRetries  = 2
)

// ErrNotConfigured is returned when no API key is available.
var ErrNotConfigured = errors.New("llm api key required")

// Config captures the runtime settings required to talk to the LLM.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	TimeoutSeconds int
	MaxRetries     int
}

// Completer is the subset of Client the stage workers depend on.
type Completer interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Client wraps the chat completion API.
type Client struct {
	cfg        Config
	api        openai.Client
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs an LLM client using the supplied configuration.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = defaultMaxRetries
	}
	client := &Client{
		cfg: Config{
			APIKey:         strings.TrimSpace(cfg.APIKey),
			BaseURL:        strings.TrimSpace(cfg.BaseURL),
			Model:          strings.TrimSpace(cfg.Model),
			TimeoutSeconds: int(timeout / time.Second),
			MaxRetries:     retries,
		},
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}

	requestOpts := []option.RequestOption{
		option.WithAPIKey(client.cfg.APIKey),
		option.WithMaxRetries(retries),
		option.WithRequestTimeout(timeout),
		option.WithHTTPClient(client.httpClient),
	}
	if client.cfg.BaseURL != "" {
		base := client.cfg.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		requestOpts = append(requestOpts, option.WithBaseURL(base))
	}
	client.api = openai.NewClient(requestOpts...)
	return client
}

// Configured reports whether the client has credentials.
func (c *Client) Configured() bool {
	return c != nil && c.cfg.APIKey != ""
}

// Model returns the configured model name.
func (c *Client) Model() string {
	if c == nil {
		return ""
	}
	return c.cfg.Model
}

type emptyContentError struct {
	Op           string
	FinishReason string
	Refusal      string
}

func (e *emptyContentError) Error() string {
	return fmt.Sprintf("%s: empty content (finish_reason=%q, refusal=%q)", e.Op, e.FinishReason, e.Refusal)
}

// CompleteJSON issues a JSON-only chat completion request with the supplied
// prompts and returns the raw JSON payload produced by the model.
func (c *Client) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	systemPrompt = strings.TrimSpace(systemPrompt)
	userPrompt = strings.TrimSpace(userPrompt)
	if systemPrompt == "" {
		return "", errors.New("llm complete: system prompt required")
	}
	if userPrompt == "" {
		return "", errors.New("llm complete: user prompt required")
	}
	if !c.Configured() {
		return "", fmt.Errorf("llm complete: %w", ErrNotConfigured)
	}
	return c.complete(ctx, "llm complete", systemPrompt, userPrompt)
}

// HealthCheck issues a fast ping to verify the API key and model are usable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.Configured() {
		return fmt.Errorf("llm health: %w", ErrNotConfigured)
	}
	content, err := c.complete(ctx, "llm health", "You must respond with JSON only.", `Respond with {"ok":true}`)
	if err != nil {
		return err
	}
	var parsed struct {
		OK bool `json:"ok"`
	}
	if err := DecodeLLMJSON(content, &parsed); err != nil {
		return fmt.Errorf("llm health: parse payload: %w", err)
	}
	if !parsed.OK {
		return errors.New("llm health: unexpected response")
	}
	return nil
}

func (c *Client) complete(ctx context.Context, op, systemPrompt, userPrompt string) (string, error) {
	completion, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.cfg.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		Temperature: openai.Float(0),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("%s: empty choices", op)
	}
	var finishReason, refusal string
	for _, choice := range completion.Choices {
		if content := strings.TrimSpace(choice.Message.Content); content != "" {
			return content, nil
		}
		if finishReason == "" {
			finishReason = choice.FinishReason
		}
		if refusal == "" {
			refusal = strings.TrimSpace(choice.Message.Refusal)
		}
	}
	return "", &emptyContentError{Op: op, FinishReason: finishReason, Refusal: refusal}
}

// StatusCode extracts the HTTP status from an API error, or 0.
func StatusCode(err error) int {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// Retryable reports whether a failed request is worth retrying at the stage
// level: rate limits, server errors and timeouts. Context cancellation is not.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var empty *emptyContentError
	if errors.As(err, &empty) {
		return true
	}
	switch code := StatusCode(err); {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return true
	case code >= http.StatusInternalServerError:
		return true
	}
	return false
}

// Classify wraps a request failure with the services error kind a stage
// should report: configuration for a missing key, transient for retryable
// failures, external tool otherwise.
func Classify(stage, operation string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotConfigured):
		return services.Wrap(services.ErrConfiguration, stage, operation, "LLM api key not configured", err)
	case Retryable(err):
		return services.Wrap(services.ErrTransient, stage, operation, "LLM temporarily unavailable", err)
	default:
		return services.Wrap(services.ErrExternalTool, stage, operation, "LLM request failed", err)
	}
}
