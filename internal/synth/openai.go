package synth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient calls the OpenAI chat completions API.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	temperature float32
	timeout     time.Duration

	// Stats records call latencies for the /api/stats/llm endpoint.
	Stats *Stats
}

func NewOpenAIClient(apiKey, model string, timeout time.Duration) *OpenAIClient {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OpenAIClient{
		client:      openai.NewClient(apiKey),
		model:       model,
		temperature: 0.3,
		timeout:     timeout,
		Stats:       NewStats(time.Hour),
	}
}

// Model returns the configured model name.
func (c *OpenAIClient) Model() string { return c.model }

// Synthesize performs one completion call with a bounded timeout.
// Failures are classified into SynthesisError causes so the resolver
// can decide what to retry.
func (c *OpenAIClient) Synthesize(ctx context.Context, req Request) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		MaxTokens:   req.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildUserPrompt(req)},
		},
	})
	if c.Stats != nil {
		c.Stats.Record(time.Since(start).Milliseconds())
	}
	if err != nil {
		return "", classifyErr(err)
	}
	if len(resp.Choices) == 0 {
		return "", &SynthesisError{Cause: CauseEmpty, Message: "no choices in completion"}
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", &SynthesisError{Cause: CauseEmpty, Message: "empty completion"}
	}
	return text, nil
}

func classifyErr(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return &SynthesisError{Cause: CauseRateLimit, Message: apiErr.Message}
		case apiErr.HTTPStatusCode == http.StatusBadRequest &&
			strings.Contains(strings.ToLower(apiErr.Message), "content"):
			return &SynthesisError{Cause: CausePolicy, Message: apiErr.Message}
		case apiErr.HTTPStatusCode >= 500:
			return &SynthesisError{Cause: CauseTransport, Message: apiErr.Message}
		default:
			return &SynthesisError{Cause: CausePolicy, Message: apiErr.Message}
		}
	}
	// Network errors, timeouts, connection resets.
	return &SynthesisError{Cause: CauseTransport, Message: err.Error()}
}
