package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/schema"
	"golang.org/x/time/rate"
)

// ollamaClient runs models on a local Ollama server through langchaingo.
type ollamaClient struct {
	model   string
	llm     llms.Model
	limiter *rate.Limiter
}

func newOllamaClient(cfg Config) (*ollamaClient, error) {
	model := cfg.Model
	if model == "" {
		model = DefaultModel(ProviderOllama)
	}
	llm, err := ollama.New(
		ollama.WithModel(model),
		ollama.WithServerURL(cfg.baseURL(defaultOllamaBaseURL)),
		ollama.WithHTTPClient(cfg.httpClient()),
	)
	if err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}
	return &ollamaClient{model: model, llm: llm, limiter: cfg.limiter()}, nil
}

func (o *ollamaClient) Provider() string { return ProviderOllama }
func (o *ollamaClient) Model() string    { return o.model }

// Generate runs a chat completion.
func (o *ollamaClient) Generate(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		content = append(content, llms.TextParts(chatType(m.Role), m.Content))
	}

	resp, err := o.llm.GenerateContent(ctx, content,
		llms.WithMaxTokens(maxTokens(opts)),
		llms.WithTemperature(opts.Temperature),
	)
	if err != nil {
		return nil, ollamaError(err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Content == "" {
		return nil, fmt.Errorf("ollama: %w", ErrEmptyResponse)
	}

	choice := resp.Choices[0]
	usage := Usage{
		InputTokens:  intInfo(choice.GenerationInfo, "PromptTokens"),
		OutputTokens: intInfo(choice.GenerationInfo, "CompletionTokens"),
	}
	usage.TotalTokens = usage.InputTokens + usage.OutputTokens

	return &Response{
		Content:  choice.Content,
		Model:    o.model,
		Provider: ProviderOllama,
		Usage:    usage,
		Metadata: map[string]string{"stop_reason": choice.StopReason},
	}, nil
}

func chatType(r Role) schema.ChatMessageType {
	switch r {
	case RoleSystem:
		return schema.ChatMessageTypeSystem
	case RoleAssistant:
		return schema.ChatMessageTypeAI
	}
	return schema.ChatMessageTypeHuman
}

// ollamaError maps langchaingo errors, which carry no status code, by text.
func ollamaError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return transportError(ProviderOllama, err)
	}
	msg := err.Error()
	if mentionsMissingModel(msg) {
		return fmt.Errorf("%s: %w: %s", ProviderOllama, ErrModelNotFound, msg)
	}
	return &ProviderError{
		Provider:  ProviderOllama,
		Message:   msg,
		Retryable: !strings.Contains(strings.ToLower(msg), "invalid"),
		Err:       err,
	}
}

func intInfo(info map[string]any, key string) int {
	switch v := info[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
