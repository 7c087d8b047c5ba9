package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Mantoine56/spec-bot/internal/config"
	"golang.org/x/time/rate"
)

// openAIClient talks to the OpenAI Chat Completions API.
type openAIClient struct {
	model      string
	apiKey     config.Secret
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func newOpenAIClient(cfg Config) (*openAIClient, error) {
	if !cfg.APIKey.IsSet() {
		return nil, fmt.Errorf("openai: %w", ErrMissingAPIKey)
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel(ProviderOpenAI)
	}
	return &openAIClient{
		model:      model,
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.baseURL(defaultOpenAIBaseURL), "/"),
		httpClient: cfg.httpClient(),
		limiter:    cfg.limiter(),
	}, nil
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type openAIError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func (o *openAIClient) Provider() string { return ProviderOpenAI }
func (o *openAIClient) Model() string    { return o.model }

// Generate sends messages to /v1/chat/completions.
func (o *openAIClient) Generate(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req := openAIRequest{
		Model:       o.model,
		MaxTokens:   maxTokens(opts),
		Temperature: opts.Temperature,
		Messages:    make([]openAIMessage, 0, len(messages)),
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openAIMessage{Role: string(m.Role), Content: m.Content})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey.Value())

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportError(ProviderOpenAI, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(ProviderOpenAI, err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := string(data)
		var errResp openAIError
		if json.Unmarshal(data, &errResp) == nil && errResp.Error.Message != "" {
			msg = errResp.Error.Message
			if errResp.Error.Code == "model_not_found" {
				return nil, fmt.Errorf("%s: %w: %s", ProviderOpenAI, ErrModelNotFound, msg)
			}
		}
		return nil, statusError(ProviderOpenAI, resp.StatusCode, msg)
	}

	var out openAIResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &ProviderError{Provider: ProviderOpenAI, StatusCode: resp.StatusCode, Message: "failed to parse response: " + err.Error()}
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		return nil, fmt.Errorf("openai: %w", ErrEmptyResponse)
	}

	return &Response{
		Content:  out.Choices[0].Message.Content,
		Model:    out.Model,
		Provider: ProviderOpenAI,
		Usage: Usage{
			InputTokens:  out.Usage.PromptTokens,
			OutputTokens: out.Usage.CompletionTokens,
			TotalTokens:  out.Usage.TotalTokens,
		},
		Metadata: map[string]string{
			"id":            out.ID,
			"finish_reason": out.Choices[0].FinishReason,
		},
	}, nil
}
