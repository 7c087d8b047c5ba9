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

const anthropicVersion = "2023-06-01"

// anthropicClient talks to the Anthropic Messages API.
type anthropicClient struct {
	model      string
	apiKey     config.Secret
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func newAnthropicClient(cfg Config) (*anthropicClient, error) {
	if !cfg.APIKey.IsSet() {
		return nil, fmt.Errorf("anthropic: %w", ErrMissingAPIKey)
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel(ProviderAnthropic)
	}
	return &anthropicClient{
		model:      model,
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.baseURL(defaultAnthropicBaseURL), "/"),
		httpClient: cfg.httpClient(),
		limiter:    cfg.limiter(),
	}, nil
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	Temperature float64            `json:"temperature"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID      string `json:"id"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *anthropicClient) Provider() string { return ProviderAnthropic }
func (a *anthropicClient) Model() string    { return a.model }

// Generate sends messages to /v1/messages. System messages are lifted into
// the top-level system field.
func (a *anthropicClient) Generate(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	system, rest := splitSystem(messages)
	req := anthropicRequest{
		Model:       a.model,
		MaxTokens:   maxTokens(opts),
		System:      system,
		Temperature: opts.Temperature,
		Messages:    make([]anthropicMessage, 0, len(rest)),
	}
	for _, m := range rest {
		req.Messages = append(req.Messages, anthropicMessage{Role: string(m.Role), Content: m.Content})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", a.apiKey.Value())
	httpReq.Header.Set("Anthropic-Version", anthropicVersion)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportError(ProviderAnthropic, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(ProviderAnthropic, err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := string(data)
		var errResp anthropicError
		if json.Unmarshal(data, &errResp) == nil && errResp.Error.Message != "" {
			msg = errResp.Error.Message
		}
		return nil, statusError(ProviderAnthropic, resp.StatusCode, msg)
	}

	var out anthropicResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &ProviderError{Provider: ProviderAnthropic, StatusCode: resp.StatusCode, Message: "failed to parse response: " + err.Error()}
	}

	var text strings.Builder
	for _, c := range out.Content {
		if c.Type == "text" {
			text.WriteString(c.Text)
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("anthropic: %w", ErrEmptyResponse)
	}

	return &Response{
		Content:  text.String(),
		Model:    out.Model,
		Provider: ProviderAnthropic,
		Usage: Usage{
			InputTokens:  out.Usage.InputTokens,
			OutputTokens: out.Usage.OutputTokens,
			TotalTokens:  out.Usage.InputTokens + out.Usage.OutputTokens,
		},
		Metadata: map[string]string{
			"id":          out.ID,
			"stop_reason": out.StopReason,
		},
	}, nil
}
