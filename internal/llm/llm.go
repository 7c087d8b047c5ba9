// Package llm provides the model invocation capability used by generation.
//
// Every provider implements Client. Calls are rate limited per client and
// failures are mapped onto a small error taxonomy (ErrRateLimited, ErrAuth,
// ErrModelNotFound, *ProviderError) so callers can decide what to retry
// without knowing which provider produced the error.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Mantoine56/spec-bot/internal/config"
	"golang.org/x/time/rate"
)

// Role tags a message for the provider.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged prompt message.
type Message struct {
	Role    Role
	Content string
}

// Options tune a single generation call.
type Options struct {
	MaxTokens   int
	Temperature float64
}

// Usage reports token accounting.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Response is the result of a generation call.
type Response struct {
	Content  string
	Usage    Usage
	Model    string
	Provider string
	Metadata map[string]string
}

// Client generates text from role-tagged messages.
type Client interface {
	Generate(ctx context.Context, messages []Message, opts Options) (*Response, error)
	Provider() string
	Model() string
}

// Provider names.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	defaultOpenAIBaseURL    = "https://api.openai.com"
	defaultOllamaBaseURL    = "http://localhost:11434"
	defaultTimeout          = 120 * time.Second
	defaultMaxTokens        = 4000

	// 50 requests per minute with bursts of 5.
	defaultRateLimit = 50.0 / 60.0
	defaultBurst     = 5
)

// Config selects and configures a provider.
type Config struct {
	Provider string
	Model    string
	APIKey   config.Secret
	BaseURL  string
	Timeout  time.Duration

	// Keys holds the API key of every configured provider so that
	// WithModel can switch providers.
	Keys map[string]config.Secret

	// HTTPClient overrides the default client, for tests.
	HTTPClient *http.Client
	// Limiter overrides the default rate limiter.
	Limiter *rate.Limiter
}

// ConfigFrom builds a Config from the application LLM settings.
func ConfigFrom(c config.LLMConfig) Config {
	return Config{
		Provider: c.Provider,
		Model:    c.Model,
		APIKey:   c.APIKey(),
		BaseURL:  c.BaseURL,
		Timeout:  c.Timeout.Duration(),
		Keys: map[string]config.Secret{
			ProviderOpenAI:    c.OpenAIKey,
			ProviderAnthropic: c.AnthropicKey,
		},
	}
}

// WithModel returns a copy of cfg using provider and model when set.
// Switching provider drops the base model, URL and key in favor of the
// new provider's defaults.
func (c Config) WithModel(provider, model string) Config {
	if provider != "" && provider != c.Provider {
		c.Provider = provider
		c.Model = ""
		c.BaseURL = ""
		c.APIKey = c.Keys[provider]
	}
	if model != "" {
		c.Model = model
	}
	return c
}

// DefaultModel returns the model used when none is configured for provider.
func DefaultModel(provider string) string {
	switch provider {
	case ProviderAnthropic:
		return "claude-sonnet-4-20250514"
	case ProviderOpenAI:
		return "gpt-4.1"
	case ProviderOllama:
		return "llama3"
	}
	return ""
}

// New creates the client for cfg.Provider.
func New(cfg Config) (Client, error) {
	switch cfg.Provider {
	case ProviderAnthropic:
		return newAnthropicClient(cfg)
	case ProviderOpenAI:
		return newOpenAIClient(cfg)
	case ProviderOllama:
		return newOllamaClient(cfg)
	}
	return nil, fmt.Errorf("unknown llm provider: %q", cfg.Provider)
}

func (c Config) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

func (c Config) limiter() *rate.Limiter {
	if c.Limiter != nil {
		return c.Limiter
	}
	return rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst)
}

func (c Config) baseURL(def string) string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return def
}

func maxTokens(opts Options) int {
	if opts.MaxTokens > 0 {
		return opts.MaxTokens
	}
	return defaultMaxTokens
}

// splitSystem lifts system messages out of the conversation.
func splitSystem(messages []Message) (string, []Message) {
	var system string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}
