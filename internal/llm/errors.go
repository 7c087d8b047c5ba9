package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrRateLimited   = errors.New("rate limited by provider")
	ErrAuth          = errors.New("provider authentication failed")
	ErrModelNotFound = errors.New("model not found")
	ErrEmptyResponse = errors.New("empty response from provider")
	ErrMissingAPIKey = errors.New("api key required")
)

// ProviderError is any other provider failure.
type ProviderError struct {
	Provider   string
	StatusCode int // 0 for transport failures
	Message    string
	Retryable  bool
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("%s: API error (%d): %s", e.Provider, e.StatusCode, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is worth retrying after a delay.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Retryable
}

// statusError maps a non-2xx response onto the taxonomy. message is the
// provider's error text, falling back to the raw body.
func statusError(provider string, status int, message string) error {
	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%s: %w: %s", provider, ErrRateLimited, message)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%s: %w: %s", provider, ErrAuth, message)
	case status == http.StatusNotFound || mentionsMissingModel(message):
		return fmt.Errorf("%s: %w: %s", provider, ErrModelNotFound, message)
	}
	return &ProviderError{
		Provider:   provider,
		StatusCode: status,
		Message:    message,
		Retryable:  status >= 500,
	}
}

func mentionsMissingModel(message string) bool {
	m := strings.ToLower(message)
	return strings.Contains(m, "model") &&
		(strings.Contains(m, "not found") || strings.Contains(m, "does not exist"))
}

func transportError(provider string, err error) error {
	return &ProviderError{
		Provider:  provider,
		Message:   "request failed: " + err.Error(),
		Retryable: true,
		Err:       err,
	}
}
