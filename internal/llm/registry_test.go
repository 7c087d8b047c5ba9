package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mantoine56/spec-bot/internal/config"
)

type stubClient struct {
	provider, model string
}

func (s *stubClient) Generate(context.Context, []Message, Options) (*Response, error) {
	return &Response{Content: "ok"}, nil
}
func (s *stubClient) Provider() string { return s.provider }
func (s *stubClient) Model() string    { return s.model }

func TestRegistry_CachesPerProviderAndModel(t *testing.T) {
	built := 0
	r := NewRegistry(Config{Provider: ProviderOpenAI, Model: "gpt-4.1", APIKey: "k"})
	r.newC = func(cfg Config) (Client, error) {
		built++
		return &stubClient{provider: cfg.Provider, model: cfg.Model}, nil
	}

	a, err := r.Default()
	require.NoError(t, err)
	b, err := r.Client(ProviderOpenAI, "gpt-4.1")
	require.NoError(t, err)
	assert.Same(t, a, b)

	c, err := r.Client("", "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", c.Model())
	assert.Equal(t, ProviderOpenAI, c.Provider())

	d, err := r.Client(ProviderOllama, "llama3")
	require.NoError(t, err)
	assert.Equal(t, ProviderOllama, d.Provider())

	assert.Equal(t, 3, built)
}

func TestRegistry_DoesNotCacheErrors(t *testing.T) {
	calls := 0
	r := NewRegistry(Config{Provider: ProviderAnthropic})
	r.newC = func(cfg Config) (Client, error) {
		calls++
		return nil, errors.New("no key")
	}

	_, err := r.Default()
	assert.Error(t, err)
	_, err = r.Default()
	assert.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestRegistry_MissingKey(t *testing.T) {
	r := NewRegistry(Config{Provider: ProviderAnthropic})
	_, err := r.Default()
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestRegistry_CheckCredentials(t *testing.T) {
	r := NewRegistry(Config{
		Provider: ProviderOpenAI,
		APIKey:   "k",
		Keys:     map[string]config.Secret{ProviderOpenAI: "k"},
	})

	assert.NoError(t, r.CheckCredentials(""))
	assert.NoError(t, r.CheckCredentials(ProviderOpenAI))
	assert.NoError(t, r.CheckCredentials(ProviderOllama))
	assert.ErrorIs(t, r.CheckCredentials(ProviderAnthropic), ErrMissingAPIKey)
}
