package llm

import (
	"fmt"
	"sync"
)

// Registry hands out one Client per provider and model so that clients,
// and their rate limiters, are shared across workflows.
type Registry struct {
	base Config
	newC func(Config) (Client, error)

	mu      sync.Mutex
	clients map[string]Client
}

// NewRegistry creates a registry whose clients derive from base.
func NewRegistry(base Config) *Registry {
	return &Registry{
		base:    base,
		newC:    New,
		clients: make(map[string]Client),
	}
}

// Client returns the client for provider and model. Empty values fall back
// to the base configuration.
func (r *Registry) Client(provider, model string) (Client, error) {
	cfg := r.base.WithModel(provider, model)
	if cfg.Model == "" {
		cfg.Model = DefaultModel(cfg.Provider)
	}
	key := cfg.Provider + "/" + cfg.Model

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[key]; ok {
		return c, nil
	}
	c, err := r.newC(cfg)
	if err != nil {
		return nil, err
	}
	r.clients[key] = c
	return c, nil
}

// Default returns the client for the base configuration.
func (r *Registry) Default() (Client, error) {
	return r.Client("", "")
}

// CheckCredentials reports whether provider can be used without a network
// call. Providers that need a key return ErrMissingAPIKey when none is
// configured.
func (r *Registry) CheckCredentials(provider string) error {
	cfg := r.base.WithModel(provider, "")
	switch cfg.Provider {
	case ProviderOpenAI, ProviderAnthropic:
		if cfg.APIKey == "" {
			return fmt.Errorf("%s: %w", cfg.Provider, ErrMissingAPIKey)
		}
	}
	return nil
}
