package oauth

import (
	"sort"

	pkgoauth "tether/pkg/oauth"
)

// ProviderInfo describes a supported provider for listings.
type ProviderInfo struct {
	ID   string
	Name string
}

// Providers lists every provider with a built-in flow.
func Providers() []ProviderInfo {
	return []ProviderInfo{
		{ID: ProviderAnthropic, Name: "Anthropic (Claude Pro/Max)"},
		{ID: ProviderOpenAICodex, Name: "ChatGPT Plus/Pro (Codex)"},
	}
}

// IsKnownProvider reports whether id names a built-in flow.
func IsKnownProvider(id string) bool {
	_, ok := defaultConfigs()[id]
	return ok
}

func defaultConfigs() map[string]Config {
	return map[string]Config{
		ProviderAnthropic:   anthropicDefaults(),
		ProviderOpenAICodex: codexDefaults(),
	}
}

// DefaultConfig returns the built-in configuration for provider.
func DefaultConfig(provider string) (Config, error) {
	cfg, ok := defaultConfigs()[provider]
	if !ok {
		return Config{}, &ConfigError{Provider: provider, Reason: "unknown provider"}
	}
	return cfg, nil
}

// Registry resolves provider ids to flows.
type Registry struct {
	flows   map[string]Flow
	configs map[string]Config
	client  *pkgoauth.Client
}

// NewRegistry builds one flow per known provider, overlaying overrides on the
// built-in endpoints. Overrides for unknown providers and overrides that
// produce an invalid configuration fail with a ConfigError.
func NewRegistry(overrides map[string]Config, opts ...pkgoauth.ClientOption) (*Registry, error) {
	client := pkgoauth.NewClient(opts...)
	defaults := defaultConfigs()

	for id := range overrides {
		if _, ok := defaults[id]; !ok {
			return nil, &ConfigError{Provider: id, Reason: "unknown provider"}
		}
	}

	r := &Registry{
		flows:   make(map[string]Flow, len(defaults)),
		configs: make(map[string]Config, len(defaults)),
		client:  client,
	}
	for id, cfg := range defaults {
		cfg = cfg.merge(overrides[id])
		if err := cfg.validate(id); err != nil {
			return nil, err
		}
		r.configs[id] = cfg
		r.flows[id] = newFlow(id, cfg, client)
	}
	return r, nil
}

func newFlow(id string, cfg Config, client *pkgoauth.Client) Flow {
	switch id {
	case ProviderAnthropic:
		return newAnthropicFlow(cfg, client)
	case ProviderOpenAICodex:
		return newCodexFlow(cfg, client)
	}
	return nil
}

// NewRegistryWithFlows wraps explicit flows, for hosts and tests that supply
// their own implementations.
func NewRegistryWithFlows(flows ...Flow) *Registry {
	r := &Registry{flows: make(map[string]Flow, len(flows))}
	for _, f := range flows {
		r.flows[f.Provider()] = f
	}
	return r
}

// Flow returns the flow for provider.
func (r *Registry) Flow(provider string) (Flow, error) {
	f, ok := r.flows[provider]
	if !ok {
		return nil, &ConfigError{Provider: provider, Reason: "unknown provider"}
	}
	return f, nil
}

// FlowWithRedirect returns a flow for provider that sends the user back to
// redirectURI instead of the configured one. The code obtained through it
// must be exchanged with the same flow. An empty redirectURI yields the
// configured flow.
func (r *Registry) FlowWithRedirect(provider, redirectURI string) (Flow, error) {
	if redirectURI == "" {
		return r.Flow(provider)
	}
	cfg, ok := r.configs[provider]
	if !ok {
		return nil, &ConfigError{Provider: provider, Field: "redirectURI", Reason: "provider does not support redirect overrides"}
	}
	cfg = cfg.merge(Config{RedirectURI: redirectURI})
	if err := cfg.validate(provider); err != nil {
		return nil, err
	}
	return newFlow(provider, cfg, r.client), nil
}

// IDs returns the registered provider ids, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.flows))
	for id := range r.flows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
