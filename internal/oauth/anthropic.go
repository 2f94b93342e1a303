package oauth

import (
	"context"
	"strings"

	pkgoauth "tether/pkg/oauth"
)

// ProviderAnthropic is the vault key and flow id for Anthropic (Claude Pro/Max).
const ProviderAnthropic = "anthropic"

func anthropicDefaults() Config {
	return Config{
		ClientID:     "9d1c250a-e61b-44d9-88ed-5944d1962f5e",
		AuthorizeURL: "https://claude.ai/oauth/authorize",
		TokenURL:     "https://console.anthropic.com/v1/oauth/token",
		RedirectURI:  "https://console.anthropic.com/oauth/code/callback",
		Scopes:       []string{"org:create_api_key", "user:profile", "user:inference"},
	}
}

// anthropicFlow talks to a token endpoint that only accepts JSON bodies.
// The hosted callback page shows the user "code#state", which they paste
// back; the state half has to be echoed in the exchange.
type anthropicFlow struct {
	baseFlow
}

func newAnthropicFlow(cfg Config, client *pkgoauth.Client) *anthropicFlow {
	return &anthropicFlow{baseFlow{
		provider: ProviderAnthropic,
		cfg:      cfg,
		client:   client,
		encoding: pkgoauth.EncodingJSON,
	}}
}

func (f *anthropicFlow) AuthorizationURL() (*Authorization, error) {
	pkce, err := f.newPKCE()
	if err != nil {
		return nil, err
	}
	state, err := pkgoauth.GenerateState()
	if err != nil {
		return nil, err
	}

	params := f.baseParams(pkce, state)
	// Makes the hosted callback page display the code instead of redirecting.
	params.Set("code", "true")
	return f.authorization(params, pkce, state)
}

func (f *anthropicFlow) ExchangeCode(ctx context.Context, code, verifier string) (*pkgoauth.Credential, error) {
	code, state, _ := strings.Cut(strings.TrimSpace(code), "#")
	return f.exchange(ctx, code, verifier, map[string]string{"state": state})
}

func (f *anthropicFlow) Refresh(ctx context.Context, c *pkgoauth.Credential) (*pkgoauth.Credential, error) {
	return f.refresh(ctx, c)
}
