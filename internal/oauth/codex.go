package oauth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pkgoauth "tether/pkg/oauth"

	"github.com/golang-jwt/jwt/v5"
)

// ProviderOpenAICodex is the vault key and flow id for ChatGPT Plus/Pro (Codex).
const ProviderOpenAICodex = "openai-codex"

// codexAuthClaim is the namespaced JWT claim carrying the ChatGPT account.
const codexAuthClaim = "https://api.openai.com/auth"

// CodexOriginator identifies this client to the Codex backend.
const CodexOriginator = "codex_cli_rs"

func codexDefaults() Config {
	return Config{
		ClientID:     "app_EMoamEEZ73f0CkXaXp7hrann",
		AuthorizeURL: "https://auth.openai.com/oauth/authorize",
		TokenURL:     "https://auth.openai.com/oauth/token",
		RedirectURI:  "http://localhost:1455/auth/callback",
		Scopes:       []string{"openid", "profile", "email", "offline_access"},
	}
}

// codexFlow uses standard form-encoded token requests. Its access tokens are
// JWTs whose account id must accompany every API call.
type codexFlow struct {
	baseFlow
}

func newCodexFlow(cfg Config, client *pkgoauth.Client) *codexFlow {
	return &codexFlow{baseFlow{
		provider: ProviderOpenAICodex,
		cfg:      cfg,
		client:   client,
		encoding: pkgoauth.EncodingForm,
	}}
}

func (f *codexFlow) AuthorizationURL() (*Authorization, error) {
	pkce, err := f.newPKCE()
	if err != nil {
		return nil, err
	}
	state, err := pkgoauth.GenerateHexState(16)
	if err != nil {
		return nil, err
	}

	params := f.baseParams(pkce, state)
	params.Set("id_token_add_organizations", "true")
	params.Set("codex_cli_simplified_flow", "true")
	params.Set("originator", CodexOriginator)
	return f.authorization(params, pkce, state)
}

func (f *codexFlow) ExchangeCode(ctx context.Context, code, verifier string) (*pkgoauth.Credential, error) {
	code, _, _ = strings.Cut(strings.TrimSpace(code), "#")
	c, err := f.exchange(ctx, code, verifier, nil)
	if err != nil {
		return nil, err
	}
	accountID, err := AccountIDFromToken(c.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrAuthExchangeFailed, f.provider, err)
	}
	c.AccountID = accountID
	return c, nil
}

func (f *codexFlow) Refresh(ctx context.Context, c *pkgoauth.Credential) (*pkgoauth.Credential, error) {
	next, err := f.refresh(ctx, c)
	if err != nil {
		return nil, err
	}
	if accountID, err := AccountIDFromToken(next.AccessToken); err == nil {
		next.AccountID = accountID
	}
	return next, nil
}

// AccountIDFromToken reads the ChatGPT account id from an access token
// without verifying its signature.
func AccountIDFromToken(accessToken string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return "", fmt.Errorf("parsing access token: %w", err)
	}
	auth, ok := claims[codexAuthClaim].(map[string]any)
	if !ok {
		return "", errors.New("access token has no auth claim")
	}
	accountID, ok := auth["chatgpt_account_id"].(string)
	if !ok || accountID == "" {
		return "", errors.New("access token has no chatgpt_account_id")
	}
	return accountID, nil
}
