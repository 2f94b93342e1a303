package oauth

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	pkgoauth "tether/pkg/oauth"
)

// Authorization is everything the caller has to keep between sending the
// user to the provider and exchanging the returned code.
type Authorization struct {
	Provider    string
	URL         string
	Verifier    string
	State       string
	RedirectURI string
}

// Flow runs the authorization code + PKCE grant against one provider.
type Flow interface {
	// Provider returns the provider id, which doubles as the vault key.
	Provider() string

	// AuthorizationURL builds a fresh authorization request. It only fails
	// on configuration problems or when the system random source fails.
	AuthorizationURL() (*Authorization, error)

	// ExchangeCode trades an authorization code for a credential. code may
	// carry the state in "code#state" form.
	ExchangeCode(ctx context.Context, code, verifier string) (*pkgoauth.Credential, error)

	// Refresh returns a new credential for c. The previous refresh token is
	// kept unless the provider issues a new one.
	Refresh(ctx context.Context, c *pkgoauth.Credential) (*pkgoauth.Credential, error)
}

// Config holds the endpoints and client registration of one provider.
type Config struct {
	ClientID     string
	AuthorizeURL string
	TokenURL     string
	RedirectURI  string
	Scopes       []string
}

func (c Config) validate(provider string) error {
	if strings.TrimSpace(c.ClientID) == "" {
		return &ConfigError{Provider: provider, Field: "clientID", Reason: "must not be empty"}
	}
	for field, raw := range map[string]string{
		"authorizeURL": c.AuthorizeURL,
		"tokenURL":     c.TokenURL,
		"redirectURI":  c.RedirectURI,
	} {
		u, err := url.Parse(raw)
		if err != nil {
			return &ConfigError{Provider: provider, Field: field, Reason: err.Error()}
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return &ConfigError{Provider: provider, Field: field, Reason: fmt.Sprintf("%q is not an absolute http(s) URL", raw)}
		}
	}
	return nil
}

// merge overlays the non-empty fields of o onto c.
func (c Config) merge(o Config) Config {
	if o.ClientID != "" {
		c.ClientID = o.ClientID
	}
	if o.AuthorizeURL != "" {
		c.AuthorizeURL = o.AuthorizeURL
	}
	if o.TokenURL != "" {
		c.TokenURL = o.TokenURL
	}
	if o.RedirectURI != "" {
		c.RedirectURI = o.RedirectURI
	}
	if len(o.Scopes) > 0 {
		c.Scopes = append([]string(nil), o.Scopes...)
	}
	return c
}

// baseFlow holds what both variants share: configuration, the token client
// and the conversion from a token response to a stored credential.
type baseFlow struct {
	provider string
	cfg      Config
	client   *pkgoauth.Client
	encoding pkgoauth.BodyEncoding
}

func (b *baseFlow) Provider() string {
	return b.provider
}

func (b *baseFlow) newPKCE() (*pkgoauth.PKCEChallenge, error) {
	pkce, err := pkgoauth.GeneratePKCE()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.provider, err)
	}
	return pkce, nil
}

func (b *baseFlow) baseParams(pkce *pkgoauth.PKCEChallenge, state string) url.Values {
	params := url.Values{}
	params.Set("response_type", "code")
	params.Set("client_id", b.cfg.ClientID)
	params.Set("redirect_uri", b.cfg.RedirectURI)
	params.Set("scope", strings.Join(b.cfg.Scopes, " "))
	params.Set("code_challenge", pkce.CodeChallenge)
	params.Set("code_challenge_method", pkce.CodeChallengeMethod)
	params.Set("state", state)
	return params
}

func (b *baseFlow) authorization(params url.Values, pkce *pkgoauth.PKCEChallenge, state string) (*Authorization, error) {
	authURL, err := pkgoauth.BuildAuthorizationURL(b.cfg.AuthorizeURL, params)
	if err != nil {
		return nil, &ConfigError{Provider: b.provider, Field: "authorizeURL", Reason: err.Error()}
	}
	return &Authorization{
		Provider:    b.provider,
		URL:         authURL,
		Verifier:    pkce.CodeVerifier,
		State:       state,
		RedirectURI: b.cfg.RedirectURI,
	}, nil
}

func (b *baseFlow) exchange(ctx context.Context, code, verifier string, extra map[string]string) (*pkgoauth.Credential, error) {
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("%w: %s: empty authorization code", ErrInvalidInput, b.provider)
	}
	if verifier == "" {
		return nil, fmt.Errorf("%w: %s: empty code verifier", ErrInvalidInput, b.provider)
	}
	resp, err := b.client.ExchangeCode(ctx, b.encoding, b.cfg.TokenURL, b.cfg.ClientID, code, b.cfg.RedirectURI, verifier, extra)
	if err != nil {
		return nil, classify(b.provider, err, ErrAuthExchangeFailed)
	}
	return b.credentialFromResponse(resp, nil), nil
}

func (b *baseFlow) refresh(ctx context.Context, c *pkgoauth.Credential) (*pkgoauth.Credential, error) {
	if c == nil || !c.CanRefresh() {
		return nil, fmt.Errorf("%w: %s: no refresh token stored", ErrRefreshRejected, b.provider)
	}
	resp, err := b.client.RefreshToken(ctx, b.encoding, b.cfg.TokenURL, b.cfg.ClientID, c.RefreshToken)
	if err != nil {
		return nil, classify(b.provider, err, ErrRefreshRejected)
	}
	return b.credentialFromResponse(resp, c), nil
}

// credentialFromResponse builds the stored record. prev carries the fields
// a refresh response may omit.
func (b *baseFlow) credentialFromResponse(resp *pkgoauth.TokenResponse, prev *pkgoauth.Credential) *pkgoauth.Credential {
	now := b.client.Now()
	c := &pkgoauth.Credential{}
	if prev != nil {
		c = prev.Clone()
	}
	c.Provider = b.provider
	c.AccessToken = resp.AccessToken
	if resp.RefreshToken != "" {
		c.RefreshToken = resp.RefreshToken
	}
	if resp.TokenType != "" {
		c.TokenType = resp.TokenType
	}
	if resp.Scope != "" {
		c.Scope = resp.Scope
	} else if c.Scope == "" {
		c.Scope = strings.Join(b.cfg.Scopes, " ")
	}
	c.ExpiresAt = resp.ExpiresAt(now)
	c.UpdatedAt = now.UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now.UTC()
	}
	return c
}
