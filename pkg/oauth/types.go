package oauth

import (
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultRefreshMargin is how long before expiry a credential stops being
// served as-is. It covers clock skew and the latency of the request the
// access token is about to be attached to.
const DefaultRefreshMargin = 60 * time.Second

// Credential is the persisted token set for one provider.
//
// A Credential whose ExpiresAt lies in the past is stale and must never be
// handed to a transport without being refreshed first. A zero ExpiresAt
// means the provider did not report a lifetime and the token is treated as
// non-expiring.
type Credential struct {
	// Provider is the provider id the credential belongs to (vault key).
	Provider string `json:"provider"`

	// AccessToken is the bearer token used for authorization.
	AccessToken string `json:"access_token"`

	// RefreshToken is used to obtain new access tokens (optional).
	RefreshToken string `json:"refresh_token,omitempty"`

	// TokenType is typically "Bearer".
	TokenType string `json:"token_type,omitempty"`

	// ExpiresAt is the absolute expiry instant in UTC.
	ExpiresAt time.Time `json:"expires_at,omitempty"`

	// Scope is the granted scope(s), space-separated.
	Scope string `json:"scope,omitempty"`

	// AccountID identifies the upstream account when the provider requires it
	// on every request (OpenAI Codex).
	AccountID string `json:"account_id,omitempty"`

	EnterpriseURL string `json:"enterprise_url,omitempty"`
	ProjectID     string `json:"project_id,omitempty"`
	Email         string `json:"email,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// IsExpiredAt reports whether the credential is expired, or will expire
// within margin, relative to now. The credential is only considered fresh
// when now+margin is strictly before ExpiresAt.
func (c *Credential) IsExpiredAt(now time.Time, margin time.Duration) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(margin).Before(c.ExpiresAt)
}

// IsExpiredWithMargin checks expiry against the wall clock.
func (c *Credential) IsExpiredWithMargin(margin time.Duration) bool {
	return c.IsExpiredAt(time.Now(), margin)
}

// CanRefresh reports whether a refresh grant can be attempted.
func (c *Credential) CanRefresh() bool {
	return c.RefreshToken != ""
}

// Scopes returns the scope as a slice of individual scopes.
func (c *Credential) Scopes() []string {
	if c.Scope == "" {
		return nil
	}
	return strings.Fields(c.Scope)
}

// Clone returns an independent copy so callers can never mutate vault state.
func (c *Credential) Clone() *Credential {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

// ToOAuth2Token converts the Credential to an oauth2.Token for compatibility with golang.org/x/oauth2.
func (c *Credential) ToOAuth2Token() *oauth2.Token {
	tokenType := c.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		TokenType:    tokenType,
		RefreshToken: c.RefreshToken,
		Expiry:       c.ExpiresAt,
	}
}

// TokenResponse is the body returned by an OAuth2 token endpoint.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	Scope        string `json:"scope,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
}

// ExpiresAt computes the absolute expiry for a response received at now.
// A missing or non-positive lifetime yields the zero time.
func (r *TokenResponse) ExpiresAt(now time.Time) time.Time {
	if r.ExpiresIn <= 0 {
		return time.Time{}
	}
	return now.Add(time.Duration(r.ExpiresIn) * time.Second).UTC()
}

// ErrorResponse is the RFC 6749 section 5.2 error body.
type ErrorResponse struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}
