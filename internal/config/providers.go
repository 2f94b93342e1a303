package config

import (
	"net/http"

	"tether/internal/oauth"
	"tether/internal/provider"
)

// OAuthOverrides returns the provider settings in the form the flow
// registry overlays on its built-in endpoints.
func (c TetherConfig) OAuthOverrides() map[string]oauth.Config {
	overrides := make(map[string]oauth.Config, len(c.Providers))
	for id, p := range c.Providers {
		overrides[id] = oauth.Config{
			ClientID:     p.ClientID,
			AuthorizeURL: p.AuthorizeURL,
			TokenURL:     p.TokenURL,
			RedirectURI:  p.RedirectURI,
			Scopes:       p.Scopes,
		}
	}
	return overrides
}

// HTTPClient returns a client honouring http.timeout.
func (c TetherConfig) HTTPClient() *http.Client {
	return &http.Client{Timeout: c.HTTP.Timeout.D()}
}

// StreamingHTTPClient is used for conversation streams. Replies can take
// longer than http.timeout, so only the turn timeout bounds them.
func (c TetherConfig) StreamingHTTPClient() *http.Client {
	return &http.Client{}
}

// TransportOptions returns the options for the conversation transport of
// providerID.
func (c TetherConfig) TransportOptions(providerID string) []provider.Option {
	p := c.Providers[providerID]
	return []provider.Option{
		provider.WithHTTPClient(c.StreamingHTTPClient()),
		provider.WithBaseURL(p.APIBaseURL),
		provider.WithModel(p.Model),
	}
}

// TranscriptDir returns the transcript directory, or "" when disabled.
func (c TetherConfig) TranscriptDir() string {
	if c.Session.TranscriptDir == TranscriptsDisabled {
		return ""
	}
	return c.Session.TranscriptDir
}
