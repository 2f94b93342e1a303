package oauth

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry_Defaults(t *testing.T) {
	r, err := NewRegistry(nil)
	require.NoError(t, err)

	assert.Equal(t, []string{ProviderAnthropic, ProviderOpenAICodex}, r.IDs())

	for _, p := range Providers() {
		f, err := r.Flow(p.ID)
		require.NoError(t, err)
		assert.Equal(t, p.ID, f.Provider())
		assert.True(t, IsKnownProvider(p.ID))
	}
}

func TestNewRegistry_Overrides(t *testing.T) {
	r, err := NewRegistry(map[string]Config{
		ProviderOpenAICodex: {ClientID: "custom-client", Scopes: []string{"openid"}},
	})
	require.NoError(t, err)

	f, err := r.Flow(ProviderOpenAICodex)
	require.NoError(t, err)
	auth, err := f.AuthorizationURL()
	require.NoError(t, err)
	assert.Contains(t, auth.URL, "client_id=custom-client")
	assert.Contains(t, auth.URL, "scope=openid&")
}

func TestNewRegistry_ConfigErrors(t *testing.T) {
	tests := []struct {
		name      string
		overrides map[string]Config
		field     string
	}{
		{"unknown provider", map[string]Config{"github-copilot": {}}, ""},
		{"relative token URL", map[string]Config{ProviderAnthropic: {TokenURL: "/token"}}, "tokenURL"},
		{"bad scheme", map[string]Config{ProviderAnthropic: {AuthorizeURL: "ftp://example.com/a"}}, "authorizeURL"},
		{"unparsable redirect", map[string]Config{ProviderOpenAICodex: {RedirectURI: "http://[::1"}}, "redirectURI"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.overrides)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConfig)

			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestRegistry_UnknownFlow(t *testing.T) {
	r, err := NewRegistry(nil)
	require.NoError(t, err)

	_, err = r.Flow("nope")
	assert.ErrorIs(t, err, ErrConfig)

	_, err = DefaultConfig("nope")
	assert.ErrorIs(t, err, ErrConfig)
	assert.False(t, IsKnownProvider("nope"))
}

func TestRegistry_FlowWithRedirect(t *testing.T) {
	r, err := NewRegistry(nil)
	require.NoError(t, err)

	f, err := r.FlowWithRedirect(ProviderOpenAICodex, "http://127.0.0.1:9999/cb")
	require.NoError(t, err)
	auth, err := f.AuthorizationURL()
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:9999/cb", auth.RedirectURI)
	assert.Contains(t, auth.URL, "redirect_uri=http%3A%2F%2F127.0.0.1%3A9999%2Fcb")

	// The configured flow is untouched.
	def, err := r.Flow(ProviderOpenAICodex)
	require.NoError(t, err)
	auth, err = def.AuthorizationURL()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:1455/auth/callback", auth.RedirectURI)

	_, err = r.FlowWithRedirect(ProviderOpenAICodex, "not a url")
	assert.ErrorIs(t, err, ErrConfig)

	explicit := NewRegistryWithFlows(def)
	_, err = explicit.FlowWithRedirect(ProviderOpenAICodex, "http://127.0.0.1:9999/cb")
	assert.ErrorIs(t, err, ErrConfig)
	same, err := explicit.FlowWithRedirect(ProviderOpenAICodex, "")
	require.NoError(t, err)
	assert.Equal(t, def, same)
}
