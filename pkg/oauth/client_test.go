package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	t.Run("creates client with defaults", func(t *testing.T) {
		c := NewClient()
		if c.httpClient == nil {
			t.Error("expected httpClient to be set")
		}
		if c.logger == nil {
			t.Error("expected logger to be set")
		}
		if c.httpClient.Timeout != DefaultHTTPTimeout {
			t.Errorf("expected timeout %v, got %v", DefaultHTTPTimeout, c.httpClient.Timeout)
		}
	})

	t.Run("applies options", func(t *testing.T) {
		fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		custom := &http.Client{Timeout: 5 * time.Second}
		c := NewClient(WithHTTPClient(custom), WithClock(func() time.Time { return fixed }))

		assert.Same(t, custom, c.httpClient)
		assert.Equal(t, fixed, c.Now())
	})
}

func TestExchangeCode(t *testing.T) {
	t.Run("form encoded exchange", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				t.Errorf("expected POST, got %s", r.Method)
			}
			if got := r.Header.Get("Content-Type"); got != "application/x-www-form-urlencoded" {
				t.Errorf("unexpected content type %q", got)
			}
			if err := r.ParseForm(); err != nil {
				t.Fatalf("failed to parse form: %v", err)
			}
			assert.Equal(t, "authorization_code", r.Form.Get("grant_type"))
			assert.Equal(t, "auth-code", r.Form.Get("code"))
			assert.Equal(t, "http://localhost:1455/auth/callback", r.Form.Get("redirect_uri"))
			assert.Equal(t, "test-client", r.Form.Get("client_id"))
			assert.Equal(t, "verifier123", r.Form.Get("code_verifier"))

			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(TokenResponse{
				AccessToken:  "access-token-123",
				RefreshToken: "refresh-token-456",
				ExpiresIn:    3600,
				TokenType:    "Bearer",
			})
		}))
		defer server.Close()

		c := NewClient(WithHTTPClient(server.Client()))
		token, err := c.ExchangeCode(context.Background(), EncodingForm, server.URL+"/token",
			"test-client", "auth-code", "http://localhost:1455/auth/callback", "verifier123", nil)

		require.NoError(t, err)
		assert.Equal(t, "access-token-123", token.AccessToken)
		assert.Equal(t, "refresh-token-456", token.RefreshToken)
		assert.EqualValues(t, 3600, token.ExpiresIn)
	})

	t.Run("json encoded exchange carries extra params", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "authorization_code", body["grant_type"])
			assert.Equal(t, "xyz", body["state"])

			_ = json.NewEncoder(w).Encode(TokenResponse{AccessToken: "a"})
		}))
		defer server.Close()

		c := NewClient(WithHTTPClient(server.Client()))
		_, err := c.ExchangeCode(context.Background(), EncodingJSON, server.URL,
			"cid", "code", "https://example.com/cb", "v", map[string]string{"state": "xyz"})
		require.NoError(t, err)
	})

	t.Run("returns HTTPError on rejection", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error": "invalid_grant", "error_description": "code expired"}`))
		}))
		defer server.Close()

		c := NewClient(WithHTTPClient(server.Client()))
		_, err := c.ExchangeCode(context.Background(), EncodingForm, server.URL,
			"cid", "bad", "https://example.com/cb", "v", nil)

		var httpErr *HTTPError
		require.True(t, errors.As(err, &httpErr), "expected HTTPError, got %v", err)
		assert.Equal(t, http.StatusBadRequest, httpErr.StatusCode)
		assert.Equal(t, "invalid_grant", httpErr.Code)
		assert.Equal(t, "code expired", httpErr.Description)
		assert.False(t, httpErr.Temporary())
	})

	t.Run("server errors are temporary", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		c := NewClient(WithHTTPClient(server.Client()))
		_, err := c.ExchangeCode(context.Background(), EncodingForm, server.URL,
			"cid", "code", "https://example.com/cb", "v", nil)

		var httpErr *HTTPError
		require.True(t, errors.As(err, &httpErr))
		assert.True(t, httpErr.Temporary())
	})

	t.Run("transport failure", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		addr := server.URL
		server.Close()

		c := NewClient()
		_, err := c.ExchangeCode(context.Background(), EncodingForm, addr,
			"cid", "code", "https://example.com/cb", "v", nil)

		var transportErr *TransportError
		assert.True(t, errors.As(err, &transportErr), "expected TransportError, got %v", err)
	})

	t.Run("malformed body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`not json`))
		}))
		defer server.Close()

		c := NewClient(WithHTTPClient(server.Client()))
		_, err := c.ExchangeCode(context.Background(), EncodingForm, server.URL,
			"cid", "code", "https://example.com/cb", "v", nil)

		var transportErr *TransportError
		assert.True(t, errors.As(err, &transportErr))
	})
}

func TestRefreshToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("failed to parse form: %v", err)
		}
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "old-refresh", r.Form.Get("refresh_token"))

		_ = json.NewEncoder(w).Encode(TokenResponse{AccessToken: "new-access", ExpiresIn: 60})
	}))
	defer server.Close()

	c := NewClient(WithHTTPClient(server.Client()))
	token, err := c.RefreshToken(context.Background(), EncodingForm, server.URL, "cid", "old-refresh")

	require.NoError(t, err)
	assert.Equal(t, "new-access", token.AccessToken)
	assert.Empty(t, token.RefreshToken)
}

func TestBuildAuthorizationURL(t *testing.T) {
	t.Run("appends params", func(t *testing.T) {
		params := url.Values{}
		params.Set("client_id", "cid")
		params.Set("code_challenge_method", "S256")

		got, err := BuildAuthorizationURL("https://auth.example.com/authorize?existing=1", params)
		require.NoError(t, err)

		u, err := url.Parse(got)
		require.NoError(t, err)
		assert.Equal(t, "1", u.Query().Get("existing"))
		assert.Equal(t, "cid", u.Query().Get("client_id"))
		assert.Equal(t, "S256", u.Query().Get("code_challenge_method"))
	})

	t.Run("rejects relative endpoint", func(t *testing.T) {
		_, err := BuildAuthorizationURL("/authorize", url.Values{})
		assert.Error(t, err)
	})
}
