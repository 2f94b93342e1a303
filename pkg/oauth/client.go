package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultHTTPTimeout is the default timeout for HTTP requests.
const DefaultHTTPTimeout = 30 * time.Second

// maxTokenResponseBytes caps how much of a token endpoint response is read.
const maxTokenResponseBytes = 1 << 20

// BodyEncoding selects how token requests are serialized. Providers disagree:
// RFC 6749 mandates form encoding but some endpoints only accept JSON.
type BodyEncoding int

const (
	EncodingForm BodyEncoding = iota
	EncodingJSON
)

// HTTPError is returned when the token endpoint answers with a non-2xx status.
type HTTPError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *HTTPError) Error() string {
	msg := fmt.Sprintf("token endpoint returned status %d", e.StatusCode)
	if e.Code != "" {
		msg += ": " + e.Code
	}
	if e.Description != "" {
		msg += " (" + e.Description + ")"
	}
	return msg
}

// Temporary reports whether the failure is on the server side and the same
// request could succeed later.
func (e *HTTPError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// TransportError wraps failures that happened before a status code was
// received, or while reading/decoding the body.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Client performs OAuth2 token endpoint requests.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// ClientOption configures the OAuth client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithClock overrides the time source used to compute token expiry.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient creates a new OAuth client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Now returns the client's notion of the current time.
func (c *Client) Now() time.Time {
	return c.now()
}

// ExchangeCode performs an authorization_code grant with PKCE.
// extra carries provider specific parameters (for example a state echo).
func (c *Client) ExchangeCode(ctx context.Context, enc BodyEncoding, tokenEndpoint, clientID, code, redirectURI, codeVerifier string, extra map[string]string) (*TokenResponse, error) {
	params := map[string]string{
		"grant_type":    "authorization_code",
		"client_id":     clientID,
		"code":          code,
		"redirect_uri":  redirectURI,
		"code_verifier": codeVerifier,
	}
	for k, v := range extra {
		params[k] = v
	}
	return c.doTokenRequest(ctx, enc, tokenEndpoint, params)
}

// RefreshToken performs a refresh_token grant.
func (c *Client) RefreshToken(ctx context.Context, enc BodyEncoding, tokenEndpoint, clientID, refreshToken string) (*TokenResponse, error) {
	return c.doTokenRequest(ctx, enc, tokenEndpoint, map[string]string{
		"grant_type":    "refresh_token",
		"client_id":     clientID,
		"refresh_token": refreshToken,
	})
}

func (c *Client) doTokenRequest(ctx context.Context, enc BodyEncoding, tokenEndpoint string, params map[string]string) (*TokenResponse, error) {
	var (
		body        io.Reader
		contentType string
	)
	switch enc {
	case EncodingJSON:
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to encode token request: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	default:
		form := url.Values{}
		for k, v := range params {
			form.Set(k, v)
		}
		body = strings.NewReader(form.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenEndpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "token request failed", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseBytes))
	if err != nil {
		return nil, &TransportError{Op: "failed to read token response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// The body may echo request parameters; only the status and the
		// RFC 6749 error code are logged.
		httpErr := &HTTPError{StatusCode: resp.StatusCode}
		var oauthErr ErrorResponse
		if json.Unmarshal(respBody, &oauthErr) == nil {
			httpErr.Code = oauthErr.Code
			httpErr.Description = oauthErr.Description
		}
		c.logger.Debug("Token request failed",
			"endpoint", tokenEndpoint,
			"status", resp.StatusCode,
			"error_code", httpErr.Code)
		return nil, httpErr
	}

	var token TokenResponse
	if err := json.Unmarshal(respBody, &token); err != nil {
		return nil, &TransportError{Op: "failed to parse token response", Err: err}
	}
	if token.AccessToken == "" {
		return nil, &TransportError{Op: "failed to parse token response", Err: errors.New("access_token missing")}
	}
	return &token, nil
}

// BuildAuthorizationURL appends params to the authorization endpoint.
func BuildAuthorizationURL(authEndpoint string, params url.Values) (string, error) {
	u, err := url.Parse(authEndpoint)
	if err != nil {
		return "", fmt.Errorf("invalid authorization endpoint: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid authorization endpoint %q: absolute URL required", authEndpoint)
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
