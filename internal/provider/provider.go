package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"tether/internal/oauth"
	pkgoauth "tether/pkg/oauth"
)

// ErrUnauthorized means the provider rejected the access token.
var ErrUnauthorized = errors.New("provider rejected the access token")

// Role is the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is a single streamed completion request.
type Request struct {
	// Credential authorizes the request. It must be fresh; transports do
	// not refresh.
	Credential *pkgoauth.Credential

	Model     string
	System    string
	Messages  []Message
	MaxTokens int

	// SessionID lets providers that support it group requests of one
	// conversation.
	SessionID string
}

// Reply is the outcome of a completed stream.
type Reply struct {
	Text         string
	Model        string
	StopReason   string
	InputTokens  int
	OutputTokens int
}

// DeltaFunc receives streamed text in order. Returning an error aborts the
// stream and makes Stream return that error.
type DeltaFunc func(text string) error

// Transport streams one assistant reply from a provider.
type Transport interface {
	Provider() string
	Stream(ctx context.Context, req Request, onDelta DeltaFunc) (*Reply, error)
}

// APIError is a non-success answer from a provider API, either an HTTP
// status or an error event inside the stream.
type APIError struct {
	Provider   string
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: stream error: %s", e.Provider, msg)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, msg)
}

// Unwrap lets callers test with errors.Is: 401 is ErrUnauthorized, and
// rate limiting and server errors are retryable like network failures.
func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500:
		return oauth.ErrNetwork
	}
	return nil
}

// Option configures a transport.
type Option func(*options)

type options struct {
	httpClient *http.Client
	baseURL    string
	model      string
}

// WithHTTPClient sets the client used for API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) Option {
	return func(o *options) {
		if u != "" {
			o.baseURL = u
		}
	}
}

// WithModel sets the model used when a request does not name one.
func WithModel(m string) Option {
	return func(o *options) {
		if m != "" {
			o.model = m
		}
	}
}

func buildOptions(baseURL, model string, opts []Option) options {
	o := options{
		httpClient: http.DefaultClient,
		baseURL:    baseURL,
		model:      model,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New returns the transport for provider.
func New(provider string, opts ...Option) (Transport, error) {
	switch provider {
	case oauth.ProviderAnthropic:
		return NewAnthropic(opts...), nil
	case oauth.ProviderOpenAICodex:
		return NewCodex(opts...), nil
	}
	return nil, &oauth.ConfigError{Provider: provider, Reason: "no conversation transport for provider"}
}
