package oauth

import (
	"context"
	"errors"
	"fmt"

	pkgoauth "tether/pkg/oauth"
)

var (
	// ErrConfig marks malformed or missing flow configuration, including an
	// unknown provider id.
	ErrConfig = errors.New("oauth configuration error")

	// ErrNetwork marks transport failures and 5xx responses. Callers may
	// retry these with backoff.
	ErrNetwork = errors.New("network error")

	// ErrAuthExchangeFailed marks a provider rejecting an authorization code.
	ErrAuthExchangeFailed = errors.New("authorization code exchange failed")

	// ErrRefreshRejected marks a provider rejecting a refresh token. The user
	// has to log in again.
	ErrRefreshRejected = errors.New("refresh token rejected")

	// ErrStateMismatch is returned when the state echoed by the authorization
	// server does not match the one that was sent.
	ErrStateMismatch = errors.New("oauth state mismatch")

	// ErrInvalidInput is returned for empty or unparsable authorization input.
	ErrInvalidInput = errors.New("invalid authorization input")
)

// ConfigError describes which part of a provider configuration is wrong.
type ConfigError struct {
	Provider string
	Field    string
	Reason   string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("provider %q: %s", e.Provider, e.Reason)
	}
	return fmt.Sprintf("provider %q: %s: %s", e.Provider, e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrConfig) match any ConfigError.
func (e *ConfigError) Is(target error) bool {
	return target == ErrConfig
}

// ProviderError carries the token endpoint's answer for a rejected grant.
// It unwraps to ErrAuthExchangeFailed or ErrRefreshRejected.
type ProviderError struct {
	Kind        error
	Provider    string
	StatusCode  int
	Code        string
	Description string
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s: %v (status %d", e.Provider, e.Kind, e.StatusCode)
	if e.Code != "" {
		msg += ", " + e.Code
	}
	msg += ")"
	if e.Description != "" {
		msg += ": " + e.Description
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Kind
}

// classify maps token endpoint failures onto the error taxonomy. kind is the
// sentinel used when the provider itself rejected the request.
func classify(provider string, err error, kind error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var httpErr *pkgoauth.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.Temporary() {
			return fmt.Errorf("%w: %s: %v", ErrNetwork, provider, httpErr)
		}
		return &ProviderError{
			Kind:        kind,
			Provider:    provider,
			StatusCode:  httpErr.StatusCode,
			Code:        httpErr.Code,
			Description: httpErr.Description,
		}
	}

	return fmt.Errorf("%w: %s: %v", ErrNetwork, provider, err)
}
