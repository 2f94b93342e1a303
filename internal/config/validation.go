package config

import (
	"fmt"
	"net/url"
	"strings"

	"tether/internal/oauth"
	"tether/pkg/logging"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}

// Validate checks the configuration for values that cannot work. All
// problems are reported together.
func (c TetherConfig) Validate() error {
	var errs ValidationErrors

	if c.DefaultProvider != "" && !oauth.IsKnownProvider(c.DefaultProvider) {
		errs.Add("defaultProvider", fmt.Sprintf("unknown provider, must be one of: %s", strings.Join(knownProviders(), ", ")), c.DefaultProvider)
	}
	if c.LogLevel != "" {
		if _, err := logging.ParseLevel(c.LogLevel); err != nil {
			errs.Add("logLevel", err.Error(), c.LogLevel)
		}
	}

	if c.Vault.RefreshMargin < 0 {
		errs.Add("vault.refreshMargin", "must not be negative", c.Vault.RefreshMargin.String())
	}
	if c.HTTP.Timeout <= 0 {
		errs.Add("http.timeout", "must be positive", c.HTTP.Timeout.String())
	}
	if c.Session.TurnTimeout < 0 {
		errs.Add("session.turnTimeout", "must not be negative", c.Session.TurnTimeout.String())
	}
	if c.Session.MaxTokens < 0 {
		errs.Add("session.maxTokens", "must not be negative", c.Session.MaxTokens)
	}

	for id, p := range c.Providers {
		prefix := "providers." + id
		if !oauth.IsKnownProvider(id) {
			errs.Add(prefix, "unknown provider")
			continue
		}
		for field, raw := range map[string]string{
			"authorizeURL": p.AuthorizeURL,
			"tokenURL":     p.TokenURL,
			"redirectURI":  p.RedirectURI,
			"apiBaseURL":   p.APIBaseURL,
		} {
			if raw == "" {
				continue
			}
			if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
				errs.Add(prefix+"."+field, "must be an absolute URL", raw)
			}
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func knownProviders() []string {
	var ids []string
	for _, p := range oauth.Providers() {
		ids = append(ids, p.ID)
	}
	return ids
}
