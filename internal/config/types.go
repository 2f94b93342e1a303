package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// TetherConfig is the top-level configuration structure for tether.
type TetherConfig struct {
	DefaultProvider string                    `yaml:"defaultProvider,omitempty"`
	LogLevel        string                    `yaml:"logLevel,omitempty"`
	Vault           VaultConfig               `yaml:"vault"`
	HTTP            HTTPConfig                `yaml:"http"`
	Session         SessionConfig             `yaml:"session"`
	Providers       map[string]ProviderConfig `yaml:"providers,omitempty"`
}

// VaultConfig controls where and how credentials are stored.
type VaultConfig struct {
	Path          string   `yaml:"path,omitempty"`          // Credential file (default: <configDir>/auth.json)
	Encrypt       bool     `yaml:"encrypt,omitempty"`       // Seal the file with age
	IdentityPath  string   `yaml:"identityPath,omitempty"`  // age identity (default: <configDir>/vault.key)
	RefreshMargin Duration `yaml:"refreshMargin,omitempty"` // Refresh this long before expiry
}

// HTTPConfig applies to token endpoint and API calls.
type HTTPConfig struct {
	Timeout Duration `yaml:"timeout,omitempty"`
}

// SessionConfig shapes conversation sessions.
type SessionConfig struct {
	TurnTimeout   Duration `yaml:"turnTimeout,omitempty"`
	TranscriptDir string   `yaml:"transcriptDir,omitempty"` // default: <configDir>/sessions, "-" disables
	SystemPrompt  string   `yaml:"systemPrompt,omitempty"`  // text/template with sprig functions
	MaxTokens     int      `yaml:"maxTokens,omitempty"`
}

// ProviderConfig overrides a provider's OAuth client registration and API
// endpoint. Empty fields keep the built-in values.
type ProviderConfig struct {
	ClientID     string   `yaml:"clientID,omitempty"`
	AuthorizeURL string   `yaml:"authorizeURL,omitempty"`
	TokenURL     string   `yaml:"tokenURL,omitempty"`
	RedirectURI  string   `yaml:"redirectURI,omitempty"`
	Scopes       []string `yaml:"scopes,omitempty"`
	APIBaseURL   string   `yaml:"apiBaseURL,omitempty"`
	Model        string   `yaml:"model,omitempty"`
}

// Duration is a time.Duration written as "30s" or "10m" in YAML.
type Duration time.Duration

// D returns d as a time.Duration.
func (d Duration) D() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("line %d: duration must be a string like \"30s\": %w", node.Line, err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q: %w", node.Line, s, err)
	}
	*d = Duration(parsed)
	return nil
}
