package config

import (
	"time"

	"tether/internal/oauth"
	pkgoauth "tether/pkg/oauth"
)

const (
	// DefaultTurnTimeout bounds a single conversation turn.
	DefaultTurnTimeout = 10 * time.Minute

	// TranscriptsDisabled as session.transcriptDir turns transcripts off.
	TranscriptsDisabled = "-"
)

// GetDefaultConfig returns the configuration used when no config.yaml exists.
func GetDefaultConfig() TetherConfig {
	return TetherConfig{
		DefaultProvider: oauth.ProviderAnthropic,
		LogLevel:        "warn",
		Vault: VaultConfig{
			RefreshMargin: Duration(pkgoauth.DefaultRefreshMargin),
		},
		HTTP: HTTPConfig{
			Timeout: Duration(pkgoauth.DefaultHTTPTimeout),
		},
		Session: SessionConfig{
			TurnTimeout: Duration(DefaultTurnTimeout),
		},
	}
}
