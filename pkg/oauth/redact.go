package oauth

import (
	"log/slog"
	"time"
)

const redacted = "[REDACTED]"

// Preview returns a short, non-secret prefix of token for display in status
// output. Tokens too short to abbreviate are fully redacted.
func Preview(token string) string {
	const keep = 6
	if token == "" {
		return ""
	}
	if len(token) <= keep*2 {
		return redacted
	}
	return token[:keep] + "..." + redacted
}

// LogValue implements slog.LogValuer so a Credential passed to a logger
// never prints its secrets.
func (c *Credential) LogValue() slog.Value {
	if c == nil {
		return slog.StringValue("<nil>")
	}
	attrs := []slog.Attr{
		slog.String("provider", c.Provider),
		slog.String("access_token", redacted),
		slog.Bool("refreshable", c.CanRefresh()),
	}
	if !c.ExpiresAt.IsZero() {
		attrs = append(attrs, slog.String("expires_at", c.ExpiresAt.Format(time.RFC3339)))
	}
	if c.AccountID != "" {
		attrs = append(attrs, slog.String("account_id", c.AccountID))
	}
	return slog.GroupValue(attrs...)
}

// String keeps fmt verbs from leaking the tokens as well.
func (c *Credential) String() string {
	if c == nil {
		return "<nil>"
	}
	return "Credential{provider=" + c.Provider + ", access_token=" + redacted + "}"
}
