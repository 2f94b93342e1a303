package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"tether/internal/auth"
	"tether/internal/config"
	"tether/internal/oauth"
	"tether/internal/vault"
	pkgoauth "tether/pkg/oauth"

	"github.com/jedib0t/go-pretty/v6/text"
)

// openVault opens the configured credential file, sealing it with age when
// vault.encrypt is set.
func openVault(cfg config.TetherConfig) (*vault.Vault, error) {
	var opts []vault.Option
	if cfg.Vault.Encrypt {
		sealer, err := vault.LoadOrCreateAgeSealer(cfg.Vault.IdentityPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load vault identity: %w", err)
		}
		opts = append(opts, vault.WithSealer(sealer))
	}
	return vault.New(cfg.Vault.Path, opts...), nil
}

// newAuthManager wires the vault, the provider flows and the broker from
// the configuration.
func newAuthManager(cfg config.TetherConfig) (*auth.Manager, *vault.Vault, error) {
	v, err := openVault(cfg)
	if err != nil {
		return nil, nil, err
	}
	flows, err := oauth.NewRegistry(cfg.OAuthOverrides(), pkgoauth.WithHTTPClient(cfg.HTTPClient()))
	if err != nil {
		return nil, nil, err
	}
	mgr := auth.NewManager(v, flows, auth.WithRefreshMargin(cfg.Vault.RefreshMargin.D()))
	return mgr, v, nil
}

// providerArg returns the provider named in args, falling back to the
// configured default.
func providerArg(args []string) (string, error) {
	id := appConfig.DefaultProvider
	if len(args) > 0 {
		id = args[0]
	}
	if id == "" {
		return "", fmt.Errorf("no provider given and no defaultProvider configured")
	}
	if !oauth.IsKnownProvider(id) {
		var ids []string
		for _, p := range oauth.Providers() {
			ids = append(ids, p.ID)
		}
		return "", fmt.Errorf("unknown provider %q (available: %s)", id, strings.Join(ids, ", "))
	}
	return id, nil
}

// confirm asks a yes/no question and reports whether the answer was yes.
func confirm(in io.Reader, out io.Writer, question string) (bool, error) {
	fmt.Fprintf(out, "%s [y/N]: ", question)
	response, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("failed to read response: %w", err)
	}
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes", nil
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < 0 {
		return "expired"
	}
	if d < time.Minute {
		return "< 1 minute"
	}
	if d < time.Hour {
		minutes := int(d.Minutes())
		if minutes == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", minutes)
	}
	if d < 24*time.Hour {
		hours := int(d.Hours())
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	days := int(d.Hours() / 24)
	if days == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", days)
}

// formatExpiry describes expiresAt relative to now.
func formatExpiry(expiresAt, now time.Time) string {
	if expiresAt.IsZero() {
		return "never"
	}
	remaining := expiresAt.Sub(now)
	if remaining > 0 {
		return "in " + formatDuration(remaining)
	}
	return text.FgYellow.Sprintf("expired %s ago", formatDuration(-remaining))
}
