package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tether/internal/oauth"
	pkgoauth "tether/pkg/oauth"

	"github.com/cenkalti/backoff/v5"
	"github.com/spf13/cobra"
)

var authQuiet bool

// authCmd represents the auth command group
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage provider logins",
	Long: `Manage OAuth logins for the supported providers.

Credentials are kept in the vault file inside the configuration directory
and are refreshed automatically while they are used.

Examples:
  tether auth login anthropic          # Login with a Claude Pro/Max account
  tether auth login openai-codex       # Login with a ChatGPT Plus/Pro account
  tether auth status                   # Show authentication status
  tether auth refresh openai-codex     # Force a token refresh
  tether auth logout anthropic         # Forget one provider
  tether auth logout --all             # Forget every stored credential`,
}

// authLogoutCmd represents the auth logout command
var authLogoutCmd = &cobra.Command{
	Use:   "logout [provider]",
	Short: "Remove stored credentials",
	Long: `Remove stored OAuth credentials.

Examples:
  tether auth logout anthropic         # Forget one provider
  tether auth logout --all             # Forget every stored credential
  tether auth logout --all --yes       # Without confirmation`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAuthLogout,
}

// authRefreshCmd represents the auth refresh command
var authRefreshCmd = &cobra.Command{
	Use:   "refresh [provider]",
	Short: "Force a token refresh",
	Long: `Refresh a provider's access token now, regardless of its expiry.

Network failures are retried with exponential backoff. A refresh the
provider rejects means the login has to be repeated.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAuthRefresh,
}

// Logout-specific flags
var (
	logoutAll bool
	logoutYes bool
)

// refreshMaxElapsed bounds the retries of auth refresh.
var refreshMaxElapsed = time.Minute

// authPrint prints output only if the --quiet flag is not set.
// Use this for progress messages and non-essential output.
func authPrint(cmd *cobra.Command, format string, args ...interface{}) {
	if !authQuiet {
		fmt.Fprintf(cmd.OutOrStdout(), format, args...)
	}
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authStatusCmd)
	authCmd.AddCommand(authRefreshCmd)

	authCmd.PersistentFlags().BoolVarP(&authQuiet, "quiet", "q", false, "Suppress non-essential output")

	authLogoutCmd.Flags().BoolVar(&logoutAll, "all", false, "Remove all stored credentials")
	authLogoutCmd.Flags().BoolVarP(&logoutYes, "yes", "y", false, "Skip confirmation prompt for --all")
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	mgr, v, err := newAuthManager(appConfig)
	if err != nil {
		return err
	}

	if logoutAll {
		stored, err := v.List()
		if err != nil {
			return err
		}
		if len(stored) == 0 {
			authPrint(cmd, "No stored credentials to remove.\n")
			return nil
		}

		if !logoutYes {
			fmt.Fprintf(cmd.OutOrStdout(), "The following %d credential(s) will be removed:\n", len(stored))
			for _, id := range stored {
				fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", id)
			}
			ok, err := confirm(cmd.InOrStdin(), cmd.OutOrStdout(), "\nAre you sure you want to remove all credentials?")
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
				return nil
			}
		}

		if err := mgr.LogoutAll(); err != nil {
			return fmt.Errorf("failed to remove credentials: %w", err)
		}
		authPrint(cmd, "Removed %d stored credential(s).\n", len(stored))
		return nil
	}

	if len(args) == 0 {
		return fmt.Errorf("name a provider to log out of, or use --all")
	}
	id := args[0]
	if !mgr.HasAuth(id) {
		authPrint(cmd, "Not logged in to %s.\n", id)
		return nil
	}
	if err := mgr.Logout(id); err != nil {
		return fmt.Errorf("failed to log out of %s: %w", id, err)
	}
	authPrint(cmd, "Logged out of %s.\n", id)
	return nil
}

func runAuthRefresh(cmd *cobra.Command, args []string) error {
	id, err := providerArg(args)
	if err != nil {
		return err
	}
	mgr, _, err := newAuthManager(appConfig)
	if err != nil {
		return err
	}

	c, err := refreshWithBackoff(cmd.Context(), func(ctx context.Context) (*pkgoauth.Credential, error) {
		return mgr.RefreshToken(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("failed to refresh %s: %w", id, err)
	}

	authPrint(cmd, "Refreshed %s, token expires %s.\n", id, formatExpiry(c.ExpiresAt, time.Now()))
	return nil
}

// refreshWithBackoff retries refresh while it fails with network errors.
// Any other failure is returned immediately.
func refreshWithBackoff(ctx context.Context, refresh func(context.Context) (*pkgoauth.Credential, error)) (*pkgoauth.Credential, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	operation := func() (*pkgoauth.Credential, error) {
		c, err := refresh(ctx)
		if err != nil && !errors.Is(err, oauth.ErrNetwork) {
			return nil, backoff.Permanent(err)
		}
		return c, err
	}
	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(refreshMaxElapsed),
	)
}
