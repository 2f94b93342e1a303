package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"tether/internal/auth"
	"tether/internal/oauth"
	"tether/pkg/logging"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

// Login-specific flags
var (
	loginNoBrowser   bool
	loginManual      bool
	loginRedirectURI string
	loginTimeout     time.Duration
)

// authLoginCmd represents the auth login command
var authLoginCmd = &cobra.Command{
	Use:   "login [provider]",
	Short: "Log in to a provider",
	Long: `Log in to a provider with your subscription account.

The authorization page is opened in your browser. Providers that redirect
to a local address (openai-codex) are completed automatically; for the
others, paste the code shown after authorizing.

Examples:
  tether auth login anthropic
  tether auth login openai-codex --no-browser
  tether auth login openai-codex --manual    # Paste the redirect URL instead`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAuthLogin,
}

func init() {
	authLoginCmd.Flags().BoolVar(&loginNoBrowser, "no-browser", false, "Print the authorization URL without opening a browser")
	authLoginCmd.Flags().BoolVar(&loginManual, "manual", false, "Paste the code or redirect URL instead of waiting for the local callback")
	authLoginCmd.Flags().StringVar(&loginRedirectURI, "redirect-uri", "", "Override the provider's redirect URI")
	authLoginCmd.Flags().DurationVar(&loginTimeout, "timeout", 5*time.Minute, "How long to wait for the authorization")
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	id, err := providerArg(args)
	if err != nil {
		return err
	}
	mgr, _, err := newAuthManager(appConfig)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, loginTimeout)
	defer cancel()

	login, err := mgr.AuthURL(id, auth.RedirectConfig{RedirectURI: loginRedirectURI})
	if err != nil {
		return err
	}

	// The callback server has to listen before the browser can redirect.
	var callback *oauth.CallbackServer
	// Only loopback redirects can be served; the others need the code pasted.
	if !loginManual {
		if srv, err := oauth.NewCallbackServer(id, login.RedirectURI); err == nil {
			if err := srv.Start(ctx); err != nil {
				logging.Warn("Auth", "Falling back to pasting the code: %v", err)
			} else {
				callback = srv
				defer srv.Stop()
			}
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Open this URL to authorize tether with %s:\n\n  %s\n\n", id, login.URL)
	if !loginNoBrowser {
		if err := oauth.OpenBrowser(login.URL); err != nil {
			logging.Debug("Auth", "Could not open browser: %v", err)
		}
	}

	var input string
	if callback != nil {
		input, err = waitForCallback(ctx, cmd, callback)
	} else {
		input, err = readPastedCode(cmd.InOrStdin(), out)
	}
	if err != nil {
		return err
	}

	c, err := mgr.CompleteLogin(ctx, login, input)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s Logged in to %s", text.FgGreen.Sprint("✓"), id)
	if c.Email != "" {
		fmt.Fprintf(out, " as %s", c.Email)
	}
	fmt.Fprintln(out)
	return nil
}

func waitForCallback(ctx context.Context, cmd *cobra.Command, callback *oauth.CallbackServer) (string, error) {
	var s *spinner.Spinner
	if !authQuiet {
		s = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr()))
		s.Suffix = " Waiting for authorization in the browser..."
		s.Start()
		defer s.Stop()
	}

	result, err := callback.WaitForCallback(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: no authorization received: %v", oauth.ErrAuthExchangeFailed, err)
	}
	if result.IsError() {
		return "", fmt.Errorf("%w: provider returned %s: %s", oauth.ErrAuthExchangeFailed, result.Error, result.ErrorDescription)
	}
	return url.Values{"code": {result.Code}, "state": {result.State}}.Encode(), nil
}

func readPastedCode(in io.Reader, out io.Writer) (string, error) {
	fmt.Fprint(out, "Paste the authorization code: ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("%w: failed to read the authorization code", oauth.ErrInvalidInput)
	}
	return line, nil
}
