package cmd

import (
	"encoding/json"
	"time"

	"tether/internal/auth"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

var statusJSON bool

// authStatusCmd represents the auth status command
var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show authentication status",
	Long: `Show the login state of every provider.

States:
  authenticated       usable token
  refreshable         token expired or about to, will be refreshed on use
  expired             token expired and cannot be refreshed; log in again
  not_authenticated   no stored credential

Examples:
  tether auth status
  tether auth status --json`,
	Args: cobra.NoArgs,
	RunE: runAuthStatus,
}

func init() {
	authStatusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the status as JSON")
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	mgr, v, err := newAuthManager(appConfig)
	if err != nil {
		return err
	}
	statuses, err := mgr.Status()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if statusJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(statuses)
	}

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{
		text.FgHiCyan.Sprint("PROVIDER"),
		text.FgHiCyan.Sprint("STATUS"),
		text.FgHiCyan.Sprint("EXPIRES"),
		text.FgHiCyan.Sprint("ACCOUNT"),
		text.FgHiCyan.Sprint("TOKEN"),
	})

	now := time.Now()
	for _, s := range statuses {
		expires := "-"
		if s.State != auth.StateNotAuthenticated {
			expires = formatExpiry(s.ExpiresAt, now)
		}
		t.AppendRow(table.Row{
			s.Name + "\n" + text.Faint.Sprint(s.Provider),
			colorState(s.State),
			expires,
			firstNonEmpty(s.Email, s.AccountID, "-"),
			firstNonEmpty(s.TokenPreview, "-"),
		})
	}
	t.Render()

	authPrint(cmd, "Vault: %s\n", v.Path())
	return nil
}

func colorState(s auth.State) string {
	switch s {
	case auth.StateAuthenticated:
		return text.FgGreen.Sprint(s.String())
	case auth.StateRefreshable:
		return text.FgYellow.Sprint(s.String())
	case auth.StateExpired:
		return text.FgRed.Sprint(s.String())
	default:
		return text.Faint.Sprint(s.String())
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
