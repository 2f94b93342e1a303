package cmd

import (
	"errors"
	"fmt"
	"os"

	"tether/internal/broker"
	"tether/internal/config"
	"tether/internal/oauth"
	"tether/internal/provider"
	"tether/pkg/logging"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeAuthRequired indicates there is no usable credential; logging in fixes it.
	ExitCodeAuthRequired = 2
	// ExitCodeAuthFailed indicates the OAuth flow failed.
	ExitCodeAuthFailed = 3
)

var (
	configPath string
	logLevel   string

	// appConfig is loaded before any subcommand runs.
	appConfig config.TetherConfig
)

// rootCmd represents the base command for the tether application.
var rootCmd = &cobra.Command{
	Use:   "tether",
	Short: "Talk to AI providers with your subscription login",
	Long: `tether keeps OAuth credentials for conversational AI providers
(Claude Pro/Max, ChatGPT Plus/Pro) and uses them to run conversations
from the terminal. Tokens are refreshed automatically before they expire.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
	SilenceUsage:      true,
	PersistentPreRunE: loadAppConfig,
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "tether version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
// This provides semantic exit codes for scripting and automation.
func getExitCode(err error) int {
	switch {
	case errors.Is(err, broker.ErrUnauthenticated), errors.Is(err, provider.ErrUnauthorized):
		return ExitCodeAuthRequired
	case errors.Is(err, oauth.ErrAuthExchangeFailed),
		errors.Is(err, oauth.ErrStateMismatch),
		errors.Is(err, oauth.ErrRefreshRejected),
		errors.Is(err, oauth.ErrInvalidInput):
		return ExitCodeAuthFailed
	}
	return ExitCodeError
}

func loadAppConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	levelName := cfg.LogLevel
	if logLevel != "" {
		levelName = logLevel
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}
	logging.Init(level, cmd.ErrOrStderr())

	appConfig = cfg
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config-path", config.GetDefaultConfigPathOrPanic(), "Configuration directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides config.yaml")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())
}
