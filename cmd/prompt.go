package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var (
	promptProvider string
	promptModel    string
	promptJSON     bool
)

// promptCmd runs a single conversation turn.
var promptCmd = &cobra.Command{
	Use:   "prompt [text...]",
	Short: "Send one prompt and stream the reply",
	Long: `Send one prompt to a provider and stream the reply to stdout.

Without arguments the prompt is read from stdin. Ctrl-C cancels the turn.

Examples:
  tether prompt "Explain this error: EADDRINUSE"
  git diff | tether prompt --provider openai-codex
  tether prompt --json "hello" | jq .kind`,
	RunE: runPrompt,
}

func init() {
	rootCmd.AddCommand(promptCmd)

	promptCmd.Flags().StringVarP(&promptProvider, "provider", "p", "", "Provider to use (default from config)")
	promptCmd.Flags().StringVarP(&promptModel, "model", "m", "", "Model to use (default from config or provider)")
	promptCmd.Flags().BoolVar(&promptJSON, "json", false, "Print every session event as a JSON line")
}

func runPrompt(cmd *cobra.Command, args []string) error {
	text := strings.Join(args, " ")
	if strings.TrimSpace(text) == "" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("failed to read prompt from stdin: %w", err)
		}
		text = string(data)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("empty prompt")
	}

	var providerArgs []string
	if promptProvider != "" {
		providerArgs = []string{promptProvider}
	}
	id, err := providerArg(providerArgs)
	if err != nil {
		return err
	}
	mgr, _, err := newAuthManager(appConfig)
	if err != nil {
		return err
	}
	sess, err := openSession(mgr, id, promptModel)
	if err != nil {
		return err
	}

	printer := newEventPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr(), promptJSON)
	sub := sess.Subscribe(printer)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	promptErr := sess.Prompt(ctx, text)

	// Closing flushes the queued events to the printer.
	_ = sess.Close()
	select {
	case <-sub.Done():
	case <-time.After(5 * time.Second):
	}
	return promptErr
}
