package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"tether/internal/session"
	"tether/pkg/logging"
	strs "tether/pkg/strings"

	"github.com/chzyer/readline"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

var (
	chatProvider string
	chatModel    string
)

// chatCmd starts an interactive conversation.
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation",
	Long: `Start an interactive conversation with a provider.

Ctrl-C cancels the reply being streamed; Ctrl-D or /exit quits.

Commands:
  /new     start a new conversation
  /stats   show message counts and the transcript file
  /exit    quit`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().StringVarP(&chatProvider, "provider", "p", "", "Provider to use (default from config)")
	chatCmd.Flags().StringVarP(&chatModel, "model", "m", "", "Model to use (default from config or provider)")
}

func runChat(cmd *cobra.Command, args []string) error {
	var providerArgs []string
	if chatProvider != "" {
		providerArgs = []string{chatProvider}
	}
	id, err := providerArg(providerArgs)
	if err != nil {
		return err
	}
	mgr, v, err := newAuthManager(appConfig)
	if err != nil {
		return err
	}
	if !mgr.HasAuth(id) {
		return fmt.Errorf("not logged in to %s, run: tether auth login %s", id, id)
	}

	sess, err := openSession(mgr, id, chatModel)
	if err != nil {
		return err
	}
	defer sess.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Pick up logins and refreshes done by other tether processes.
	go func() {
		if err := v.Watch(ctx, nil); err != nil {
			logging.Warn("Chat", "Not watching the vault for changes: %v", err)
		}
	}()

	printer := newEventPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr(), false)
	sess.Subscribe(printer)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            text.FgHiCyan.Sprintf("%s> ", id),
		HistoryFile:       filepath.Join(configPath, "chat_history"),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
		Stdout:            cmd.OutOrStdout(),
		Stderr:            cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("failed to create readline instance: %w", err)
	}
	defer rl.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "Chatting with %s. Type /exit to quit.\n\n", id)

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		} else if err == io.EOF {
			return nil
		} else if err != nil {
			return fmt.Errorf("readline error: %w", err)
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			quit, err := runChatCommand(cmd, sess, input)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), text.FgRed.Sprint(err))
			}
			if quit {
				return nil
			}
			continue
		}

		chatTurn(sess, printer, input)
		fmt.Fprintln(cmd.OutOrStdout())
	}
}

// chatTurn runs one prompt, cancelling it on Ctrl-C, and waits until the
// printer has rendered its end.
func chatTurn(sess *session.Session, printer *eventPrinter, input string) {
	printer.forgetTurnEnd()

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)

	done := make(chan error, 1)
	go func() { done <- sess.Prompt(context.Background(), input) }()

	var err error
wait:
	for {
		select {
		case <-interrupts:
			sess.Cancel()
		case err = <-done:
			break wait
		}
	}

	if errors.Is(err, session.ErrSessionBusy) || errors.Is(err, session.ErrSessionClosed) {
		return
	}
	select {
	case <-printer.turnEnded:
	case <-time.After(5 * time.Second):
	}
}

func runChatCommand(cmd *cobra.Command, sess *session.Session, input string) (quit bool, err error) {
	out := cmd.OutOrStdout()
	switch strings.Fields(input)[0] {
	case "/exit", "/quit":
		return true, nil
	case "/new":
		id, err := sess.NewSession()
		if err != nil {
			return false, err
		}
		fmt.Fprintf(out, "Started a new conversation (%s).\n", id)
	case "/stats":
		stats := sess.Stats()
		fmt.Fprintf(out, "Session:   %s\n", stats.SessionID)
		fmt.Fprintf(out, "Messages:  %d (%d user, %d assistant)\n", stats.TotalMessages, stats.UserMessages, stats.AssistantMessages)
		if last := sess.LastAssistantText(); last != "" {
			fmt.Fprintf(out, "Last reply: %s\n", strs.Preview(last, strs.DefaultPreviewLen))
		}
		if path := sess.TranscriptPath(); path != "" {
			fmt.Fprintf(out, "Transcript: %s\n", path)
		}
	case "/help":
		fmt.Fprintln(out, "/new, /stats, /exit")
	default:
		return false, fmt.Errorf("unknown command %s, try /help", input)
	}
	return false, nil
}
