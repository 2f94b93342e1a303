package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"tether/internal/auth"
	"tether/internal/events"
	"tether/internal/provider"
	"tether/internal/session"

	"github.com/jedib0t/go-pretty/v6/text"
)

// printerMailboxSize lets the terminal printer fall far behind a fast
// stream before any text is dropped.
const printerMailboxSize = 1 << 14

// openSession creates a session for providerID backed by mgr's broker.
func openSession(mgr *auth.Manager, providerID, model string) (*session.Session, error) {
	opts := appConfig.TransportOptions(providerID)
	if model != "" {
		opts = append(opts, provider.WithModel(model))
	}
	transport, err := provider.New(providerID, opts...)
	if err != nil {
		return nil, err
	}
	return session.New(session.Config{
		Credentials:   mgr.Broker(),
		Transport:     transport,
		Provider:      providerID,
		TranscriptDir: appConfig.TranscriptDir(),
		TurnTimeout:   appConfig.Session.TurnTimeout.D(),
		SystemPrompt:  appConfig.Session.SystemPrompt,
		MaxTokens:     appConfig.Session.MaxTokens,
		MailboxSize:   printerMailboxSize,
	})
}

// eventPrinter renders session events on the terminal, or as JSON lines.
// Every terminal event (completed, error, cancelled) is signalled on
// turnEnded so callers can wait for the output of a turn to be flushed.
type eventPrinter struct {
	out     io.Writer
	errOut  io.Writer
	jsonOut bool

	mu        sync.Mutex
	midLine   bool
	turnEnded chan events.Event
}

func newEventPrinter(out, errOut io.Writer, jsonOut bool) *eventPrinter {
	return &eventPrinter{
		out:       out,
		errOut:    errOut,
		jsonOut:   jsonOut,
		turnEnded: make(chan events.Event, 1),
	}
}

func (p *eventPrinter) Handle(e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.jsonOut {
		_ = json.NewEncoder(p.out).Encode(e)
	} else {
		p.render(e)
	}

	switch e.Kind {
	case events.KindTurnCompleted, events.KindError, events.KindCancelled:
		select {
		case p.turnEnded <- e:
		default:
		}
	}
}

// forgetTurnEnd discards a turn end signalled after its waiter gave up, so
// it cannot satisfy the wait for the next turn.
func (p *eventPrinter) forgetTurnEnd() {
	select {
	case <-p.turnEnded:
	default:
	}
}

func (p *eventPrinter) render(e events.Event) {
	switch e.Kind {
	case events.KindContentDelta:
		fmt.Fprint(p.out, e.Text)
		p.midLine = true
	case events.KindTurnCompleted:
		p.endLine()
	case events.KindCancelled:
		p.endLine()
		fmt.Fprintln(p.errOut, text.FgYellow.Sprintf("[cancelled: %s]", e.Reason))
	case events.KindError:
		p.endLine()
		fmt.Fprintln(p.errOut, text.FgRed.Sprintf("Error (%s): %s", e.Reason, e.Error))
		if e.Reason == events.ReasonUnauthenticated {
			fmt.Fprintf(p.errOut, "Run: tether auth login %s\n", e.Provider)
		}
	}
}

func (p *eventPrinter) endLine() {
	if p.midLine {
		fmt.Fprintln(p.out)
		p.midLine = false
	}
}
