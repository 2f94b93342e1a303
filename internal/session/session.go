package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"text/template"
	"time"

	"tether/internal/events"
	"tether/internal/provider"
	"tether/pkg/logging"
	pkgoauth "tether/pkg/oauth"

	"github.com/google/uuid"
)

var (
	// ErrSessionBusy is returned when a prompt arrives while a turn is
	// outstanding.
	ErrSessionBusy = errors.New("session is busy")

	// ErrSessionClosed is returned by operations on a closed session.
	ErrSessionClosed = errors.New("session is closed")

	// ErrCancelled is returned by Prompt when the turn was cancelled.
	ErrCancelled = errors.New("turn cancelled")

	// ErrTurnTimeout is returned by Prompt when the turn exceeded the
	// configured timeout. It wraps ErrCancelled.
	ErrTurnTimeout = fmt.Errorf("%w: turn timed out", ErrCancelled)
)

// State is the lifecycle state of a session.
type State int

const (
	StateIdle State = iota
	StateProcessing
	StateCancelling
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProcessing:
		return "processing"
	case StateCancelling:
		return "cancelling"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CredentialSource hands out credentials that are fresh enough to use.
// *broker.Broker implements it.
type CredentialSource interface {
	Credential(ctx context.Context, provider string) (*pkgoauth.Credential, error)
}

// Config wires a session to its collaborators.
type Config struct {
	// Credentials and Transport are required.
	Credentials CredentialSource
	Transport   provider.Transport

	// Provider defaults to the transport's provider.
	Provider string
	Model    string

	// Cwd scopes the session and its transcripts. Defaults to the process
	// working directory.
	Cwd string

	// TranscriptDir enables JSONL transcripts when set.
	TranscriptDir string

	// TurnTimeout bounds a single turn. Zero means no limit.
	TurnTimeout time.Duration

	// SystemPrompt is a text/template rendered before every turn. Empty
	// uses DefaultSystemPrompt.
	SystemPrompt string

	MaxTokens   int
	MailboxSize int

	Now func() time.Time
}

// Turn is one message of the conversation.
type Turn struct {
	Role      provider.Role `json:"role"`
	Content   string        `json:"content"`
	Timestamp time.Time     `json:"timestamp"`
}

// Snapshot is a copy of a session's state.
type Snapshot struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
	Cwd      string `json:"cwd"`
	State    State  `json:"state"`
	Turns    []Turn `json:"turns"`
}

// Stats counts the messages of the current session.
type Stats struct {
	SessionID         string `json:"session_id"`
	UserMessages      int    `json:"user_messages"`
	AssistantMessages int    `json:"assistant_messages"`
	TotalMessages     int    `json:"total_messages"`
}

// Session drives one conversation. A single goroutine owns its state and
// runs commands in arrival order; each turn streams in a goroutine of its
// own and reports back to that loop when it ends.
type Session struct {
	cfg    Config
	system *template.Template
	bus    *events.Bus

	cmds chan func()
	done chan struct{}

	// Owned by the loop goroutine.
	id      string
	state   State
	turns   []Turn
	turnNum int
	current *turn
	closing bool

	// pubMu orders publication and guards seq and turn.stopped.
	pubMu sync.Mutex
	seq   uint64
}

// New starts a session.
func New(cfg Config) (*Session, error) {
	if cfg.Credentials == nil {
		return nil, errors.New("session: credential source is required")
	}
	if cfg.Transport == nil {
		return nil, errors.New("session: transport is required")
	}
	if cfg.Provider == "" {
		cfg.Provider = cfg.Transport.Provider()
	}
	if cfg.Provider != cfg.Transport.Provider() {
		return nil, fmt.Errorf("session: transport serves %q, not %q", cfg.Transport.Provider(), cfg.Provider)
	}
	if cfg.Cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("session: resolving working directory: %w", err)
		}
		cfg.Cwd = wd
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	system, err := parseSystemPrompt(cfg.SystemPrompt)
	if err != nil {
		return nil, err
	}

	var busOpts []events.BusOption
	if cfg.MailboxSize > 0 {
		busOpts = append(busOpts, events.WithMailboxSize(cfg.MailboxSize))
	}

	s := &Session{
		cfg:    cfg,
		system: system,
		bus:    events.NewBus(busOpts...),
		cmds:   make(chan func()),
		done:   make(chan struct{}),
		id:     uuid.NewString(),
		state:  StateIdle,
	}
	go s.loop()

	logging.Debug("Session", "Started session %s for %s in %s", s.id, cfg.Provider, cfg.Cwd)
	return s, nil
}

func (s *Session) loop() {
	defer close(s.done)
	for cmd := range s.cmds {
		cmd()
		if s.state == StateClosed {
			return
		}
	}
}

// call runs fn on the loop goroutine and waits for it. It reports false
// when the loop has already exited.
func (s *Session) call(fn func()) bool {
	ran := make(chan struct{})
	select {
	case s.cmds <- func() { fn(); close(ran) }:
		<-ran
		return true
	case <-s.done:
		return false
	}
}

// read runs fn on the loop, or directly once the loop has exited and the
// state can no longer change.
func (s *Session) read(fn func()) {
	if !s.call(fn) {
		fn()
	}
}

// Prompt runs one turn and blocks until it ends. Cancelling ctx cancels the
// turn like Cancel does.
func (s *Session) Prompt(ctx context.Context, text string) error {
	var (
		t   *turn
		err error
	)
	if !s.call(func() { t, err = s.beginTurn(ctx, text) }) {
		return ErrSessionClosed
	}
	if err != nil {
		return err
	}
	return <-t.result
}

// Cancel stops the running turn. Once Cancel returns no further content
// for that turn is published. It does nothing when the session is idle.
func (s *Session) Cancel() {
	s.call(func() {
		if s.current != nil {
			s.stopTurn(s.current, errCancelRequested)
		}
	})
}

// Close cancels any running turn, waits for it to end and releases every
// subscriber. It is safe to call more than once.
func (s *Session) Close() error {
	select {
	case s.cmds <- s.beginClose:
	case <-s.done:
	}
	<-s.done
	return nil
}

func (s *Session) beginClose() {
	if s.closing {
		return
	}
	s.closing = true
	if s.current != nil {
		s.stopTurn(s.current, errSessionClosing)
		return
	}
	s.finishClose()
}

func (s *Session) finishClose() {
	s.state = StateClosed
	s.bus.Close()
	logging.Debug("Session", "Closed session %s", s.id)
}

// Subscribe registers an observer for this session's events. Subscribers
// only see events published after they subscribe.
func (s *Session) Subscribe(sub events.Subscriber) *events.Subscription {
	return s.bus.Subscribe(sub)
}

// NewSession discards the conversation and starts over under a new id.
func (s *Session) NewSession() (string, error) {
	var (
		id  string
		err error
	)
	if !s.call(func() {
		switch {
		case s.closing:
			err = ErrSessionClosed
		case s.current != nil:
			err = ErrSessionBusy
		default:
			s.id = uuid.NewString()
			s.turns = nil
			s.turnNum = 0
			id = s.id
		}
	}) {
		return "", ErrSessionClosed
	}
	if err == nil {
		logging.Debug("Session", "Started new session %s", id)
	}
	return id, err
}

func (s *Session) ID() string {
	var id string
	s.read(func() { id = s.id })
	return id
}

func (s *Session) State() State {
	var st State
	s.read(func() { st = s.state })
	return st
}

func (s *Session) Snapshot() Snapshot {
	var snap Snapshot
	s.read(func() {
		snap = Snapshot{
			ID:       s.id,
			Provider: s.cfg.Provider,
			Model:    s.cfg.Model,
			Cwd:      s.cfg.Cwd,
			State:    s.state,
			Turns:    append([]Turn(nil), s.turns...),
		}
	})
	return snap
}

// LastAssistantText returns the most recent assistant reply, or "".
func (s *Session) LastAssistantText() string {
	var text string
	s.read(func() {
		for i := len(s.turns) - 1; i >= 0; i-- {
			if s.turns[i].Role == provider.RoleAssistant {
				text = s.turns[i].Content
				return
			}
		}
	})
	return text
}

func (s *Session) Stats() Stats {
	var st Stats
	s.read(func() {
		st.SessionID = s.id
		for _, t := range s.turns {
			switch t.Role {
			case provider.RoleUser:
				st.UserMessages++
			case provider.RoleAssistant:
				st.AssistantMessages++
			}
		}
		st.TotalMessages = len(s.turns)
	})
	return st
}

// TranscriptPath returns where the current conversation is recorded, or ""
// when transcripts are disabled.
func (s *Session) TranscriptPath() string {
	if s.cfg.TranscriptDir == "" {
		return ""
	}
	return TranscriptPath(s.cfg.TranscriptDir, s.cfg.Cwd, s.ID())
}
