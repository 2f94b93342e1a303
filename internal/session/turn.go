package session

import (
	"context"
	"errors"
	"fmt"

	"tether/internal/broker"
	"tether/internal/events"
	"tether/internal/oauth"
	"tether/internal/provider"
	"tether/pkg/logging"
	strs "tether/pkg/strings"
)

// Cancellation causes, recorded on the turn context.
var (
	errCancelRequested = errors.New("cancel requested")
	errSessionClosing  = errors.New("session closing")
	errTurnDeadline    = errors.New("turn deadline exceeded")
)

type turn struct {
	number    int
	sessionID string
	prompt    string
	history   []Turn

	ctx       context.Context
	cancel    context.CancelCauseFunc
	stopTimer context.CancelFunc

	// Guarded by Session.pubMu.
	stopped   bool
	stopCause error

	result chan error
}

type turnResult struct {
	kind   events.Kind
	reason events.Reason
	err    error
	reply  *provider.Reply
}

func (s *Session) beginTurn(ctx context.Context, prompt string) (*turn, error) {
	if s.closing {
		return nil, ErrSessionClosed
	}
	if s.current != nil {
		return nil, ErrSessionBusy
	}

	tctx, cancel := context.WithCancelCause(ctx)
	stopTimer := context.CancelFunc(func() {})
	if s.cfg.TurnTimeout > 0 {
		tctx, stopTimer = context.WithTimeoutCause(tctx, s.cfg.TurnTimeout, errTurnDeadline)
	}

	s.turnNum++
	t := &turn{
		number:    s.turnNum,
		sessionID: s.id,
		prompt:    prompt,
		history:   append([]Turn(nil), s.turns...),
		ctx:       tctx,
		cancel:    cancel,
		stopTimer: stopTimer,
		result:    make(chan error, 1),
	}
	s.current = t
	s.state = StateProcessing
	logging.Debug("Session", "Turn %d of %s started: %q", t.number, t.sessionID, strs.Preview(prompt, strs.DefaultPreviewLen))

	go s.runTurn(t)
	return t, nil
}

// stopTurn marks t stopped before cancelling its context so that no delta
// is published once this returns.
func (s *Session) stopTurn(t *turn, cause error) {
	if s.state == StateProcessing {
		s.state = StateCancelling
	}
	s.pubMu.Lock()
	if !t.stopped {
		t.stopped = true
		t.stopCause = cause
	}
	s.pubMu.Unlock()
	t.cancel(cause)
}

func (s *Session) runTurn(t *turn) {
	res := s.executeTurn(t)
	// The loop cannot exit while a turn is current, so this send completes.
	s.cmds <- func() { s.finishTurn(t, res) }
}

func (s *Session) executeTurn(t *turn) turnResult {
	cred, err := s.cfg.Credentials.Credential(t.ctx, s.cfg.Provider)
	if err != nil {
		return s.failure(t, err)
	}

	system, err := s.renderSystemPrompt(t)
	if err != nil {
		return s.failure(t, err)
	}

	s.publish(t, events.Event{Kind: events.KindTurnStarted, Text: t.prompt})

	messages := make([]provider.Message, 0, len(t.history)+1)
	for _, h := range t.history {
		messages = append(messages, provider.Message{Role: h.Role, Content: h.Content})
	}
	messages = append(messages, provider.Message{Role: provider.RoleUser, Content: t.prompt})

	reply, err := s.cfg.Transport.Stream(t.ctx, provider.Request{
		Credential: cred,
		Model:      s.cfg.Model,
		System:     system,
		Messages:   messages,
		MaxTokens:  s.cfg.MaxTokens,
		SessionID:  t.sessionID,
	}, func(text string) error {
		if !s.publishDelta(t, text) {
			return ErrCancelled
		}
		return nil
	})
	if err != nil {
		return s.failure(t, err)
	}
	return turnResult{kind: events.KindTurnCompleted, reply: reply}
}

// failure classifies a turn error. A stopped or expired turn is a
// cancellation whatever error the transport surfaced.
func (s *Session) failure(t *turn, err error) turnResult {
	s.pubMu.Lock()
	stopped, cause := t.stopped, t.stopCause
	s.pubMu.Unlock()

	if !stopped && t.ctx.Err() != nil {
		stopped, cause = true, context.Cause(t.ctx)
	}
	if stopped {
		return cancellation(cause)
	}
	return turnResult{kind: events.KindError, reason: reasonFor(err), err: err}
}

func cancellation(cause error) turnResult {
	res := turnResult{kind: events.KindCancelled}
	switch {
	case errors.Is(cause, errTurnDeadline), errors.Is(cause, context.DeadlineExceeded):
		res.reason, res.err = events.ReasonTimeout, ErrTurnTimeout
	case errors.Is(cause, errSessionClosing):
		res.reason, res.err = events.ReasonClosed, fmt.Errorf("%w: %w", ErrCancelled, ErrSessionClosed)
	case errors.Is(cause, errCancelRequested):
		res.reason, res.err = events.ReasonRequested, ErrCancelled
	default:
		res.reason, res.err = events.ReasonRequested, fmt.Errorf("%w: %w", ErrCancelled, cause)
	}
	return res
}

func reasonFor(err error) events.Reason {
	var apiErr *provider.APIError
	switch {
	case errors.Is(err, broker.ErrUnauthenticated), errors.Is(err, provider.ErrUnauthorized):
		return events.ReasonUnauthenticated
	case errors.Is(err, oauth.ErrNetwork):
		return events.ReasonNetwork
	case errors.As(err, &apiErr), errors.Is(err, oauth.ErrRefreshRejected), errors.Is(err, oauth.ErrAuthExchangeFailed):
		return events.ReasonProvider
	default:
		return events.ReasonInternal
	}
}

// finishTurn runs on the loop. State is settled before the terminal event
// is published so observers reacting to it find the session idle.
//
// A turn stopped after the transport already returned its reply still ends
// as cancelled: once Cancel has returned no reply is published.
func (s *Session) finishTurn(t *turn, res turnResult) {
	t.stopTimer()
	t.cancel(nil)
	s.current = nil

	if res.kind == events.KindTurnCompleted {
		s.pubMu.Lock()
		stopped, cause := t.stopped, t.stopCause
		s.pubMu.Unlock()
		if stopped {
			res = cancellation(cause)
		}
	}

	e := events.Event{Kind: res.kind, Reason: res.reason}
	switch res.kind {
	case events.KindTurnCompleted:
		now := s.cfg.Now().UTC()
		s.turns = append(s.turns,
			Turn{Role: provider.RoleUser, Content: t.prompt, Timestamp: now},
			Turn{Role: provider.RoleAssistant, Content: res.reply.Text, Timestamp: now},
		)
		s.recordTranscript(t, res.reply, now)
		e.Text = res.reply.Text
		logging.Debug("Session", "Turn %d of %s completed (%s, %d output tokens)", t.number, t.sessionID, res.reply.StopReason, res.reply.OutputTokens)
	case events.KindCancelled:
		logging.Debug("Session", "Turn %d of %s cancelled (%s)", t.number, t.sessionID, res.reason)
	default:
		e.Error = res.err.Error()
		logging.Warn("Session", "Turn %d of %s failed (%s): %v", t.number, t.sessionID, res.reason, res.err)
	}

	if !s.closing {
		s.state = StateIdle
	}
	s.publish(t, e)
	t.result <- res.err

	if s.closing {
		s.finishClose()
	}
}

func (s *Session) publish(t *turn, e events.Event) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	s.publishLocked(t, e)
}

// publishDelta reports false when the turn has been stopped and the text
// was discarded.
func (s *Session) publishDelta(t *turn, text string) bool {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	if t.stopped || t.ctx.Err() != nil {
		return false
	}
	s.publishLocked(t, events.Event{Kind: events.KindContentDelta, Text: text})
	return true
}

func (s *Session) publishLocked(t *turn, e events.Event) {
	s.seq++
	e.Seq = s.seq
	e.SessionID = t.sessionID
	e.Turn = t.number
	e.Provider = s.cfg.Provider
	e.Timestamp = s.cfg.Now().UTC()
	s.bus.Publish(e)
}
