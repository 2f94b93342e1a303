package events

import (
	"time"
)

// Kind identifies what an Event describes.
type Kind string

const (
	// KindTurnStarted is published once a turn has a usable credential and
	// is about to contact the provider.
	KindTurnStarted Kind = "turn_started"

	// KindContentDelta carries one chunk of streamed assistant text.
	KindContentDelta Kind = "content_delta"

	// KindTurnCompleted carries the full assistant reply of a finished turn.
	KindTurnCompleted Kind = "turn_completed"

	// KindError reports a failed turn. Reason says why.
	KindError Kind = "error"

	// KindCancelled reports a turn that was stopped before completing.
	KindCancelled Kind = "cancelled"
)

// Reason is a stable, machine-readable cause attached to error and
// cancelled events.
type Reason string

const (
	ReasonUnauthenticated Reason = "unauthenticated"
	ReasonNetwork         Reason = "network"
	ReasonProvider        Reason = "provider"
	ReasonTimeout         Reason = "timeout"
	ReasonInternal        Reason = "internal"

	// ReasonRequested marks a cancellation asked for by the caller.
	ReasonRequested Reason = "requested"

	// ReasonClosed marks a turn cut short by closing the session.
	ReasonClosed Reason = "closed"
)

// Event is an immutable record of something observable in a session.
// Seq is assigned by the publisher and increases by one per event within a
// session, so subscribers can detect drops.
type Event struct {
	Kind      Kind      `json:"kind"`
	SessionID string    `json:"session_id"`
	Seq       uint64    `json:"seq"`
	Turn      int       `json:"turn"`
	Timestamp time.Time `json:"timestamp"`
	Provider  string    `json:"provider,omitempty"`

	// Text is the prompt for turn_started, the chunk for content_delta and
	// the full reply for turn_completed.
	Text string `json:"text,omitempty"`

	Reason Reason `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`
}
