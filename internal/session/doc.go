// Package session drives conversations with a provider.
//
// A Session accepts one prompt at a time. Each turn fetches a credential,
// streams the reply through a provider.Transport and publishes what happens
// on the session's event bus:
//
//	turn_started → content_delta* → turn_completed | error | cancelled
//
// Every event carries the session id, the turn number and a sequence number
// that grows by one per event, so observers can spot drops. A turn that
// cannot get a credential publishes an error event and never contacts the
// provider.
//
// Cancel, a cancelled Prompt context and the configured turn timeout all end
// a turn with exactly one cancelled event. Close cancels a running turn,
// flushes queued events to subscribers and releases them.
//
// When a transcript directory is configured, completed turns are appended
// as JSON lines to <dir>/<cwd-hash>/<session-id>.jsonl.
package session
