// Package provider streams assistant replies from the model APIs that accept
// subscription OAuth tokens.
//
// A Transport turns a Request into a sequence of text deltas delivered in
// order to a DeltaFunc, followed by a Reply. Transports never refresh
// credentials: the caller passes a credential that is already fresh, usually
// obtained from the broker.
//
// Errors are classified so callers can branch with errors.Is:
//
//   - ErrUnauthorized: the token was missing or rejected (HTTP 401)
//   - oauth.ErrNetwork: the connection failed, the stream was cut short, or
//     the API answered 429 or 5xx
//   - *APIError: any other error answer or error event
//
// Cancelling the context stops delivery at the next chunk.
package provider
