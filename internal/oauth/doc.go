// Package oauth implements the per-provider OAuth2 authorization code + PKCE
// flows: building the authorization URL, exchanging the returned code and
// refreshing stored credentials.
//
// Two providers are built in, "anthropic" and "openai-codex". Their
// endpoints can be overridden per provider through NewRegistry. Failures are
// reported through the sentinels ErrConfig, ErrNetwork,
// ErrAuthExchangeFailed and ErrRefreshRejected; inspect them with errors.Is.
//
// For providers whose redirect URI points at the loopback interface,
// CallbackServer captures the redirect so the user does not have to paste
// the code back.
package oauth
