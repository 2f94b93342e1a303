// Package auth is the host-facing entry point for provider credentials.
//
// A Manager ties the credential vault, the per-provider OAuth flows and the
// credential broker together:
//
//	flows, _ := oauth.NewRegistry(nil)
//	mgr := auth.NewManager(vault.New(path), flows)
//
//	login, _ := mgr.AuthURL(oauth.ProviderAnthropic, auth.RedirectConfig{})
//	// send the user to login.URL, then
//	cred, err := mgr.CompleteLogin(ctx, login, pasted)
//
// Sessions take mgr.Broker() so that every token they use is refreshed at
// most once per provider, however many sessions run concurrently.
package auth
