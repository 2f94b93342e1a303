// Package oauth contains the provider-independent OAuth2 pieces shared by the
// credential vault, the provider flows and the CLI: the persisted Credential
// record, PKCE and state generation, and a small token endpoint client that
// speaks both form-encoded and JSON request bodies.
package oauth
