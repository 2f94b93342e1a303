package auth

import (
	"context"
	"fmt"
	"time"

	"tether/internal/broker"
	"tether/internal/oauth"
	"tether/pkg/logging"
	pkgoauth "tether/pkg/oauth"
)

// Store is the credential storage the manager works against. *vault.Vault
// implements it.
type Store interface {
	Get(provider string) (*pkgoauth.Credential, error)
	Put(provider string, c *pkgoauth.Credential) error
	Has(provider string) bool
	Remove(provider string) error
	List() ([]string, error)
	Clear() error
}

// RedirectConfig customizes where the provider sends the user after they
// authorize. The zero value uses the provider's configured redirect.
type RedirectConfig struct {
	RedirectURI string
}

// Manager is the operations surface a host uses to log in to providers and
// keep their credentials usable. Sessions obtain tokens through Broker.
type Manager struct {
	store  Store
	flows  *oauth.Registry
	broker *broker.Broker
	now    func() time.Time
}

// Option configures a Manager.
type Option func(*managerOptions)

type managerOptions struct {
	margin time.Duration
	now    func() time.Time
}

// WithRefreshMargin sets how long before expiry credentials are refreshed.
func WithRefreshMargin(d time.Duration) Option {
	return func(o *managerOptions) {
		o.margin = d
	}
}

// WithClock overrides the time source used for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(o *managerOptions) {
		o.now = now
	}
}

// NewManager creates a manager over store and flows.
func NewManager(store Store, flows *oauth.Registry, opts ...Option) *Manager {
	o := managerOptions{margin: pkgoauth.DefaultRefreshMargin, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Manager{
		store:  store,
		flows:  flows,
		broker: broker.New(store, flows, broker.WithMargin(o.margin), broker.WithClock(o.now)),
		now:    o.now,
	}
}

// Broker returns the credential broker shared by every session created from
// this manager, so refreshes are deduplicated process-wide.
func (m *Manager) Broker() *broker.Broker {
	return m.broker
}

// Providers returns the ids of every provider with a configured flow.
func (m *Manager) Providers() []string {
	return m.flows.IDs()
}

// HasAuth reports whether a credential is stored for provider, regardless of
// its expiry.
func (m *Manager) HasAuth(provider string) bool {
	return m.store.Has(provider)
}

// AuthURL starts a login. The returned Authorization carries the verifier
// and state that must be kept until the code comes back.
func (m *Manager) AuthURL(provider string, redirect RedirectConfig) (*oauth.Authorization, error) {
	flow, err := m.flows.FlowWithRedirect(provider, redirect.RedirectURI)
	if err != nil {
		return nil, err
	}
	auth, err := flow.AuthorizationURL()
	if err != nil {
		return nil, err
	}
	logging.Debug("Auth", "Created authorization request for %s (redirect %s)", provider, auth.RedirectURI)
	return auth, nil
}

// ExchangeCode trades code for a credential using the provider's configured
// redirect and stores the result.
func (m *Manager) ExchangeCode(ctx context.Context, provider, code, verifier string) (*pkgoauth.Credential, error) {
	flow, err := m.flows.Flow(provider)
	if err != nil {
		return nil, err
	}
	return m.exchange(ctx, flow, code, verifier)
}

// CompleteLogin finishes a login started with AuthURL. input is whatever the
// user pasted or the callback server received: a redirect URL, "code#state",
// a query string or the bare code. A state that does not match auth.State is
// rejected before anything is sent to the provider.
func (m *Manager) CompleteLogin(ctx context.Context, auth *oauth.Authorization, input string) (*pkgoauth.Credential, error) {
	if auth == nil {
		return nil, fmt.Errorf("%w: no authorization in progress", oauth.ErrInvalidInput)
	}
	code, state, err := oauth.ParseAuthorizationInput(input, auth.State)
	if err != nil {
		logging.Audit(fmt.Sprintf("Rejected authorization input for %s", auth.Provider), "login_rejected", "provider", auth.Provider, "reason", err.Error())
		return nil, err
	}
	if state == "" {
		state = auth.State
	}

	flow, err := m.flows.FlowWithRedirect(auth.Provider, auth.RedirectURI)
	if err != nil {
		return nil, err
	}
	return m.exchange(ctx, flow, code+"#"+state, auth.Verifier)
}

func (m *Manager) exchange(ctx context.Context, flow oauth.Flow, code, verifier string) (*pkgoauth.Credential, error) {
	provider := flow.Provider()
	c, err := flow.ExchangeCode(ctx, code, verifier)
	if err != nil {
		logging.Error("Auth", err, "Code exchange failed for %s", provider)
		return nil, err
	}
	if err := m.store.Put(provider, c); err != nil {
		return nil, fmt.Errorf("failed to store credential for %s: %w", provider, err)
	}
	logging.Info("Auth", "Logged in to %s", provider)
	return c.Clone(), nil
}

// RefreshToken refreshes provider's credential now, whatever its expiry, and
// stores the result. It shares in-flight refreshes with running sessions.
func (m *Manager) RefreshToken(ctx context.Context, provider string) (*pkgoauth.Credential, error) {
	return m.broker.ForceRefresh(ctx, provider)
}

// AccessTokenFor returns a token valid for at least the refresh margin.
func (m *Manager) AccessTokenFor(ctx context.Context, provider string) (string, error) {
	return m.broker.AccessTokenFor(ctx, provider)
}

// Logout deletes provider's credential. Logging out of a provider that has
// no credential is not an error.
func (m *Manager) Logout(provider string) error {
	return m.store.Remove(provider)
}

// LogoutAll deletes every stored credential.
func (m *Manager) LogoutAll() error {
	return m.store.Clear()
}
