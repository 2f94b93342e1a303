package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tether/internal/oauth"
	"tether/internal/vault"
	"tether/pkg/logging"
	pkgoauth "tether/pkg/oauth"

	"golang.org/x/sync/singleflight"
)

// ErrUnauthenticated means no usable credential exists for the provider:
// none was ever stored, or the stored one can no longer be refreshed. The
// user has to log in again.
var ErrUnauthenticated = errors.New("unauthenticated")

// Store is the slice of the vault the broker needs.
type Store interface {
	Get(provider string) (*pkgoauth.Credential, error)
	Put(provider string, c *pkgoauth.Credential) error
}

// FlowSource resolves the flow used to refresh a provider's credential.
type FlowSource interface {
	Flow(provider string) (oauth.Flow, error)
}

// Broker hands out access tokens that are valid for at least the refresh
// margin, refreshing and persisting them on demand. Concurrent callers for
// the same provider share one refresh.
type Broker struct {
	store  Store
	flows  FlowSource
	margin time.Duration
	now    func() time.Time

	refreshGroup singleflight.Group
}

// Option configures a Broker.
type Option func(*Broker)

// WithMargin sets how long before expiry a credential is refreshed.
func WithMargin(d time.Duration) Option {
	return func(b *Broker) {
		b.margin = d
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Broker) {
		b.now = now
	}
}

// New creates a broker over store and flows.
func New(store Store, flows FlowSource, opts ...Option) *Broker {
	b := &Broker{
		store:  store,
		flows:  flows,
		margin: pkgoauth.DefaultRefreshMargin,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Margin returns the configured refresh margin.
func (b *Broker) Margin() time.Duration {
	return b.margin
}

// AccessTokenFor returns a bearer token for provider.
func (b *Broker) AccessTokenFor(ctx context.Context, provider string) (string, error) {
	c, err := b.Credential(ctx, provider)
	if err != nil {
		return "", err
	}
	return c.AccessToken, nil
}

// Credential returns the full credential for provider, refreshed when it
// expires within the margin. Transports need more than the bearer token for
// some providers (the Codex account id).
func (b *Broker) Credential(ctx context.Context, provider string) (*pkgoauth.Credential, error) {
	c, err := b.load(provider)
	if err != nil {
		return nil, err
	}
	if !c.IsExpiredAt(b.now(), b.margin) {
		return c, nil
	}
	res, err := b.refresh(ctx, provider, false)
	if err != nil {
		return nil, err
	}
	return res.cred, nil
}

// maxForceAttempts bounds how often ForceRefresh rejoins the refresh group
// after landing on a call that found the credential still valid.
const maxForceAttempts = 3

// ForceRefresh refreshes provider's credential regardless of its expiry.
// It shares in-flight refreshes with AccessTokenFor, but only returns once
// a refresh has actually been performed.
func (b *Broker) ForceRefresh(ctx context.Context, provider string) (*pkgoauth.Credential, error) {
	if _, err := b.load(provider); err != nil {
		return nil, err
	}
	for attempt := 1; ; attempt++ {
		res, err := b.refresh(ctx, provider, true)
		if err != nil {
			return nil, err
		}
		if res.refreshed || attempt == maxForceAttempts {
			return res.cred, nil
		}
		logging.Debug("Broker", "Joined a refresh of %s that found the credential valid, forcing again", provider)
	}
}

// refreshResult is what a shared refresh hands to every waiter.
type refreshResult struct {
	cred      *pkgoauth.Credential
	refreshed bool
}

func (b *Broker) load(provider string) (*pkgoauth.Credential, error) {
	c, err := b.store.Get(provider)
	if err != nil {
		if errors.Is(err, vault.ErrNotFound) {
			return nil, fmt.Errorf("%w: no credential stored for %s", ErrUnauthenticated, provider)
		}
		return nil, err
	}
	return c, nil
}

// refresh runs at most one refresh per provider at a time. The shared
// work is detached from any single caller's context so one caller giving
// up does not fail the others; each caller still stops waiting when its
// own ctx ends.
func (b *Broker) refresh(ctx context.Context, provider string, force bool) (refreshResult, error) {
	ch := b.refreshGroup.DoChan(provider, func() (interface{}, error) {
		return b.doRefresh(context.WithoutCancel(ctx), provider, force)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return refreshResult{}, res.Err
		}
		shared := res.Val.(refreshResult)
		return refreshResult{cred: shared.cred.Clone(), refreshed: shared.refreshed}, nil
	case <-ctx.Done():
		return refreshResult{}, ctx.Err()
	}
}

func (b *Broker) doRefresh(ctx context.Context, provider string, force bool) (refreshResult, error) {
	// Another caller may have refreshed while we waited to get here.
	current, err := b.load(provider)
	if err != nil {
		return refreshResult{}, err
	}
	if !force && !current.IsExpiredAt(b.now(), b.margin) {
		return refreshResult{cred: current}, nil
	}

	flow, err := b.flows.Flow(provider)
	if err != nil {
		return refreshResult{}, err
	}

	logging.Debug("Broker", "Refreshing credential for %s (expires %s)", provider, current.ExpiresAt.Format(time.RFC3339))

	next, err := flow.Refresh(ctx, current)
	if err != nil {
		if errors.Is(err, oauth.ErrRefreshRejected) {
			logging.Warn("Broker", "Refresh token for %s was rejected, login required", provider)
			return refreshResult{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
		}
		logging.Error("Broker", err, "Refresh failed for %s", provider)
		return refreshResult{}, err
	}

	if err := b.store.Put(provider, next); err != nil {
		return refreshResult{}, fmt.Errorf("failed to persist refreshed credential: %w", err)
	}

	logging.Info("Broker", "Refreshed credential for %s, valid until %s", provider, next.ExpiresAt.Format(time.RFC3339))
	return refreshResult{cred: next, refreshed: true}, nil
}
