package broker

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tether/internal/oauth"
	"tether/internal/vault"
	pkgoauth "tether/pkg/oauth"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

// fakeFlow refreshes by appending a generation counter to the token.
type fakeFlow struct {
	provider string
	calls    atomic.Int32
	gate     chan struct{}
	err      error
	lifetime time.Duration
}

func (f *fakeFlow) Provider() string { return f.provider }

func (f *fakeFlow) AuthorizationURL() (*oauth.Authorization, error) {
	return nil, errors.New("not used")
}

func (f *fakeFlow) ExchangeCode(context.Context, string, string) (*pkgoauth.Credential, error) {
	return nil, errors.New("not used")
}

func (f *fakeFlow) Refresh(ctx context.Context, c *pkgoauth.Credential) (*pkgoauth.Credential, error) {
	n := f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	next := c.Clone()
	next.AccessToken = fmt.Sprintf("access-%d", n)
	next.ExpiresAt = now.Add(f.lifetime)
	return next, nil
}

func newTestBroker(t *testing.T, flow *fakeFlow, stored *pkgoauth.Credential) (*Broker, *vault.Vault) {
	t.Helper()
	if flow.lifetime == 0 {
		flow.lifetime = time.Hour
	}
	v := vault.New(filepath.Join(t.TempDir(), "auth.json"))
	if stored != nil {
		require.NoError(t, v.Put(flow.provider, stored))
	}
	b := New(v, oauth.NewRegistryWithFlows(flow), WithClock(func() time.Time { return now }))
	return b, v
}

func TestAccessTokenFor_NoCredential(t *testing.T) {
	flow := &fakeFlow{provider: "anthropic"}
	b, _ := newTestBroker(t, flow, nil)

	_, err := b.AccessTokenFor(context.Background(), "anthropic")
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.EqualValues(t, 0, flow.calls.Load())
}

func TestAccessTokenFor_MarginBoundary(t *testing.T) {
	margin := pkgoauth.DefaultRefreshMargin
	tests := []struct {
		name        string
		expiresAt   time.Time
		wantRefresh bool
	}{
		{"one second inside margin", now.Add(margin - time.Second), true},
		{"exactly at margin", now.Add(margin), true},
		{"one second outside margin", now.Add(margin + time.Second), false},
		{"already expired", now.Add(-time.Hour), true},
		{"no expiry", time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flow := &fakeFlow{provider: "anthropic"}
			b, v := newTestBroker(t, flow, &pkgoauth.Credential{
				AccessToken:  "stored",
				RefreshToken: "r",
				ExpiresAt:    tt.expiresAt,
			})

			token, err := b.AccessTokenFor(context.Background(), "anthropic")
			require.NoError(t, err)

			if tt.wantRefresh {
				assert.EqualValues(t, 1, flow.calls.Load())
				assert.Equal(t, "access-1", token)

				persisted, err := v.Get("anthropic")
				require.NoError(t, err)
				assert.Equal(t, "access-1", persisted.AccessToken)
			} else {
				assert.EqualValues(t, 0, flow.calls.Load())
				assert.Equal(t, "stored", token)
			}
		})
	}
}

func TestAccessTokenFor_ConcurrentCallersShareOneRefresh(t *testing.T) {
	flow := &fakeFlow{provider: "openai-codex", gate: make(chan struct{})}
	b, _ := newTestBroker(t, flow, &pkgoauth.Credential{
		AccessToken:  "stale",
		RefreshToken: "r",
		ExpiresAt:    now.Add(-time.Minute),
	})

	const callers = 16
	var (
		wg      sync.WaitGroup
		started sync.WaitGroup
		tokens  = make([]string, callers)
		errs    = make([]error, callers)
	)
	started.Add(callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			started.Done()
			tokens[i], errs[i] = b.AccessTokenFor(context.Background(), "openai-codex")
		}(i)
	}

	started.Wait()
	// Let every caller reach the singleflight before the refresh completes.
	require.Eventually(t, func() bool { return flow.calls.Load() == 1 }, 2*time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(flow.gate)
	wg.Wait()

	assert.EqualValues(t, 1, flow.calls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "access-1", tokens[i])
	}
}

func TestAccessTokenFor_RefreshRejected(t *testing.T) {
	flow := &fakeFlow{
		provider: "anthropic",
		err:      fmt.Errorf("%w: invalid_grant", oauth.ErrRefreshRejected),
	}
	b, v := newTestBroker(t, flow, &pkgoauth.Credential{
		AccessToken: "stale", RefreshToken: "r", ExpiresAt: now.Add(-time.Minute),
	})

	_, err := b.AccessTokenFor(context.Background(), "anthropic")
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.ErrorIs(t, err, oauth.ErrRefreshRejected)

	// The stale record is left for the user to replace by logging in.
	stored, err := v.Get("anthropic")
	require.NoError(t, err)
	assert.Equal(t, "stale", stored.AccessToken)
}

func TestAccessTokenFor_NetworkErrorPassesThrough(t *testing.T) {
	flow := &fakeFlow{provider: "anthropic", err: fmt.Errorf("%w: connection reset", oauth.ErrNetwork)}
	b, _ := newTestBroker(t, flow, &pkgoauth.Credential{
		AccessToken: "stale", RefreshToken: "r", ExpiresAt: now.Add(-time.Minute),
	})

	_, err := b.AccessTokenFor(context.Background(), "anthropic")
	assert.ErrorIs(t, err, oauth.ErrNetwork)
	assert.NotErrorIs(t, err, ErrUnauthenticated)
}

func TestAccessTokenFor_CallerCancellation(t *testing.T) {
	flow := &fakeFlow{provider: "anthropic", gate: make(chan struct{})}
	b, _ := newTestBroker(t, flow, &pkgoauth.Credential{
		AccessToken: "stale", RefreshToken: "r", ExpiresAt: now.Add(-time.Minute),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := b.AccessTokenFor(ctx, "anthropic")
		done <- err
	}()

	require.Eventually(t, func() bool { return flow.calls.Load() == 1 }, 2*time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	// The detached refresh still completes for the next caller.
	close(flow.gate)
	token, err := b.AccessTokenFor(context.Background(), "anthropic")
	require.NoError(t, err)
	assert.Equal(t, "access-1", token)
}

func TestForceRefresh(t *testing.T) {
	flow := &fakeFlow{provider: "anthropic"}
	b, _ := newTestBroker(t, flow, &pkgoauth.Credential{
		AccessToken: "fresh", RefreshToken: "r", ExpiresAt: now.Add(24 * time.Hour),
	})

	c, err := b.ForceRefresh(context.Background(), "anthropic")
	require.NoError(t, err)
	assert.Equal(t, "access-1", c.AccessToken)
	assert.EqualValues(t, 1, flow.calls.Load())

	_, err = b.ForceRefresh(context.Background(), "openai-codex")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestForceRefresh_JoiningAValidityCheckStillRefreshes(t *testing.T) {
	flow := &fakeFlow{provider: "anthropic"}
	b, _ := newTestBroker(t, flow, &pkgoauth.Credential{
		AccessToken: "fresh", RefreshToken: "r", ExpiresAt: now.Add(24 * time.Hour),
	})

	// An ordinary refresh that will find the credential still valid holds
	// the provider's slot while the forced refresh arrives.
	gate := make(chan struct{})
	ordinary := b.refreshGroup.DoChan("anthropic", func() (interface{}, error) {
		<-gate
		return b.doRefresh(context.Background(), "anthropic", false)
	})

	type result struct {
		c   *pkgoauth.Credential
		err error
	}
	forced := make(chan result, 1)
	go func() {
		c, err := b.ForceRefresh(context.Background(), "anthropic")
		forced <- result{c, err}
	}()

	time.Sleep(50 * time.Millisecond)
	close(gate)

	res := <-ordinary
	require.NoError(t, res.Err)
	assert.False(t, res.Val.(refreshResult).refreshed)

	select {
	case got := <-forced:
		require.NoError(t, got.err)
		assert.Equal(t, "access-1", got.c.AccessToken)
	case <-time.After(2 * time.Second):
		t.Fatal("forced refresh did not return")
	}
	assert.EqualValues(t, 1, flow.calls.Load())
}

func TestCredential_UnknownFlow(t *testing.T) {
	v := vault.New(filepath.Join(t.TempDir(), "auth.json"))
	require.NoError(t, v.Put("mystery", &pkgoauth.Credential{AccessToken: "a", RefreshToken: "r", ExpiresAt: now.Add(-time.Hour)}))

	b := New(v, oauth.NewRegistryWithFlows(), WithClock(func() time.Time { return now }))
	_, err := b.Credential(context.Background(), "mystery")
	assert.ErrorIs(t, err, oauth.ErrConfig)
}

func TestWithMargin(t *testing.T) {
	flow := &fakeFlow{provider: "anthropic"}
	v := vault.New(filepath.Join(t.TempDir(), "auth.json"))
	require.NoError(t, v.Put("anthropic", &pkgoauth.Credential{AccessToken: "stored", RefreshToken: "r", ExpiresAt: now.Add(5 * time.Minute)}))

	b := New(v, oauth.NewRegistryWithFlows(flow), WithClock(func() time.Time { return now }), WithMargin(10*time.Minute))
	assert.Equal(t, 10*time.Minute, b.Margin())

	token, err := b.AccessTokenFor(context.Background(), "anthropic")
	require.NoError(t, err)
	assert.Equal(t, "access-1", token)
}
