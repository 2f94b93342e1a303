package auth

import (
	"errors"
	"sort"
	"time"

	"tether/internal/oauth"
	"tether/internal/vault"
	pkgoauth "tether/pkg/oauth"
)

// State summarizes how usable a provider's credential is.
type State int

const (
	// StateNotAuthenticated means no credential is stored.
	StateNotAuthenticated State = iota

	// StateAuthenticated means the stored access token is valid beyond the
	// refresh margin.
	StateAuthenticated

	// StateRefreshable means the access token is expired or about to expire
	// but a refresh token is available.
	StateRefreshable

	// StateExpired means the access token is expired and cannot be
	// refreshed; the user has to log in again.
	StateExpired
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateNotAuthenticated:
		return "not_authenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateRefreshable:
		return "refreshable"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status describes one provider's credential without exposing its secrets.
type Status struct {
	Provider     string    `json:"provider"`
	Name         string    `json:"name"`
	State        State     `json:"state"`
	ExpiresAt    time.Time `json:"expiresAt,omitempty"`
	AccountID    string    `json:"accountID,omitempty"`
	Email        string    `json:"email,omitempty"`
	TokenPreview string    `json:"tokenPreview,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt,omitempty"`
}

// Status reports the credential state of every configured provider, plus any
// provider that only exists in the store.
func (m *Manager) Status() ([]Status, error) {
	names := make(map[string]string)
	for _, p := range oauth.Providers() {
		names[p.ID] = p.Name
	}

	ids := make(map[string]struct{})
	for _, id := range m.flows.IDs() {
		ids[id] = struct{}{}
	}
	stored, err := m.store.List()
	if err != nil {
		return nil, err
	}
	for _, id := range stored {
		ids[id] = struct{}{}
	}

	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	now := m.now()
	statuses := make([]Status, 0, len(sorted))
	for _, id := range sorted {
		st := Status{Provider: id, Name: names[id]}
		if st.Name == "" {
			st.Name = id
		}

		c, err := m.store.Get(id)
		switch {
		case errors.Is(err, vault.ErrNotFound):
			st.State = StateNotAuthenticated
		case err != nil:
			return nil, err
		default:
			st.State = stateOf(c, now, m.broker.Margin())
			st.ExpiresAt = c.ExpiresAt
			st.AccountID = c.AccountID
			st.Email = c.Email
			st.TokenPreview = pkgoauth.Preview(c.AccessToken)
			st.UpdatedAt = c.UpdatedAt
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

func stateOf(c *pkgoauth.Credential, now time.Time, margin time.Duration) State {
	if !c.IsExpiredAt(now, margin) {
		return StateAuthenticated
	}
	if c.CanRefresh() {
		return StateRefreshable
	}
	return StateExpired
}
