package oauth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCredential_IsExpiredAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	margin := 60 * time.Second

	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{"no expiry", time.Time{}, false},
		{"far future", now.Add(time.Hour), false},
		{"just outside margin", now.Add(margin + time.Second), false},
		{"exactly at margin", now.Add(margin), true},
		{"inside margin", now.Add(margin - time.Second), true},
		{"already expired", now.Add(-time.Minute), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Credential{ExpiresAt: tt.expiresAt}
			assert.Equal(t, tt.want, c.IsExpiredAt(now, margin))
		})
	}
}

func TestCredential_Clone(t *testing.T) {
	orig := &Credential{Provider: "anthropic", AccessToken: "a", RefreshToken: "r"}
	cp := orig.Clone()
	cp.AccessToken = "changed"

	assert.Equal(t, "a", orig.AccessToken)
	assert.Nil(t, (*Credential)(nil).Clone())
}

func TestCredential_ToOAuth2Token(t *testing.T) {
	exp := time.Now().Add(time.Hour)
	c := &Credential{AccessToken: "a", RefreshToken: "r", ExpiresAt: exp}

	tok := c.ToOAuth2Token()
	assert.Equal(t, "a", tok.AccessToken)
	assert.Equal(t, "r", tok.RefreshToken)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.True(t, tok.Expiry.Equal(exp))
}

func TestCredential_Scopes(t *testing.T) {
	assert.Nil(t, (&Credential{}).Scopes())
	assert.Equal(t, []string{"openid", "email"}, (&Credential{Scope: "openid  email"}).Scopes())
}

func TestTokenResponse_ExpiresAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, now.Add(time.Hour), (&TokenResponse{ExpiresIn: 3600}).ExpiresAt(now))
	assert.True(t, (&TokenResponse{}).ExpiresAt(now).IsZero())
	assert.True(t, (&TokenResponse{ExpiresIn: -5}).ExpiresAt(now).IsZero())
}
