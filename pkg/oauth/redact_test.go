package oauth

import (
	"bytes"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPreview(t *testing.T) {
	assert.Equal(t, "", Preview(""))
	assert.Equal(t, "[REDACTED]", Preview("short"))
	assert.Equal(t, "sk-ant...[REDACTED]", Preview("sk-ant-oat01-abcdefghijkl"))
}

func TestCredential_NeverPrintsSecrets(t *testing.T) {
	c := &Credential{
		Provider:     "anthropic",
		AccessToken:  "super-secret-access",
		RefreshToken: "super-secret-refresh",
		ExpiresAt:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	for _, verb := range []string{"%s", "%v", "%+v"} {
		out := fmt.Sprintf(verb, c)
		assert.NotContains(t, out, "super-secret", verb)
	}

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	logger.Info("stored", "credential", c)

	out := buf.String()
	assert.NotContains(t, out, "super-secret")
	assert.Contains(t, out, "credential.provider=anthropic")
	assert.Contains(t, out, "credential.expires_at=2026-01-02T03:04:05Z")
	assert.Contains(t, out, "credential.refreshable=true")
}
