package oauth

import (
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrowserCommand(t *testing.T) {
	t.Setenv("BROWSER", "")

	tests := []struct {
		goos    string
		want    string
		wantErr bool
	}{
		{"linux", "xdg-open", false},
		{"darwin", "open", false},
		{"windows", "rundll32", false},
		{"plan9", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.goos, func(t *testing.T) {
			cmd, err := browserCommand(tt.goos, "https://example.com")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, strings.HasSuffix(cmd.Path, tt.want) || cmd.Args[0] == tt.want,
				"expected %s, got %v", tt.want, cmd.Args)
			assert.Equal(t, "https://example.com", cmd.Args[len(cmd.Args)-1])
		})
	}
}

func TestBrowserCommand_EnvOverride(t *testing.T) {
	t.Setenv("BROWSER", "my-browser")

	cmd, err := browserCommand("linux", "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"my-browser", "https://example.com"}, cmd.Args)
}

func TestOpenBrowser_UsesLauncher(t *testing.T) {
	t.Setenv("BROWSER", "my-browser")

	var launched *exec.Cmd
	original := browserLauncher
	browserLauncher = func(cmd *exec.Cmd) error {
		launched = cmd
		return nil
	}
	defer func() { browserLauncher = original }()

	require.NoError(t, OpenBrowser("https://example.com/authorize"))
	require.NotNil(t, launched)
	assert.Equal(t, "https://example.com/authorize", launched.Args[1])
}
