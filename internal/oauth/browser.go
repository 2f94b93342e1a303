package oauth

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// browserLauncher starts the command; tests swap it out so no browser opens.
var browserLauncher = func(cmd *exec.Cmd) error {
	return cmd.Start()
}

// browserCommand picks the opener for the current platform. $BROWSER wins
// when set, which is how headless and SSH sessions usually configure it.
func browserCommand(goos, url string) (*exec.Cmd, error) {
	if b := strings.TrimSpace(os.Getenv("BROWSER")); b != "" {
		return exec.Command(b, url), nil
	}
	switch goos {
	case "linux", "freebsd", "openbsd":
		return exec.Command("xdg-open", url), nil
	case "darwin":
		return exec.Command("open", url), nil
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url), nil
	default:
		return nil, fmt.Errorf("unsupported platform: %s", goos)
	}
}

// OpenBrowser opens url in the user's browser without waiting for it.
func OpenBrowser(url string) error {
	cmd, err := browserCommand(runtime.GOOS, url)
	if err != nil {
		return err
	}
	if err := browserLauncher(cmd); err != nil {
		return fmt.Errorf("failed to open browser: %w", err)
	}
	return nil
}
