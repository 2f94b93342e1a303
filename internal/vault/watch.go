package vault

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"tether/pkg/logging"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the vault whenever another process replaces the file, for
// example a second tether instance completing a login. It blocks until ctx
// is cancelled. onReload, when non-nil, is called after every successful
// reload.
//
// The directory is watched rather than the file: atomic replacement swaps
// the inode, which would silently end a watch on the file itself.
func (v *Vault) Watch(ctx context.Context, onReload func()) error {
	dir := filepath.Dir(v.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create vault directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	logging.Debug("Vault", "Watching %s for external changes", dir)

	target := filepath.Clean(v.path)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if err := v.Reload(); err != nil {
				// Keep serving the last good snapshot.
				logging.Warn("Vault", "Ignoring unreadable vault after external change: %v", err)
				continue
			}
			logging.Info("Vault", "Reloaded credentials after external change to %s", v.path)
			if onReload != nil {
				onReload()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Error("Vault", err, "fsnotify error")
		}
	}
}
