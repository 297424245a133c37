package download

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jmylchreest/senave-registros/internal/logger"
)

// NotifyWaiter watches the pattern's directory with fsnotify instead of
// polling. The directory must already exist.
type NotifyWaiter struct{}

// WaitForFile implements Waiter.
func (w *NotifyWaiter) WaitForFile(ctx context.Context, pattern string, timeout time.Duration) (string, error) {
	dir, base := filepath.Dir(pattern), filepath.Base(pattern)
	if _, err := filepath.Match(base, ""); err != nil {
		return "", fmt.Errorf("invalid download pattern %q: %w", pattern, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return "", fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return "", fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	// The file may have landed before the watch was registered.
	if matches, err := Matches(pattern); err != nil {
		return "", err
	} else if len(matches) > 0 {
		return matches[0], nil
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	logger.Debug("watching for download", "dir", dir, "pattern", base, "timeout", timeout)

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline.C:
			return "", timeoutError(pattern, timeout)
		case err, ok := <-watcher.Errors:
			if !ok {
				return "", fmt.Errorf("watcher closed")
			}
			logger.Warn("download watcher error", "error", err)
		case ev, ok := <-watcher.Events:
			if !ok {
				return "", fmt.Errorf("watcher closed")
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Write) {
				continue
			}
			if matched, _ := filepath.Match(base, filepath.Base(ev.Name)); !matched {
				continue
			}
			if _, err := os.Stat(ev.Name); err != nil {
				continue
			}
			logger.Debug("download found", "path", ev.Name, "op", ev.Op.String())
			return ev.Name, nil
		}
	}
}
