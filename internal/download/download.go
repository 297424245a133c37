// Package download detects spreadsheets that the browser saves to disk.
//
// Headless Chrome gives no reliable completion hook for a download started
// by a page script, so completion is observed on the filesystem: the browser
// writes <name>.crdownload while receiving and renames it to the final name
// once complete. A Waiter watches for the final name.
package download

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"
)

// Error types for distinguishing download failures.
// Check with errors.Is(err, download.ErrAmbiguousOrMissingDownload).
var (
	// ErrAmbiguousOrMissingDownload indicates zero or several files match the
	// expected download pattern.
	ErrAmbiguousOrMissingDownload = errors.New("ambiguous or missing download")
	// ErrWaitTimeout indicates no matching file appeared before the wait
	// timeout. Callers treat it as a warning and then check RequireSingle.
	ErrWaitTimeout = errors.New("timed out waiting for download")
)

// Waiter blocks until a file matching a glob pattern exists.
type Waiter interface {
	// WaitForFile returns the first path matching pattern. It returns an
	// error wrapping ErrWaitTimeout when timeout elapses first, and ctx.Err()
	// when ctx is cancelled.
	WaitForFile(ctx context.Context, pattern string, timeout time.Duration) (string, error)
}

// Matches returns the sorted paths matching pattern.
func Matches(pattern string) ([]string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid download pattern %q: %w", pattern, err)
	}
	sort.Strings(matches)
	return matches, nil
}

// RequireSingle returns the only file matching pattern. Zero or multiple
// matches fail with ErrAmbiguousOrMissingDownload; no candidate is picked.
func RequireSingle(pattern string) (string, error) {
	matches, err := Matches(pattern)
	if err != nil {
		return "", err
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return "", fmt.Errorf("%w: no file matches %s", ErrAmbiguousOrMissingDownload, pattern)
	default:
		return "", fmt.Errorf("%w: %d files match %s", ErrAmbiguousOrMissingDownload, len(matches), pattern)
	}
}

// NewWaiter returns the waiter for a watch mode: "poll" (default) or "notify".
func NewWaiter(mode string, interval time.Duration) (Waiter, error) {
	switch mode {
	case "", "poll":
		return &PollWaiter{Interval: interval}, nil
	case "notify":
		return &NotifyWaiter{}, nil
	default:
		return nil, fmt.Errorf("unknown watch mode: %s (use 'poll' or 'notify')", mode)
	}
}

func timeoutError(pattern string, timeout time.Duration) error {
	return fmt.Errorf("%w: no file matched %s within %s", ErrWaitTimeout, pattern, timeout)
}
