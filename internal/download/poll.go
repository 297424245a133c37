package download

import (
	"context"
	"time"

	"github.com/jmylchreest/senave-registros/internal/logger"
)

// DefaultPollInterval is used when PollWaiter.Interval is zero.
const DefaultPollInterval = time.Second

// PollWaiter globs the pattern at a fixed interval.
type PollWaiter struct {
	Interval time.Duration
}

// WaitForFile implements Waiter.
func (w *PollWaiter) WaitForFile(ctx context.Context, pattern string, timeout time.Duration) (string, error) {
	interval := w.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Debug("polling for download", "pattern", pattern, "interval", interval, "timeout", timeout)

	for {
		matches, err := Matches(pattern)
		if err != nil {
			return "", err
		}
		if len(matches) > 0 {
			logger.Debug("download found", "path", matches[0], "matches", len(matches))
			return matches[0], nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline.C:
			return "", timeoutError(pattern, timeout)
		case <-ticker.C:
		}
	}
}
