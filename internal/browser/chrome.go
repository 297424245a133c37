package browser

import (
	"os/exec"

	"github.com/jmylchreest/senave-registros/internal/logger"
)

// chromeCandidates lists the Chrome builds found on the Linux hosts and
// containers the exporter runs on, in order of preference. Bare names are
// resolved through PATH.
var chromeCandidates = []string{
	"headless-shell",
	"/headless-shell/headless-shell", // chromedp/headless-shell image
	"chromium",
	"chromium-browser",
	"/snap/bin/chromium",
	"google-chrome-stable",
	"google-chrome",
}

// FindChromePath returns the first candidate that resolves to an executable,
// or "" when none does. The candidates tried are logged so a missing browser
// is easy to diagnose; --chrome-path bypasses the lookup.
func FindChromePath() string {
	return findExecutable(chromeCandidates, exec.LookPath)
}

func findExecutable(candidates []string, lookPath func(string) (string, error)) string {
	for _, name := range candidates {
		if path, err := lookPath(name); err == nil {
			logger.Debug("chrome binary found", "candidate", name, "path", path)
			return path
		}
	}
	logger.Warn("no chrome binary found; set --chrome-path", "tried", candidates)
	return ""
}
