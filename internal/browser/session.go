package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"github.com/dustin/go-humanize"

	"github.com/jmylchreest/senave-registros/internal/download"
	"github.com/jmylchreest/senave-registros/internal/logger"
	"github.com/jmylchreest/senave-registros/internal/report"
)

// Error types for distinguishing browser failures.
// Check with errors.Is(err, browser.ErrElementTimeout).
var (
	// ErrElementTimeout indicates a form control never became interactive.
	ErrElementTimeout = errors.New("element not interactive before timeout")
	// ErrNavigation indicates the portal was unreachable or answered with an
	// error status.
	ErrNavigation = errors.New("portal navigation failed")
)

// Session exports reports from the portal. Every Acquire call launches and
// tears down its own Chrome process; a Session holds no browser between calls.
type Session struct {
	config Config
	drive  driver
}

// driver performs the portal interaction in a live browser whose downloads
// go to dir. It calls wait after the export has been triggered, while the
// browser is still open, and closes the browser before returning.
type driver func(ctx context.Context, t report.Type, dir string, wait func() error, log *slog.Logger) error

// New creates a session, filling unset fields from DefaultConfig.
func New(cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.ExecPath == "" {
		cfg.ExecPath = FindChromePath()
	}

	logger.Debug("browser session configured",
		"portal", cfg.PortalURL,
		"headless", cfg.Headless,
		"exec_path", cfg.ExecPath,
		"download_dir", cfg.DownloadDir,
		"element_timeout", cfg.ElementTimeout,
		"download_timeout", cfg.DownloadTimeout)

	s := &Session{config: cfg}
	s.drive = s.runChrome
	return s, nil
}

// Acquire exports report t and returns the path of the downloaded
// spreadsheet. The browser is closed before the download directory is
// checked, and exactly one file must match the export pattern.
func (s *Session) Acquire(ctx context.Context, t report.Type) (path string, err error) {
	if !t.Valid() {
		return "", fmt.Errorf("invalid report type %v", t)
	}
	log := logger.With("report", t.Name(), "code", t.Code())

	dir, isolated, err := s.downloadDir(t)
	if err != nil {
		return "", err
	}
	if isolated {
		defer func() {
			if err != nil {
				_ = os.RemoveAll(dir)
			}
		}()
	}
	pattern := filepath.Join(dir, s.config.FilePattern)

	// A leftover export would satisfy the wait immediately.
	stale, err := download.Matches(pattern)
	if err != nil {
		return "", err
	}
	if len(stale) > 0 {
		return "", fmt.Errorf("%w: %d file(s) matching %s already present before export",
			download.ErrAmbiguousOrMissingDownload, len(stale), pattern)
	}

	start := time.Now()
	wait := func() error { return s.waitForDownload(ctx, pattern, log) }
	if err := s.drive(ctx, t, dir, wait, log); err != nil {
		return "", err
	}

	path, err = download.RequireSingle(pattern)
	if err != nil {
		log.Error("download check failed", "dir", dir, "error", err)
		return "", err
	}

	if info, statErr := os.Stat(path); statErr == nil {
		log.Info("spreadsheet downloaded",
			"path", path,
			"size", humanize.Bytes(uint64(info.Size())),
			"duration", time.Since(start).Round(time.Millisecond))
	}
	return path, nil
}

// downloadDir returns the directory t's export is routed to. With a fixed
// DownloadDir every report gets its own subdirectory, so a spreadsheet kept
// from one report never matches the pattern of the next. Otherwise a fresh
// temporary directory is created and isolated is true.
func (s *Session) downloadDir(t report.Type) (dir string, isolated bool, err error) {
	if s.config.DownloadDir == "" {
		dir, err = os.MkdirTemp("", "senave-"+t.Name()+"-")
		if err != nil {
			return "", false, fmt.Errorf("failed to create download directory: %w", err)
		}
		return dir, true, nil
	}
	dir = filepath.Join(s.config.DownloadDir, t.Name())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", false, fmt.Errorf("failed to create download directory: %w", err)
	}
	return dir, false, nil
}

// Release removes the temporary download directory that held path once it
// is empty. It is a no-op when a fixed DownloadDir is configured.
func (s *Session) Release(path string) error {
	if s.config.DownloadDir != "" {
		return nil
	}
	dir := filepath.Dir(path)
	if err := os.Remove(dir); err != nil && !os.IsNotExist(err) {
		logger.Debug("download directory kept", "dir", dir, "reason", err)
	}
	return nil
}

// waitForDownload blocks until a file matches pattern. A timeout is only
// logged: the exactly-one-file check after shutdown decides.
func (s *Session) waitForDownload(ctx context.Context, pattern string, log *slog.Logger) error {
	log.Info("export triggered, waiting for download", "pattern", pattern, "timeout", s.config.DownloadTimeout)

	_, err := s.config.Waiter.WaitForFile(ctx, pattern, s.config.DownloadTimeout)
	if err == nil {
		return nil
	}
	if !errors.Is(err, download.ErrWaitTimeout) {
		return err
	}
	log.Warn("download did not appear before timeout", "pattern", pattern, "timeout", s.config.DownloadTimeout)
	return nil
}

// runChrome drives the portal in a fresh Chrome. Both contexts are
// cancelled on return, which terminates Chrome whatever step failed.
func (s *Session) runChrome(ctx context.Context, t report.Type, dir string, wait func() error, log *slog.Logger) error {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, s.allocatorOptions()...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			logger.Debug("chromedp", "msg", fmt.Sprintf(format, args...))
		}),
		chromedp.WithErrorf(func(format string, args ...any) {
			logger.Debug("chromedp error", "msg", fmt.Sprintf(format, args...))
		}),
	)
	defer func() {
		cancelBrowser()
		log.Debug("browser closed")
	}()

	// First Run starts Chrome; it must not carry a timeout or the deadline
	// would end the whole browser.
	if err := chromedp.Run(browserCtx); err != nil {
		return fmt.Errorf("failed to launch browser: %w", err)
	}
	log.Debug("browser started", "download_dir", dir)

	chromedp.ListenTarget(browserCtx, s.listen(browserCtx, log))

	setup := []chromedp.Action{
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllow).
			WithDownloadPath(dir).
			WithEventsEnabled(true),
	}
	if len(s.config.DownloadMIMETypes) > 0 {
		setup = append(setup, enableDownloadInterception())
	}
	if err := chromedp.Run(browserCtx, setup...); err != nil {
		return fmt.Errorf("failed to configure downloads: %w", err)
	}

	steps := []func(context.Context) error{
		s.navigate,
		func(ctx context.Context) error { return s.selectReport(ctx, t) },
		s.triggerExport,
	}
	for _, step := range steps {
		if err := step(browserCtx); err != nil {
			s.saveScreenshot(browserCtx, t)
			return err
		}
	}
	return wait()
}

func (s *Session) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", s.config.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(1920, 1080),
		chromedp.UserAgent(s.config.UserAgent),
	)
	if s.config.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(s.config.ExecPath))
	}
	return opts
}

// navigate loads the portal. Connection errors and HTTP error statuses are
// reported as ErrNavigation.
func (s *Session) navigate(ctx context.Context) error {
	navCtx, cancel := context.WithTimeout(ctx, s.config.NavigationTimeout)
	defer cancel()

	logger.Debug("navigating to portal", "url", s.config.PortalURL)
	resp, err := chromedp.RunResponse(navCtx, chromedp.Navigate(s.config.PortalURL))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNavigation, s.config.PortalURL, err)
	}
	if resp != nil && resp.Status >= 400 {
		return fmt.Errorf("%w: %s returned HTTP %d", ErrNavigation, s.config.PortalURL, resp.Status)
	}
	return nil
}

// waitInteractive blocks until sel exists and is enabled.
func (s *Session) waitInteractive(ctx context.Context, sel string) error {
	waitCtx, cancel := context.WithTimeout(ctx, s.config.ElementTimeout)
	defer cancel()

	err := chromedp.Run(waitCtx,
		chromedp.WaitReady(sel, chromedp.ByQuery),
		chromedp.WaitEnabled(sel, chromedp.ByQuery),
	)
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && (errors.Is(err, context.DeadlineExceeded) || waitCtx.Err() != nil) {
		return fmt.Errorf("%w: %s after %s", ErrElementTimeout, sel, s.config.ElementTimeout)
	}
	return fmt.Errorf("waiting for %s: %w", sel, err)
}

// selectReport sets the report-type select to t's code and fires the change
// event the portal listens for.
func (s *Session) selectReport(ctx context.Context, t report.Type) error {
	sel := s.config.SelectSelector
	if err := s.waitInteractive(ctx, sel); err != nil {
		return err
	}

	var selected string
	if err := chromedp.Run(ctx,
		chromedp.SetValue(sel, t.Code(), chromedp.ByQuery),
		chromedp.Evaluate(changeScript(sel), &selected),
	); err != nil {
		return fmt.Errorf("failed to select report %s: %w", t, err)
	}
	if selected != t.Code() {
		return fmt.Errorf("portal does not offer report code %q (select value is %q)", t.Code(), selected)
	}
	logger.Debug("report selected", "selector", sel, "code", selected)
	return nil
}

// changeScript dispatches a bubbling change event on sel and returns its
// value.
func changeScript(sel string) string {
	quoted, _ := json.Marshal(sel)
	return fmt.Sprintf(`(function() {
	const el = document.querySelector(%s);
	el.dispatchEvent(new Event("change", {bubbles: true}));
	return el.value;
})()`, quoted)
}

// triggerExport hovers the export button and clicks it with real mouse
// events.
func (s *Session) triggerExport(ctx context.Context) error {
	sel := s.config.TriggerSelector
	if err := s.waitInteractive(ctx, sel); err != nil {
		return err
	}

	var nodes []*cdp.Node
	if err := chromedp.Run(ctx,
		chromedp.ScrollIntoView(sel, chromedp.ByQuery),
		chromedp.Nodes(sel, &nodes, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("failed to locate export control: %w", err)
	}
	if len(nodes) == 0 {
		return fmt.Errorf("export control %s not found", sel)
	}

	if err := chromedp.Run(ctx, hoverAndClick(nodes[0])); err != nil {
		return fmt.Errorf("failed to click export control: %w", err)
	}
	logger.Debug("export control clicked", "selector", sel)
	return nil
}

// listen logs download lifecycle events and forces spreadsheet responses
// to download.
func (s *Session) listen(ctx context.Context, log *slog.Logger) func(ev any) {
	return func(ev any) {
		switch e := ev.(type) {
		case *browser.EventDownloadWillBegin:
			log.Debug("download started", "file", e.SuggestedFilename, "url", e.URL)
		case *browser.EventDownloadProgress:
			switch e.State {
			case browser.DownloadProgressStateCompleted:
				log.Debug("download completed", "received", humanize.Bytes(uint64(e.ReceivedBytes)))
			case browser.DownloadProgressStateCanceled:
				log.Warn("download canceled by browser")
			}
		default:
			handleInterception(ctx, ev, s.config.DownloadMIMETypes)
		}
	}
}

// saveScreenshot writes a debug screenshot when enabled.
func (s *Session) saveScreenshot(ctx context.Context, t report.Type) {
	if !s.config.ScreenshotOnError {
		return
	}
	var shot []byte
	captureCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := chromedp.Run(captureCtx, chromedp.CaptureScreenshot(&shot)); err != nil {
		return
	}
	path := filepath.Join(os.TempDir(), fmt.Sprintf("senave-%s-%d.png", t.Name(), time.Now().UnixNano()))
	if err := os.WriteFile(path, shot, 0o644); err == nil {
		logger.Info("debug screenshot saved", "path", path)
	}
}
