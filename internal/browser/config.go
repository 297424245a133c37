// Package browser drives a headless Chrome through the SENAVE registry
// portal to export a report as a spreadsheet.
package browser

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"time"

	"github.com/jmylchreest/senave-registros/internal/download"
)

// PortalURL is the SENAVE agrochemical registry search page.
const PortalURL = "http://secure.senave.gov.py:8443/registros/servlet/com.consultaregistros2.prod_agro2"

// Portal form controls and the export file name.
const (
	DefaultSelectSelector  = "#vPRO_TIPO"
	DefaultTriggerSelector = `[name="BUTTON2"]`
	DefaultFilePattern     = "excel_prod-*.xlsx"
)

// DefaultDownloadMIMETypes are response types forced to download instead of
// rendering in the page.
var DefaultDownloadMIMETypes = []string{
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"application/vnd.ms-excel",
	"application/octet-stream",
}

// Config holds configuration for a browser session.
type Config struct {
	PortalURL       string
	SelectSelector  string // report-type <select>
	TriggerSelector string // export button
	FilePattern     string // glob for the exported file's base name

	// DownloadDir receives the exports, one subdirectory per report. When
	// empty, every acquisition gets its own temporary directory.
	DownloadDir       string
	DownloadMIMETypes []string

	Headless  bool
	ExecPath  string // Chrome binary; FindChromePath() when empty
	UserAgent string

	NavigationTimeout time.Duration
	ElementTimeout    time.Duration // per control, until interactive
	DownloadTimeout   time.Duration // soft bound on the download wait
	PollInterval      time.Duration

	// Waiter detects the finished download; a PollWaiter when nil.
	Waiter download.Waiter

	// ScreenshotOnError saves a PNG of the page to the temp dir when a
	// browser step fails.
	ScreenshotOnError bool
}

// DefaultConfig returns the settings used against the live portal.
func DefaultConfig() Config {
	return Config{
		PortalURL:         PortalURL,
		SelectSelector:    DefaultSelectSelector,
		TriggerSelector:   DefaultTriggerSelector,
		FilePattern:       DefaultFilePattern,
		DownloadMIMETypes: DefaultDownloadMIMETypes,
		Headless:          true,
		UserAgent:         defaultUserAgent,
		NavigationTimeout: 60 * time.Second,
		ElementTimeout:    10 * time.Second,
		DownloadTimeout:   120 * time.Second,
		PollInterval:      time.Second,
	}
}

// Chrome user agent for better compatibility
const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PortalURL == "" {
		c.PortalURL = d.PortalURL
	}
	if c.SelectSelector == "" {
		c.SelectSelector = d.SelectSelector
	}
	if c.TriggerSelector == "" {
		c.TriggerSelector = d.TriggerSelector
	}
	if c.FilePattern == "" {
		c.FilePattern = d.FilePattern
	}
	if c.UserAgent == "" {
		c.UserAgent = d.UserAgent
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = d.NavigationTimeout
	}
	if c.ElementTimeout <= 0 {
		c.ElementTimeout = d.ElementTimeout
	}
	if c.DownloadTimeout <= 0 {
		c.DownloadTimeout = d.DownloadTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.Waiter == nil {
		c.Waiter = &download.PollWaiter{Interval: c.PollInterval}
	}
	return c
}

func (c Config) validate() error {
	u, err := url.Parse(c.PortalURL)
	if err != nil {
		return fmt.Errorf("invalid portal URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid portal URL %q: scheme must be http or https", c.PortalURL)
	}
	if filepath.Base(c.FilePattern) != c.FilePattern {
		return fmt.Errorf("file pattern %q must be a base name", c.FilePattern)
	}
	if _, err := filepath.Match(c.FilePattern, ""); err != nil {
		return fmt.Errorf("invalid file pattern %q: %w", c.FilePattern, err)
	}
	if c.DownloadDir != "" && !filepath.IsAbs(c.DownloadDir) {
		return errors.New("download directory must be absolute")
	}
	return nil
}
