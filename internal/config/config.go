// Package config collects senave settings from flags, environment and the
// config file (through viper) and validates them.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/jmylchreest/senave-registros/internal/browser"
	"github.com/jmylchreest/senave-registros/internal/download"
	"github.com/jmylchreest/senave-registros/internal/report"
)

// Keys used in the config file, environment (SENAVE_ prefix, '-' as '_')
// and flag bindings.
const (
	KeyPortalURL       = "portal_url"
	KeyReports         = "reports"
	KeyOutDir          = "out_dir"
	KeyTargets         = "targets"
	KeyKeepSource      = "keep_source"
	KeyDownloadDir     = "download_dir"
	KeyWatch           = "watch"
	KeyHeadless        = "headless"
	KeyChromePath      = "chrome_path"
	KeyNavTimeout      = "nav_timeout"
	KeyElementTimeout  = "element_timeout"
	KeyPollInterval    = "poll_interval"
	KeyDownloadTimeout = "download_timeout"
	KeyPreflight       = "preflight"
	KeySummary         = "summary"
	KeyScreenshot      = "screenshot_on_error"
	KeyDelimiter       = "delimiter"
)

// Config is the resolved configuration of a download run.
type Config struct {
	PortalURL       string        `validate:"required,url"`
	Reports         []string      `validate:"required,min=1,dive,required"`
	OutDir          string        `validate:"required"`
	Targets         []string      `validate:"dive,contains=="`
	KeepSource      bool
	DownloadDir     string
	Watch           string        `validate:"oneof=poll notify"`
	Headless        bool
	ChromePath      string
	NavTimeout      time.Duration `validate:"gt=0"`
	ElementTimeout  time.Duration `validate:"gt=0"`
	PollInterval    time.Duration `validate:"gt=0"`
	DownloadTimeout time.Duration `validate:"gtfield=PollInterval"`
	Preflight       bool
	Summary         string        `validate:"oneof=none json jsonl yaml"`
	Screenshot      bool
	Delimiter       string        `validate:"len=1"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	d := browser.DefaultConfig()
	v.SetDefault(KeyPortalURL, d.PortalURL)
	v.SetDefault(KeyReports, []string{"P", "F"})
	v.SetDefault(KeyOutDir, ".")
	v.SetDefault(KeyWatch, "poll")
	v.SetDefault(KeyHeadless, true)
	v.SetDefault(KeyNavTimeout, d.NavigationTimeout)
	v.SetDefault(KeyElementTimeout, d.ElementTimeout)
	v.SetDefault(KeyPollInterval, d.PollInterval)
	v.SetDefault(KeyDownloadTimeout, d.DownloadTimeout)
	v.SetDefault(KeySummary, "none")
	v.SetDefault(KeyDelimiter, ",")
}

// FromViper reads and validates the configuration held by v.
func FromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		PortalURL:       v.GetString(KeyPortalURL),
		Reports:         v.GetStringSlice(KeyReports),
		OutDir:          v.GetString(KeyOutDir),
		Targets:         v.GetStringSlice(KeyTargets),
		KeepSource:      v.GetBool(KeyKeepSource),
		DownloadDir:     v.GetString(KeyDownloadDir),
		Watch:           strings.ToLower(v.GetString(KeyWatch)),
		Headless:        v.GetBool(KeyHeadless),
		ChromePath:      v.GetString(KeyChromePath),
		NavTimeout:      v.GetDuration(KeyNavTimeout),
		ElementTimeout:  v.GetDuration(KeyElementTimeout),
		PollInterval:    v.GetDuration(KeyPollInterval),
		DownloadTimeout: v.GetDuration(KeyDownloadTimeout),
		Preflight:       v.GetBool(KeyPreflight),
		Summary:         strings.ToLower(v.GetString(KeySummary)),
		Screenshot:      v.GetBool(KeyScreenshot),
		Delimiter:       v.GetString(KeyDelimiter),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints and that report names and targets parse.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, e := range verrs {
				msgs = append(msgs, formatValidationError(e))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return err
	}
	if _, err := c.ReportTypes(); err != nil {
		return err
	}
	if _, err := c.ResolveTargets(); err != nil {
		return err
	}
	return nil
}

func formatValidationError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", e.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", e.Field(), e.Param(), e.Value())
	case "gt":
		return fmt.Sprintf("%s must be positive", e.Field())
	case "gtfield":
		return fmt.Sprintf("%s must be greater than %s", e.Field(), e.Param())
	case "url":
		return fmt.Sprintf("%s must be a URL, got %q", e.Field(), e.Value())
	case "len":
		return fmt.Sprintf("%s must be exactly %s character", e.Field(), e.Param())
	case "contains":
		return fmt.Sprintf("%s entries must look like TYPE=PATH, got %q", e.Field(), e.Value())
	default:
		return fmt.Sprintf("%s failed %s validation", e.Field(), e.Tag())
	}
}

// ReportTypes parses the requested reports.
func (c Config) ReportTypes() ([]report.Type, error) {
	return report.ParseList(c.Reports)
}

// ResolveTargets starts from the default file names in OutDir and applies
// TYPE=PATH overrides.
func (c Config) ResolveTargets() (report.Targets, error) {
	targets := report.DefaultTargets(c.OutDir)
	for _, entry := range c.Targets {
		if err := targets.Set(entry); err != nil {
			return nil, err
		}
	}
	return targets, nil
}

// Delim returns the CSV delimiter rune.
func (c Config) Delim() rune {
	return []rune(c.Delimiter)[0]
}

// Browser builds the browser session configuration.
func (c Config) Browser() (browser.Config, error) {
	waiter, err := download.NewWaiter(c.Watch, c.PollInterval)
	if err != nil {
		return browser.Config{}, err
	}

	dir := c.DownloadDir
	if dir != "" {
		if dir, err = filepath.Abs(dir); err != nil {
			return browser.Config{}, fmt.Errorf("invalid download directory: %w", err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return browser.Config{}, fmt.Errorf("failed to create download directory: %w", err)
		}
	}

	cfg := browser.DefaultConfig()
	cfg.PortalURL = c.PortalURL
	cfg.DownloadDir = dir
	cfg.Headless = c.Headless
	cfg.ExecPath = c.ChromePath
	cfg.NavigationTimeout = c.NavTimeout
	cfg.ElementTimeout = c.ElementTimeout
	cfg.DownloadTimeout = c.DownloadTimeout
	cfg.PollInterval = c.PollInterval
	cfg.Waiter = waiter
	cfg.ScreenshotOnError = c.Screenshot
	return cfg, nil
}
