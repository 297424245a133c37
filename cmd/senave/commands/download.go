package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/senave-registros/internal/browser"
	"github.com/jmylchreest/senave-registros/internal/config"
	"github.com/jmylchreest/senave-registros/internal/convert"
	"github.com/jmylchreest/senave-registros/internal/logger"
	"github.com/jmylchreest/senave-registros/internal/output"
	"github.com/jmylchreest/senave-registros/internal/pipeline"
	"github.com/jmylchreest/senave-registros/internal/portal"
)

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download registries from the portal and convert them to CSV",
	Long: `Download each requested registry through a fresh headless Chrome and
convert the exported spreadsheet to CSV.

Reports run one after another. The first failure stops the run and the
remaining reports are not attempted.

Report codes:
  P  fitosanitarios (phytosanitary products)
  F  fertilizantes (fertilizer products)

Examples:
  # Both registries, default file names in ./data
  senave download --out-dir data

  # Custom targets and a JSON summary on stdout
  senave download --target P=fito.csv --target F=fert.csv --summary json

  # Keep the downloaded spreadsheets next to the CSVs
  senave download --keep-source --download-dir data/xlsx`,
	RunE: runDownload,
}

// downloadBindings maps download flags to config keys.
var downloadBindings = map[string]string{
	"report":           config.KeyReports,
	"out-dir":          config.KeyOutDir,
	"target":           config.KeyTargets,
	"keep-source":      config.KeyKeepSource,
	"download-dir":     config.KeyDownloadDir,
	"watch":            config.KeyWatch,
	"headless":         config.KeyHeadless,
	"chrome-path":      config.KeyChromePath,
	"portal-url":       config.KeyPortalURL,
	"nav-timeout":      config.KeyNavTimeout,
	"element-timeout":  config.KeyElementTimeout,
	"poll-interval":    config.KeyPollInterval,
	"download-timeout": config.KeyDownloadTimeout,
	"preflight":        config.KeyPreflight,
	"summary":          config.KeySummary,
	"screenshot":       config.KeyScreenshot,
	"delimiter":        config.KeyDelimiter,
}

func init() {
	rootCmd.AddCommand(downloadCmd)

	defaults := browser.DefaultConfig()
	flags := downloadCmd.Flags()

	// Reports and targets
	flags.StringSliceP("report", "r", []string{"P", "F"}, "report(s) to download: P/phytosanitary, F/fertilizer (can be repeated)")
	flags.StringP("out-dir", "o", ".", "directory for the default target files")
	flags.StringArrayP("target", "t", nil, "output path for a report as TYPE=PATH (can be repeated)")
	flags.Bool("keep-source", false, "keep the downloaded spreadsheet after conversion")
	flags.String("delimiter", ",", "CSV field delimiter")

	// Browser settings
	flags.String("portal-url", defaults.PortalURL, "portal form URL")
	flags.Bool("headless", true, "run Chrome headless (use --headless=false to watch it)")
	flags.String("chrome-path", "", "Chrome/Chromium binary (auto-detected when empty)")
	flags.String("download-dir", "", "download directory, one subdirectory per report (default: a temporary directory per report)")
	flags.Bool("screenshot", false, "save a screenshot to the temp directory when the portal interaction fails")

	// Waiting
	flags.String("watch", "poll", "download detection: poll, notify")
	flags.Duration("nav-timeout", defaults.NavigationTimeout, "portal navigation timeout")
	flags.Duration("element-timeout", defaults.ElementTimeout, "timeout for each form control to become usable")
	flags.Duration("poll-interval", defaults.PollInterval, "download directory poll interval")
	flags.Duration("download-timeout", defaults.DownloadTimeout, "how long to wait for the spreadsheet")

	// Run behaviour
	flags.Bool("preflight", false, "check the portal offers every requested report before launching Chrome")
	flags.String("summary", "none", "run summary on stdout: none, json, jsonl, yaml")
}

func runDownload(cmd *cobra.Command, args []string) error {
	if err := bindFlags(cmd, downloadBindings); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Debug("download command starting")

	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return err
	}
	types, err := cfg.ReportTypes()
	if err != nil {
		return err
	}
	targets, err := cfg.ResolveTargets()
	if err != nil {
		return err
	}

	browserCfg, err := cfg.Browser()
	if err != nil {
		return err
	}
	session, err := browser.New(browserCfg)
	if err != nil {
		return fmt.Errorf("failed to configure browser: %w", err)
	}

	format, err := output.ParseFormat(cfg.Summary)
	if err != nil {
		return err
	}
	writer, err := output.NewWriter(cmd.OutOrStdout(), format)
	if err != nil {
		return err
	}
	defer func() { _ = writer.Close() }()

	runner := &pipeline.Runner{
		Acquirer:   session,
		Converter:  &convert.Converter{Delimiter: cfg.Delim()},
		Targets:    targets,
		KeepSource: cfg.KeepSource,
		OnResult: func(r pipeline.Result) error {
			return writer.Write(r)
		},
	}
	if cfg.Preflight {
		client := portal.NewClient(cfg.PortalURL)
		client.Timeout = cfg.NavTimeout
		runner.Preflight = client
	}

	start := time.Now()
	results, err := runner.Run(ctx, types)
	if err != nil {
		return err
	}

	logger.Info("download complete",
		"reports", len(results),
		"duration", time.Since(start).Round(time.Millisecond))
	return writer.Close()
}
